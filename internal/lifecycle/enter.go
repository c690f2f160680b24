package lifecycle

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/ravindu644/droidspaces/internal/dserr"
	"github.com/ravindu644/droidspaces/internal/fsio"
	"github.com/ravindu644/droidspaces/internal/procinfo"
	"github.com/ravindu644/droidspaces/internal/term"
)

// nsFiles pairs each /proc/<pid>/ns entry with the CLONE_NEW flag setns needs
// for it. Order matters only in that all four must be opened up front
// (spec §4.6 enter step 1): entering mnt first would change /proc's view
// before the remaining opens.
var nsFiles = []struct {
	entry string
	flag  int
}{
	{"mnt", unix.CLONE_NEWNS},
	{"uts", unix.CLONE_NEWUTS},
	{"ipc", unix.CLONE_NEWIPC},
	{"pid", unix.CLONE_NEWPID},
}

// EnterOptions configures an enter/run invocation.
type EnterOptions struct {
	SelfExe string
	User    string   // enter [user]; empty means no su wrapping
	Cmd     []string // nil/empty means enter (interactive shell); non-empty means run <cmd>
}

// Enter implements spec §4.6's `enter`/`run`: open all four namespace fds
// up front, hand them to a re-exec'd `__nsenter` trampoline that does the
// setns + fork + PTY-allocation + SCM_RIGHTS handoff, then puts the host
// terminal in raw mode and runs the same proxy loop §4.2 describes.
func Enter(fs *fsio.FS, workspace, name string, opts EnterOptions) error {
	rec, err := Resolve(fs, workspace, name)
	if err != nil {
		return err
	}

	// Opening all four ns fds is not atomic with Resolve's pid validity
	// check; pin the pid namespace's identity before the loop and compare
	// after, so a pid recycled into an unrelated process mid-loop is
	// caught instead of silently handed a mismatched set of namespace fds.
	pidNsBefore, err := procinfo.NamespaceInode(rec.Pid, "pid")
	if err != nil {
		return dserr.Wrap(dserr.KindNotFound, "enter:ns-pid-inode", err)
	}

	nsfds := make([]*os.File, 0, len(nsFiles))
	for _, ns := range nsFiles {
		path := fmt.Sprintf("/proc/%d/ns/%s", rec.Pid, ns.entry)
		f, err := os.Open(path)
		if err != nil {
			closeAll(nsfds)
			return dserr.Wrap(dserr.KindMissingKernelFeature, "enter:open-ns", err)
		}
		nsfds = append(nsfds, f)
	}
	defer closeAll(nsfds)

	if pidNsAfter, err := procinfo.NamespaceInode(rec.Pid, "pid"); err != nil || pidNsAfter != pidNsBefore {
		return dserr.New(dserr.KindStaleState, "enter:ns-pid-inode", "pid was recycled while opening its namespace fds")
	}

	sp, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return dserr.Wrap(dserr.KindForkFailed, "enter:socketpair", err)
	}
	parentSock := os.NewFile(uintptr(sp[0]), "nsenter-parent")
	childSock := os.NewFile(uintptr(sp[1]), "nsenter-child")
	defer parentSock.Close()

	shellSpec := buildShellSpec(opts)

	trampoline := exec.Command(opts.SelfExe, append([]string{"__nsenter"}, shellSpec...)...)
	trampoline.ExtraFiles = append(append([]*os.File{}, nsfds...), childSock)
	trampoline.Stderr = os.Stderr

	if err := trampoline.Start(); err != nil {
		return dserr.Wrap(dserr.KindForkFailed, "enter:fork-trampoline", err)
	}
	childSock.Close()

	master, err := recvMasterFD(parentSock)
	if err != nil {
		_ = trampoline.Process.Kill()
		return err
	}
	defer master.Close()

	restore, err := term.MakeRaw(0)
	if err == nil {
		defer restore.Restore()
	}

	trampolinePid := trampoline.Process.Pid
	go func() {
		_, _ = trampoline.Process.Wait()
	}()

	return term.ProxyLoop(os.Stdin, os.Stdout, master, trampolinePid)
}

func closeAll(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}

// buildShellSpec renders the enter/run target as argv for __nsenter:
// [<user-or-empty>, <cmd...>].
func buildShellSpec(opts EnterOptions) []string {
	cmd := opts.Cmd
	if len(cmd) == 1 && strings.ContainsAny(cmd[0], " \t") {
		cmd = []string{"/bin/sh", "-c", cmd[0]}
	}
	return append([]string{opts.User}, cmd...)
}

func recvMasterFD(sock *os.File) (*os.File, error) {
	buf := make([]byte, unix.CmsgSpace(4))
	_, _, _, _, err := unix.Recvmsg(int(sock.Fd()), nil, buf, 0)
	if err != nil {
		return nil, dserr.Wrap(dserr.KindPtyAllocFailed, "enter:recvmsg", err)
	}
	msgs, err := unix.ParseSocketControlMessage(buf)
	if err != nil || len(msgs) != 1 {
		return nil, dserr.New(dserr.KindPtyAllocFailed, "enter:recvmsg", "malformed control message")
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil || len(fds) != 1 {
		return nil, dserr.New(dserr.KindPtyAllocFailed, "enter:recvmsg", "no fd in control message")
	}
	return os.NewFile(uintptr(fds[0]), "pty-master"), nil
}
