package lifecycle

import (
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/ravindu644/droidspaces/internal/dserr"
	"github.com/ravindu644/droidspaces/internal/term"
)

// fd numbering the parent's Enter() establishes for the `__nsenter`
// trampoline's ExtraFiles: mnt, uts, ipc, pid namespace fds, then the
// child end of the SCM_RIGHTS socket.
const (
	fdNsMnt = 3
	fdNsUts = 4
	fdNsIpc = 5
	fdNsPid = 6
	fdSock  = 7
)

// RunNsenterOuter is the `__nsenter` hidden subcommand (spec §4.6 enter
// steps 2-3). It setns's into mnt/uts/ipc immediately (they affect the
// calling process itself) and into the pid namespace (which only affects
// processes forked after this call), then forks the `__nsenter-inner`
// child — that fork is what actually lands inside the new pid namespace.
// This process itself never enters it, so its own pid stays host-visible,
// letting it relay signals to the inner process's whole group even after
// the inner process's own double-fork hands the shell off to the
// container's init.
func RunNsenterOuter(selfExe string, shellArgs []string) error {
	// setns changes only the calling OS thread's namespace membership; the
	// fork this function performs right after must run on that same
	// thread, so the goroutine can't be allowed to migrate in between.
	runtime.LockOSThread()

	for _, ns := range []struct {
		fd   int
		flag int
	}{{fdNsMnt, unix.CLONE_NEWNS}, {fdNsUts, unix.CLONE_NEWUTS}, {fdNsIpc, unix.CLONE_NEWIPC}} {
		if err := unix.Setns(ns.fd, ns.flag); err != nil {
			return dserr.Wrap(dserr.KindMissingKernelFeature, "nsenter:setns", err)
		}
	}
	if err := unix.Setns(fdNsPid, unix.CLONE_NEWPID); err != nil {
		return dserr.Wrap(dserr.KindMissingKernelFeature, "nsenter:setns-pid", err)
	}
	for _, fd := range []int{fdNsMnt, fdNsUts, fdNsIpc, fdNsPid} {
		unix.Close(fd)
	}

	inner := exec.Command(selfExe, append([]string{"__nsenter-inner"}, shellArgs...)...)
	inner.ExtraFiles = []*os.File{os.NewFile(fdSock, "nsenter-sock")}
	inner.Stderr = os.Stderr
	if err := inner.Start(); err != nil {
		return dserr.Wrap(dserr.KindForkFailed, "nsenter:fork-inner", err)
	}
	innerPid := inner.Process.Pid

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGWINCH)
	doneCh := make(chan *os.ProcessState, 1)
	go func() {
		state, _ := inner.Process.Wait()
		doneCh <- state
	}()

	for {
		select {
		case s := <-sigCh:
			// Negative pid targets the whole process group the inner process
			// leads after its own setsid; it outlives the inner process once
			// the final shell double-forks and the inner helper exits.
			_ = unix.Kill(-innerPid, s.(syscall.Signal))
		case <-doneCh:
			signal.Stop(sigCh)
			return nil
		}
	}
}

// RunNsenterInner is the `__nsenter-inner` hidden subcommand: the process
// that actually lands inside the new namespaces (spec §4.6 enter step 3's
// fork target). It allocates a PTY inside the container's own devpts
// instance, hands the master back over the inherited socket, then
// performs step 5: setsid, controlling terminal, a second fork so the
// shell is reparented cleanly to the container's init, and exec.
func RunNsenterInner(shellArgs []string) error {
	sock := os.NewFile(fdSock, "nsenter-sock")
	defer sock.Close()

	master, slave, err := pty.Open()
	if err != nil {
		return dserr.Wrap(dserr.KindPtyAllocFailed, "nsenter:pty-open", err)
	}
	defer master.Close()

	if err := sendMasterFD(sock, master); err != nil {
		return err
	}

	slaveFd := int(slave.Fd())
	for _, std := range []int{0, 1, 2} {
		if err := syscall.Dup2(slaveFd, std); err != nil {
			return dserr.Wrap(dserr.KindIO, "nsenter:dup2", err)
		}
	}
	if slaveFd > 2 {
		slave.Close()
	}

	if _, err := unix.Setsid(); err != nil && err != unix.EPERM {
		return dserr.Wrap(dserr.KindIO, "nsenter:setsid", err)
	}
	if err := term.SetControlling(0); err != nil {
		return err
	}

	path, args := resolveShellTarget(shellArgs)
	shell := exec.Command(path, args...)
	shell.Stdin, shell.Stdout, shell.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := shell.Start(); err != nil {
		return dserr.Wrap(dserr.KindInitExecFailed, "nsenter:exec-shell", err)
	}
	return nil
}

func sendMasterFD(sock *os.File, master *os.File) error {
	rights := unix.UnixRights(int(master.Fd()))
	if err := unix.Sendmsg(int(sock.Fd()), nil, rights, nil, 0); err != nil {
		return dserr.Wrap(dserr.KindPtyAllocFailed, "nsenter:sendmsg", err)
	}
	return nil
}

// resolveShellTarget turns the argv RunNsenterInner received (user,
// cmd...) into a path + args to exec: `su -l <user> -c <shell>` when a
// user was given, the first available of bash/ash/sh otherwise, or the
// caller's cmd when `run` supplied one (spec §4.6 enter step 5, run).
func resolveShellTarget(shellArgs []string) (string, []string) {
	u := shellArgs[0]
	cmd := shellArgs[1:]

	if len(cmd) > 0 {
		if u != "" {
			return "su", []string{"-l", u, "-c", cmd[0]}
		}
		return cmd[0], cmd[1:]
	}

	shell := firstAvailableShell()
	if u != "" {
		return "su", []string{"-l", u, "-c", shell}
	}
	return shell, nil
}

func firstAvailableShell() string {
	for _, s := range []string{"/bin/bash", "/bin/ash", "/bin/sh"} {
		if _, err := os.Stat(s); err == nil {
			return s
		}
	}
	return "/bin/sh"
}
