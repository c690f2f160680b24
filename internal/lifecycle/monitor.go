package lifecycle

import (
	"os"
	"os/exec"
	"strconv"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ravindu644/droidspaces/internal/dserr"
	"github.com/ravindu644/droidspaces/internal/fsio"
)

// fd numbering convention Start's ExtraFiles establishes: 0-2 are the
// monitor's own stdio (inherited from the parent, unused after this
// point), 3 is the sync pipe write end, 4 is the console PTY master, and
// 5.. are the per-TTY masters in order.
const (
	fdSyncPipe = 3
	fdConsole  = 4
	fdTTYBase  = 5
)

// RunMonitor is the `__monitor` hidden subcommand. It is exec'd by Start
// with SysProcAttr{Setsid:true}; per spec §4.6/§5 it owns the PTY master
// fds for the container's lifetime, unshares PID/UTS/IPC before forking
// the init child (the new PID namespace applies only to that child), reports
// the child's pid back over the sync pipe, and on the child's exit runs
// the same cleanup stop uses so a killed or crashed monitor still leaves
// the host clean.
func RunMonitor(selfExe, bootCfgPath string) error {
	sync := os.NewFile(fdSyncPipe, "syncpipe")
	defer sync.Close()

	bc, err := readBootCfg(bootCfgPath)
	if err != nil {
		return err
	}

	name := append([]byte("ds-monitor"), 0)
	if err := unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&name[0])), 0, 0, 0); err != nil {
		logrus.WithField("phase", "monitor:prctl").Warn(err)
	}

	if err := unix.Unshare(unix.CLONE_NEWPID | unix.CLONE_NEWUTS | unix.CLONE_NEWIPC); err != nil {
		return dserr.Wrap(dserr.KindMissingKernelFeature, "monitor:unshare", err)
	}

	// Start's ExtraFiles handoff clears FD_CLOEXEC on the monitor's copies
	// of the PTY masters so they survive the exec into this process; set it
	// back now so they don't also survive __init's exec into the guest init
	// (spec §4.2: masters are close-on-exec, held by exactly one process).
	ttyCount := len(bc.TtySlaves)
	for fd := fdConsole; fd < fdTTYBase+ttyCount; fd++ {
		if err := unix.CloseOnExec(fd); err != nil {
			logrus.WithField("phase", "monitor:cloexec").Warn(err)
		}
	}

	initCmd := exec.Command(selfExe, "__init", bootCfgPath)
	initCmd.Stdin, initCmd.Stdout, initCmd.Stderr = nil, nil, nil
	if err := initCmd.Start(); err != nil {
		return dserr.Wrap(dserr.KindForkFailed, "monitor:fork-init", err)
	}

	if _, err := sync.WriteString(strconv.Itoa(initCmd.Process.Pid)); err != nil {
		logrus.WithField("phase", "monitor:syncpipe").Warn(err)
	}
	sync.Close()

	state, _ := initCmd.Process.Wait()
	logrus.WithField("phase", "monitor:init-exit").WithField("state", state).Info("init exited, cleaning up")

	for _, err := range cleanup(fsio.NewOS(), bc.Cfg.Workspace, bc.Cfg.Name, false, bc.Cfg.RootfsSource) {
		logrus.WithField("phase", "monitor:cleanup").Warn(err)
	}
	return nil
}
