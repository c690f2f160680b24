package lifecycle

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ravindu644/droidspaces/internal/boot"
	"github.com/ravindu644/droidspaces/internal/dserr"
	"github.com/ravindu644/droidspaces/internal/fsio"
	"github.com/ravindu644/droidspaces/internal/term"
)

// RunInit is the `__init` hidden subcommand: the first (and only) child
// the monitor forks after unsharing PID/UTS/IPC, so this process becomes
// pid 1 of the new namespace. It runs boot.Sequence (spec §4.3 steps
// 1-21), then performs steps 22-23 itself, since only the process about
// to exec knows it is safe to give up its Go runtime: redirect stdio onto
// the now-guest-relative /dev/console, make it the controlling terminal,
// and exec /sbin/init, falling back to /bin/sh if the guest has no init
// binary.
func RunInit(bootCfgPath string) error {
	bc, err := readBootCfg(bootCfgPath)
	if err != nil {
		return err
	}

	seq := &boot.Sequence{
		Cfg:          bc.Cfg,
		Fs:           fsio.NewOS(),
		ConsoleSlave: bc.ConsoleSlave,
		TtySlaves:    bc.TtySlaves,
		SELinux:      bc.SELinux,
	}
	if _, err := seq.Run(); err != nil {
		return err
	}

	console, err := os.OpenFile("/dev/console", os.O_RDWR, 0)
	if err != nil {
		return dserr.Wrap(dserr.KindIO, "init:console-open", err)
	}
	fd := int(console.Fd())
	for _, std := range []int{0, 1, 2} {
		if err := syscall.Dup2(fd, std); err != nil {
			return dserr.Wrap(dserr.KindIO, "init:console-dup2", err)
		}
	}
	if fd > 2 {
		console.Close()
	}

	if _, err := unix.Setsid(); err != nil && err != unix.EPERM {
		return dserr.Wrap(dserr.KindIO, "init:setsid", err)
	}
	if err := term.SetControlling(0); err != nil {
		return err
	}

	env := os.Environ()
	if err := syscall.Exec("/sbin/init", []string{"/sbin/init"}, env); err != nil {
		if shErr := syscall.Exec("/bin/sh", []string{"/bin/sh"}, env); shErr != nil {
			return dserr.Wrap(dserr.KindInitExecFailed, "init:exec", err)
		}
	}
	return nil
}
