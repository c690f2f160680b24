// Package term implements the host-side terminal plumbing of spec §4.2
// (C2): PTY allocation before any fork, raw-mode setup with guaranteed
// restore, and the single-threaded proxy loop that multiplexes stdin,
// the console master, and signals.
//
// PTY allocation is grounded on github.com/creack/pty (as used by
// onkernel-hypeman's guest/exec agents); raw-mode handling on
// golang.org/x/term (same pack, cmd/exec/main.go). Go has no portable
// signalfd, so the self-pipe the spec calls for is realized the idiomatic
// Go way: signal.Notify delivering into a channel that the proxy loop
// selects on alongside the I/O goroutines, exactly as hypeman's
// runInteractive does around its websocket<->pty bridge.
package term

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	xterm "golang.org/x/term"

	"github.com/ravindu644/droidspaces/internal/dserr"
)

// Terminal is one allocated PTY pair. The master stays with the parent or
// monitor; the slave is bind-mounted into the guest and then released
// (spec §3 terminals / §9 fd ownership).
type Terminal struct {
	Master   *os.File
	slave    *os.File
	SlavePath string
}

// Allocate opens a new PTY pair. Both fds are marked close-on-exec so
// neither leaks into the guest init exec (spec §4.2); the slave's host
// device path is retained for the pre-pivot_root bind mount.
func Allocate() (*Terminal, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, dserr.Wrap(dserr.KindPtyAllocFailed, "pty:allocate", err)
	}

	if err := unix.SetNonblock(int(master.Fd()), false); err != nil {
		master.Close()
		slave.Close()
		return nil, dserr.Wrap(dserr.KindPtyAllocFailed, "pty:allocate", err)
	}

	if _, _, errno := unix.Syscall(unix.SYS_FCNTL, master.Fd(), unix.F_SETFD, unix.FD_CLOEXEC); errno != 0 {
		master.Close()
		slave.Close()
		return nil, dserr.Wrap(dserr.KindPtyAllocFailed, "pty:allocate", errno)
	}
	if _, _, errno := unix.Syscall(unix.SYS_FCNTL, slave.Fd(), unix.F_SETFD, unix.FD_CLOEXEC); errno != 0 {
		master.Close()
		slave.Close()
		return nil, dserr.Wrap(dserr.KindPtyAllocFailed, "pty:allocate", errno)
	}

	return &Terminal{Master: master, slave: slave, SlavePath: slave.Name()}, nil
}

// ReleaseSlave closes the parent's slave-side fd after the PID-1 boot
// sequence has bind-mounted it into the guest (spec §4.2, §9: the slave
// fd is briefly held, then dropped).
func (t *Terminal) ReleaseSlave() error {
	if t.slave == nil {
		return nil
	}
	err := t.slave.Close()
	t.slave = nil
	return err
}

// RestoreHandle undoes MakeRaw on a host fd; it must be invoked on every
// exit path (normal, signal, panic) per spec §4.2.
type RestoreHandle struct {
	fd    int
	state *xterm.State
}

// MakeRaw clears the usual set of input/output/line-discipline flags the
// spec names and stashes the previous state for Restore.
func MakeRaw(fd int) (*RestoreHandle, error) {
	state, err := xterm.MakeRaw(fd)
	if err != nil {
		return nil, dserr.Wrap(dserr.KindIO, "term:raw", err)
	}
	return &RestoreHandle{fd: fd, state: state}, nil
}

// Restore is idempotent and safe to call from a defer on every exit path.
func (r *RestoreHandle) Restore() error {
	if r == nil || r.state == nil {
		return nil
	}
	err := xterm.Restore(r.fd, r.state)
	r.state = nil
	return err
}

// SetControlling makes fd the calling process's controlling terminal.
func SetControlling(fd uintptr) error {
	if err := unix.IoctlSetInt(int(fd), unix.TIOCSCTTY, 0); err != nil {
		return dserr.Wrap(dserr.KindIO, "term:sctty", err)
	}
	return nil
}

// Resize pushes winsz from src (typically the host controlling terminal)
// onto dst (typically the PTY master).
func Resize(src, dst *os.File) error {
	ws, err := pty.GetsizeFull(src)
	if err != nil {
		return dserr.Wrap(dserr.KindIO, "term:resize", err)
	}
	if err := pty.Setsize(dst, ws); err != nil {
		return dserr.Wrap(dserr.KindIO, "term:resize", err)
	}
	return nil
}

// ProxyLoop multiplexes stdin -> master, master -> stdout, and SIGWINCH /
// SIGINT / SIGTERM / SIGCHLD, forwarding SIGINT/SIGTERM to initPid and
// terminating on master EOF/error or once initPid has been reaped (spec
// §4.2). It does not drain any remaining in-master bytes on exit, per the
// spec's explicit no-drain cancellation policy.
func ProxyLoop(stdin io.Reader, stdout io.Writer, master *os.File, initPid int) error {
	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGCHLD, syscall.SIGINT, syscall.SIGTERM, syscall.SIGWINCH)
	defer signal.Stop(sigCh)

	ioErrCh := make(chan error, 2)

	go func() {
		_, err := io.Copy(master, stdin)
		ioErrCh <- err
	}()
	go func() {
		_, err := io.Copy(stdout, master)
		ioErrCh <- err
	}()

	for {
		select {
		case err := <-ioErrCh:
			return err

		case s := <-sigCh:
			switch s {
			case syscall.SIGINT, syscall.SIGTERM:
				_ = unix.Kill(initPid, s.(syscall.Signal))

			case syscall.SIGWINCH:
				_ = Resize(os.Stdin, master)

			case syscall.SIGCHLD:
				var ws unix.WaitStatus
				pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
				if err == nil && pid == initPid {
					return nil
				}
			}
		}
	}
}
