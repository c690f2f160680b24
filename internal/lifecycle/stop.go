package lifecycle

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ravindu644/droidspaces/internal/fsio"
	"github.com/ravindu644/droidspaces/internal/procinfo"
)

// sigrtmin3 is SIGRTMIN+3, the polite shutdown signal spec §4.6 sends
// first (several init systems, including OpenRC, treat it as "halt");
// systemd additionally honors SIGRTMIN+3 as a direct poweroff request.
var sigrtmin3 = unix.SIGRTMIN + 3

const (
	stopGraceWindow  = 2 * time.Second
	stopTermWindow   = 8 * time.Second
	stopPollInterval = 200 * time.Millisecond
)

// StopOptions tunes the escalation sequence; restart sets SkipUnmount to
// reuse the already loop-mounted image across the stop/start pair.
type StopOptions struct {
	SkipUnmount bool
}

// Stop implements spec §4.6's `stop`: escalate SIGRTMIN+3 -> SIGTERM ->
// SIGKILL against the container's init pid as each deadline elapses,
// then run the same host-state cleanup a crashed monitor runs on its own.
func Stop(fs *fsio.FS, workspace, name string, opts StopOptions) error {
	rec, err := Resolve(fs, workspace, name)
	if err != nil {
		return err
	}

	// Capture the rootfs path while the process is still alive (spec §4.6
	// stop step 2); once SIGKILL tears down the PID namespace,
	// /proc/<pid>/root is gone and the firmware-path cleanup below would
	// have nothing to fall back on if the .prior.json sidecar were lost.
	liveRootfs, _ := procinfo.RootSymlinkTarget(rec.Pid)

	if err := unix.Kill(rec.Pid, sigrtmin3); err != nil {
		logrus.WithField("phase", "stop:sigrtmin3").Warn(err)
	}

	start := time.Now()
	termSent := false
	for pidAlive(rec.Pid) && time.Since(start) < stopTermWindow {
		if !termSent && time.Since(start) >= stopGraceWindow {
			_ = unix.Kill(rec.Pid, unix.SIGTERM)
			termSent = true
		}
		time.Sleep(stopPollInterval)
	}
	if pidAlive(rec.Pid) {
		_ = unix.Kill(rec.Pid, unix.SIGKILL)
		waitGone(rec.Pid, 2*time.Second, stopPollInterval)
	}

	for _, cerr := range cleanup(fs, workspace, name, opts.SkipUnmount, liveRootfs) {
		logrus.WithField("phase", "stop:cleanup").Warn(cerr)
	}
	return nil
}

func pidAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

func waitGone(pid int, deadline, interval time.Duration) {
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if !pidAlive(pid) {
			return
		}
		time.Sleep(interval)
	}
}
