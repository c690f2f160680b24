package lifecycle

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ravindu644/droidspaces/internal/config"
	"github.com/ravindu644/droidspaces/internal/dserr"
	"github.com/ravindu644/droidspaces/internal/fsio"
	"github.com/ravindu644/droidspaces/internal/hostprep"
	"github.com/ravindu644/droidspaces/internal/naming"
	"github.com/ravindu644/droidspaces/internal/netenv"
	"github.com/ravindu644/droidspaces/internal/term"
)

// bootConfirmDeadline and bootConfirmInterval implement spec §4.6's 5s/
// 100ms boot-confirmation poll.
const (
	bootConfirmDeadline = 5 * time.Second
	bootConfirmInterval = 100 * time.Millisecond
)

// StartOptions augments config.Config with the host-side knobs Start
// needs that aren't part of the persisted-per-container shape (the self
// exe path, for the monitor/init re-exec trampoline).
type StartOptions struct {
	SelfExe string
}

// StartResult is returned to the CLI layer so it can print status in
// background mode or hand off to the proxy loop in foreground mode.
type StartResult struct {
	Name        string
	InitPid     int
	MonitorPid  int
	ProxyTarget *os.File // non-nil only in foreground mode
}

// Start implements spec §4.6's control flow for the `start` command:
// C8 host pre -> C7 naming/pidfile -> C3 image mount (if any) -> C2 PTY
// allocation -> fork monitor -> monitor forks init -> parent reads
// init_pid off the sync pipe -> boot confirmation poll.
func Start(fs *fsio.FS, cfg config.Config, opts StartOptions) (*StartResult, error) {
	if cfg.Workspace == "" {
		cfg.Workspace = config.DefaultWorkspace()
	}
	if err := fs.MkdirAll(filepath.Join(cfg.Workspace, "Pids"), 0755); err != nil {
		return nil, err
	}

	running := runningNames(fs, cfg.Workspace)
	if cfg.Name == "" {
		name, err := naming.AutoName(fs, cfg.RootfsSource, running)
		if err != nil {
			return nil, err
		}
		cfg.Name = name
	}
	if cfg.Hostname == "" {
		cfg.Hostname = cfg.Name
	}
	if running[cfg.Name] {
		return nil, alreadyRunningErr(cfg.Name)
	}

	prior := &hostprep.Prior{}
	if cfg.SELinuxPermissive {
		if err := hostprep.SetSELinuxPermissive(fs, prior); err != nil {
			logrus.WithField("phase", "start:selinux").Warn(err)
		}
	}
	if err := hostprep.BumpAndroidLimits(fs, prior); err != nil {
		logrus.WithField("phase", "start:android-limits").Warn(err)
	}

	rootfs := cfg.RootfsSource
	if cfg.IsImage {
		sidecar := naming.MountSidecarPath(cfg.Workspace, cfg.Name)
		if existing, err := fs.ReadFileTrimmed(sidecar); err == nil && existing != "" {
			// A restart's Stop(SkipUnmount:true) left this image loop-mounted;
			// reuse it instead of paying e2fsck + loop-setup again.
			rootfs = existing
			prior.LoopMounted = true
			prior.MountPoint = existing
			prior.ImagePath = cfg.RootfsSource
			prior.ReadOnly = cfg.Volatile
		} else {
			mp, err := hostprep.MountImage(fs, cfg.RootfsSource, cfg.Name, cfg.Volatile, prior)
			if err != nil {
				_ = hostprep.Restore(fs, prior)
				return nil, err
			}
			rootfs = mp
			if err := fs.WriteFileAll(sidecar, []byte(mp+"\n"), 0644); err != nil {
				_ = hostprep.Restore(fs, prior)
				return nil, err
			}
		}
	}
	cfg.RootfsSource = rootfs

	if err := hostprep.AppendFirmwarePath(fs, prior, rootfs); err != nil {
		logrus.WithField("phase", "start:firmware-path").Warn(err)
	}

	if err := netenv.EnableIPv4Forwarding(); err != nil {
		logrus.WithField("phase", "start:ipv4-forward").Warn(err)
	}
	if cfg.EnableIPv6 {
		if err := netenv.RestoreIPv6(); err != nil {
			logrus.WithField("phase", "start:ipv6-restore").Warn(err)
		}
	}
	if err := netenv.WriteDNSMarker(fs, rootfs, cfg.DNSServers); err != nil {
		_ = hostprep.Restore(fs, prior)
		return nil, err
	}

	console, err := term.Allocate()
	if err != nil {
		_ = hostprep.Restore(fs, prior)
		return nil, err
	}
	ttys := make([]*term.Terminal, cfg.TTYCount)
	for i := range ttys {
		t, err := term.Allocate()
		if err != nil {
			_ = hostprep.Restore(fs, prior)
			return nil, err
		}
		ttys[i] = t
	}

	// The volatile tmpfs gets its SELinux context only on Android hosts,
	// detected the same way config.DefaultWorkspace detects them.
	_, buildPropErr := os.Stat("/system/build.prop")
	bc := bootCfg{
		Cfg:          cfg,
		ConsoleSlave: console.SlavePath,
		TtySlaves:    slavePaths(ttys),
		SELinux:      buildPropErr == nil,
		Foreground:   cfg.Foreground,
	}
	bootCfgPath := filepath.Join(cfg.Workspace, "Pids", cfg.Name+".bootcfg")
	if err := writeBootCfg(bootCfgPath, bc); err != nil {
		_ = hostprep.Restore(fs, prior)
		return nil, err
	}
	defer os.Remove(bootCfgPath)

	syncRead, syncWrite, err := os.Pipe()
	if err != nil {
		_ = hostprep.Restore(fs, prior)
		return nil, dserr.Wrap(dserr.KindForkFailed, "start:syncpipe", err)
	}

	monitorCmd := exec.Command(opts.SelfExe, "__monitor", bootCfgPath)
	monitorCmd.ExtraFiles = []*os.File{syncWrite, console.Master}
	for _, t := range ttys {
		monitorCmd.ExtraFiles = append(monitorCmd.ExtraFiles, t.Master)
	}
	monitorCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := monitorCmd.Start(); err != nil {
		_ = hostprep.Restore(fs, prior)
		return nil, dserr.Wrap(dserr.KindForkFailed, "start:fork-monitor", err)
	}
	syncWrite.Close()
	_ = console.ReleaseSlave()
	for _, t := range ttys {
		_ = t.ReleaseSlave()
	}

	initPid, err := readSyncPipe(syncRead)
	if err != nil {
		_ = hostprep.Restore(fs, prior)
		return nil, err
	}

	if err := naming.WritePidfile(fs, cfg.Workspace, cfg.Name, initPid); err != nil {
		_ = hostprep.Restore(fs, prior)
		return nil, err
	}

	confirmed := pollBootMarker(fs, initPid, bootConfirmDeadline, bootConfirmInterval)
	if !confirmed {
		logrus.WithField("phase", "start:boot-confirm").Warn("boot confirmation deadline exceeded; container may still be booting")
	}

	// naming.Scan walks /proc and checks NSpid, independently of the
	// pidfile this call just wrote; retry it to bridge the window between
	// the monitor's fork and the init child reaching step 13 of the boot
	// sequence (spec §4.7: 20 attempts at 200ms).
	if !naming.ScanWithRetry(fs, 20, 200*time.Millisecond, initPid) {
		logrus.WithField("phase", "start:scan-confirm").Warn("container not yet visible to scan; NSpid probe may still be racing init's boot sequence")
	}

	if err := writePriorSidecar(cfg.Workspace, cfg.Name, prior); err != nil {
		logrus.WithField("phase", "start:prior-sidecar").Warn(err)
	}

	result := &StartResult{Name: cfg.Name, InitPid: initPid, MonitorPid: monitorCmd.Process.Pid}
	if cfg.Foreground {
		result.ProxyTarget = console.Master
	} else {
		console.Master.Close()
	}
	return result, nil
}

func slavePaths(ts []*term.Terminal) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.SlavePath
	}
	return out
}

// readSyncPipe reads the decimal init PID the monitor writes once it has
// forked the init child (spec §4.6, §5 ordering guarantees).
func readSyncPipe(r *os.File) (int, error) {
	defer r.Close()
	buf := make([]byte, 32)
	n, err := r.Read(buf)
	if err != nil {
		return 0, dserr.Wrap(dserr.KindForkFailed, "start:syncpipe-read", err)
	}
	var pid int
	if _, err := fmt.Sscanf(string(buf[:n]), "%d", &pid); err != nil {
		return 0, dserr.New(dserr.KindForkFailed, "start:syncpipe-read", "malformed pid on sync pipe")
	}
	return pid, nil
}

// pollBootMarker waits for /proc/<pid>/root/run/droidspaces to appear,
// the boot-confirmation check of spec §4.6.
func pollBootMarker(fs *fsio.FS, pid int, deadline, interval time.Duration) bool {
	path := fmt.Sprintf("/proc/%d/root/run/droidspaces", pid)
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if _, err := os.Stat(path); err == nil {
			return true
		}
		time.Sleep(interval)
	}
	_, err := os.Stat(path)
	return err == nil
}
