// Package boot implements the PID-1 boot sequence of spec §4.3 and §4.5
// (C3/C5): the exact ordered construction of the guest's filesystem view,
// run by the child that is about to exec /sbin/init. Every step operates
// relative to the host's view of paths until step 16's pivot_root swaps
// the view; from then on every path is guest-relative.
package boot

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/ravindu644/droidspaces/internal/config"
	"github.com/ravindu644/droidspaces/internal/dserr"
	"github.com/ravindu644/droidspaces/internal/fsio"
	"github.com/ravindu644/droidspaces/internal/mount"
	"github.com/ravindu644/droidspaces/internal/netenv"
)

// RuntimeVersion is stamped into run/droidspaces (spec §4.3 step 13).
const RuntimeVersion = "droidspaces/1.0"

// Result carries information about a successful boot: the marker UUID
// written to run/<uuid> and, when devpts option negotiation had
// to fall back, which option string won (purely informational).
type Result struct {
	Marker       string
	DevptsOption string
}

// Sequence runs steps 1-21 of spec §4.3 inside the forked child, stopping
// before stdio redirection and the final exec (left to the caller, since
// the caller decides fallback-to-/bin/sh on failure and owns stdio
// redirection in step 22).
type Sequence struct {
	Cfg          config.Config
	Fs           *fsio.FS
	ConsoleSlave string   // host path of the PTY slave bound to dev/console
	TtySlaves    []string // host paths bound to dev/tty1..ttyN, index 0 = tty1
	SELinux      bool     // true when running under Android (tmpfs SELinux context)
}

// Run executes steps 1-21 (network/env wiring included) and returns once
// the guest root is live and /.old_root has been removed. The caller
// performs step 22 (stdio redirection) and step 23 (exec) because those
// require the already-open console fd the caller allocated.
func (s *Sequence) Run() (*Result, error) {
	rootfs := s.Cfg.RootfsSource

	// Step 1-2: private mount namespace.
	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		return nil, dserr.Wrap(dserr.KindMissingKernelFeature, "boot:unshare-mnt", err)
	}
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return nil, dserr.Wrap(dserr.KindMountFailed, "boot:make-private", err)
	}

	// Step 3: volatile overlay.
	if s.Cfg.Volatile {
		selinuxCtx := ""
		if s.SELinux {
			selinuxCtx = "u:object_r:tmpfs:s0"
		}
		ws := mount.NewVolatileWorkspace(s.Cfg.Workspace, s.Cfg.Name)
		merged, err := ws.Build(rootfs, selinuxCtx)
		if err != nil {
			return nil, err
		}
		rootfs = merged
	}

	// Step 4: bind rootfs onto itself (pivot_root requires a mount point).
	if err := fsio.BindMount(rootfs, rootfs, true); err != nil {
		return nil, err
	}

	// bindTargets tracks every container-side mount target registered
	// across steps 5, 12 and 15 so two of them can never race or shadow
	// each other (the teacher's mount.newMountHelper does the equivalent
	// /proc and /sys submount classification with the same radix-tree
	// structure).
	bindTargets := mount.NewBindTargetIndex()

	// Step 5: configured bind mounts, soft-fail on a bad host path but hard
	// fail on a target collision (a racing mount is not recoverable the
	// way a missing host path is). Rendered through the OCI Mount shape
	// (Source/Destination) rather than the bare BindMount pair, so every
	// consumer of a --bind-mount entry agrees on one representation.
	for _, m := range s.Cfg.OCIBindMounts() {
		containerPath := path.Clean("/" + strings.TrimPrefix(m.Destination, "/"))
		if err := bindTargets.Register(containerPath); err != nil {
			return nil, err
		}
		target := filepath.Join(rootfs, m.Destination)
		if err := s.Fs.MkdirAll(target, 0755); err != nil {
			continue
		}
		if _, err := os.Stat(m.Source); err != nil {
			continue
		}
		_ = fsio.BindMount(m.Source, target, true)
	}

	// Step 6-7: chdir into rootfs, create the pivot target.
	if err := unix.Chdir(rootfs); err != nil {
		return nil, dserr.Wrap(dserr.KindIO, "boot:chdir-rootfs", err)
	}
	if err := s.Fs.MkdirAll(".old_root", 0700); err != nil {
		return nil, err
	}

	// Step 8: /dev construction.
	if err := s.buildDev(); err != nil {
		return nil, err
	}

	// Step 9: proc.
	if err := unix.Mount("proc", "proc", "proc", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, ""); err != nil {
		return nil, dserr.Wrap(dserr.KindMountFailed, "boot:proc", err)
	}

	// Step 10: sys.
	if err := s.buildSys(); err != nil {
		return nil, err
	}

	// Step 11: run tmpfs.
	if err := unix.Mount("tmpfs", "run", "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, "mode=755"); err != nil {
		return nil, dserr.Wrap(dserr.KindMountFailed, "boot:run-tmpfs", err)
	}

	// Step 12: bind PTY slaves onto dev/console and dev/ttyN before pivot.
	if err := bindTargets.Register("/dev/console"); err != nil {
		return nil, err
	}
	if err := fsio.BindMount(s.ConsoleSlave, "dev/console", false); err != nil {
		return nil, err
	}
	for i, slave := range s.TtySlaves {
		target := fmt.Sprintf("dev/tty%d", i+1)
		if err := bindTargets.Register("/" + target); err != nil {
			return nil, err
		}
		if err := fsio.BindMount(slave, target, false); err != nil {
			return nil, err
		}
	}

	// Step 13: boot markers.
	marker := uuid.New().String()
	markerHex := strings.ReplaceAll(marker, "-", "")
	if err := s.Fs.WriteFileAll(filepath.Join("run", markerHex), []byte("init"), 0644); err != nil {
		return nil, err
	}
	if err := s.Fs.WriteFileAll("run/droidspaces", []byte(RuntimeVersion), 0644); err != nil {
		return nil, err
	}

	// Step 14: cgroup tree.
	if err := mount.BuildCgroupTree("sys/fs/cgroup"); err != nil {
		return nil, err
	}

	// Step 15: Android storage bind.
	if s.Cfg.BindAndroidStorage {
		target := "storage/emulated/0"
		if err := bindTargets.Register("/" + target); err != nil {
			return nil, err
		}
		if err := s.Fs.MkdirAll(target, 0755); err != nil {
			return nil, err
		}
		if err := fsio.BindMount("/storage/emulated/0", target, true); err != nil {
			return nil, err
		}
	}

	// Step 16: pivot.
	if err := unix.PivotRoot(".", ".old_root"); err != nil {
		return nil, dserr.Wrap(dserr.KindPivotFailed, "boot:pivot_root", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return nil, dserr.Wrap(dserr.KindIO, "boot:chdir-root", err)
	}

	// Step 17: devpts + ptmx repoint.
	if err := s.Fs.MkdirAll("/dev/pts", 0755); err != nil {
		return nil, err
	}
	devptsOpt, err := mount.MountDevpts("/dev/pts")
	if err != nil {
		return nil, err
	}
	if err := mount.RepointPtmx("/dev/ptmx", "/dev/pts/ptmx", s.Cfg.HardwareAccess); err != nil {
		return nil, err
	}

	// Step 18: guest network identity.
	dnsServers := s.Cfg.DNSServers
	if len(dnsServers) == 0 {
		if fromMarker, derr := netenv.ReadDNSMarker(s.Fs, "/.old_root"); derr == nil {
			dnsServers = fromMarker
		}
	}
	if err := netenv.WriteGuestIdentity(s.Fs, s.Cfg.Hostname, dnsServers); err != nil {
		return nil, err
	}

	// Step 19: drop the old root.
	if err := fsio.Unmount("/.old_root", true); err != nil {
		return nil, err
	}
	if err := unix.Rmdir("/.old_root"); err != nil && err != unix.ENOENT {
		return nil, dserr.Wrap(dserr.KindIO, "boot:rmdir-oldroot", err)
	}

	// Step 20: init-visible container marker.
	if err := s.Fs.WriteFileAll("/run/systemd/container", []byte("droidspaces"), 0644); err != nil {
		return nil, err
	}

	// Step 21: environment.
	resetEnvironment(s.TtySlaves, s.ConsoleSlave)

	return &Result{Marker: markerHex, DevptsOption: devptsOpt}, nil
}

// resetEnvironment implements step 21: clearenv then set the fixed guest
// environment.
func resetEnvironment(ttySlaves []string, consoleSlave string) {
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			os.Unsetenv(kv[:i])
		}
	}
	os.Setenv("PATH", "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
	os.Setenv("TERM", "xterm-256color")
	os.Setenv("HOME", "/root")
	os.Setenv("container", "droidspaces")

	ttys := append([]string{consoleSlave}, ttySlaves...)
	os.Setenv("container_ttys", strings.Join(ttys, " "))
}

