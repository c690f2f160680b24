package mount

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/ravindu644/droidspaces/internal/dserr"
)

// legacyControllers is the v1 controller directory set mounted individually
// when the host has no unified (v2) hierarchy (spec §4.3 step 14).
var legacyControllers = []string{"cpu", "cpuacct", "devices", "memory", "freezer", "blkio", "pids", "systemd"}

// BuildCgroupTree mounts the cgroup hierarchy under <rootfs>/sys/fs/cgroup,
// detecting v2 (unified) by probing for cgroup.controllers on the host and
// falling back to the v1 per-controller layout otherwise.
func BuildCgroupTree(rootfsSysFsCgroup string) error {
	if err := os.MkdirAll(rootfsSysFsCgroup, 0755); err != nil {
		return dserr.Wrap(dserr.KindIO, "boot:cgroup-mkdir", err)
	}

	if _, err := os.Stat("/sys/fs/cgroup/cgroup.controllers"); err == nil {
		if err := unix.Mount("cgroup2", rootfsSysFsCgroup, "cgroup2", 0, ""); err != nil {
			return dserr.Wrap(dserr.KindMountFailed, "boot:cgroup2", err)
		}
		return nil
	}

	if err := unix.Mount("tmpfs", rootfsSysFsCgroup, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, "mode=755"); err != nil {
		return dserr.Wrap(dserr.KindMountFailed, "boot:cgroup-tmpfs", err)
	}

	for _, ctrl := range legacyControllers {
		dir := filepath.Join(rootfsSysFsCgroup, ctrl)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return dserr.Wrap(dserr.KindIO, "boot:cgroup-mkdir", err)
		}
		if err := unix.Mount("cgroup", dir, "cgroup", 0, ctrl); err != nil {
			return dserr.Wrap(dserr.KindMountFailed, "boot:cgroup:"+ctrl, err)
		}
	}
	return nil
}
