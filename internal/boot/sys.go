package boot

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/ravindu644/droidspaces/internal/dserr"
	"github.com/ravindu644/droidspaces/internal/fsio"
)

// buildSys implements spec §4.3 step 10.
func (s *Sequence) buildSys() error {
	if err := unix.Mount("sysfs", "sys", "sysfs", 0, ""); err != nil {
		return dserr.Wrap(dserr.KindMountFailed, "boot:sys", err)
	}

	if !s.Cfg.HardwareAccess {
		if err := unix.Mount("sysfs", "sys/devices/virtual/net", "sysfs", 0, ""); err != nil {
			return dserr.Wrap(dserr.KindMountFailed, "boot:sys-virtual-net", err)
		}
	} else {
		if err := pinSysSubtrees("sys"); err != nil {
			return err
		}
		if err := fsio.BindMount("/dev/null", "sys/class/tty/console/active", false); err != nil {
			return err
		}
	}

	if err := unix.Mount("", "sys", "", unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
		return dserr.Wrap(dserr.KindMountFailed, "boot:sys-remount-ro", err)
	}
	return nil
}

// pinSysSubtrees recursively self-binds every direct child of sysRoot so
// each becomes an independent read-write mount unaffected by the
// subsequent top-level read-only remount (spec §4.3 step 10 rationale).
func pinSysSubtrees(sysRoot string) error {
	entries, err := os.ReadDir(sysRoot)
	if err != nil {
		return dserr.Wrap(dserr.KindIO, "boot:sys-pin", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(sysRoot, e.Name())
		if err := fsio.BindMount(path, path, true); err != nil {
			return err
		}
	}
	return nil
}
