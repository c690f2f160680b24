package boot

import (
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/sys/unix"

	"github.com/ravindu644/droidspaces/internal/dserr"
	"github.com/ravindu644/droidspaces/internal/fsio"
	"github.com/ravindu644/droidspaces/internal/mount"
)

// buildDev implements spec §4.3 step 8.
func (s *Sequence) buildDev() error {
	if !s.Cfg.HardwareAccess {
		return s.buildPrivateDev()
	}
	return s.buildSharedDev()
}

func (s *Sequence) buildPrivateDev() error {
	if err := unix.Mount("tmpfs", "dev", "tmpfs", unix.MS_NOSUID|unix.MS_NOEXEC, "size=8M,mode=755"); err != nil {
		return dserr.Wrap(dserr.KindMountFailed, "boot:dev-tmpfs", err)
	}

	for _, n := range mount.CoreDevNodes {
		if err := fsio.Mknod(filepath.Join("dev", n.Name), n.Mode, n.Major, n.Minor); err != nil {
			return err
		}
	}

	return s.createEmptyDevTargets()
}

func (s *Sequence) buildSharedDev() error {
	if err := unix.Mount("devtmpfs", "dev", "devtmpfs", 0, ""); err != nil {
		return dserr.Wrap(dserr.KindMountFailed, "boot:dev-devtmpfs", err)
	}

	for _, name := range mount.HWAccessConflictSet {
		path := filepath.Join("dev", name)
		_ = fsio.Unmount(path, true)
		_ = os.Remove(path)
	}
	for _, n := range mount.CoreDevNodes {
		if slices.Contains(mount.HWAccessConflictSet, n.Name) {
			if err := fsio.Mknod(filepath.Join("dev", n.Name), n.Mode, n.Major, n.Minor); err != nil {
				return err
			}
		}
	}

	return s.createEmptyDevTargets()
}

func (s *Sequence) createEmptyDevTargets() error {
	if err := s.Fs.MkdirAll("dev/net", 0755); err != nil {
		return err
	}
	for _, target := range mount.EmptyDevTargets(s.Cfg.TTYCount) {
		if err := s.Fs.WriteFileAll(filepath.Join("dev", target), nil, 0666); err != nil {
			return err
		}
	}
	return nil
}
