package mount

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/ravindu644/droidspaces/internal/dserr"
)

// f2fsMagic is the statfs f_type of f2fs, whose overlay-lowerdir support is
// absent on many Android kernels (spec §4.3 step 3 known limitation).
const f2fsMagic = 0xf2f52010

// VolatileWorkspace is the set of paths backing one container's volatile
// (overlay) mode, rooted at {workspace}/Volatile/<name>/ (spec §3 invariant 5).
type VolatileWorkspace struct {
	Root   string
	Upper  string
	Work   string
	Merged string
}

func NewVolatileWorkspace(workspace, name string) *VolatileWorkspace {
	root := filepath.Join(workspace, "Volatile", name)
	return &VolatileWorkspace{
		Root:   root,
		Upper:  filepath.Join(root, "upper"),
		Work:   filepath.Join(root, "work"),
		Merged: filepath.Join(root, "merged"),
	}
}

// CheckLowerdirSupported refuses f2fs lowerdirs before any mount side
// effect, per spec §4.3 step 3 and §8's boundary behavior.
func CheckLowerdirSupported(lowerdir string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(lowerdir, &st); err != nil {
		return dserr.Wrap(dserr.KindIO, "boot:overlay-probe", err)
	}
	if int64(st.Type) == f2fsMagic {
		return dserr.New(dserr.KindOverlayLowerdirUnsupported, "boot:overlay-probe", "f2fs")
	}
	return nil
}

// ProbeOverlaySupport does a best-effort overlay availability check by
// reading /proc/filesystems for an "overlay" entry.
func ProbeOverlaySupport(fs interface {
	ReadFileTrimmed(string) (string, error)
}) error {
	content, err := fs.ReadFileTrimmed("/proc/filesystems")
	if err != nil {
		return dserr.New(dserr.KindMissingKernelFeature, "boot:overlay-probe", "overlay")
	}
	if !strings.Contains(content, "overlay") {
		return dserr.New(dserr.KindMissingKernelFeature, "boot:overlay-probe", "overlay")
	}
	return nil
}

// Build creates the tmpfs-backed overlay scratch directories and mounts the
// overlay itself, returning the merged directory that becomes the new
// active rootfs (spec §4.3 step 3). selinuxCtx is only applied on Android
// (empty string elsewhere).
func (v *VolatileWorkspace) Build(lowerdir, selinuxCtx string) (string, error) {
	if err := CheckLowerdirSupported(lowerdir); err != nil {
		return "", err
	}

	if err := os.MkdirAll(v.Root, 0755); err != nil {
		return "", dserr.Wrap(dserr.KindIO, "boot:volatile-mkdir", err)
	}

	tmpfsData := "mode=0755"
	if selinuxCtx != "" {
		tmpfsData += ",context=" + selinuxCtx
	}
	if err := unix.Mount("tmpfs", v.Root, "tmpfs", 0, tmpfsData); err != nil {
		return "", dserr.Wrap(dserr.KindMountFailed, "boot:volatile-tmpfs", err)
	}

	// upper/work/merged must be created inside the tmpfs just mounted onto
	// v.Root, not before: creating them first would leave them shadowed by
	// the (empty) tmpfs the moment it mounts.
	for _, d := range []string{v.Upper, v.Work, v.Merged} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return "", dserr.Wrap(dserr.KindIO, "boot:volatile-mkdir", err)
		}
	}

	opts := "lowerdir=" + lowerdir + ",upperdir=" + v.Upper + ",workdir=" + v.Work
	if err := unix.Mount("overlay", v.Merged, "overlay", 0, opts); err != nil {
		return "", dserr.Wrap(dserr.KindMountFailed, "boot:volatile-overlay", err)
	}

	return v.Merged, nil
}

// Teardown unmounts the merged overlay and the backing tmpfs, then removes
// the scratch directory tree (spec §3 invariant 5: must precede image
// unmount; spec §4.6 stop's cleanup step).
func (v *VolatileWorkspace) Teardown() error {
	_ = unix.Unmount(v.Merged, unix.MNT_DETACH)
	_ = unix.Unmount(v.Root, unix.MNT_DETACH)
	if err := unix.Rmdir(v.Root); err != nil && err != unix.ENOENT {
		// Best-effort: the tmpfs unmount above already discarded the
		// contents; a stale empty directory is not fatal.
		return nil
	}
	return nil
}
