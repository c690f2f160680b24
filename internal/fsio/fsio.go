// Package fsio provides the syscall & FS primitives of spec §4.1 (C1): a
// mount wrapper, a recursive mkdir that tolerates EEXIST, whole-file
// read/write helpers, and a tolerant mknod. Every primitive either succeeds
// fully or returns a *dserr.Error — no silent partial success.
//
// File I/O goes through an afero.Fs so that production code and tests share
// the exact same code path, the teacher's sysio.IOnodeFile/ioFileService
// split (production -> afero.NewOsFs, tests -> afero.NewMemMapFs).
package fsio

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/ravindu644/droidspaces/internal/dserr"
)

// FS is the host filesystem abstraction every component takes instead of
// calling os.* directly, so tests can swap in afero.NewMemMapFs().
type FS struct {
	afero.Fs
}

// NewOS returns the production filesystem backed by the real host FS.
func NewOS() *FS { return &FS{afero.NewOsFs()} }

// NewMem returns an in-memory filesystem for unit tests.
func NewMem() *FS { return &FS{afero.NewMemMapFs()} }

// MkdirAll recursively creates dir, tolerating a pre-existing directory.
func (fs *FS) MkdirAll(path string, perm os.FileMode) error {
	if err := fs.Fs.MkdirAll(path, perm); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return dserr.Wrap(dserr.KindIO, "mkdir", err)
	}
	return nil
}

// ReadFileTrimmed reads the whole file and returns its trimmed contents.
func (fs *FS) ReadFileTrimmed(path string) (string, error) {
	data, err := afero.ReadFile(fs.Fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", dserr.Wrap(dserr.KindNotFound, "readfile", err)
		}
		return "", dserr.Wrap(dserr.KindIO, "readfile", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteFileAll writes the full contents of data to path, retrying on short
// writes and reporting a partial write as an error rather than silently
// truncating.
func (fs *FS) WriteFileAll(path string, data []byte, perm os.FileMode) error {
	if err := fs.Fs.MkdirAll(filepath.Dir(path), 0755); err != nil && !os.IsExist(err) {
		return dserr.Wrap(dserr.KindIO, "writefile", err)
	}

	f, err := fs.Fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return dserr.Wrap(dserr.KindIO, "writefile", err)
	}
	defer f.Close()

	buf := bytes.NewReader(data)
	written := 0
	for written < len(data) {
		n, err := f.Write(buf.Bytes()[written:])
		if err != nil {
			return dserr.Wrap(dserr.KindIO, "writefile", err)
		}
		if n == 0 {
			return dserr.New(dserr.KindIO, "writefile", "zero-length write, partial data committed")
		}
		written += n
	}
	return nil
}

// Symlink creates newname -> oldname when the backing Fs supports it
// (afero.OsFs does via SymlinkIfPossible; afero.MemMapFs does not, so
// tests exercising symlink-dependent code must assert on the returned
// error instead of the link itself).
func (fs *FS) Symlink(oldname, newname string) error {
	linker, ok := fs.Fs.(afero.Symlinker)
	if !ok {
		return dserr.New(dserr.KindIO, "symlink", "backing filesystem does not support symlinks")
	}
	if err := linker.SymlinkIfPossible(oldname, newname); err != nil {
		return dserr.Wrap(dserr.KindIO, "symlink", err)
	}
	return nil
}

// Mount is the real mount(2) syscall wrapper; it always operates on the
// host FS (afero can't model mount namespaces), so it is a free function
// rather than an *FS method.
func Mount(source, target, fstype string, flags uintptr, data string) error {
	if err := unix.Mount(source, target, fstype, flags, data); err != nil {
		return dserr.Wrap(dserr.KindMountFailed, "mount:"+target, err)
	}
	return nil
}

// BindMount bind-mounts source onto target, recursively (MS_REC) when
// recursive is true.
func BindMount(source, target string, recursive bool) error {
	flags := uintptr(unix.MS_BIND)
	if recursive {
		flags |= unix.MS_REC
	}
	return Mount(source, target, "", flags, "")
}

// Unmount wraps umount2(2); lazy controls MNT_DETACH.
func Unmount(target string, lazy bool) error {
	var flags int
	if lazy {
		flags = unix.MNT_DETACH
	}
	if err := unix.Unmount(target, flags); err != nil {
		if err == unix.EINVAL || err == unix.ENOENT {
			return nil
		}
		return dserr.Wrap(dserr.KindBusyOrInUse, "umount:"+target, err)
	}
	return nil
}

// Mknod wraps mknod(2), tolerating a pre-existing node only when its
// (major, minor, type) already match the requested values.
func Mknod(path string, mode uint32, major, minor uint32) error {
	dev := unix.Mkdev(major, minor)
	if err := unix.Mknod(path, mode, int(dev)); err != nil {
		if err != unix.EEXIST {
			return dserr.Wrap(dserr.KindIO, "mknod:"+path, err)
		}

		var st unix.Stat_t
		if serr := unix.Stat(path, &st); serr != nil {
			return dserr.Wrap(dserr.KindIO, "mknod:"+path, serr)
		}

		wantType := mode &^ 0777
		haveType := st.Mode &^ 0777
		if haveType != wantType || st.Rdev != uint64(dev) {
			return dserr.New(dserr.KindAlreadyExists, "mknod:"+path,
				"pre-existing node has a different (major,minor,type)")
		}
		// Matches: tolerate.
	}
	return nil
}
