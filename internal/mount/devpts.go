package mount

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/ravindu644/droidspaces/internal/dserr"
)

// devptsOptionChain is the fallback chain of spec §4.3 step 17: newer
// kernels support a fully isolated devpts instance with its own ptmx
// permission/ownership; older or hardened kernels reject one or more of
// these options, so each is tried in turn before giving up.
var devptsOptionChain = []string{
	"gid=5,newinstance,ptmxmode=0666,mode=0620",
	"newinstance,ptmxmode=0666,mode=0620",
	"gid=5,newinstance,mode=0620",
	"newinstance,ptmxmode=0666",
	"newinstance",
}

// MountDevpts mounts a devpts instance at target, walking
// devptsOptionChain until one succeeds. Returns the option string that
// worked, for logging.
func MountDevpts(target string) (string, error) {
	var lastErr error
	for _, opts := range devptsOptionChain {
		err := unix.Mount("devpts", target, "devpts", unix.MS_NOSUID|unix.MS_NOEXEC, opts)
		if err == nil {
			return opts, nil
		}
		lastErr = err
	}
	return "", dserr.Wrap(dserr.KindMountFailed, "boot:devpts", lastErr)
}

// RepointPtmx makes /dev/ptmx resolve to the new devpts instance's own
// ptmx node (spec §4.3 step 17, second half). With hardware access the
// host's shared ptmx node is bind-mounted over directly; without it the
// private tmpfs node created in step 8 is unlinked first and replaced
// with an empty file as the bind target.
func RepointPtmx(ptmxPath, ptsPtmxPath string, hardwareAccess bool) error {
	if !hardwareAccess {
		_ = os.Remove(ptmxPath)
		f, err := os.OpenFile(ptmxPath, os.O_CREATE|os.O_EXCL, 0666)
		if err != nil && !os.IsExist(err) {
			return dserr.Wrap(dserr.KindIO, "boot:ptmx-replace", err)
		}
		if f != nil {
			f.Close()
		}
	}
	if err := unix.Mount(ptsPtmxPath, ptmxPath, "", unix.MS_BIND, ""); err != nil {
		return dserr.Wrap(dserr.KindMountFailed, "boot:ptmx-bind", err)
	}
	return nil
}
