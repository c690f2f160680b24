// Package hostprep implements spec §4.8 (C8): the host-side knob toggles
// that must be undone, in reverse order, on stop or monitor crash —
// SELinux permissive mode, Android's phantom-process limit and
// deviceidle, and image e2fsck + loop mount.
//
// SELinux state is read/written through
// github.com/opencontainers/selinux/go-selinux, the library the
// container corpus (kraftkit, apptainer in other_examples/) uses instead
// of shelling out to setenforce/getenforce.
package hostprep

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencontainers/selinux/go-selinux"

	"github.com/ravindu644/droidspaces/internal/dserr"
	"github.com/ravindu644/droidspaces/internal/fsio"
)

// The two Android runtime knobs spec §4.8 bumps and restores: max
// phantom processes and deviceidle.
const (
	phantomProcMaxPath = "/sys/kernel/debug/proc_max_phantom"
	deviceIdlePath     = "/sys/power/deviceidle"
)

// firmwareClassPath is the kernel's request_firmware() extra search path
// (module firmware_class, parameter "path"). Android kernels accept a
// colon-separated list here so more than one running container can
// register its own vendor firmware directory without stomping another's.
const firmwareClassPath = "/sys/module/firmware_class/parameters/path"

// Prior captures the host state this package mutates, so Restore can put
// it back exactly (spec §4.8 post-stop reversal, spec §9's "register undo
// in a stack" design rule).
type Prior struct {
	SELinuxWasEnforcing bool
	SELinuxTouched      bool

	PhantomProcMax string
	PhantomTouched bool

	DeviceIdle     string
	DeviceIdleTouched bool

	LoopMounted bool
	MountPoint  string
	ImagePath   string
	ReadOnly    bool

	FirmwareEntry   string
	FirmwareTouched bool
}

// SetSELinuxPermissive flips SELinux to permissive if it is currently
// enforcing, recording the prior state in p.
func SetSELinuxPermissive(fs *fsio.FS, p *Prior) error {
	if !selinux.GetEnabled() {
		return nil
	}
	p.SELinuxWasEnforcing = selinux.EnforceMode() == selinux.Enforcing
	if !p.SELinuxWasEnforcing {
		return nil
	}
	if err := selinux.SetEnforceMode(selinux.Permissive); err != nil {
		return dserr.Wrap(dserr.KindIO, "hostprep:selinux", err)
	}
	p.SELinuxTouched = true
	return nil
}

// BumpAndroidLimits raises the phantom-process ceiling and disables
// deviceidle, remembering the prior values for Restore.
func BumpAndroidLimits(fs *fsio.FS, p *Prior) error {
	if prior, err := fs.ReadFileTrimmed(phantomProcMaxPath); err == nil {
		p.PhantomProcMax = prior
		if werr := fs.WriteFileAll(phantomProcMaxPath, []byte("2097152"), 0644); werr == nil {
			p.PhantomTouched = true
		}
	}
	if prior, err := fs.ReadFileTrimmed(deviceIdlePath); err == nil {
		p.DeviceIdle = prior
		if werr := fs.WriteFileAll(deviceIdlePath, []byte("0"), 0644); werr == nil {
			p.DeviceIdleTouched = true
		}
	}
	return nil
}

// AppendFirmwarePath appends rootfs's vendor firmware directory to the
// kernel's firmware search path (spec §4.8, C8's "firmware path append"),
// recording only the entry this call adds so DeleteFirmwarePath can remove
// it without disturbing entries other running containers have registered.
func AppendFirmwarePath(fs *fsio.FS, p *Prior, rootfs string) error {
	entry := filepath.Join(rootfs, "vendor", "firmware")

	current, err := fs.ReadFileTrimmed(firmwareClassPath)
	if err != nil {
		return nil // knob absent on this kernel; nothing to append
	}

	next := entry
	if current != "" {
		next = current + ":" + entry
	}
	if err := fs.WriteFileAll(firmwareClassPath, []byte(next), 0644); err != nil {
		return dserr.Wrap(dserr.KindIO, "hostprep:firmware-path", err)
	}

	p.FirmwareEntry = entry
	p.FirmwareTouched = true
	return nil
}

// deleteFirmwarePath removes exactly the entry AppendFirmwarePath added
// (spec §4.6 stop step 6: "delete the firmware-path entry"), leaving any
// other container's entries in the colon-separated list untouched.
func deleteFirmwarePath(fs *fsio.FS, p *Prior) error {
	current, err := fs.ReadFileTrimmed(firmwareClassPath)
	if err != nil {
		return nil
	}
	var kept []string
	for _, part := range strings.Split(current, ":") {
		if part != p.FirmwareEntry {
			kept = append(kept, part)
		}
	}
	return fs.WriteFileAll(firmwareClassPath, []byte(strings.Join(kept, ":")), 0644)
}

// DeleteFirmwarePathForRootfs removes the firmware-path entry derived from
// rootfs directly, for the crash/stale-sidecar path where Stop captured the
// live process's rootfs (spec §4.6 stop step 2) but no .prior.json recorded
// that AppendFirmwarePath ever touched this container.
func DeleteFirmwarePathForRootfs(fs *fsio.FS, rootfs string) error {
	p := &Prior{FirmwareEntry: filepath.Join(rootfs, "vendor", "firmware")}
	return deleteFirmwarePath(fs, p)
}

// MountImage runs e2fsck -f -y then loop-mounts the image at
// /mnt/Droidspaces/<name>, read-only when volatile (spec §4.8).
func MountImage(fs *fsio.FS, imagePath, name string, readOnly bool, p *Prior) (string, error) {
	if err := runE2fsck(imagePath); err != nil {
		return "", err
	}

	mountPoint := "/mnt/Droidspaces/" + name
	if err := fs.MkdirAll(mountPoint, 0755); err != nil {
		return "", err
	}

	args := []string{"-o", "loop"}
	if readOnly {
		args[1] = "loop,ro"
	}
	args = append(args, imagePath, mountPoint)
	cmd := exec.Command("mount", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", dserr.Wrap(dserr.KindMountFailed, "hostprep:loop-mount", fmt.Errorf("%s: %w", strings.TrimSpace(string(out)), err))
	}

	p.LoopMounted = true
	p.MountPoint = mountPoint
	p.ImagePath = imagePath
	p.ReadOnly = readOnly
	return mountPoint, nil
}

func runE2fsck(imagePath string) error {
	cmd := exec.Command("e2fsck", "-f", "-y", imagePath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() > 4 {
			return dserr.New(dserr.KindImageCorrupt, "hostprep:e2fsck", strings.TrimSpace(string(out)))
		}
	}
	return nil
}

// Restore undoes every prior-recorded change in reverse order (spec §4.8
// post-stop; spec §9's unwind-the-undo-stack design rule).
func Restore(fs *fsio.FS, p *Prior) []error {
	var errs []error

	if p.FirmwareTouched {
		if err := deleteFirmwarePath(fs, p); err != nil {
			errs = append(errs, err)
		}
	}
	if p.LoopMounted {
		_ = fsio.Unmount(p.MountPoint, true)
	}
	if p.DeviceIdleTouched {
		if err := fs.WriteFileAll(deviceIdlePath, []byte(p.DeviceIdle), 0644); err != nil {
			errs = append(errs, err)
		}
	}
	if p.PhantomTouched {
		if err := fs.WriteFileAll(phantomProcMaxPath, []byte(p.PhantomProcMax), 0644); err != nil {
			errs = append(errs, err)
		}
	}
	if p.SELinuxTouched {
		if err := selinux.SetEnforceMode(selinux.Enforcing); err != nil {
			errs = append(errs, dserr.Wrap(dserr.KindIO, "hostprep:selinux-restore", err))
		}
	}
	return errs
}

// WaitLoopRelease polls for the kernel to release the loop device backing
// mountPoint before the caller removes the (now-empty) mount directory
// (spec §4.6 stop step 6).
func WaitLoopRelease(mountPoint string, attempts int, interval time.Duration) bool {
	for i := 0; i < attempts; i++ {
		cmd := exec.Command("losetup", "-j", mountPoint)
		out, err := cmd.Output()
		if err == nil && strings.TrimSpace(string(out)) == "" {
			return true
		}
		time.Sleep(interval)
	}
	return false
}
