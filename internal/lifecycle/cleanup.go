package lifecycle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/ravindu644/droidspaces/internal/fsio"
	"github.com/ravindu644/droidspaces/internal/hostprep"
	"github.com/ravindu644/droidspaces/internal/mount"
	"github.com/ravindu644/droidspaces/internal/naming"
)

func priorSidecarPath(workspace, name string) string {
	return filepath.Join(workspace, "Pids", name+".prior.json")
}

func writePriorSidecar(workspace, name string, p *hostprep.Prior) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(priorSidecarPath(workspace, name), data, 0600)
}

func readPriorSidecar(workspace, name string) (*hostprep.Prior, error) {
	data, err := os.ReadFile(priorSidecarPath(workspace, name))
	if err != nil {
		return nil, err
	}
	var p hostprep.Prior
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// cleanup implements the reverse-order teardown of spec §4.6 stop step 6
// and §4.8's post-stop restoration: volatile workspace first (it lives on
// tmpfs that must be dismantled before the image it overlaid), then
// hostprep.Restore's reverse-order undo of the host-prep knobs and the
// image mount (the unmount is skipped when skipUnmount, the restart fast
// path), then the pidfile/sidecars. liveRootfs is the rootfs path
// Stop captured from /proc/<pid>/root (stop step 2) while the process was
// still alive; it's the fallback firmware-path cleanup source when the
// .prior.json sidecar is missing or predates AppendFirmwarePath.
func cleanup(fs *fsio.FS, workspace, name string, skipUnmount bool, liveRootfs string) []error {
	var errs []error

	ws := mount.NewVolatileWorkspace(workspace, name)
	if _, err := os.Stat(ws.Root); err == nil {
		if err := ws.Teardown(); err != nil {
			errs = append(errs, err)
		}
	}

	prior, err := readPriorSidecar(workspace, name)
	if err == nil {
		if skipUnmount {
			prior.LoopMounted = false // restart reuses the still-mounted image
		}
		errs = append(errs, hostprep.Restore(fs, prior)...)
		if prior.LoopMounted {
			hostprep.WaitLoopRelease(prior.MountPoint, 10, 100*time.Millisecond)
			_ = os.Remove(prior.MountPoint)
		}
		if !prior.FirmwareTouched && liveRootfs != "" {
			_ = hostprep.DeleteFirmwarePathForRootfs(fs, liveRootfs)
		}
	} else if liveRootfs != "" {
		_ = hostprep.DeleteFirmwarePathForRootfs(fs, liveRootfs)
	}

	if !skipUnmount {
		_ = os.Remove(naming.MountSidecarPath(workspace, name))
	}
	_ = os.Remove(priorSidecarPath(workspace, name))
	_ = fs.Remove(naming.PidfilePath(workspace, name))

	return errs
}
