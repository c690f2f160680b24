// Package naming implements spec §4.7 (C7): auto-naming from the guest's
// os-release, pidfile read/write, PID validity, and discovery of running
// containers by their /run/systemd/container marker and NSpid (`scan`).
package naming

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ravindu644/droidspaces/internal/dserr"
	"github.com/ravindu644/droidspaces/internal/fsio"
	"github.com/ravindu644/droidspaces/internal/procinfo"
)

const containerMarker = "droidspaces"

// maxAutoNameSuffix bounds the "-k" collision-avoidance loop of spec §4.7.
const maxAutoNameSuffix = 1000

// AutoName derives name(cfg) = os_release_id + "-" + os_release_version_id,
// appending "-k" for the smallest k that does not collide with a name in
// running.
func AutoName(fs *fsio.FS, rootfs string, running map[string]bool) (string, error) {
	base, err := osReleaseName(fs, rootfs)
	if err != nil {
		return "", err
	}
	if !running[base] {
		return base, nil
	}
	for k := 1; k <= maxAutoNameSuffix; k++ {
		candidate := fmt.Sprintf("%s-%d", base, k)
		if !running[candidate] {
			return candidate, nil
		}
	}
	return "", dserr.New(dserr.KindNameConflict, "naming:autoname", "exhausted suffix range")
}

func osReleaseName(fs *fsio.FS, rootfs string) (string, error) {
	raw, err := fs.ReadFileTrimmed(filepath.Join(rootfs, "etc", "os-release"))
	if err != nil {
		return "", dserr.Wrap(dserr.KindRootfsNotFound, "naming:os-release", err)
	}

	var id, version string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "ID="):
			id = unquote(strings.TrimPrefix(line, "ID="))
		case strings.HasPrefix(line, "VERSION_ID="):
			version = unquote(strings.TrimPrefix(line, "VERSION_ID="))
		}
	}
	if id == "" {
		id = "linux"
	}
	if version == "" {
		return id, nil
	}
	return id + "-" + version, nil
}

func unquote(s string) string {
	return strings.Trim(s, `"'`)
}

// PidfilePath returns the path of <name>.pid inside the workspace.
func PidfilePath(workspace, name string) string {
	return filepath.Join(workspace, "Pids", name+".pid")
}

// MountSidecarPath returns the path of <name>.mount inside the workspace.
func MountSidecarPath(workspace, name string) string {
	return filepath.Join(workspace, "Pids", name+".mount")
}

// WritePidfile writes pid as decimal text (spec §6 workspace layout).
func WritePidfile(fs *fsio.FS, workspace, name string, pid int) error {
	return fs.WriteFileAll(PidfilePath(workspace, name), []byte(strconv.Itoa(pid)), 0644)
}

// ReadPidfile reads and parses a previously-written pidfile.
func ReadPidfile(fs *fsio.FS, workspace, name string) (int, error) {
	raw, err := fs.ReadFileTrimmed(PidfilePath(workspace, name))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(raw)
	if err != nil {
		return 0, dserr.New(dserr.KindStaleState, "naming:pidfile", "non-numeric pidfile content")
	}
	return pid, nil
}

// RemovePidfile deletes the pidfile and its .mount sidecar; both are
// tolerated missing.
func RemovePidfile(fs *fsio.FS, workspace, name string) error {
	_ = fs.Remove(PidfilePath(workspace, name))
	_ = fs.Remove(MountSidecarPath(workspace, name))
	return nil
}

// IsValidContainerPid checks the process exists and that
// /proc/<pid>/root/run/systemd/container reads exactly "droidspaces"
// (spec §4.7).
func IsValidContainerPid(fs *fsio.FS, pid int) bool {
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err != nil {
		return false
	}
	path := fmt.Sprintf("/proc/%d/root/run/systemd/container", pid)
	content, err := fs.ReadFileTrimmed(path)
	if err != nil {
		return false
	}
	return content == containerMarker
}

// Record describes one discovered or registered container.
type Record struct {
	Name string
	Pid  int
}

// Scan iterates /proc/*, validating each numeric PID as a container whose
// NSpid line shows it is PID 1 inside its own namespace (spec §4.7). PIDs
// with no existing pidfile are auto-named and implicitly registered by the
// caller.
func Scan(fs *fsio.FS) ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, dserr.Wrap(dserr.KindIO, "naming:scan", err)
	}

	var found []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		if !IsValidContainerPid(fs, pid) {
			continue
		}
		if isNamespacePid1(pid) {
			found = append(found, pid)
		}
	}
	return found, nil
}

// isNamespacePid1 checks whether pid is PID 1 inside its own PID namespace
// (the last field of /proc/<pid>/status's NSpid: line).
func isNamespacePid1(pid int) bool {
	st, err := procinfo.ReadStatus(pid)
	if err != nil {
		return false
	}
	return st.IsPidNamespaceInit()
}

// ScanWithRetry retries Scan up to attempts times at interval, used during
// start to bridge the fork-to-marker-write window (spec §4.7).
func ScanWithRetry(fs *fsio.FS, attempts int, interval time.Duration, want int) bool {
	for i := 0; i < attempts; i++ {
		pids, err := Scan(fs)
		if err == nil {
			for _, p := range pids {
				if p == want {
					return true
				}
			}
		}
		time.Sleep(interval)
	}
	return false
}
