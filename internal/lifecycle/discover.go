// Package lifecycle implements spec §4.6 (C6): start, stop, restart,
// enter, run, info, show, scan — the fork topology, sync pipe, signal
// escalation and cleanup sequencing that sit above the lower-level
// boot/mount/naming/hostprep/term packages.
package lifecycle

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/ravindu644/droidspaces/internal/fsio"
	"github.com/ravindu644/droidspaces/internal/mount"
	"github.com/ravindu644/droidspaces/internal/naming"
	"github.com/ravindu644/droidspaces/internal/procinfo"
)

// Record is one live or stale pidfile entry.
type Record struct {
	Name  string
	Pid   int
	Valid bool
}

// List enumerates every pidfile in the workspace, validating each. Invalid
// (stale) entries are removed as a side effect, matching spec §4.7's
// `show` semantics.
func List(fs *fsio.FS, workspace string) ([]Record, error) {
	dir := filepath.Join(workspace, "Pids")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Record
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".pid" {
			continue
		}
		name := e.Name()[:len(e.Name())-len(".pid")]
		pid, err := naming.ReadPidfile(fs, workspace, name)
		if err != nil {
			continue
		}
		valid := naming.IsValidContainerPid(fs, pid)
		if !valid {
			_ = naming.RemovePidfile(fs, workspace, name)
			continue
		}
		out = append(out, Record{Name: name, Pid: pid, Valid: valid})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Resolve finds the live record for name, or an error if it is not
// running or its pidfile is stale.
func Resolve(fs *fsio.FS, workspace, name string) (Record, error) {
	pid, err := naming.ReadPidfile(fs, workspace, name)
	if err != nil {
		return Record{}, notRunningErr(name)
	}
	if !naming.IsValidContainerPid(fs, pid) || !procinfo.Alive(pid) {
		_ = naming.RemovePidfile(fs, workspace, name)
		return Record{}, notRunningErr(name)
	}
	return Record{Name: name, Pid: pid, Valid: true}, nil
}

// runningNames builds, from List, the set of running container names Start
// uses for collision-checking during auto-naming.
func runningNames(fs *fsio.FS, workspace string) map[string]bool {
	records, _ := List(fs, workspace)
	set := make(map[string]bool, len(records))
	for _, r := range records {
		set[r.Name] = true
	}
	return set
}

// Info describes one running container's introspected feature state (spec
// §4.7 `info`).
type Info struct {
	Name           string
	Pid            int
	SELinuxEnforce string
	IPv6Disabled   bool
	OSRelease      string
	RootFSType     string
	RootSource     string
}

// Describe introspects a running container's guest state through
// /proc/<pid>/root.
func Describe(fs *fsio.FS, workspace, name string) (Info, error) {
	rec, err := Resolve(fs, workspace, name)
	if err != nil {
		return Info{}, err
	}
	root := filepath.Join("/proc", strconv.Itoa(rec.Pid), "root")

	info := Info{Name: rec.Name, Pid: rec.Pid}
	if enforce, err := fs.ReadFileTrimmed(filepath.Join(root, "sys/fs/selinux/enforce")); err == nil {
		info.SELinuxEnforce = enforce
	}
	if disabled, err := fs.ReadFileTrimmed(filepath.Join(root, "proc/sys/net/ipv6/conf/all/disable_ipv6")); err == nil {
		info.IPv6Disabled = disabled == "1"
	}
	if rel, err := fs.ReadFileTrimmed(filepath.Join(root, "etc/os-release")); err == nil {
		info.OSRelease = rel
	}
	if rm, err := mount.LiveRootMount(rec.Pid); err == nil {
		info.RootFSType = rm.FSType
		info.RootSource = rm.Source
	}
	return info, nil
}

// ScanAndRegister implements spec §4.7's `scan`: probe every PID-1-in-its-
// own-namespace container via naming.Scan, and for any that has no
// existing pidfile, derive an auto-generated name from its guest
// os-release (read through /proc/<pid>/root) and register it with a fresh
// pidfile, the same way Start registers a container it just booted.
func ScanAndRegister(fs *fsio.FS, workspace string) ([]Record, error) {
	registered, err := List(fs, workspace)
	if err != nil {
		return nil, err
	}
	byPid := make(map[int]string, len(registered))
	names := make(map[string]bool, len(registered))
	for _, r := range registered {
		byPid[r.Pid] = r.Name
		names[r.Name] = true
	}

	pids, err := naming.Scan(fs)
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(pids))
	for _, pid := range pids {
		if name, ok := byPid[pid]; ok {
			out = append(out, Record{Name: name, Pid: pid, Valid: true})
			continue
		}

		rootfs := filepath.Join("/proc", strconv.Itoa(pid), "root")
		name, nameErr := naming.AutoName(fs, rootfs, names)
		if nameErr != nil {
			continue
		}
		if err := naming.WritePidfile(fs, workspace, name, pid); err != nil {
			continue
		}
		names[name] = true
		out = append(out, Record{Name: name, Pid: pid, Valid: true})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AutoSelect returns the single running container's name when exactly one
// is running, for `info`/`enter` invocations with no --name (spec §4.7).
func AutoSelect(fs *fsio.FS, workspace string) (string, error) {
	records, err := List(fs, workspace)
	if err != nil {
		return "", err
	}
	if len(records) != 1 {
		return "", notRunningErr("(ambiguous or none running)")
	}
	return records[0].Name, nil
}
