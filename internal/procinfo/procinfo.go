// Package procinfo reads /proc/<pid> state needed by the lifecycle
// orchestrator and the `info`/`status` commands, grounded on the
// teacher's process.getStatus field-scanning style.
package procinfo

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/ravindu644/droidspaces/internal/dserr"
)

// Status holds the subset of /proc/<pid>/status this runtime cares about.
type Status struct {
	NSpid  []int
	Uid    []int
	Gid    []int
	Groups []int
}

// ReadStatus parses /proc/<pid>/status for the NSpid, Uid, Gid and Groups
// fields (NSpid feeds spec §4.7's PID-1-inside-namespace check; the
// other fields are parsed but not read by any caller in this repository).
func ReadStatus(pid int) (*Status, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return nil, dserr.Wrap(dserr.KindNotFound, "procinfo:status", err)
	}
	defer f.Close()

	st := &Status{}
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		switch {
		case strings.HasPrefix(line, "NSpid:"):
			st.NSpid = parseInts(line, "NSpid:")
		case strings.HasPrefix(line, "Uid:"):
			st.Uid = parseInts(line, "Uid:")
		case strings.HasPrefix(line, "Gid:"):
			st.Gid = parseInts(line, "Gid:")
		case strings.HasPrefix(line, "Groups:"):
			st.Groups = parseInts(line, "Groups:")
		}
	}
	if err := s.Err(); err != nil {
		return nil, dserr.Wrap(dserr.KindIO, "procinfo:status", err)
	}
	return st, nil
}

func parseInts(line, prefix string) []int {
	rest := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if rest == "" {
		return nil
	}
	fields := strings.Fields(rest)
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// IsPidNamespaceInit reports whether pid is PID 1 inside its own PID
// namespace (the last NSpid value is 1).
func (s *Status) IsPidNamespaceInit() bool {
	return len(s.NSpid) > 0 && s.NSpid[len(s.NSpid)-1] == 1
}

// Alive sends signal 0 to pid to validate it without affecting it (spec
// §4.6 stop step 1).
func Alive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// RootSymlinkTarget reads /proc/<pid>/root, used both to locate the guest
// rootfs for post-mortem cleanup (spec §4.6 stop step 2) and to read
// in-container files through the host's /proc view.
func RootSymlinkTarget(pid int) (string, error) {
	target, err := os.Readlink(fmt.Sprintf("/proc/%d/root", pid))
	if err != nil {
		return "", dserr.Wrap(dserr.KindNotFound, "procinfo:root", err)
	}
	return target, nil
}

// NamespaceInode stats /proc/<pid>/ns/<ns> and returns its inode number,
// the per-namespace identity the corpus's process.GetNsInodes uses to
// detect whether two processes share a namespace.
func NamespaceInode(pid int, ns string) (uint64, error) {
	var st unix.Stat_t
	path := fmt.Sprintf("/proc/%d/ns/%s", pid, ns)
	if err := unix.Stat(path, &st); err != nil {
		return 0, dserr.Wrap(dserr.KindIO, "procinfo:nsinode", err)
	}
	return st.Ino, nil
}
