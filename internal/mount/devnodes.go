package mount

import (
	"strconv"

	"golang.org/x/sys/unix"
)

// DevNode is one fixed /dev entry created by the boot sequence's private-tmpfs path
// (spec §4.3 step 8) or reconciled against the host's shared devtmpfs in
// hardware-access mode.
type DevNode struct {
	Name         string
	Mode         uint32
	Major, Minor uint32
}

// CoreDevNodes is the fixed device-node set of spec §4.3 step 8.
var CoreDevNodes = []DevNode{
	{"null", unix.S_IFCHR | 0666, 1, 3},
	{"zero", unix.S_IFCHR | 0666, 1, 5},
	{"full", unix.S_IFCHR | 0666, 1, 7},
	{"random", unix.S_IFCHR | 0666, 1, 8},
	{"urandom", unix.S_IFCHR | 0666, 1, 9},
	{"tty", unix.S_IFCHR | 0666, 5, 0},
	{"console", unix.S_IFCHR | 0600, 5, 1},
	{"ptmx", unix.S_IFCHR | 0666, 5, 2},
}

// HWAccessConflictSet is the set of nodes that must be unmounted-lazily and
// unlinked from the host's shared devtmpfs, then recreated with mknod so
// the guest gets its own console/ptmx (spec §4.3 step 8, hardware-access
// branch).
var HWAccessConflictSet = []string{"console", "tty", "full", "null", "zero", "random", "urandom", "ptmx"}

// EmptyDevTargets are device targets created as empty regular files/dirs to
// later serve as bind-mount points (net/tun, fuse, ttyN).
func EmptyDevTargets(ttyCount int) []string {
	targets := []string{"net/tun", "fuse"}
	for i := 1; i <= ttyCount; i++ {
		targets = append(targets, TTYName(i))
	}
	return targets
}

// TTYName renders the guest-relative dev entry for guest tty N ("tty1",
// "tty2", ...).
func TTYName(n int) string {
	if n <= 0 {
		return "tty0"
	}
	return "tty" + strconv.Itoa(n)
}
