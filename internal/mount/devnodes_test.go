package mount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTTYName(t *testing.T) {
	assert.Equal(t, "tty0", TTYName(0))
	assert.Equal(t, "tty0", TTYName(-1))
	assert.Equal(t, "tty1", TTYName(1))
	assert.Equal(t, "tty6", TTYName(6))
}

func TestEmptyDevTargetsIncludesOneEntryPerTTY(t *testing.T) {
	targets := EmptyDevTargets(3)
	assert.Contains(t, targets, "net/tun")
	assert.Contains(t, targets, "fuse")
	assert.Contains(t, targets, "tty1")
	assert.Contains(t, targets, "tty2")
	assert.Contains(t, targets, "tty3")
	assert.Len(t, targets, 5)
}

func TestCoreDevNodesCount(t *testing.T) {
	assert.Len(t, CoreDevNodes, 8)
	names := make(map[string]bool, len(CoreDevNodes))
	for _, n := range CoreDevNodes {
		names[n.Name] = true
	}
	for _, want := range []string{"null", "zero", "console", "ptmx"} {
		assert.True(t, names[want], "missing dev node %q", want)
	}
}
