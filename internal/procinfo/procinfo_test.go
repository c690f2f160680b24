package procinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseInts(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3}, parseInts("NSpid:\t1\t2\t3", "NSpid:"))
	assert.Nil(t, parseInts("NSpid:", "NSpid:"))
	assert.Equal(t, []int{7}, parseInts("Uid:\t7", "Uid:"))
}

func TestIsPidNamespaceInit(t *testing.T) {
	assert.True(t, (&Status{NSpid: []int{4821, 17, 1}}).IsPidNamespaceInit())
	assert.False(t, (&Status{NSpid: []int{4821, 17, 2}}).IsPidNamespaceInit())
	assert.False(t, (&Status{}).IsPidNamespaceInit())
}

func TestAliveRejectsImpossiblePid(t *testing.T) {
	assert.False(t, Alive(999999999))
}
