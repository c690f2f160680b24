package dserr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageFormatting(t *testing.T) {
	assert.Equal(t, "boot: MountFailed: eek", New(KindMountFailed, "boot", "eek").Error())
	assert.Equal(t, "boot: MountFailed", New(KindMountFailed, "boot", "").Error())
	assert.Equal(t, "MountFailed: eek", New(KindMountFailed, "", "eek").Error())
	assert.Equal(t, "MountFailed", New(KindMountFailed, "", "").Error())
}

func TestWrapReturnsNilForNilCause(t *testing.T) {
	assert.Nil(t, Wrap(KindIO, "phase", nil))
}

func TestWrapPreservesUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(KindIO, "phase", cause)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestIsMatchesOnKindOnly(t *testing.T) {
	err := Wrap(KindNotRunning, "stop", errors.New("process missing"))
	assert.True(t, errors.Is(err, Sentinel(KindNotRunning)))
	assert.False(t, errors.Is(err, Sentinel(KindMountFailed)))
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	err := Wrap(KindPivotFailed, "boot", errors.New("eperm"))
	wrapped := fmt.Errorf("context: %w", err)

	assert.Equal(t, KindPivotFailed, KindOf(err))
	assert.Equal(t, KindPivotFailed, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}
