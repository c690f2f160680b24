// Package dserr defines the typed error kinds shared by every droidspaces
// component, per the runtime's error-handling design: a failure always
// carries a phase and a kind, never a bare string.
package dserr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy. Comparisons should use errors.Is
// against Sentinel(kind) or KindOf, not string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotRoot
	KindMissingKernelFeature
	KindNameConflict
	KindNameMissingForImage
	KindRootfsNotFound
	KindImageCorrupt
	KindOverlayLowerdirUnsupported
	KindMountFailed
	KindPtyAllocFailed
	KindForkFailed
	KindPivotFailed
	KindInitExecFailed
	KindStaleState
	KindTimeout
	KindIO
	KindNotFound
	KindPermissionDenied
	KindAlreadyExists
	KindBusyOrInUse
	KindUnsupported
	KindInvalidArgument
	KindNotRunning
)

func (k Kind) String() string {
	switch k {
	case KindNotRoot:
		return "NotRoot"
	case KindMissingKernelFeature:
		return "MissingKernelFeature"
	case KindNameConflict:
		return "NameConflict"
	case KindNameMissingForImage:
		return "NameMissingForImage"
	case KindRootfsNotFound:
		return "RootfsNotFound"
	case KindImageCorrupt:
		return "ImageCorrupt"
	case KindOverlayLowerdirUnsupported:
		return "OverlayLowerdirUnsupported"
	case KindMountFailed:
		return "MountFailed"
	case KindPtyAllocFailed:
		return "PtyAllocFailed"
	case KindForkFailed:
		return "ForkFailed"
	case KindPivotFailed:
		return "PivotFailed"
	case KindInitExecFailed:
		return "InitExecFailed"
	case KindStaleState:
		return "StaleState"
	case KindTimeout:
		return "Timeout"
	case KindIO:
		return "Io"
	case KindNotFound:
		return "NotFound"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindBusyOrInUse:
		return "BusyOrInUse"
	case KindUnsupported:
		return "Unsupported"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotRunning:
		return "NotRunning"
	default:
		return "Unknown"
	}
}

// Error is the typed error value every droidspaces component returns.
// Phase names the boot/lifecycle step that failed (e.g. "boot: pivot_root",
// "stop: kill timeout") so that the CLI can print the single stderr line
// the spec requires without re-deriving context from the error chain.
type Error struct {
	Kind   Kind
	Phase  string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Phase != "" {
		if e.Detail != "" {
			return fmt.Sprintf("%s: %s: %s", e.Phase, e.Kind, e.Detail)
		}
		return fmt.Sprintf("%s: %s", e.Phase, e.Kind)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, dserr.Sentinel(kind)) style comparisons by
// matching on Kind alone, ignoring Phase/Detail/Err.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, phase, detail string) *Error {
	return &Error{Kind: kind, Phase: phase, Detail: detail}
}

// Wrap builds an *Error around a lower-level cause (typically a syscall
// errno or an os.PathError).
func Wrap(kind Kind, phase string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Phase: phase, Detail: err.Error(), Err: err}
}

// Sentinel builds a bare Error value usable as an errors.Is() target,
// e.g. errors.Is(err, dserr.Sentinel(dserr.KindNotRunning)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, otherwise returns KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
