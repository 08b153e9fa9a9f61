package hv

import "github.com/tinyrange/hv/internal/hvcore"

// Error is the single tagged error type surfaced across the facade and
// every backend port. Use errors.Is against the sentinel Err* values to
// classify a failure, and errors.As with a *hv.Error target
// (var e *hv.Error; errors.As(err, &e)) to recover the Kind and wrapped
// native cause.
type Error = hvcore.Error

// ErrorKind tags the class of failure reported by an Error.
type ErrorKind = hvcore.ErrorKind

const (
	KindInvalidGuestAddress = hvcore.KindInvalidGuestAddress
	KindOutOfMemory         = hvcore.KindOutOfMemory
	KindNotImplemented      = hvcore.KindNotImplemented
	KindHostUnavailable     = hvcore.KindHostUnavailable
	KindBackendError        = hvcore.KindBackendError
)

var (
	// ErrInvalidGuestAddress is returned when an operation targets a guest
	// physical address not covered by any mapped range.
	ErrInvalidGuestAddress = hvcore.ErrInvalidGuestAddress
	// ErrOutOfMemory is returned when the host API refuses an allocation.
	ErrOutOfMemory = hvcore.ErrOutOfMemory
	// ErrNotImplemented is returned by operations a backend does not support.
	ErrNotImplemented = hvcore.ErrNotImplemented
	// ErrHostUnavailable is returned by New when the host hypervisor API
	// cannot be opened (missing device, access denied, not supported).
	ErrHostUnavailable = hvcore.ErrHostUnavailable
)
