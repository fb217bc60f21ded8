// Package pfqerr defines the closed set of control-plane errors used
// throughout PFQ-Go, plus a mapping onto the POSIX-style errno codes
// specified for the wire ABI.
package pfqerr

import (
	"errors"
	"golang.org/x/sys/unix"
)

// Control-plane errors. Every control operation fails with exactly one of
// these, never a bare wrapped stdlib error, so callers can dispatch on
// errors.Is.
var (
	ErrBusy          = errors.New("pfq: resource busy")
	ErrInvalid       = errors.New("pfq: invalid argument")
	ErrAccessDenied  = errors.New("pfq: access denied")
	ErrNotFound      = errors.New("pfq: not found")
	ErrNoMemory      = errors.New("pfq: out of memory")
	ErrInterrupted   = errors.New("pfq: interrupted")
	ErrAlreadyExists = errors.New("pfq: already exists")
	ErrNotEnabled    = errors.New("pfq: endpoint not enabled")
	ErrInternal      = errors.New("pfq: internal error")
)

// POSIX maps a pfqerr sentinel to the errno the C ABI would have returned.
// Returns 0 if err does not wrap any known sentinel.
func POSIX(err error) unix.Errno {
	switch {
	case errors.Is(err, ErrBusy):
		return unix.EBUSY
	case errors.Is(err, ErrAccessDenied):
		return unix.EPERM
	case errors.Is(err, ErrInvalid):
		return unix.EINVAL
	case errors.Is(err, ErrNotFound):
		return unix.ENODEV
	case errors.Is(err, ErrNoMemory):
		return unix.ENOMEM
	case errors.Is(err, ErrInterrupted):
		return unix.EINTR
	case errors.Is(err, ErrAlreadyExists):
		return unix.EEXIST
	case errors.Is(err, ErrNotEnabled):
		return unix.ENXIO
	default:
		return 0
	}
}
