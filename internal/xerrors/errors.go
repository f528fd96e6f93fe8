// Package xerrors defines the five abstract error kinds of spec.md §7
// (Validation, State, Transport, Protocol, Internal) as distinct
// github.com/zeebo/errs classes, plus the mapping from a classified error
// to the wire status codes of spec.md §6.
package xerrors

import (
	"errors"

	"github.com/zeebo/errs"
)

// The five taxonomy kinds. Each component wraps its errors in the class
// matching how a caller is meant to react: Validation/State responses let
// the session continue, Transport/Protocol/Internal terminate it.
var (
	Validation = errs.Class("validation")
	State      = errs.Class("state")
	Transport  = errs.Class("transport")
	Protocol   = errs.Class("protocol")
	Internal   = errs.Class("internal")
)

// Status mirrors the wire error codes of spec.md §6.
type Status int

const (
	StatusOK Status = iota
	StatusErrorBadRequest
	StatusErrorBadResponse
	StatusErrorInvalidValue
	StatusErrorInvalidState
	StatusErrorConnection
	StatusErrorUnsupported
	StatusErrorInternal
)

func (s Status) String() string {
	names := [...]string{
		"STATUS_OK",
		"ERROR_BAD_REQUEST",
		"ERROR_BAD_RESPONSE",
		"ERROR_INVALID_VALUE",
		"ERROR_INVALID_STATE",
		"ERROR_CONNECTION",
		"ERROR_UNSUPPORTED",
		"ERROR_INTERNAL",
	}
	if int(s) < 0 || int(s) >= len(names) {
		return "ERROR_INTERNAL"
	}
	return names[s]
}

// Classify maps an error produced anywhere in the node to a wire status,
// falling back to ERROR_INTERNAL for anything not classified above so
// that an uncaught bug never silently becomes STATUS_OK.
func Classify(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case Validation.Has(err):
		return StatusErrorInvalidValue
	case State.Has(err):
		return StatusErrorInvalidState
	case Transport.Has(err):
		return StatusErrorConnection
	case Protocol.Has(err):
		return StatusErrorBadRequest
	case Internal.Has(err):
		return StatusErrorInternal
	default:
		return StatusErrorInternal
	}
}

// Terminal reports whether, per spec.md §7, a session dispatch loop must
// close the connection after this error rather than reply and continue.
func Terminal(err error) bool {
	return Protocol.Has(err) || Transport.Has(err) || Internal.Has(err)
}

// As is re-exported for callers that want stdlib errors.As without an
// extra import line.
func As(err error, target any) bool { return errors.As(err, target) }

// FromStatus reconstructs an error of the matching class from a wire
// status/details pair, for a proxy that needs to turn a peer's non-OK
// Response back into a Go error its caller can classify again.
func FromStatus(status Status, details string) error {
	switch status {
	case StatusOK:
		return nil
	case StatusErrorInvalidValue:
		return Validation.New("%s", details)
	case StatusErrorInvalidState:
		return State.New("%s", details)
	case StatusErrorConnection:
		return Transport.New("%s", details)
	case StatusErrorBadRequest, StatusErrorBadResponse, StatusErrorUnsupported:
		return Protocol.New("%s", details)
	default:
		return Internal.New("%s", details)
	}
}
