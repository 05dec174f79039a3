package gpio

import "fmt"

// Code is a stable identifier for an arbiter failure.
// It is a string newtype, comparable, and implements error on the wrapper.
type Code string

const (
	CodeBusy             Code = "busy"
	CodePinNotFound      Code = "pin_not_found"
	CodeLeaseNotFound    Code = "lease_not_found"
	CodePermissionDenied Code = "permission_denied"
	CodeOsError          Code = "os_error"
	CodeUnsupported      Code = "unsupported"
	CodeOther            Code = "other"
)

// Error is the arbiter's error taxonomy. Pin is meaningful only for
// pin-scoped codes (Busy, PinNotFound).
type Error struct {
	C      Code
	Pin    uint8
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch e.C {
	case CodeBusy:
		return fmt.Sprintf("pin %d is busy", e.Pin)
	case CodePinNotFound:
		return fmt.Sprintf("pin %d does not exist", e.Pin)
	case CodeLeaseNotFound:
		return "lease not found"
	case CodePermissionDenied:
		return "permission denied: " + e.Reason
	case CodeOsError:
		return "os error: " + e.Reason
	case CodeUnsupported:
		return "unsupported: " + e.Reason
	default:
		return "gpio error: " + e.Reason
	}
}

func (e *Error) Unwrap() error { return e.Err }
func (e *Error) Code() Code    { return e.C }

func errBusy(pin uint8) *Error        { return &Error{C: CodeBusy, Pin: pin} }
func errPinNotFound(pin uint8) *Error { return &Error{C: CodePinNotFound, Pin: pin} }

// ErrOs wraps an operating-system failure from the platform layer.
func ErrOs(reason string, cause error) *Error {
	return &Error{C: CodeOsError, Reason: reason, Err: cause}
}

// ErrPermission wraps an access failure from the platform layer.
func ErrPermission(reason string, cause error) *Error {
	return &Error{C: CodePermissionDenied, Reason: reason, Err: cause}
}

// CodeOf extracts a Code from err, defaulting to CodeOther.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	type coder interface{ Code() Code }
	if c, ok := err.(coder); ok {
		return c.Code()
	}
	return CodeOther
}
