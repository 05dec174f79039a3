package device

import (
	"fmt"

	"github.com/google/uuid"
)

// Code is a stable identifier for a device-layer failure.
type Code string

const (
	CodeNotFound            Code = "not_found"
	CodeMissingController   Code = "missing_controller"
	CodeDuplicateController Code = "duplicate_controller"
	CodeDuplicateDevice     Code = "duplicate_device"
	CodeHardwareError       Code = "hardware_error"
	CodeInvalidOperation    Code = "invalid_operation"
	CodeInvalidConfig       Code = "invalid_config"
	CodeNotSupported        Code = "not_supported"
	CodeInternal            Code = "internal"
	CodeOther               Code = "other"
)

// Error is the device-layer taxonomy. Internal signals a logic bug that
// requires a code fix, as opposed to HardwareError which points at the
// hardware itself.
type Error struct {
	C       Code
	Address uuid.UUID
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	switch e.C {
	case CodeNotFound:
		return fmt.Sprintf("device with address %s is not registered", e.Address)
	case CodeMissingController:
		return fmt.Sprintf("bus controller %q was unavailable", e.Reason)
	case CodeDuplicateController:
		return "controller of the same type is already registered"
	case CodeDuplicateDevice:
		return "duplicate device: " + e.Reason
	case CodeHardwareError:
		return "a hardware error has occurred: " + e.Reason
	case CodeInvalidOperation:
		return "invalid operation: " + e.Reason
	case CodeInvalidConfig:
		return "invalid config: " + e.Reason
	case CodeNotSupported:
		return "not supported"
	case CodeInternal:
		return "internal error: " + e.Reason
	default:
		return "an unknown error has occurred: " + e.Reason
	}
}

func (e *Error) Unwrap() error { return e.Err }
func (e *Error) Code() Code    { return e.C }

// ErrNotFound reports an unknown device address.
func ErrNotFound(address uuid.UUID) *Error {
	return &Error{C: CodeNotFound, Address: address}
}

// ErrMissingController reports that a driver's required controller is not
// registered.
func ErrMissingController(name string) *Error {
	return &Error{C: CodeMissingController, Reason: name}
}

// ErrHardware wraps a bus-layer failure into the device taxonomy.
func ErrHardware(cause error, format string, args ...any) *Error {
	return &Error{C: CodeHardwareError, Reason: fmt.Sprintf(format, args...), Err: cause}
}

// ErrInvalidOperation reports a lifecycle violation.
func ErrInvalidOperation(format string, args ...any) *Error {
	return &Error{C: CodeInvalidOperation, Reason: fmt.Sprintf(format, args...)}
}

// ErrInvalidConfig reports a bad driver configuration discovered at load.
func ErrInvalidConfig(format string, args ...any) *Error {
	return &Error{C: CodeInvalidConfig, Reason: fmt.Sprintf(format, args...)}
}

// ErrInternal reports a logic bug.
func ErrInternal(format string, args ...any) *Error {
	return &Error{C: CodeInternal, Reason: fmt.Sprintf(format, args...)}
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
