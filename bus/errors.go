package bus

import "fmt"

// Code is a stable identifier for a bus-controller failure. Every variant
// shares the same taxonomy; InvalidAddress is only produced by I2C.
type Code string

const (
	CodeInvalidConfig   Code = "invalid_config"
	CodeChannelNotFound Code = "channel_not_found"
	CodeLeaseNotFound   Code = "lease_not_found"
	CodeChannelBusy     Code = "channel_busy"
	CodeInvalidAddress  Code = "invalid_address"
	CodeHardwareError   Code = "hardware_error"
	CodeOsError         Code = "os_error"
	CodeUnsupported     Code = "unsupported"
	CodeOther           Code = "other"
)

// Error is the shared error shape of all bus-controller variants.
// Channel identifies the bus/channel/port for channel-scoped codes, Addr the
// slave address for InvalidAddress.
type Error struct {
	C       Code
	Channel int
	Addr    uint16
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	switch e.C {
	case CodeInvalidConfig:
		return "invalid config: " + e.Reason
	case CodeChannelNotFound:
		return fmt.Sprintf("channel %d does not exist", e.Channel)
	case CodeLeaseNotFound:
		return "channel is not open"
	case CodeChannelBusy:
		return fmt.Sprintf("channel %d is busy", e.Channel)
	case CodeInvalidAddress:
		return fmt.Sprintf("invalid slave address: %d", e.Addr)
	case CodeHardwareError:
		return "hardware error: " + e.Reason
	case CodeOsError:
		return "os error: " + e.Reason
	case CodeUnsupported:
		return "not supported"
	default:
		return e.Reason
	}
}

func (e *Error) Unwrap() error { return e.Err }
func (e *Error) Code() Code    { return e.C }

func errInvalidConfig(format string, args ...any) *Error {
	return &Error{C: CodeInvalidConfig, Reason: fmt.Sprintf(format, args...)}
}

func errChannelNotFound(ch int) *Error { return &Error{C: CodeChannelNotFound, Channel: ch} }
func errChannelBusy(ch int) *Error     { return &Error{C: CodeChannelBusy, Channel: ch} }
func errLeaseNotFound() *Error         { return &Error{C: CodeLeaseNotFound} }

// errHardware wraps a lower-layer failure (arbiter or platform) into the
// controller's own taxonomy.
func errHardware(cause error, format string, args ...any) *Error {
	return &Error{C: CodeHardwareError, Reason: fmt.Sprintf(format, args...), Err: cause}
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
