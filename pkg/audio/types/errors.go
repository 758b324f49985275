package types

import (
	"fmt"
)

type DeviceErrorKind int

const (
	DeviceErrorKindUndefined = DeviceErrorKind(iota)
	DeviceErrorKindNoInputDevice
	DeviceErrorKindNoOutputDevice
	DeviceErrorKindDisconnected
)

func (k DeviceErrorKind) String() string {
	switch k {
	case DeviceErrorKindUndefined:
		return "<undefined>"
	case DeviceErrorKindNoInputDevice:
		return "no_input_device"
	case DeviceErrorKindNoOutputDevice:
		return "no_output_device"
	case DeviceErrorKindDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown_device_error_%d", int(k))
	}
}

// DeviceError is fatal to the session that got it; it is never retried automatically.
type DeviceError struct {
	Kind   DeviceErrorKind
	Device string
	Err    error
}

var _ error = (*DeviceError)(nil)

func (e *DeviceError) Error() string {
	switch {
	case e.Device != "" && e.Err != nil:
		return fmt.Sprintf("device error %s (%s): %v", e.Kind, e.Device, e.Err)
	case e.Device != "":
		return fmt.Sprintf("device error %s (%s)", e.Kind, e.Device)
	case e.Err != nil:
		return fmt.Sprintf("device error %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("device error %s", e.Kind)
	}
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, &DeviceError{Kind: k}) match by kind.
func (e *DeviceError) Is(target error) bool {
	t, ok := target.(*DeviceError)
	if !ok {
		return false
	}
	return t.Kind == DeviceErrorKindUndefined || t.Kind == e.Kind
}

var (
	ErrNoInputDevice  = &DeviceError{Kind: DeviceErrorKindNoInputDevice}
	ErrNoOutputDevice = &DeviceError{Kind: DeviceErrorKindNoOutputDevice}
	ErrDisconnected   = &DeviceError{Kind: DeviceErrorKindDisconnected}
)
