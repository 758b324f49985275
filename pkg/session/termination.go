package session

import (
	"fmt"
)

// Termination tells why a session is not running anymore, so the caller
// knows whether acquiring the devices again makes sense.
type Termination int

const (
	TerminationRunning = Termination(iota)
	TerminationStopped
	TerminationInputEnded
	TerminationDeviceFailure
)

func (t Termination) String() string {
	switch t {
	case TerminationRunning:
		return "running"
	case TerminationStopped:
		return "stopped"
	case TerminationInputEnded:
		return "input_ended"
	case TerminationDeviceFailure:
		return "device_failure"
	default:
		return fmt.Sprintf("unknown_termination_%d", int(t))
	}
}

// IsFatal reports whether the session was killed by a device problem.
func (t Termination) IsFatal() bool {
	return t == TerminationDeviceFailure
}
