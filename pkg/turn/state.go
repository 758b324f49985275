package turn

import (
	"fmt"
)

type State int

const (
	StateIdle = State(iota)
	StateAccumulating
	StateCommitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateCommitting:
		return "committing"
	default:
		return fmt.Sprintf("unknown_state_%d", int(s))
	}
}
