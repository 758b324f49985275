package framesource

import (
	"errors"
)

// ErrFrameOverrun is reported (logged and counted) when frames are dropped
// because the consumer does not keep up. It is recoverable.
var ErrFrameOverrun = errors.New("frame overrun")
