package types

import (
	"context"
	"io"
)

type Stream interface {
	io.Closer
}

type PlayStream interface {
	Stream

	// Drain blocks until everything read from the source is played out.
	Drain() error
}

type RecordStream interface {
	Stream

	// Wait blocks until the stream stops delivering data. It returns nil
	// if the source ended normally, and an error if the device failed.
	Wait(context.Context) error
}
