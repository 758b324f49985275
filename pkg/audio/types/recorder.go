package types

import (
	"context"
	"io"
)

type RecorderPCM interface {
	io.Closer

	Ping(context.Context) error
	RecordPCM(
		ctx context.Context,
		sampleRate SampleRate,
		channels Channel,
		format PCMFormat,
		writer io.Writer,
	) (RecordStream, error)
}

// LoopbackRecorderPCM is implemented by recorders that are also able to
// capture what the system is currently playing (e.g. a monitor source).
type LoopbackRecorderPCM interface {
	RecorderPCM

	PingLoopback(context.Context) error
	RecordLoopbackPCM(
		ctx context.Context,
		sampleRate SampleRate,
		channels Channel,
		format PCMFormat,
		writer io.Writer,
	) (RecordStream, error)
}
