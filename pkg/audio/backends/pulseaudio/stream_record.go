package pulseaudio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

const (
	recordStreamPollInterval = 50 * time.Millisecond
)

type RecordStream struct {
	*pulse.RecordStream
	CloseOnce sync.Once
	isClosing atomic.Bool
}

var _ types.RecordStream = (*RecordStream)(nil)

func newRecordStream(
	pulseStream *pulse.RecordStream,
) *RecordStream {
	return &RecordStream{
		RecordStream: pulseStream,
	}
}

// Wait polls the stream state: the pulse client does not notify about a stopped stream.
func (stream *RecordStream) Wait(ctx context.Context) error {
	t := time.NewTicker(recordStreamPollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if err := stream.Error(); err != nil {
			if stream.isClosing.Load() {
				return nil
			}
			return fmt.Errorf("an error occurred during recording: %w", err)
		}
		if stream.Closed() || !stream.Running() {
			if stream.isClosing.Load() {
				return nil
			}
			return fmt.Errorf("the record stream stopped unexpectedly (running:%v, closed:%v)", stream.Running(), stream.Closed())
		}
	}
}

func (stream *RecordStream) Close() (err error) {
	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("got a panic: %v", r)
		}
	}()
	stream.isClosing.Store(true)
	stream.CloseOnce.Do(func() {
		stream.RecordStream.Stop()
		stream.RecordStream.Close()
	})
	return
}
