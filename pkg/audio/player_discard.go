package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

// PlayerPCMDiscard consumes the audio at the pace it would be played,
// but outputs nothing. It stands in for a missing output device.
type PlayerPCMDiscard struct{}

var _ PlayerPCM = PlayerPCMDiscard{}

func (PlayerPCMDiscard) Close() error {
	return nil
}

func (PlayerPCMDiscard) Ping(context.Context) error {
	return nil
}

func (PlayerPCMDiscard) PlayPCM(
	ctx context.Context,
	sampleRate SampleRate,
	channels Channel,
	format PCMFormat,
	bufferSize time.Duration,
	reader io.Reader,
) (PlayStream, error) {
	if bufferSize <= 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %v", bufferSize)
	}
	encoding := types.EncodingPCM{PCMFormat: format, SampleRate: sampleRate}
	chunkSize := encoding.BytesForDuration(bufferSize) * uint64(channels)
	if chunkSize == 0 {
		return nil, fmt.Errorf("unable to calculate the chunk size for %v at %d Hz x %d", format, sampleRate, channels)
	}

	ctx, cancelFn := context.WithCancel(ctx)
	s := &discardPlayStream{
		cancelFn: cancelFn,
		doneCh:   make(chan struct{}),
	}
	observability.Go(ctx, func(ctx context.Context) {
		defer close(s.doneCh)
		ticker := time.NewTicker(bufferSize)
		defer ticker.Stop()
		buf := make([]byte, chunkSize)
		for {
			_, err := io.ReadFull(reader, buf)
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					s.err = err
				}
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
	return s, nil
}

type discardPlayStream struct {
	cancelFn context.CancelFunc
	doneCh   chan struct{}
	err      error
}

var _ PlayStream = (*discardPlayStream)(nil)

func (s *discardPlayStream) Drain() error {
	<-s.doneCh
	return s.err
}

func (s *discardPlayStream) Close() error {
	s.cancelFn()
	return nil
}
