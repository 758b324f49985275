package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/turntaking/pkg/audio/resampler"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

// RecorderPCMReader is a RecorderPCM that "records" PCM from an io.Reader
// (a file, a pipe, a synthetic signal). It is used for offline runs and tests.
//
// If Reader is also an io.Closer, closing the stream closes it, which
// unblocks a pending read from a pipe.
type RecorderPCMReader struct {
	Reader     io.Reader
	SampleRate SampleRate
	Channels   Channel
	PCMFormat  PCMFormat

	// ChunkDuration is the amount of audio passed to the writer at once.
	ChunkDuration time.Duration

	// Realtime makes the recorder wait ChunkDuration between chunks, like a real device does.
	Realtime bool

	Locker  sync.Mutex
	started bool
}

var _ RecorderPCM = (*RecorderPCMReader)(nil)

func NewRecorderPCMReader(
	reader io.Reader,
	sampleRate SampleRate,
	channels Channel,
	pcmFormat PCMFormat,
	realtime bool,
) *RecorderPCMReader {
	return &RecorderPCMReader{
		Reader:        reader,
		SampleRate:    sampleRate,
		Channels:      channels,
		PCMFormat:     pcmFormat,
		ChunkDuration: 10 * time.Millisecond,
		Realtime:      realtime,
	}
}

func (*RecorderPCMReader) Close() error {
	return nil
}

func (r *RecorderPCMReader) Ping(context.Context) error {
	if r.Reader == nil {
		return fmt.Errorf("no reader is set")
	}
	return nil
}

func (r *RecorderPCMReader) RecordPCM(
	ctx context.Context,
	sampleRate SampleRate,
	channels Channel,
	format PCMFormat,
	writer io.Writer,
) (_ RecordStream, _err error) {
	logger.Tracef(ctx, "RecordPCM(%d, %d, %s)", sampleRate, channels, format)
	defer func() { logger.Tracef(ctx, "/RecordPCM(%d, %d, %s): %v", sampleRate, channels, format, _err) }()

	r.Locker.Lock()
	defer r.Locker.Unlock()
	if r.started {
		return nil, fmt.Errorf("the reader is already being recorded")
	}

	var reader io.Reader = r.Reader
	if sampleRate != r.SampleRate || channels != r.Channels || format != r.PCMFormat {
		inFmt := resampler.Format{
			Channels:   r.Channels,
			SampleRate: r.SampleRate,
			PCMFormat:  r.PCMFormat,
		}
		outFmt := resampler.Format{
			Channels:   channels,
			SampleRate: sampleRate,
			PCMFormat:  format,
		}
		var err error
		reader, err = resampler.NewResampler(inFmt, reader, outFmt)
		if err != nil {
			return nil, fmt.Errorf("unable to initialize a resampler from %#+v to %#+v: %w", inFmt, outFmt, err)
		}
	}
	r.started = true

	chunkDuration := r.ChunkDuration
	if chunkDuration <= 0 {
		chunkDuration = 10 * time.Millisecond
	}
	encoding := types.EncodingPCM{PCMFormat: format, SampleRate: sampleRate}
	chunkSize := encoding.BytesForDuration(chunkDuration) * uint64(channels)
	if chunkSize == 0 {
		chunkSize = uint64(format.Size()) * uint64(channels)
	}

	ctx, cancelFn := context.WithCancel(ctx)
	s := &readerRecordStream{
		cancelFn: cancelFn,
		doneCh:   make(chan struct{}),
	}
	if closer, ok := r.Reader.(io.Closer); ok {
		s.closer = closer
	}
	observability.Go(ctx, func(ctx context.Context) {
		defer close(s.doneCh)
		s.err = copyChunks(ctx, writer, reader, int(chunkSize), chunkDuration, r.Realtime)
	})
	return s, nil
}

func copyChunks(
	ctx context.Context,
	writer io.Writer,
	reader io.Reader,
	chunkSize int,
	chunkDuration time.Duration,
	realtime bool,
) (_err error) {
	logger.Debugf(ctx, "copyChunks")
	defer func() { logger.Debugf(ctx, "/copyChunks: %v", _err) }()

	var ticker *time.Ticker
	if realtime {
		ticker = time.NewTicker(chunkDuration)
		defer ticker.Stop()
	}

	buf := make([]byte, chunkSize)
	for {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		} else {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
		}

		n, err := io.ReadFull(reader, buf)
		if n > 0 {
			if _, wErr := writer.Write(buf[:n]); wErr != nil {
				return fmt.Errorf("unable to write: %w", wErr)
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("unable to read: %w", err)
		}
	}
}

type readerRecordStream struct {
	cancelFn context.CancelFunc
	closer   io.Closer
	doneCh   chan struct{}
	err      error
}

var _ RecordStream = (*readerRecordStream)(nil)

func (s *readerRecordStream) Close() error {
	s.cancelFn()
	var err error
	if s.closer != nil {
		err = s.closer.Close()
	}
	<-s.doneCh
	return err
}

func (s *readerRecordStream) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.err
	}
}
