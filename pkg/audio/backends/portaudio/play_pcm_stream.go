package portaudio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/gordonklaus/portaudio"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

type PlayPCMStream struct {
	PortAudioStream  *portaudio.Stream
	OutputBuffer     []byte
	InputBuffer      []byte
	Reader           io.Reader
	CancelFunc       context.CancelFunc
	WaitGroup        sync.WaitGroup
	StartWritingChan chan struct{}
	StartReadingChan chan struct{}
	CloseOnce        sync.Once

	resultLocker sync.Mutex
	resultErr    error
}

var _ types.PlayStream = (*PlayPCMStream)(nil)

func newPlayPCMStream[T sampleType](
	ctx context.Context,
	sampleRate types.SampleRate,
	channels types.Channel,
	bufferSize time.Duration,
) (*PlayPCMStream, error) {
	framesPerBuffer := int(bufferSize.Seconds() * float64(sampleRate))
	if framesPerBuffer <= 0 {
		return nil, fmt.Errorf("buffer size %v is too small", bufferSize)
	}

	buf := make([]T, framesPerBuffer*int(channels))
	logger.Debugf(ctx, "newPlayPCMStream: %T, %d, %d %s(%d)", buf, sampleRate, channels, bufferSize, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, int(channels), float64(sampleRate), framesPerBuffer, &buf)
	if err != nil {
		return nil, err
	}

	bytesBuf := asBytes(buf)
	logger.Debugf(ctx, "output bytes buffer size: %d", len(bytesBuf))
	return &PlayPCMStream{
		PortAudioStream:  stream,
		OutputBuffer:     bytesBuf,
		InputBuffer:      make([]byte, len(bytesBuf)),
		StartWritingChan: make(chan struct{}),
		StartReadingChan: make(chan struct{}),
		CancelFunc:       func() {},
	}, nil
}

func (s *PlayPCMStream) init(
	ctx context.Context,
	rawReader io.Reader,
) error {
	s.Reader = rawReader
	ctx, s.CancelFunc = context.WithCancel(ctx)

	err := s.PortAudioStream.Start()
	if err != nil {
		return fmt.Errorf("unable to start the stream: %w", err)
	}

	observability.Go(ctx, func(ctx context.Context) {
		<-ctx.Done()
		s.abort()
	})
	s.WaitGroup.Add(1)
	observability.Go(ctx, func(ctx context.Context) {
		defer s.WaitGroup.Done()
		s.setResult(s.readerLoop(ctx))
	})
	s.WaitGroup.Add(1)
	observability.Go(ctx, func(ctx context.Context) {
		defer s.WaitGroup.Done()
		s.setResult(s.writerLoop(ctx))
	})
	return nil
}

func (s *PlayPCMStream) setResult(err error) {
	if err == nil {
		return
	}
	s.resultLocker.Lock()
	defer s.resultLocker.Unlock()
	if s.resultErr == nil {
		s.resultErr = err
	}
}

// readerLoop fills the next buffer from the reader while writerLoop is
// passing the previous one to the device. The last partial buffer is padded with silence.
func (s *PlayPCMStream) readerLoop(
	ctx context.Context,
) (_ret error) {
	logger.Debugf(ctx, "readerLoop")
	defer func() { logger.Debugf(ctx, "/readerLoop: %v", _ret) }()
	defer close(s.StartWritingChan)

	for {
		logger.Tracef(ctx, "Read")
		n, err := io.ReadFull(s.Reader, s.InputBuffer)
		logger.Tracef(ctx, "/Read: %v %v", n, err)
		isLast := false
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			if n == 0 {
				return nil
			}
			clear(s.InputBuffer[n:])
			isLast = true
		default:
			return fmt.Errorf("unable to read: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case s.StartWritingChan <- struct{}{}:
		}
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-s.StartReadingChan:
			if !ok {
				return nil
			}
		}
		if isLast {
			return nil
		}
	}
}

func (s *PlayPCMStream) writerLoop(
	ctx context.Context,
) (_ret error) {
	logger.Debugf(ctx, "writerLoop")
	defer func() { logger.Debugf(ctx, "/writerLoop: %v", _ret) }()
	defer close(s.StartReadingChan)

	for {
		if _, ok := <-s.StartWritingChan; !ok {
			return nil
		}
		copy(s.OutputBuffer, s.InputBuffer)
		select {
		case <-ctx.Done():
			return nil
		case s.StartReadingChan <- struct{}{}:
		}

		logger.Tracef(ctx, "Write")
		err := s.PortAudioStream.Write()
		logger.Tracef(ctx, "/Write: %v", err)
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err != nil && err != portaudio.OutputUnderflowed {
			return fmt.Errorf("unable to write: %w", err)
		}
	}
}

func (s *PlayPCMStream) abort() {
	s.CloseOnce.Do(func() {
		if err := s.PortAudioStream.Abort(); err != nil {
			s.setResult(fmt.Errorf("unable to abort the stream: %w", err))
		}
		s.PortAudioStream.Close()
	})
}

func (s *PlayPCMStream) Close() error {
	s.CancelFunc()
	s.abort()
	return nil
}

func (s *PlayPCMStream) Drain() error {
	s.WaitGroup.Wait()
	s.CancelFunc()
	s.resultLocker.Lock()
	defer s.resultLocker.Unlock()
	return s.resultErr
}
