package portaudio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/gordonklaus/portaudio"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

const (
	RecordBufferSize = time.Millisecond * 10
)

type RecordPCMStream struct {
	PortAudioStream  *portaudio.Stream
	InputBuffer      []byte
	OutputBuffer     []byte
	Writer           io.Writer
	CancelFunc       context.CancelFunc
	WaitGroup        sync.WaitGroup
	StartWritingChan chan struct{}
	StartReadingChan chan struct{}
	CloseOnce        sync.Once

	resultLocker sync.Mutex
	resultErr    error
}

var _ types.RecordStream = (*RecordPCMStream)(nil)

func newRecordPCMStream[T sampleType](
	ctx context.Context,
	sampleRate types.SampleRate,
	channels types.Channel,
) (*RecordPCMStream, error) {
	framesPerBuffer := int(RecordBufferSize.Seconds() * float64(sampleRate))

	buf := make([]T, framesPerBuffer*int(channels))
	logger.Debugf(ctx, "newRecordPCMStream: %T, %d, %d %s(%d)", buf, sampleRate, channels, RecordBufferSize, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(int(channels), 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, err
	}

	bytesBuf := asBytes(buf)
	logger.Debugf(ctx, "input bytes buffer size: %d", len(bytesBuf))
	return &RecordPCMStream{
		PortAudioStream:  stream,
		InputBuffer:      bytesBuf,
		OutputBuffer:     make([]byte, len(bytesBuf)),
		StartWritingChan: make(chan struct{}),
		StartReadingChan: make(chan struct{}),
		CancelFunc:       func() {},
	}, nil
}

func (s *RecordPCMStream) init(
	ctx context.Context,
	writer io.Writer,
) error {
	s.Writer = writer
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
		defer s.CancelFunc()
		s.setResult(s.readerLoop(ctx))
	})
	s.WaitGroup.Add(1)
	observability.Go(ctx, func(ctx context.Context) {
		defer s.WaitGroup.Done()
		defer s.CancelFunc()
		s.setResult(s.writerLoop(ctx))
	})
	return nil
}

func (s *RecordPCMStream) setResult(err error) {
	if err == nil {
		return
	}
	s.resultLocker.Lock()
	defer s.resultLocker.Unlock()
	if s.resultErr == nil {
		s.resultErr = err
	}
}

// readerLoop takes samples from the device while writerLoop is
// passing the previous portion to the writer.
func (s *RecordPCMStream) readerLoop(
	ctx context.Context,
) (_ret error) {
	logger.Debugf(ctx, "readerLoop")
	defer func() { logger.Debugf(ctx, "/readerLoop: %v", _ret) }()
	defer close(s.StartWritingChan)

	for {
		logger.Tracef(ctx, "Read")
		err := s.PortAudioStream.Read()
		logger.Tracef(ctx, "/Read: %v", err)
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err != nil && err != portaudio.InputOverflowed {
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
	}
}

func (s *RecordPCMStream) writerLoop(
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
		n, err := s.Writer.Write(s.OutputBuffer)
		logger.Tracef(ctx, "/Write: %d %v", n, err)
		if err != nil {
			return fmt.Errorf("unable to write: %w", err)
		}
		if n != len(s.OutputBuffer) {
			return fmt.Errorf("invalid write length: %d != %d", n, len(s.OutputBuffer))
		}
	}
}

func (s *RecordPCMStream) abort() {
	s.CloseOnce.Do(func() {
		if err := s.PortAudioStream.Abort(); err != nil {
			s.setResult(fmt.Errorf("unable to abort the stream: %w", err))
		}
		s.PortAudioStream.Close()
	})
}

func (s *RecordPCMStream) Close() error {
	s.CancelFunc()
	s.abort()
	s.WaitGroup.Wait()
	return nil
}

func (s *RecordPCMStream) Wait(ctx context.Context) error {
	done := make(chan struct{})
	observability.Go(ctx, func(context.Context) {
		s.WaitGroup.Wait()
		close(done)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	s.resultLocker.Lock()
	defer s.resultLocker.Unlock()
	return s.resultErr
}
