package malgo

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

type RecordStream struct {
	Device    *malgo.Device
	Writer    io.Writer
	CloseOnce sync.Once

	isClosing atomic.Bool
	stopOnce  sync.Once
	stoppedCh chan struct{}
	errLocker sync.Mutex
	err       error
}

var _ types.RecordStream = (*RecordStream)(nil)

func newRecordStream(writer io.Writer) *RecordStream {
	return &RecordStream{
		Writer:    writer,
		stoppedCh: make(chan struct{}),
	}
}

// onData is called on the realtime thread; it must not block.
func (s *RecordStream) onData(_, input []byte, _ uint32) {
	if len(input) == 0 {
		return
	}
	if _, err := s.Writer.Write(input); err != nil {
		s.errLocker.Lock()
		if s.err == nil {
			s.err = fmt.Errorf("unable to write: %w", err)
		}
		s.errLocker.Unlock()
	}
}

func (s *RecordStream) onStop() {
	s.stopOnce.Do(func() {
		close(s.stoppedCh)
	})
}

func (s *RecordStream) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stoppedCh:
	}
	s.errLocker.Lock()
	defer s.errLocker.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.isClosing.Load() {
		return nil
	}
	return fmt.Errorf("the capture device stopped")
}

func (s *RecordStream) Close() error {
	var err error
	s.isClosing.Store(true)
	s.CloseOnce.Do(func() {
		err = s.Device.Stop()
		s.Device.Uninit()
		s.onStop()
	})
	return err
}
