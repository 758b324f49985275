package framesource

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iamcalledrob/circular"
)

// captureBuffer receives PCM from the device thread and hands it to the frame
// assembler. Write never blocks: when the ring is full the oldest bytes are dropped.
type captureBuffer struct {
	Locker    sync.Mutex
	Buffer    *circular.Buffer
	Capacity  int
	Alignment int

	length       int
	discardBuf   []byte
	dataCh       chan struct{}
	isClosed     bool
	lastWriteAt  atomic.Int64
	droppedBytes atomic.Uint64
}

var (
	_ io.Writer = (*captureBuffer)(nil)
	_ io.Reader = (*captureBuffer)(nil)
)

func newCaptureBuffer(capacity int, alignment int) *captureBuffer {
	if alignment <= 0 {
		alignment = 1
	}
	capacity = max(alignUp(capacity, alignment), alignment)
	b := &captureBuffer{
		Buffer:     circular.NewBuffer(capacity + alignment),
		Capacity:   capacity,
		Alignment:  alignment,
		discardBuf: make([]byte, capacity),
		dataCh:     make(chan struct{}, 1),
	}
	b.lastWriteAt.Store(time.Now().UnixNano())
	return b
}

func alignUp(n, alignment int) int {
	return (n + alignment - 1) / alignment * alignment
}

func (b *captureBuffer) Write(p []byte) (int, error) {
	b.lastWriteAt.Store(time.Now().UnixNano())

	b.Locker.Lock()
	defer b.Locker.Unlock()
	if b.isClosed {
		return 0, io.ErrClosedPipe
	}

	data := p
	if len(data) > b.Capacity {
		cut := alignUp(len(data)-b.Capacity, b.Alignment)
		data = data[cut:]
		b.droppedBytes.Add(uint64(cut))
	}

	if excess := b.length + len(data) - b.Capacity; excess > 0 {
		toDiscard := min(alignUp(excess, b.Alignment), b.length)
		n, _ := b.Buffer.Read(b.discardBuf[:toDiscard])
		b.length -= n
		b.droppedBytes.Add(uint64(n))
	}

	if _, err := b.Buffer.Write(data); err != nil {
		return 0, fmt.Errorf("unable to write %d bytes to the circular buffer: %w", len(data), err)
	}
	b.length += len(data)

	select {
	case b.dataCh <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Read blocks until there is data, or returns io.EOF once the buffer
// is closed and everything was read.
func (b *captureBuffer) Read(p []byte) (int, error) {
	for {
		b.Locker.Lock()
		n, err := b.Buffer.Read(p)
		b.length -= n
		isClosed := b.isClosed
		b.Locker.Unlock()

		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("unable to read from the circular buffer: %w", err)
		}
		if isClosed {
			return 0, io.EOF
		}
		<-b.dataCh
	}
}

func (b *captureBuffer) Close() error {
	b.Locker.Lock()
	b.isClosed = true
	b.Locker.Unlock()

	select {
	case b.dataCh <- struct{}{}:
	default:
	}
	return nil
}

func (b *captureBuffer) SinceLastWrite(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, b.lastWriteAt.Load()))
}

func (b *captureBuffer) DroppedBytes() uint64 {
	return b.droppedBytes.Load()
}
