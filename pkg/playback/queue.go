package playback

import (
	"errors"
	"io"
	"sync"
)

// queue is the reader a play stream consumes: the queued sources one after
// another. Once it reported io.EOF it never accepts more sources.
type queue struct {
	locker  sync.Mutex
	items   []*queueItem
	ended   bool
	lastErr error
}

type queueItem struct {
	Reader io.Reader
}

var _ io.Reader = (*queue)(nil)

func newQueue(first io.Reader) *queue {
	return &queue{
		items: []*queueItem{{Reader: first}},
	}
}

func (q *queue) Append(r io.Reader) bool {
	q.locker.Lock()
	defer q.locker.Unlock()
	if q.ended {
		return false
	}
	q.items = append(q.items, &queueItem{Reader: r})
	return true
}

func (q *queue) Read(p []byte) (int, error) {
	for {
		q.locker.Lock()
		if len(q.items) == 0 {
			q.ended = true
			q.locker.Unlock()
			return 0, io.EOF
		}
		cur := q.items[0]
		q.locker.Unlock()

		n, err := cur.Reader.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == nil {
			continue
		}

		q.locker.Lock()
		if !errors.Is(err, io.EOF) {
			q.lastErr = err
		}
		if len(q.items) > 0 && q.items[0] == cur {
			q.items = q.items[1:]
		}
		q.locker.Unlock()
	}
}

// Clear drops everything not read yet and ends the queue.
func (q *queue) Clear() {
	q.locker.Lock()
	defer q.locker.Unlock()
	q.items = nil
	q.ended = true
}

// IsEnded reports whether the queue reported io.EOF (or was cleared).
func (q *queue) IsEnded() bool {
	q.locker.Lock()
	defer q.locker.Unlock()
	return q.ended
}

func (q *queue) Len() int {
	q.locker.Lock()
	defer q.locker.Unlock()
	return len(q.items)
}

func (q *queue) LastErr() error {
	q.locker.Lock()
	defer q.locker.Unlock()
	return q.lastErr
}
