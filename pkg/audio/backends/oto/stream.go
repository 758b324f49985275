package oto

import (
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

const (
	drainPollInterval = 10 * time.Millisecond
)

type Stream struct {
	Player    *oto.Player
	CloseOnce sync.Once
}

var _ types.PlayStream = (*Stream)(nil)

func newStream(player *oto.Player) *Stream {
	return &Stream{
		Player: player,
	}
}

// Drain waits until the player consumed the whole reader and played out its buffer.
func (s *Stream) Drain() error {
	for s.Player.IsPlaying() {
		time.Sleep(drainPollInterval)
	}
	return s.Player.Err()
}

func (s *Stream) Close() error {
	s.CloseOnce.Do(func() {
		s.Player.Pause()
	})
	return nil
}
