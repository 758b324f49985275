// Package interruption detects the user starting to speak over the playback (barge-in).
package interruption

import (
	"context"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/turntaking/pkg/event"
	"github.com/xaionaro-go/turntaking/pkg/metrics"
	"github.com/xaionaro-go/turntaking/pkg/vad"
)

// Playback is what the monitor needs from the output side.
type Playback interface {
	IsPlaying() bool
	Stop() error
}

// State is one verdict of the live VAD stream.
type State struct {
	FrameIndex uint64
	At         time.Time
	Verdict    vad.Verdict
}

type Monitor struct {
	Playback Playback
	Metrics  *metrics.Metrics

	locker       sync.Mutex
	prevActivity vad.Activity
}

func New(playback Playback, m *metrics.Metrics) *Monitor {
	return &Monitor{
		Playback: playback,
		Metrics:  m,
	}
}

// Observe checks one VAD state. On a Silence to Speech transition while the
// playback plays, it stops the playback and returns the Interruption event.
func (m *Monitor) Observe(
	ctx context.Context,
	state State,
) *event.Interruption {
	m.locker.Lock()
	defer m.locker.Unlock()

	prev := m.prevActivity
	m.prevActivity = state.Verdict.Activity
	if prev != vad.ActivitySilence || state.Verdict.Activity != vad.ActivitySpeech {
		return nil
	}
	if m.Playback == nil || !m.Playback.IsPlaying() {
		return nil
	}

	logger.Debugf(ctx, "speech started at frame #%d while playing, stopping the playback", state.FrameIndex)
	if err := m.Playback.Stop(); err != nil {
		logger.Errorf(ctx, "unable to stop the playback: %v", err)
	}
	m.Metrics.Interrupted()
	return &event.Interruption{
		FrameIndex: state.FrameIndex,
		At:         state.At,
	}
}

// Run observes the states until the channel is closed or ctx is done,
// sending interruptions to out. It is meant for playback driven by a
// component other than the session that produces the states.
func (m *Monitor) Run(
	ctx context.Context,
	states <-chan State,
	out chan<- event.Event,
) (_err error) {
	logger.Debugf(ctx, "Run")
	defer func() { logger.Debugf(ctx, "/Run: %v", _err) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case state, ok := <-states:
			if !ok {
				return nil
			}
			ev := m.Observe(ctx, state)
			if ev == nil {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- ev:
			}
		}
	}
}
