// Package turn segments a stream of classified frames into conversational turns.
package turn

import (
	"context"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"
	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/event"
	"github.com/xaionaro-go/turntaking/pkg/interpolation"
	"github.com/xaionaro-go/turntaking/pkg/interpolation/spectral"
	"github.com/xaionaro-go/turntaking/pkg/metrics"
	"github.com/xaionaro-go/turntaking/pkg/vad"
)

// concealmentContext is the amount of preceding samples used to synthesize dropped frames.
const concealmentContext = spectral.MaxWindowSize

// Manager is the turn state machine. All durations are measured in frame
// time, so the result depends only on the sequence of frames and verdicts.
// Frame time is counted in samples and converted only for comparison, so
// rates that do not divide a second evenly do not drift.
//
// Manager is not safe for concurrent use; it is driven by a single goroutine.
type Manager struct {
	Config       Config
	Interpolator interpolation.Interpolator
	Metrics      *metrics.Metrics
	NewTurnID    func() uuid.UUID

	state State
	turn  *pendingTurn
}

type pendingTurn struct {
	ID               uuid.UUID
	SampleRate       audio.SampleRate
	Samples          []float32
	StartIndex       uint64
	LastIndex        uint64
	StartedAt        time.Time
	LastFrameEndedAt time.Time
	ConcealedSamples int

	// the counters below are in samples
	Accumulated     int
	Speech          int
	Silence         int
	SinceContinuing int
}

func (t *pendingTurn) duration(samples int) time.Duration {
	return audio.FrameDuration(samples, t.SampleRate)
}

func NewManager(cfg Config, m *metrics.Metrics) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	mgr := &Manager{
		Config:    cfg,
		Metrics:   m,
		NewTurnID: uuid.New,
	}
	if cfg.ConcealDroppedFrames {
		mgr.Interpolator = spectral.New()
	}
	return mgr, nil
}

func (m *Manager) State() State {
	return m.state
}

// Process advances the state machine by one frame and returns the
// resulting events in emission order.
func (m *Manager) Process(
	ctx context.Context,
	frame *audio.Frame,
	verdict vad.Verdict,
) []event.Event {
	var events []event.Event

	if m.state == StateAccumulating && frame.Index > m.turn.LastIndex+1 {
		events = m.handleDroppedFrames(ctx, frame, events)
	}

	switch m.state {
	case StateIdle:
		if !verdict.IsSpeech() {
			return events
		}
		events = m.begin(ctx, frame, events)
	case StateAccumulating:
		m.appendFrame(frame)
		if verdict.IsSpeech() {
			events = m.onSpeech(frame, events)
		} else {
			events = m.onSilence(ctx, frame, events)
		}
	default:
		panic(fmt.Errorf("unexpected state %s", m.state))
	}

	if m.state == StateAccumulating && m.turn.duration(m.turn.Accumulated) >= m.Config.MaxTurnDuration {
		logger.Debugf(ctx, "turn %s reached the max duration %v", m.turn.ID, m.Config.MaxTurnDuration)
		events = m.commit(ctx, frame.Index, event.EndReasonMaxDuration, events)
	}
	return events
}

func (m *Manager) begin(
	ctx context.Context,
	frame *audio.Frame,
	events []event.Event,
) []event.Event {
	m.turn = &pendingTurn{
		ID:         m.NewTurnID(),
		SampleRate: frame.SampleRate,
		StartIndex: frame.Index,
		StartedAt:  frame.CapturedAt,
	}
	m.setState(ctx, StateAccumulating)
	m.appendFrame(frame)
	m.turn.Speech += len(frame.Samples)
	return append(events, &event.SpeechStarted{
		TurnID:     m.turn.ID,
		FrameIndex: frame.Index,
		At:         frame.CapturedAt,
	})
}

func (m *Manager) appendFrame(frame *audio.Frame) {
	t := m.turn
	t.Samples = append(t.Samples, frame.Samples...)
	t.LastIndex = frame.Index
	t.LastFrameEndedAt = frame.CapturedAt.Add(frame.Duration())
	t.Accumulated += len(frame.Samples)
}

func (m *Manager) onSpeech(
	frame *audio.Frame,
	events []event.Event,
) []event.Event {
	t := m.turn
	n := len(frame.Samples)
	t.Silence = 0
	t.Speech += n
	t.SinceContinuing += n
	if t.duration(t.SinceContinuing) < m.Config.ContinuingInterval {
		return events
	}
	t.SinceContinuing = 0
	return append(events, &event.SpeechContinuing{
		TurnID:         t.ID,
		FrameIndex:     frame.Index,
		SpeechDuration: t.duration(t.Speech),
	})
}

func (m *Manager) onSilence(
	ctx context.Context,
	frame *audio.Frame,
	events []event.Event,
) []event.Event {
	t := m.turn
	n := len(frame.Samples)
	t.Silence += n
	t.SinceContinuing += n
	if t.duration(t.Silence) < m.Config.SilenceGapDuration {
		return events
	}
	return m.commit(ctx, frame.Index, event.EndReasonSilenceGap, events)
}

// handleDroppedFrames fills the frames lost between the last frame of the
// turn and the given one. A loss as long as the silence gap ends the turn instead.
func (m *Manager) handleDroppedFrames(
	ctx context.Context,
	frame *audio.Frame,
	events []event.Event,
) []event.Event {
	t := m.turn
	missing := frame.Index - t.LastIndex - 1
	gapLen := int(missing) * len(frame.Samples)
	missingDuration := t.duration(gapLen)
	if missingDuration >= m.Config.SilenceGapDuration {
		logger.Warnf(ctx, "lost %d frames (%v) within turn %s; ending the turn", missing, missingDuration, t.ID)
		return m.commit(ctx, t.LastIndex, event.EndReasonSilenceGap, events)
	}

	var fill []float32
	if m.Interpolator != nil {
		before := t.Samples[max(0, len(t.Samples)-concealmentContext):]
		fill = m.Interpolator.Interpolate(before, frame.Samples, gapLen)
	} else {
		fill = make([]float32, gapLen)
	}
	logger.Debugf(ctx, "concealing %d lost frames within turn %s", missing, t.ID)

	t.Samples = append(t.Samples, fill...)
	t.ConcealedSamples += gapLen
	t.Accumulated += gapLen
	t.SinceContinuing += gapLen
	t.LastIndex = frame.Index - 1
	t.LastFrameEndedAt = frame.CapturedAt
	return events
}

func (m *Manager) commit(
	ctx context.Context,
	lastIndex uint64,
	reason event.EndReason,
	events []event.Event,
) []event.Event {
	m.setState(ctx, StateCommitting)
	t := m.turn
	m.turn = nil

	speech := t.duration(t.Speech)
	discarded := speech < m.Config.MinSpeechDuration
	events = append(events, &event.SpeechEnded{
		TurnID:     t.ID,
		FrameIndex: lastIndex,
		Reason:     reason,
		Discarded:  discarded,
	})

	if discarded {
		logger.Debugf(ctx, "discarding turn %s: %v of speech is less than %v", t.ID, speech, m.Config.MinSpeechDuration)
		m.Metrics.TurnDiscarded()
	} else {
		turn := &event.AudioTurn{
			ID:               t.ID,
			SampleRate:       t.SampleRate,
			Samples:          t.Samples,
			StartIndex:       t.StartIndex,
			EndIndex:         lastIndex,
			StartedAt:        t.StartedAt,
			EndedAt:          t.LastFrameEndedAt,
			Duration:         t.duration(t.Accumulated),
			Forced:           reason == event.EndReasonMaxDuration,
			ConcealedSamples: t.ConcealedSamples,
		}
		m.Metrics.TurnCommitted(reason.String(), turn.Duration)
		events = append(events, &event.TurnCommitted{Turn: turn})
	}

	m.setState(ctx, StateIdle)
	return events
}

// Abandon drops the turn being accumulated without emitting anything.
func (m *Manager) Abandon(ctx context.Context) {
	if m.state != StateAccumulating {
		return
	}
	logger.Debugf(ctx, "abandoning turn %s with %v accumulated", m.turn.ID, m.turn.duration(m.turn.Accumulated))
	m.turn = nil
	m.setState(ctx, StateIdle)
}

func (m *Manager) setState(ctx context.Context, state State) {
	logger.Tracef(ctx, "turn state: %s -> %s", m.state, state)
	m.state = state
}
