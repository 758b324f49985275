// Package event defines the events a listening session emits.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xaionaro-go/turntaking/pkg/audio"
)

type Event interface {
	fmt.Stringer
	Kind() Kind
}

type SpeechStarted struct {
	TurnID     uuid.UUID
	FrameIndex uint64
	At         time.Time
}

type SpeechContinuing struct {
	TurnID     uuid.UUID
	FrameIndex uint64

	// SpeechDuration is the frame time accumulated in the turn so far.
	SpeechDuration time.Duration
}

type EndReason int

const (
	EndReasonUndefined = EndReason(iota)
	EndReasonSilenceGap
	EndReasonMaxDuration
)

func (r EndReason) String() string {
	switch r {
	case EndReasonUndefined:
		return "<undefined>"
	case EndReasonSilenceGap:
		return "silence_gap"
	case EndReasonMaxDuration:
		return "max_duration"
	default:
		return fmt.Sprintf("unknown_reason_%d", int(r))
	}
}

func (r EndReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

type SpeechEnded struct {
	TurnID     uuid.UUID
	FrameIndex uint64
	Reason     EndReason

	// Discarded is set when the speech was too short to become a turn;
	// no TurnCommitted follows such an event.
	Discarded bool
}

type TurnCommitted struct {
	Turn *AudioTurn
}

type Interruption struct {
	FrameIndex uint64
	At         time.Time
}

var (
	_ Event = (*SpeechStarted)(nil)
	_ Event = (*SpeechContinuing)(nil)
	_ Event = (*SpeechEnded)(nil)
	_ Event = (*TurnCommitted)(nil)
	_ Event = (*Interruption)(nil)
)

func (*SpeechStarted) Kind() Kind    { return KindSpeechStarted }
func (*SpeechContinuing) Kind() Kind { return KindSpeechContinuing }
func (*SpeechEnded) Kind() Kind      { return KindSpeechEnded }
func (*TurnCommitted) Kind() Kind    { return KindTurnCommitted }
func (*Interruption) Kind() Kind     { return KindInterruption }

func (e *SpeechStarted) String() string {
	return fmt.Sprintf("%s{turn:%s frame:%d}", e.Kind(), e.TurnID, e.FrameIndex)
}

func (e *SpeechContinuing) String() string {
	return fmt.Sprintf("%s{turn:%s frame:%d speech:%v}", e.Kind(), e.TurnID, e.FrameIndex, e.SpeechDuration)
}

func (e *SpeechEnded) String() string {
	return fmt.Sprintf("%s{turn:%s frame:%d reason:%s discarded:%t}", e.Kind(), e.TurnID, e.FrameIndex, e.Reason, e.Discarded)
}

func (e *TurnCommitted) String() string {
	return fmt.Sprintf("%s{%s}", e.Kind(), e.Turn)
}

func (e *Interruption) String() string {
	return fmt.Sprintf("%s{frame:%d}", e.Kind(), e.FrameIndex)
}

// AudioTurn is one committed utterance. Once emitted it belongs to the consumer.
type AudioTurn struct {
	ID         uuid.UUID
	SampleRate audio.SampleRate
	Samples    []float32

	// StartIndex and EndIndex are the indexes of the first and the last frame of the turn.
	StartIndex uint64
	EndIndex   uint64

	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration

	// Forced is set when the turn was committed due to max_turn_duration.
	Forced bool

	// ConcealedSamples is the amount of samples synthesized in place of dropped frames.
	ConcealedSamples int
}

func (t *AudioTurn) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("turn:%s frames:%d-%d samples:%d duration:%v forced:%t", t.ID, t.StartIndex, t.EndIndex, len(t.Samples), t.Duration, t.Forced)
}
