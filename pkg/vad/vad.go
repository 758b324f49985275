// Package vad defines voice activity classification of audio frames.
package vad

import (
	"context"
	"fmt"
	"io"

	"github.com/xaionaro-go/turntaking/pkg/audio"
)

type Activity int

const (
	ActivitySilence = Activity(iota)
	ActivitySpeech
)

func (a Activity) String() string {
	switch a {
	case ActivitySilence:
		return "silence"
	case ActivitySpeech:
		return "speech"
	default:
		return fmt.Sprintf("unknown_activity_%d", int(a))
	}
}

func (a Activity) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

type Verdict struct {
	Activity   Activity
	Confidence float64

	// Degraded is set when the verdict comes from the energy heuristic
	// because the model could not be initialized.
	Degraded bool
}

func (v Verdict) IsSpeech() bool {
	return v.Activity == ActivitySpeech
}

// Model estimates the probability of speech in a frame of mono samples.
type Model interface {
	audio.AbstractAnalyzer

	SpeechProbability(ctx context.Context, samples []float32) (float64, error)
}

type Classifier interface {
	io.Closer

	Classify(ctx context.Context, frame *audio.Frame) (Verdict, error)
}
