//go:build !webrtc
// +build !webrtc

package webrtc

import (
	"context"

	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/vad"
)

// Model is never constructed without the 'webrtc' build tag.
type Model struct {
	vad.Model
}

func New(
	_ context.Context,
	sampleRate audio.SampleRate,
	mode Mode,
) (*Model, error) {
	if err := validate(sampleRate, mode); err != nil {
		return nil, err
	}
	return nil, ErrNotSupported
}
