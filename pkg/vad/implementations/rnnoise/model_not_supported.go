//go:build !rnnoise
// +build !rnnoise

package rnnoise

import (
	"context"

	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/vad"
)

// Model is never constructed without the 'rnnoise' build tag.
type Model struct {
	vad.Model
}

func New(
	_ context.Context,
	sampleRate audio.SampleRate,
) (*Model, error) {
	if _, err := upsampleFactor(sampleRate); err != nil {
		return nil, err
	}
	return nil, ErrNotSupported
}
