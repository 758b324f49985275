//go:build rnnoise
// +build rnnoise

package rnnoise

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/vad"
)

/*
#cgo pkg-config: rnnoise
#include <rnnoise.h>
*/
import "C"

type Model struct {
	Locker       sync.Mutex
	DenoiseState *C.DenoiseState
	SampleRate   audio.SampleRate
	factor       int
	subFrameSize int
	input        []float32
	output       []float32
}

var _ vad.Model = (*Model)(nil)

func New(
	ctx context.Context,
	sampleRate audio.SampleRate,
) (_ret *Model, _err error) {
	logger.Debugf(ctx, "New(%d)", sampleRate)
	defer func() { logger.Debugf(ctx, "/New(%d): %v", sampleRate, _err) }()

	factor, err := upsampleFactor(sampleRate)
	if err != nil {
		return nil, err
	}
	state := C.rnnoise_create(nil)
	if state == nil {
		return nil, fmt.Errorf("unable to allocate the denoise state")
	}
	subFrameSize := int(C.rnnoise_get_frame_size())
	return &Model{
		DenoiseState: state,
		SampleRate:   sampleRate,
		factor:       factor,
		subFrameSize: subFrameSize,
		output:       make([]float32, subFrameSize),
	}, nil
}

func (m *Model) Close() error {
	m.Locker.Lock()
	defer m.Locker.Unlock()
	if m.DenoiseState == nil {
		return fmt.Errorf("double-free attempt")
	}
	C.rnnoise_destroy(m.DenoiseState)
	m.DenoiseState = nil
	return nil
}

func (m *Model) Encoding(context.Context) (audio.Encoding, error) {
	return audio.EncodingPCM{
		PCMFormat:  audio.PCMFormatFloat32LE,
		SampleRate: m.SampleRate,
	}, nil
}

func (m *Model) Channels(context.Context) (audio.Channel, error) {
	return 1, nil
}

// SpeechProbability returns the highest voice probability over the 10ms
// sub-frames of the samples.
func (m *Model) SpeechProbability(
	ctx context.Context,
	samples []float32,
) (float64, error) {
	m.Locker.Lock()
	defer m.Locker.Unlock()
	if m.DenoiseState == nil {
		return 0, fmt.Errorf("the model is closed")
	}

	m.input = upsample(m.input, samples, m.factor)
	if tail := len(m.input) % m.subFrameSize; tail != 0 {
		for range m.subFrameSize - tail {
			m.input = append(m.input, 0)
		}
	}

	var maxProb float64
	for pos := 0; pos < len(m.input); pos += m.subFrameSize {
		prob := C.rnnoise_process_frame(
			m.DenoiseState,
			(*C.float)(unsafe.Pointer(unsafe.SliceData(m.output))),
			(*C.float)(unsafe.Pointer(unsafe.SliceData(m.input[pos:pos+m.subFrameSize]))),
		)
		maxProb = max(maxProb, float64(prob))
	}
	logger.Tracef(ctx, "SpeechProbability: %d samples: %v", len(samples), maxProb)
	return maxProb, nil
}
