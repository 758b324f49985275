// Package rnnoise implements a vad.Model on top of the voice activity
// probability that RNNoise estimates while suppressing noise.
//
// It requires librnnoise and the build tag 'rnnoise'; without the tag New
// returns ErrNotSupported, so the classifier runs degraded.
package rnnoise

import (
	"errors"
	"fmt"
	"math"

	"github.com/xaionaro-go/turntaking/pkg/audio"
)

// ModelSampleRate is the only sample rate RNNoise works with.
const ModelSampleRate = audio.SampleRate(48000)

var ErrNotSupported = errors.New("built without tag 'rnnoise'")

func upsampleFactor(sampleRate audio.SampleRate) (int, error) {
	if sampleRate == 0 || sampleRate > ModelSampleRate || ModelSampleRate%sampleRate != 0 {
		return 0, fmt.Errorf("sample rate %d is not supported; it must divide %d", sampleRate, ModelSampleRate)
	}
	return int(ModelSampleRate / sampleRate), nil
}

// upsample repeats every sample factor times and scales it to the int16
// range RNNoise expects.
func upsample(dst []float32, samples []float32, factor int) []float32 {
	dst = dst[:0]
	for _, v := range samples {
		v *= math.MaxInt16
		for range factor {
			dst = append(dst, v)
		}
	}
	return dst
}
