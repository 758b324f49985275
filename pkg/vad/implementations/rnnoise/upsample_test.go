package rnnoise

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/turntaking/pkg/audio"
)

func TestUpsampleFactor(t *testing.T) {
	for _, sampleRate := range []audio.SampleRate{8000, 16000, 24000, 48000} {
		factor, err := upsampleFactor(sampleRate)
		require.NoError(t, err, sampleRate)
		assert.Equal(t, int(48000/sampleRate), factor)
	}
	for _, sampleRate := range []audio.SampleRate{0, 44100, 96000} {
		_, err := upsampleFactor(sampleRate)
		assert.Error(t, err, sampleRate)
	}
}

func TestUpsample(t *testing.T) {
	buf := make([]float32, 0, 16)
	result := upsample(buf, []float32{0.5, -1}, 3)
	assert.Equal(t, []float32{
		0.5 * math.MaxInt16, 0.5 * math.MaxInt16, 0.5 * math.MaxInt16,
		-math.MaxInt16, -math.MaxInt16, -math.MaxInt16,
	}, result)

	result = upsample(result, []float32{0}, 1)
	assert.Equal(t, []float32{0}, result)
}
