package energy

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq, amplitude float64, count int) []float32 {
	result := make([]float32, count)
	for idx := range result {
		result[idx] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(idx)/16000))
	}
	return result
}

func TestSpeechProbability(t *testing.T) {
	ctx := context.Background()

	t.Run("silence", func(t *testing.T) {
		m := New(16000, DefaultConfig())
		p, err := m.SpeechProbability(ctx, make([]float32, 480))
		require.NoError(t, err)
		assert.Equal(t, float64(0), p)
	})

	t.Run("loud_voice_band_tone", func(t *testing.T) {
		m := New(16000, DefaultConfig())
		p, err := m.SpeechProbability(ctx, sine(440, 0.3, 480))
		require.NoError(t, err)
		assert.Greater(t, p, 0.8)
		assert.LessOrEqual(t, p, float64(1))
	})

	t.Run("loud_mains_hum", func(t *testing.T) {
		m := New(16000, DefaultConfig())
		p, err := m.SpeechProbability(ctx, sine(50, 0.3, 480))
		require.NoError(t, err)
		assert.Less(t, p, 0.5)
	})

	t.Run("quiet_voice_band_tone", func(t *testing.T) {
		m := New(16000, DefaultConfig())
		p, err := m.SpeechProbability(ctx, sine(440, 0.005, 480))
		require.NoError(t, err)
		assert.Equal(t, float64(0), p)
	})

	t.Run("level_is_smoothed", func(t *testing.T) {
		m := New(16000, DefaultConfig())
		loud := sine(440, 0.3, 480)
		for i := 0; i < 10; i++ {
			_, err := m.SpeechProbability(ctx, loud)
			require.NoError(t, err)
		}
		p, err := m.SpeechProbability(ctx, make([]float32, 480))
		require.NoError(t, err)
		assert.Equal(t, float64(0), p, "digital silence has no in-band energy")

		m.Reset()
		assert.Equal(t, float64(0), m.smoothedRMS)
	})
}

func TestRMS(t *testing.T) {
	assert.Equal(t, float64(0), RMS(nil))
	assert.InDelta(t, 0.5, RMS([]float32{0.5, -0.5, 0.5, -0.5}), 1e-9)
}
