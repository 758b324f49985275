// Package energy implements a vad.Model based on signal level and the share of
// energy in the speech band. It has no external model to load, so it is used as
// the fallback when the primary model fails to initialize.
package energy

import (
	"context"
	"math"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/vad"
)

const (
	DefaultSmoothingAlpha = 0.3
	DefaultMinRMS         = 0.005
	DefaultFullScaleRMS   = 0.05
	DefaultBandLow        = 300
	DefaultBandHigh       = 3400
)

type Config struct {
	// SmoothingAlpha is the weight of the current frame in the exponentially smoothed level.
	SmoothingAlpha float64

	// MinRMS is the level at and below which the probability is zero.
	MinRMS float64

	// FullScaleRMS is the level at and above which the level factor is one.
	FullScaleRMS float64

	// BandLow and BandHigh are the bounds (in Hz) of the speech band.
	BandLow  float64
	BandHigh float64
}

func DefaultConfig() Config {
	return Config{
		SmoothingAlpha: DefaultSmoothingAlpha,
		MinRMS:         DefaultMinRMS,
		FullScaleRMS:   DefaultFullScaleRMS,
		BandLow:        DefaultBandLow,
		BandHigh:       DefaultBandHigh,
	}
}

type Model struct {
	Config
	SampleRate audio.SampleRate

	locker      sync.Mutex
	smoothedRMS float64
	window      []float64
	buffer      []float64
}

var _ vad.Model = (*Model)(nil)

func New(sampleRate audio.SampleRate, cfg Config) *Model {
	return &Model{
		Config:     cfg,
		SampleRate: sampleRate,
	}
}

func (m *Model) Close() error {
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

func (m *Model) SpeechProbability(
	_ context.Context,
	samples []float32,
) (float64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	m.locker.Lock()
	defer m.locker.Unlock()

	rms := RMS(samples)
	m.smoothedRMS = m.SmoothingAlpha*rms + (1-m.SmoothingAlpha)*m.smoothedRMS

	level := (m.smoothedRMS - m.MinRMS) / (m.FullScaleRMS - m.MinRMS)
	if level <= 0 {
		return 0, nil
	}
	level = min(level, 1)
	return level * m.bandRatio(samples), nil
}

// bandRatio returns the share of the frame energy within [BandLow, BandHigh].
func (m *Model) bandRatio(samples []float32) float64 {
	n := len(samples)
	if len(m.window) != n {
		m.window = hann(n)
		m.buffer = make([]float64, n)
	}
	for idx, v := range samples {
		m.buffer[idx] = float64(v) * m.window[idx]
	}

	spectrum := fft.FFTReal(m.buffer)
	binWidth := float64(m.SampleRate) / float64(n)

	var total, inBand float64
	for idx := 1; idx <= n/2; idx++ {
		c := spectrum[idx]
		power := real(c)*real(c) + imag(c)*imag(c)
		total += power
		freq := float64(idx) * binWidth
		if freq >= m.BandLow && freq <= m.BandHigh {
			inBand += power
		}
	}
	if total == 0 {
		return 0
	}
	return inBand / total
}

func (m *Model) Reset() {
	m.locker.Lock()
	defer m.locker.Unlock()
	m.smoothedRMS = 0
}

func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func hann(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for idx := range w {
		w[idx] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(idx)/float64(n-1))
	}
	return w
}
