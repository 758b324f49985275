// Package spectral conceals gaps in audio by continuing the dominant
// tones of the surrounding signal into the gap.
package spectral

import (
	"math"

	"github.com/brettbuddin/fourier"
	"github.com/xaionaro-go/turntaking/pkg/interpolation"
)

const (
	// MaxWindowSize caps the amount of samples analyzed on each side of the gap.
	MaxWindowSize = 1024

	// MinWindowSize is the least amount of samples on each side to do the analysis;
	// with less the gap is filled linearly.
	MinWindowSize = 16

	// PeakFactor is how many times a bin must exceed the mean magnitude to count as a tone.
	PeakFactor = 2.5
)

type Interpolator struct{}

var _ interpolation.Interpolator = Interpolator{}

func New() Interpolator {
	return Interpolator{}
}

// Interpolate projects the tones found before the gap forward and the
// tones found after the gap backward, cross-fades the two projections
// (smoothstep weight) and corrects both ends so the result meets
// the real samples without a step.
func (Interpolator) Interpolate(before, after []float32, gapLen int) []float32 {
	if gapLen <= 0 {
		return nil
	}
	n := powerOfTwoFloor(min(len(before), len(after), MaxWindowSize))
	if n < MinWindowSize {
		return interpolation.NewLinear().Interpolate(before, after, gapLen)
	}

	past, ok := analyze(before[len(before)-n:])
	if !ok {
		return interpolation.NewLinear().Interpolate(before, after, gapLen)
	}
	future, ok := analyze(after[:n])
	if !ok {
		return interpolation.NewLinear().Interpolate(before, after, gapLen)
	}

	// offsets of the models at the known boundary samples
	startErr := past.at(float64(n-1)) - float64(before[len(before)-1])
	endErr := future.at(0) - float64(after[0])

	result := make([]float32, gapLen)
	for i := range result {
		t := float64(i+1) / float64(gapLen+1)
		w := t * t * (3 - 2*t)

		fwd := past.at(float64(n+i)) - startErr
		bwd := future.at(float64(i-gapLen)) - endErr
		result[i] = float32((1-w)*fwd + w*bwd)
	}
	return result
}

type tone struct {
	bin       int
	amplitude float64
	phase     float64
}

type model struct {
	size  int
	dc    float64
	tones []tone
}

func (m model) at(t float64) float64 {
	v := m.dc
	for _, tone := range m.tones {
		v += tone.amplitude * math.Cos(2*math.Pi*float64(tone.bin)*t/float64(m.size)+tone.phase)
	}
	return v
}

func analyze(samples []float32) (model, bool) {
	n := len(samples)
	coeffs := make([]complex128, n)
	for idx, v := range samples {
		coeffs[idx] = complex(float64(v), 0)
	}
	if err := fourier.Forward(coeffs); err != nil {
		return model{}, false
	}

	magnitudes := make([]float64, n)
	var mean float64
	for idx, c := range coeffs {
		magnitudes[idx] = math.Hypot(real(c), imag(c))
		mean += magnitudes[idx]
	}
	threshold := mean / float64(n) * PeakFactor

	m := model{
		size: n,
		dc:   real(coeffs[0]) / float64(n),
	}
	for idx := 1; idx < n/2; idx++ {
		mag := magnitudes[idx]
		if mag <= threshold || mag <= magnitudes[idx-1] || mag <= magnitudes[idx+1] {
			continue
		}
		m.tones = append(m.tones, tone{
			bin:       idx,
			amplitude: 2 * mag / float64(n),
			phase:     math.Atan2(imag(coeffs[idx]), real(coeffs[idx])),
		})
	}
	return m, true
}

func powerOfTwoFloor(n int) int {
	if n <= 0 {
		return 0
	}
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}
