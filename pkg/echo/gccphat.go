package echo

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// whiteningFloor is the level (relative to the strongest bin, -60dB) below
// which a bin of the cross-power spectrum is ignored instead of whitened.
const whiteningFloor = 0.001

// fftSize returns the next power of two that fits a linear (not circular)
// correlation of the two snippets.
func fftSize(n1, n2 int) int {
	n := 1
	for n < n1+n2-1 {
		n <<= 1
	}
	return n
}

func spectrum(samples []float64, n int) []complex128 {
	padded := make([]complex128, n)
	for idx, v := range samples {
		padded[idx] = complex(v, 0)
	}
	return fft.FFT(padded)
}

// Correlate estimates by how many samples 'comp' is delayed relative to
// 'ref' using the generalized cross-correlation with phase transform
// (GCC-PHAT). The phase transform makes the estimation independent of the
// volume, so an attenuated echo correlates as well as a loud one.
//
// Only the frequencies within [minFreq, maxFreq] are taken into account;
// a zero disables the respective limit. The confidence is within [0, 1],
// where 1 means 'comp' is an exact shifted copy of 'ref'.
func Correlate(
	ref, comp []float64,
	sampleRate float64,
	minFreq, maxFreq float64,
) (delay float64, confidence float64, _err error) {
	if sampleRate <= 0 {
		return 0, 0, fmt.Errorf("the sample rate must be positive, got %v", sampleRate)
	}
	if len(ref) == 0 || len(comp) == 0 {
		return 0, 0, fmt.Errorf("empty input: %d and %d samples", len(ref), len(comp))
	}

	n := fftSize(len(ref), len(comp))
	fref := spectrum(ref, n)
	fcomp := spectrum(comp, n)

	binMin, binMax := 0, n/2
	if minFreq > 0 {
		binMin = int(minFreq * float64(n) / sampleRate)
	}
	if maxFreq > 0 && maxFreq < sampleRate/2 {
		binMax = int(maxFreq * float64(n) / sampleRate)
	}

	cross := make([]complex128, n)
	maxMag := 0.0
	for idx := range cross {
		cross[idx] = fcomp[idx] * cmplx.Conj(fref[idx])
		maxMag = math.Max(maxMag, cmplx.Abs(cross[idx]))
	}
	threshold := maxMag * whiteningFloor

	activeBins := 0
	for idx, v := range cross {
		bin := idx
		if idx > n/2 {
			bin = n - idx
		}
		mag := cmplx.Abs(v)
		if bin < binMin || bin > binMax || mag <= threshold || mag <= 1e-12 {
			cross[idx] = 0
			continue
		}
		cross[idx] = v / complex(mag, 0)
		activeBins++
	}
	if activeBins == 0 {
		return 0, 0, nil
	}

	correlation := fft.IFFT(cross)
	peakIdx, peak := 0, -1.0
	for idx, v := range correlation {
		if mag := cmplx.Abs(v); mag > peak {
			peakIdx, peak = idx, mag
		}
	}

	// comp(t) = ref(t - delay)
	delay = float64(peakIdx)
	if peakIdx > n/2 {
		delay -= float64(n)
	}
	if peakIdx > 0 && peakIdx < n-1 {
		y1 := cmplx.Abs(correlation[peakIdx-1])
		y3 := cmplx.Abs(correlation[peakIdx+1])
		if denom := y1 - 2*peak + y3; math.Abs(denom) > 1e-12 {
			delay += (y1 - y3) / (2 * denom)
		}
	}

	// a perfect match concentrates all the active unit-magnitude bins
	// into a single peak of activeBins/n
	confidence = math.Min(peak*float64(n)/float64(activeBins), 1)
	return delay, confidence, nil
}
