// Package interpolation synthesizes samples in place of lost audio.
package interpolation

type Interpolator interface {
	// Interpolate returns gapLen samples to be placed between before and after.
	Interpolate(before, after []float32, gapLen int) []float32
}
