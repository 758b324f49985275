package interpolation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinear(t *testing.T) {
	t.Run("ramp", func(t *testing.T) {
		got := NewLinear().Interpolate([]float32{0, 0}, []float32{1, 1}, 3)
		assert.InDeltaSlice(t, []float32{0.25, 0.5, 0.75}, got, 1e-6)
	})

	t.Run("missing_neighbor", func(t *testing.T) {
		got := NewLinear().Interpolate(nil, []float32{1}, 2)
		assert.Equal(t, []float32{0, 0}, got)
	})
}
