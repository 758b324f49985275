package interpolation

type Linear struct{}

var _ Interpolator = Linear{}

func NewLinear() Linear {
	return Linear{}
}

// Interpolate draws a straight line between the samples adjacent to the gap.
// Without both neighbors the gap is filled with silence.
func (Linear) Interpolate(before, after []float32, gapLen int) []float32 {
	result := make([]float32, gapLen)
	if len(before) == 0 || len(after) == 0 {
		return result
	}
	v0 := before[len(before)-1]
	v1 := after[0]
	for i := range result {
		t := float32(i+1) / float32(gapLen+1)
		result[i] = (1-t)*v0 + t*v1
	}
	return result
}
