package webrtc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, validate(48000, 0))
	assert.Error(t, validate(44100, DefaultMode))
	assert.Error(t, validate(16000, 4))
	assert.Error(t, validate(16000, -1))
}

func TestToInt16(t *testing.T) {
	dst := []int16{1, 1, 1, 1}
	toInt16(dst, []float32{1, -2, 0})
	assert.Equal(t, []int16{math.MaxInt16, -math.MaxInt16, 0, 0}, dst)
}
