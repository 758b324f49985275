// Package webrtc implements a vad.Model on top of the WebRTC voice activity
// detector (libfvad).
//
// The detector is a cgo binding that links the system libfvad, so it is
// built only with the tag 'webrtc'. Without the tag New returns
// ErrNotSupported, so the classifier runs degraded.
package webrtc

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/xaionaro-go/turntaking/pkg/audio"
)

const (
	// SubFrameDuration is the granularity the detector is fed with.
	SubFrameDuration = 10 * time.Millisecond

	DefaultMode = 2
)

var ErrNotSupported = errors.New("built without tag 'webrtc'")

type Mode int

func validate(sampleRate audio.SampleRate, mode Mode) error {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return fmt.Errorf("sample rate %d is not supported; supported are 8000, 16000, 32000 and 48000", sampleRate)
	}
	if mode < 0 || mode > 3 {
		return fmt.Errorf("mode %d is out of range [0, 3]", mode)
	}
	return nil
}

// toInt16 converts samples into dst; the rest of dst is zeroed.
func toInt16(dst []int16, samples []float32) {
	for idx, v := range samples {
		dst[idx] = int16(math.Round(float64(max(-1, min(v, 1))) * math.MaxInt16))
	}
	clear(dst[len(samples):])
}
