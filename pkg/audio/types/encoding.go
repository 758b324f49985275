package types

import (
	"time"
)

type Encoding interface {
	BytesPerSample() uint
	BytesForDuration(time.Duration) uint64
}

type EncodingPCM struct {
	PCMFormat
	SampleRate
}

var _ Encoding = EncodingPCM{}

func (e EncodingPCM) BytesPerSample() uint {
	return e.PCMFormat.Size()
}

// BytesForDuration returns the amount of bytes a single channel takes for the given duration.
func (e EncodingPCM) BytesForDuration(d time.Duration) uint64 {
	samples := uint64(d) * uint64(e.SampleRate) / uint64(time.Second)
	return samples * uint64(e.BytesPerSample())
}

// DurationForSamples returns how long the given amount of samples (per channel) plays.
func (e EncodingPCM) DurationForSamples(samples uint64) time.Duration {
	if e.SampleRate == 0 {
		return 0
	}
	return time.Duration(samples * uint64(time.Second) / uint64(e.SampleRate))
}
