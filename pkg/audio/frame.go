package audio

import (
	"time"
)

// Frame is a fixed-size slice of mono audio normalized into [-1, 1].
// It must not be modified after it was emitted.
type Frame struct {
	// Index is monotonic within a capture session; a gap means frames were dropped.
	Index      uint64
	SampleRate SampleRate
	Samples    []float32

	// MicSamples are the samples of the input device alone, before mixing
	// in the loopback device. Without loopback it is the same slice as Samples.
	MicSamples []float32

	// LoopbackSamples are the samples of the system output capture; nil without loopback.
	LoopbackSamples []float32

	CapturedAt time.Time

	// PaddedSamples is the amount of trailing zeros added to complete the last frame of a stream.
	PaddedSamples int
}

func (f *Frame) Duration() time.Duration {
	return FrameDuration(len(f.Samples), f.SampleRate)
}

func FrameDuration(frameSize int, sampleRate SampleRate) time.Duration {
	if sampleRate == 0 {
		return 0
	}
	return time.Duration(frameSize) * time.Second / time.Duration(sampleRate)
}
