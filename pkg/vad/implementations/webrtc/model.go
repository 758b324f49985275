//go:build webrtc
// +build webrtc

package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/josharian/fvad"
	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/vad"
)

// Model runs the detector on every 10ms of a frame; the speech
// probability is the share of sub-frames detected as voiced.
type Model struct {
	Locker       sync.Mutex
	Detector     *fvad.Detector
	SampleRate   audio.SampleRate
	Mode         Mode
	subFrameSize int
	pcm          []int16
}

var _ vad.Model = (*Model)(nil)

func New(
	ctx context.Context,
	sampleRate audio.SampleRate,
	mode Mode,
) (_ret *Model, _err error) {
	logger.Debugf(ctx, "New(%d, %d)", sampleRate, mode)
	defer func() { logger.Debugf(ctx, "/New(%d, %d): %v", sampleRate, mode, _err) }()

	if err := validate(sampleRate, mode); err != nil {
		return nil, err
	}

	detector := fvad.NewDetector()
	if detector == nil {
		return nil, fmt.Errorf("unable to allocate the detector")
	}
	if err := detector.SetSampleRate(int(sampleRate)); err != nil {
		return nil, fmt.Errorf("unable to set the sample rate %d: %w", sampleRate, err)
	}
	if err := detector.SetMode(int(mode)); err != nil {
		return nil, fmt.Errorf("unable to set the mode %d: %w", mode, err)
	}

	subFrameSize := int(audio.EncodingPCM{
		PCMFormat:  audio.PCMFormatS16LE,
		SampleRate: sampleRate,
	}.BytesForDuration(SubFrameDuration) / 2)
	return &Model{
		Detector:     detector,
		SampleRate:   sampleRate,
		Mode:         mode,
		subFrameSize: subFrameSize,
		pcm:          make([]int16, subFrameSize),
	}, nil
}

func (m *Model) Close() error {
	m.Locker.Lock()
	defer m.Locker.Unlock()
	m.Detector = nil
	return nil
}

func (m *Model) Encoding(context.Context) (audio.Encoding, error) {
	return audio.EncodingPCM{
		PCMFormat:  audio.PCMFormatS16LE,
		SampleRate: m.SampleRate,
	}, nil
}

func (m *Model) Channels(context.Context) (audio.Channel, error) {
	return 1, nil
}

func (m *Model) SpeechProbability(
	ctx context.Context,
	samples []float32,
) (float64, error) {
	m.Locker.Lock()
	defer m.Locker.Unlock()
	if m.Detector == nil {
		return 0, fmt.Errorf("the model is closed")
	}

	var total, voiced int
	for pos := 0; pos < len(samples); pos += m.subFrameSize {
		end := min(pos+m.subFrameSize, len(samples))
		toInt16(m.pcm, samples[pos:end])
		isVoiced, err := m.Detector.Process(m.pcm)
		if err != nil {
			return 0, fmt.Errorf("unable to process sub-frame at sample %d: %w", pos, err)
		}
		total++
		if isVoiced {
			voiced++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(voiced) / float64(total), nil
}
