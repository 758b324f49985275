package classifier

import (
	"fmt"
	"time"

	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/vad/implementations/webrtc"
)

type ModelName string

const (
	ModelNameWebRTC  = ModelName("webrtc")
	ModelNameEnergy  = ModelName("energy")
	ModelNameRNNoise = ModelName("rnnoise")
)

const (
	DefaultSampleRate      = audio.SampleRate(16000)
	DefaultSpeechThreshold = 0.5
)

type Config struct {
	SampleRate audio.SampleRate `yaml:"sample_rate"`

	// SpeechThreshold is the minimal model confidence to consider a frame speech.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// MinSpeechDuration is how long the model must report speech before
	// the verdicts switch to Speech.
	MinSpeechDuration time.Duration `yaml:"min_speech_duration"`

	// MinSilenceSmoothing is how long the model must report silence before
	// the verdicts switch back to Silence.
	MinSilenceSmoothing time.Duration `yaml:"min_silence_smoothing"`

	Model      ModelName   `yaml:"model"`
	WebRTCMode webrtc.Mode `yaml:"webrtc_mode"`
}

func DefaultConfig() Config {
	return Config{
		SampleRate:      DefaultSampleRate,
		SpeechThreshold: DefaultSpeechThreshold,
		Model:           ModelNameWebRTC,
		WebRTCMode:      webrtc.DefaultMode,
	}
}

func (cfg Config) Validate() error {
	switch {
	case cfg.SampleRate == 0:
		return fmt.Errorf("sample_rate must be positive")
	case cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1:
		return fmt.Errorf("speech_threshold must be within [0, 1], got %v", cfg.SpeechThreshold)
	case cfg.MinSpeechDuration < 0:
		return fmt.Errorf("min_speech_duration must not be negative")
	case cfg.MinSilenceSmoothing < 0:
		return fmt.Errorf("min_silence_smoothing must not be negative")
	}
	switch cfg.Model {
	case ModelNameWebRTC, ModelNameEnergy, ModelNameRNNoise:
	default:
		return fmt.Errorf("unknown model '%s'", cfg.Model)
	}
	return nil
}
