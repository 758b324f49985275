package framesource

import (
	"fmt"
	"time"

	"github.com/xaionaro-go/turntaking/pkg/audio"
)

const (
	DefaultSampleRate            = audio.SampleRate(16000)
	DefaultChannels              = audio.Channel(1)
	DefaultFrameSize             = 480
	DefaultDeviceSampleRate      = audio.SampleRate(48000)
	DefaultCaptureBufferDuration = 2 * time.Second
	DefaultFrameQueueSize        = 128
	DefaultDeviceStallTimeout    = 2 * time.Second
)

type Config struct {
	// SampleRate is the rate of the emitted frames.
	SampleRate audio.SampleRate `yaml:"sample_rate"`

	// Channels is the amount of channels requested from the device; they are mixed down to mono.
	Channels audio.Channel `yaml:"channel_count"`

	// FrameSize is the amount of samples in a frame.
	FrameSize int `yaml:"frame_size"`

	// Loopback enables capturing the system output in addition to the input device.
	Loopback bool `yaml:"loopback"`

	// DeviceSampleRate is used if the device refuses to capture at SampleRate.
	DeviceSampleRate audio.SampleRate `yaml:"device_sample_rate"`

	CaptureBufferDuration time.Duration `yaml:"capture_buffer_duration"`
	FrameQueueSize        int           `yaml:"frame_queue_size"`

	// DeviceStallTimeout is how long a device may deliver no data before
	// it is considered disconnected.
	DeviceStallTimeout time.Duration `yaml:"device_stall_timeout"`
}

func DefaultConfig() Config {
	return Config{
		SampleRate:            DefaultSampleRate,
		Channels:              DefaultChannels,
		FrameSize:             DefaultFrameSize,
		DeviceSampleRate:      DefaultDeviceSampleRate,
		CaptureBufferDuration: DefaultCaptureBufferDuration,
		FrameQueueSize:        DefaultFrameQueueSize,
		DeviceStallTimeout:    DefaultDeviceStallTimeout,
	}
}

func (cfg Config) FrameDuration() time.Duration {
	return audio.FrameDuration(cfg.FrameSize, cfg.SampleRate)
}

func (cfg Config) Validate() error {
	switch {
	case cfg.SampleRate == 0:
		return fmt.Errorf("sample_rate must be positive")
	case cfg.Channels == 0:
		return fmt.Errorf("channel_count must be positive")
	case cfg.FrameSize <= 0:
		return fmt.Errorf("frame_size must be positive, got %d", cfg.FrameSize)
	case cfg.DeviceSampleRate == 0:
		return fmt.Errorf("device_sample_rate must be positive")
	case cfg.CaptureBufferDuration < cfg.FrameDuration():
		return fmt.Errorf("capture_buffer_duration (%v) must fit at least one frame (%v)", cfg.CaptureBufferDuration, cfg.FrameDuration())
	case cfg.FrameQueueSize <= 0:
		return fmt.Errorf("frame_queue_size must be positive, got %d", cfg.FrameQueueSize)
	case cfg.DeviceStallTimeout < 0:
		return fmt.Errorf("device_stall_timeout must not be negative")
	}
	return nil
}
