package playback

import (
	"fmt"
	"time"

	"github.com/xaionaro-go/turntaking/pkg/audio"
)

type Config struct {
	SampleRate audio.SampleRate `yaml:"sample_rate"`
	Channels   audio.Channel    `yaml:"channel_count"`
	PCMFormat  audio.PCMFormat  `yaml:"pcm_format"`
	BufferSize time.Duration    `yaml:"buffer_size"`
}

func DefaultConfig() Config {
	return Config{
		SampleRate: 48000,
		Channels:   1,
		PCMFormat:  audio.PCMFormatFloat32LE,
		BufferSize: 50 * time.Millisecond,
	}
}

func (cfg Config) Validate() error {
	switch {
	case cfg.SampleRate == 0:
		return fmt.Errorf("sample_rate must be positive")
	case cfg.Channels == 0:
		return fmt.Errorf("channel_count must be positive")
	case cfg.PCMFormat.Size() == 0:
		return fmt.Errorf("unsupported pcm_format %s", cfg.PCMFormat)
	case cfg.BufferSize <= 0:
		return fmt.Errorf("buffer_size must be positive")
	}
	return nil
}
