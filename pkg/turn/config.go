package turn

import (
	"fmt"
	"time"
)

const (
	DefaultSilenceGapDuration = 800 * time.Millisecond
	DefaultMinSpeechDuration  = 100 * time.Millisecond
	DefaultMaxTurnDuration    = 30 * time.Second
	DefaultContinuingInterval = 250 * time.Millisecond
)

type Config struct {
	// SilenceGapDuration is the contiguous silence that ends a turn.
	SilenceGapDuration time.Duration `yaml:"silence_gap_duration"`

	// MinSpeechDuration is the least amount of speech for a turn to be committed;
	// shorter bursts are discarded as noise.
	MinSpeechDuration time.Duration `yaml:"min_speech_duration"`

	// MaxTurnDuration forces a commit of a turn that never reaches a silence gap.
	MaxTurnDuration time.Duration `yaml:"max_turn_duration"`

	// ContinuingInterval is the minimal frame time between SpeechContinuing events.
	ContinuingInterval time.Duration `yaml:"continuing_interval"`

	// ConcealDroppedFrames fills frames lost to overruns within a turn with
	// synthesized audio instead of silence.
	ConcealDroppedFrames bool `yaml:"conceal_dropped_frames"`
}

func DefaultConfig() Config {
	return Config{
		SilenceGapDuration:   DefaultSilenceGapDuration,
		MinSpeechDuration:    DefaultMinSpeechDuration,
		MaxTurnDuration:      DefaultMaxTurnDuration,
		ContinuingInterval:   DefaultContinuingInterval,
		ConcealDroppedFrames: true,
	}
}

func (cfg Config) Validate() error {
	switch {
	case cfg.SilenceGapDuration <= 0:
		return fmt.Errorf("silence_gap_duration must be positive")
	case cfg.MinSpeechDuration < 0:
		return fmt.Errorf("min_speech_duration must not be negative")
	case cfg.MaxTurnDuration <= 0:
		return fmt.Errorf("max_turn_duration must be positive")
	case cfg.MinSpeechDuration > cfg.MaxTurnDuration:
		return fmt.Errorf("min_speech_duration (%v) exceeds max_turn_duration (%v)", cfg.MinSpeechDuration, cfg.MaxTurnDuration)
	case cfg.ContinuingInterval <= 0:
		return fmt.Errorf("continuing_interval must be positive")
	}
	return nil
}
