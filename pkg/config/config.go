// Package config aggregates the configuration of a listening session.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/turntaking/pkg/audio/framesource"
	"github.com/xaionaro-go/turntaking/pkg/echo"
	"github.com/xaionaro-go/turntaking/pkg/playback"
	"github.com/xaionaro-go/turntaking/pkg/turn"
	"github.com/xaionaro-go/turntaking/pkg/vad/classifier"
	"gopkg.in/yaml.v3"
)

const (
	DefaultEventQueueSize    = 256
	DefaultVADStateQueueSize = 64
)

// Session configures the orchestration of the components.
type Session struct {
	// EventQueueSize is the capacity of the event queue; on overflow the
	// oldest events are dropped.
	EventQueueSize int `yaml:"event_queue_size"`

	// VADStateQueueSize is the capacity of the live VAD state stream.
	VADStateQueueSize int `yaml:"vad_state_queue_size"`

	// MicOnlyInterruption makes the interruption detection use the input
	// device alone, so the played audio leaking into the loopback capture
	// does not interrupt itself. It matters only if loopback is enabled.
	MicOnlyInterruption bool `yaml:"mic_only_interruption"`
}

// Config is supplied at the session start and never changes afterwards.
type Config struct {
	Audio    framesource.Config `yaml:"audio"`
	VAD      classifier.Config  `yaml:"vad"`
	Turn     turn.Config        `yaml:"turn"`
	Playback playback.Config    `yaml:"playback"`
	Echo     echo.Config        `yaml:"echo"`
	Session  Session            `yaml:"session"`
}

func Default() Config {
	return Config{
		Audio:    framesource.DefaultConfig(),
		VAD:      classifier.DefaultConfig(),
		Turn:     turn.DefaultConfig(),
		Playback: playback.DefaultConfig(),
		Echo:     echo.DefaultConfig(),
		Session: Session{
			EventQueueSize:      DefaultEventQueueSize,
			VADStateQueueSize:   DefaultVADStateQueueSize,
			MicOnlyInterruption: true,
		},
	}
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid '%s': %s", e.Field, e.Message)
}

// Validate returns all the problems found, each as a *ValidationError.
func (cfg Config) Validate() error {
	var mErr *multierror.Error
	add := func(field string, err error) {
		if err != nil {
			mErr = multierror.Append(mErr, &ValidationError{Field: field, Message: err.Error()})
		}
	}

	add("audio", cfg.Audio.Validate())
	add("vad", cfg.VAD.Validate())
	add("turn", cfg.Turn.Validate())
	add("playback", cfg.Playback.Validate())
	add("echo", cfg.Echo.Validate())
	if cfg.Session.EventQueueSize <= 0 {
		add("session.event_queue_size", fmt.Errorf("must be positive, got %d", cfg.Session.EventQueueSize))
	}
	if cfg.Session.VADStateQueueSize <= 0 {
		add("session.vad_state_queue_size", fmt.Errorf("must be positive, got %d", cfg.Session.VADStateQueueSize))
	}
	if cfg.VAD.SampleRate != cfg.Audio.SampleRate {
		add("vad.sample_rate", fmt.Errorf("%d Hz does not match audio.sample_rate %d Hz", cfg.VAD.SampleRate, cfg.Audio.SampleRate))
	}
	return mErr.ErrorOrNil()
}

// Parse decodes YAML on top of Default() and validates the result.
// Durations are Go duration strings ("800ms", "30s").
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unable to parse the config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read the config file '%s': %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("unable to load '%s': %w", path, err)
	}
	return cfg, nil
}

// Bytes returns the YAML representation of the config.
func (cfg Config) Bytes() ([]byte, error) {
	return yaml.Marshal(cfg)
}
