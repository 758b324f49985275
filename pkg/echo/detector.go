// Package echo recognizes the played audio leaking from the speakers back
// into the input device.
//
// With the loopback capture enabled the played audio is known, so a speech
// verdict on the input device can be checked against it: if the input is a
// delayed copy of what is being played, it is the echo of the assistant and
// not the user barging in.
package echo

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/turntaking/pkg/audio"
)

const (
	DefaultWindow           = 256 * time.Millisecond
	DefaultMaxDelay         = 200 * time.Millisecond
	DefaultMinConfidence    = 0.3
	DefaultMinFreq          = 100
	DefaultMaxFreq          = 4000
	DefaultMinLoopbackLevel = 0.001
)

type Config struct {
	// Enabled turns the detection on; it has an effect only with the
	// loopback capture.
	Enabled bool `yaml:"enabled"`

	// Window is how much of the recent audio is correlated.
	Window time.Duration `yaml:"window"`

	// MaxDelay is the longest acoustic path (plus the device latencies)
	// between the played audio and its echo.
	MaxDelay time.Duration `yaml:"max_delay"`

	// MinConfidence is the correlation above which the input is an echo.
	MinConfidence float64 `yaml:"min_confidence"`

	MinFreq float64 `yaml:"min_freq"`
	MaxFreq float64 `yaml:"max_freq"`

	// MinLoopbackLevel is the RMS of the loopback window below which
	// nothing is considered to be played.
	MinLoopbackLevel float64 `yaml:"min_loopback_level"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		Window:           DefaultWindow,
		MaxDelay:         DefaultMaxDelay,
		MinConfidence:    DefaultMinConfidence,
		MinFreq:          DefaultMinFreq,
		MaxFreq:          DefaultMaxFreq,
		MinLoopbackLevel: DefaultMinLoopbackLevel,
	}
}

func (cfg Config) Validate() error {
	switch {
	case cfg.Window <= 0:
		return fmt.Errorf("window must be positive")
	case cfg.MaxDelay < 0:
		return fmt.Errorf("max_delay must not be negative")
	case cfg.MaxDelay >= cfg.Window:
		return fmt.Errorf("max_delay (%v) must be shorter than the window (%v)", cfg.MaxDelay, cfg.Window)
	case cfg.MinConfidence <= 0 || cfg.MinConfidence > 1:
		return fmt.Errorf("min_confidence must be within (0, 1], got %v", cfg.MinConfidence)
	case cfg.MinFreq < 0:
		return fmt.Errorf("min_freq must not be negative")
	case cfg.MaxFreq != 0 && cfg.MaxFreq <= cfg.MinFreq:
		return fmt.Errorf("max_freq (%v) must exceed min_freq (%v)", cfg.MaxFreq, cfg.MinFreq)
	case cfg.MinLoopbackLevel < 0:
		return fmt.Errorf("min_loopback_level must not be negative")
	}
	return nil
}

type Result struct {
	// Delay is the estimated lag of the input behind the played audio.
	Delay      time.Duration
	Confidence float64
	IsEcho     bool
}

// Detector keeps the recent input and loopback audio. It is not safe for
// concurrent use.
type Detector struct {
	Config     Config
	SampleRate audio.SampleRate

	windowSize int
	mic        []float64
	loopback   []float64
}

func NewDetector(
	cfg Config,
	sampleRate audio.SampleRate,
) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if sampleRate == 0 {
		return nil, fmt.Errorf("the sample rate is mandatory")
	}
	windowSize := int(cfg.Window.Seconds() * float64(sampleRate))
	return &Detector{
		Config:     cfg,
		SampleRate: sampleRate,
		windowSize: windowSize,
		mic:        make([]float64, 0, windowSize*2),
		loopback:   make([]float64, 0, windowSize*2),
	}, nil
}

// Observe appends the frame to the windows and tells if the input audio
// of the latest window is the echo of the loopback audio.
func (d *Detector) Observe(
	ctx context.Context,
	frame *audio.Frame,
) Result {
	if frame.LoopbackSamples == nil {
		// the loopback stream ended; the stale windows must not be used
		d.Reset()
		return Result{}
	}
	d.mic = appendWindow(d.mic, frame.MicSamples, d.windowSize)
	d.loopback = appendWindow(d.loopback, frame.LoopbackSamples, d.windowSize)
	if len(d.mic) < d.windowSize || len(d.loopback) < d.windowSize {
		return Result{}
	}
	if rms(d.loopback) < d.Config.MinLoopbackLevel {
		return Result{}
	}

	delay, confidence, err := Correlate(d.loopback, d.mic, float64(d.SampleRate), d.Config.MinFreq, d.Config.MaxFreq)
	if err != nil {
		logger.Errorf(ctx, "unable to correlate frame #%d: %v", frame.Index, err)
		return Result{}
	}

	result := Result{
		Delay:      time.Duration(delay * float64(time.Second) / float64(d.SampleRate)),
		Confidence: confidence,
	}
	// a sub-sample negative lag is an estimation error, not a causality violation
	result.IsEcho = confidence >= d.Config.MinConfidence &&
		delay > -1 &&
		result.Delay <= d.Config.MaxDelay
	logger.Tracef(ctx, "echo at frame #%d: %#+v", frame.Index, result)
	return result
}

func (d *Detector) Reset() {
	d.mic = d.mic[:0]
	d.loopback = d.loopback[:0]
}

func appendWindow(window []float64, samples []float32, size int) []float64 {
	for _, v := range samples {
		window = append(window, float64(v))
	}
	if len(window) <= size {
		return window
	}
	// shift in place so the backing array does not grow
	n := copy(window, window[len(window)-size:])
	return window[:n]
}

func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
