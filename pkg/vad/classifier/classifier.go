// Package classifier turns the speech probability of a vad.Model into
// smoothed Speech/Silence verdicts.
package classifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/metrics"
	"github.com/xaionaro-go/turntaking/pkg/vad"
	"github.com/xaionaro-go/turntaking/pkg/vad/implementations/energy"
	"github.com/xaionaro-go/turntaking/pkg/vad/implementations/rnnoise"
	"github.com/xaionaro-go/turntaking/pkg/vad/implementations/webrtc"
)

type ModelFactory func(ctx context.Context, cfg Config) (vad.Model, error)

func DefaultModelFactory(ctx context.Context, cfg Config) (vad.Model, error) {
	switch cfg.Model {
	case ModelNameWebRTC:
		m, err := webrtc.New(ctx, cfg.SampleRate, cfg.WebRTCMode)
		if err != nil {
			return nil, err
		}
		return m, nil
	case ModelNameEnergy:
		return energy.New(cfg.SampleRate, energy.DefaultConfig()), nil
	case ModelNameRNNoise:
		m, err := rnnoise.New(ctx, cfg.SampleRate)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown model '%s'", cfg.Model)
	}
}

type Classifier struct {
	Config  Config
	Metrics *metrics.Metrics

	Locker   sync.Mutex
	Model    vad.Model
	Degraded bool

	activity vad.Activity
	pending  int // samples
}

var _ vad.Classifier = (*Classifier)(nil)

func New(
	ctx context.Context,
	cfg Config,
	m *metrics.Metrics,
) (*Classifier, error) {
	return NewWithModelFactory(ctx, cfg, m, DefaultModelFactory)
}

// NewWithModelFactory creates a classifier; if the factory fails, the
// classifier runs degraded on the energy heuristic instead of failing.
func NewWithModelFactory(
	ctx context.Context,
	cfg Config,
	m *metrics.Metrics,
	factory ModelFactory,
) (_ret *Classifier, _err error) {
	logger.Debugf(ctx, "NewWithModelFactory(%#+v)", cfg)
	defer func() { logger.Debugf(ctx, "/NewWithModelFactory(%#+v): %v", cfg, _err) }()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Classifier{
		Config:  cfg,
		Metrics: m,
	}
	model, err := factory(ctx, cfg)
	if err != nil {
		c.degrade(ctx, &vad.VadError{Kind: vad.ErrorKindModelInit, Err: err})
	} else {
		c.Model = model
		m.SetClassifierDegraded(false)
	}
	return c, nil
}

func (c *Classifier) degrade(ctx context.Context, reason error) {
	logger.Warnf(ctx, "%v; falling back to the energy heuristic", reason)
	if c.Model != nil {
		if err := c.Model.Close(); err != nil {
			logger.Errorf(ctx, "unable to close the model: %v", err)
		}
	}
	c.Model = energy.New(c.Config.SampleRate, energy.DefaultConfig())
	c.Degraded = true
	c.Metrics.SetClassifierDegraded(true)
}

func (c *Classifier) Classify(
	ctx context.Context,
	frame *audio.Frame,
) (_ret vad.Verdict, _err error) {
	logger.Tracef(ctx, "Classify(#%d)", frame.Index)
	defer func() { logger.Tracef(ctx, "/Classify(#%d): %#+v %v", frame.Index, _ret, _err) }()

	if frame.SampleRate != c.Config.SampleRate {
		return vad.Verdict{}, &vad.VadError{
			Kind: vad.ErrorKindSampleRateMismatch,
			Err:  fmt.Errorf("expected %d Hz, got %d Hz", c.Config.SampleRate, frame.SampleRate),
		}
	}

	c.Locker.Lock()
	defer c.Locker.Unlock()
	if c.Model == nil {
		return vad.Verdict{}, fmt.Errorf("the classifier is closed")
	}

	startedAt := time.Now()
	confidence, err := c.Model.SpeechProbability(ctx, frame.Samples)
	if err != nil {
		if c.Degraded {
			return vad.Verdict{}, &vad.VadError{Kind: vad.ErrorKindInference, Err: err}
		}
		c.degrade(ctx, &vad.VadError{Kind: vad.ErrorKindInference, Err: err})
		confidence, err = c.Model.SpeechProbability(ctx, frame.Samples)
		if err != nil {
			return vad.Verdict{}, &vad.VadError{Kind: vad.ErrorKindInference, Err: err}
		}
	}

	raw := vad.ActivitySilence
	if confidence >= c.Config.SpeechThreshold {
		raw = vad.ActivitySpeech
	}
	activity := c.smooth(raw, len(frame.Samples))
	c.Metrics.Classified(activity.String(), time.Since(startedAt))

	return vad.Verdict{
		Activity:   activity,
		Confidence: confidence,
		Degraded:   c.Degraded,
	}, nil
}

// smooth switches the reported activity only after the raw activity
// persisted for the configured duration (measured in frame time, counted
// in samples).
func (c *Classifier) smooth(raw vad.Activity, frameSize int) vad.Activity {
	if raw == c.activity {
		c.pending = 0
		return c.activity
	}

	required := c.Config.MinSilenceSmoothing
	if raw == vad.ActivitySpeech {
		required = c.Config.MinSpeechDuration
	}
	c.pending += frameSize
	if audio.FrameDuration(c.pending, c.Config.SampleRate) >= required {
		c.activity = raw
		c.pending = 0
	}
	return c.activity
}

func (c *Classifier) Close() error {
	c.Locker.Lock()
	defer c.Locker.Unlock()
	if c.Model == nil {
		return nil
	}
	err := c.Model.Close()
	c.Model = nil
	if err != nil {
		return fmt.Errorf("unable to close the model: %w", err)
	}
	return nil
}
