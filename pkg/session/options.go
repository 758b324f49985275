package session

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/metrics"
	"github.com/xaionaro-go/turntaking/pkg/vad"
	"github.com/xaionaro-go/turntaking/pkg/vad/classifier"
)

// ClassifierFactory creates a classifier for the frames of the session.
// It is called once, or twice if the interruptions are gated on the
// input device alone.
type ClassifierFactory func(ctx context.Context, cfg classifier.Config, m *metrics.Metrics) (vad.Classifier, error)

func defaultClassifierFactory(ctx context.Context, cfg classifier.Config, m *metrics.Metrics) (vad.Classifier, error) {
	return classifier.New(ctx, cfg, m)
}

type options struct {
	Recorder           audio.RecorderPCM
	LoopbackRecorder   audio.LoopbackRecorderPCM
	Player             audio.PlayerPCM
	ClassifierFactory  ClassifierFactory
	MetricsRegisterer  prometheus.Registerer
	AllowMissingOutput bool
}

type Option func(*options)

type Options []Option

func (s Options) config() options {
	cfg := options{
		ClassifierFactory:  defaultClassifierFactory,
		AllowMissingOutput: true,
	}
	for _, opt := range s {
		opt(&cfg)
	}
	return cfg
}

// WithRecorder sets the input device instead of probing the registered
// backends. The recorder stays owned by the caller.
func WithRecorder(recorder audio.RecorderPCM) Option {
	return func(cfg *options) {
		cfg.Recorder = recorder
	}
}

// WithLoopbackRecorder sets the device capturing the system output;
// it is used only if the loopback is enabled in the config.
func WithLoopbackRecorder(recorder audio.LoopbackRecorderPCM) Option {
	return func(cfg *options) {
		cfg.LoopbackRecorder = recorder
	}
}

// WithPlayer sets the output device. The player stays owned by the caller.
func WithPlayer(player audio.PlayerPCM) Option {
	return func(cfg *options) {
		cfg.Player = player
	}
}

func WithClassifierFactory(factory ClassifierFactory) Option {
	return func(cfg *options) {
		cfg.ClassifierFactory = factory
	}
}

// WithMetricsRegisterer enables the metrics; they are labeled by the session ID.
func WithMetricsRegisterer(registerer prometheus.Registerer) Option {
	return func(cfg *options) {
		cfg.MetricsRegisterer = registerer
	}
}

// WithRequireOutput makes StartListening fail if there is no output device,
// instead of listening without the voice output.
func WithRequireOutput() Option {
	return func(cfg *options) {
		cfg.AllowMissingOutput = false
	}
}
