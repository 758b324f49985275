// Package metrics provides per-session Prometheus metrics of the turn-taking pipeline.
//
// Every session registers its own set of collectors into the registerer it was
// given, so independent sessions never share counters. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "turntaking"

type Metrics struct {
	FramesTotal              prometheus.Counter
	FrameOverrunsTotal       prometheus.Counter
	CaptureOverrunBytesTotal prometheus.Counter
	CapturedBytes            prometheus.Gauge
	ClassifyDuration         prometheus.Histogram
	ClassifierDegraded       prometheus.Gauge
	VerdictsTotal            *prometheus.CounterVec
	EventsTotal              *prometheus.CounterVec
	EventsDroppedTotal       *prometheus.CounterVec
	TurnsCommittedTotal      *prometheus.CounterVec
	TurnsDiscardedTotal      prometheus.Counter
	TurnDuration             prometheus.Histogram
	InterruptionsTotal       prometheus.Counter
	EchoFramesTotal          prometheus.Counter
	PlaybackActive           prometheus.Gauge
}

// New creates the collectors and registers them. constLabels are attached to
// every metric (e.g. a session ID when several sessions share a registry).
func New(
	registerer prometheus.Registerer,
	constLabels prometheus.Labels,
) (*Metrics, error) {
	m := &Metrics{
		FramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "frames_total",
			Help:        "Total number of audio frames emitted by the frame source",
			ConstLabels: constLabels,
		}),
		FrameOverrunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "frame_overruns_total",
			Help:        "Total number of frames dropped because the consumer did not keep up",
			ConstLabels: constLabels,
		}),
		CaptureOverrunBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "capture_overrun_bytes_total",
			Help:        "Total number of captured bytes dropped from the capture ring buffer",
			ConstLabels: constLabels,
		}),
		CapturedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "captured_bytes",
			Help:        "Amount of bytes received from the input device(s) so far",
			ConstLabels: constLabels,
		}),
		ClassifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "classify_duration_seconds",
			Help:        "Histogram of per-frame voice activity classification duration",
			Buckets:     []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .03},
			ConstLabels: constLabels,
		}),
		ClassifierDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "classifier_degraded",
			Help:        "1 if the voice activity classifier fell back to the energy heuristic",
			ConstLabels: constLabels,
		}),
		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "verdicts_total",
			Help:        "Total number of voice activity verdicts",
			ConstLabels: constLabels,
		}, []string{"activity"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "events_total",
			Help:        "Total number of turn events emitted",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		EventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "events_dropped_total",
			Help:        "Total number of turn events dropped because the consumer stalled",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		TurnsCommittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "turns_committed_total",
			Help:        "Total number of committed turns",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		TurnsDiscardedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "turns_discarded_total",
			Help:        "Total number of turns discarded as too short",
			ConstLabels: constLabels,
		}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "turn_duration_seconds",
			Help:        "Histogram of committed turn durations",
			Buckets:     []float64{.5, 1, 2, 3, 5, 8, 13, 20, 30},
			ConstLabels: constLabels,
		}),
		InterruptionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "interruptions_total",
			Help:        "Total number of barge-ins that stopped the playback",
			ConstLabels: constLabels,
		}),
		EchoFramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "echo_frames_total",
			Help:        "Total number of speech frames recognized as the played audio leaking into the input device",
			ConstLabels: constLabels,
		}),
		PlaybackActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "playback_active",
			Help:        "1 while synthesized speech is being played",
			ConstLabels: constLabels,
		}),
	}

	var (
		mErr       *multierror.Error
		registered []prometheus.Collector
	)
	for _, c := range m.collectors() {
		if err := registerer.Register(c); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to register a collector: %w", err))
			continue
		}
		registered = append(registered, c)
	}
	if err := mErr.ErrorOrNil(); err != nil {
		for _, c := range registered {
			registerer.Unregister(c)
		}
		return nil, err
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FramesTotal,
		m.FrameOverrunsTotal,
		m.CaptureOverrunBytesTotal,
		m.CapturedBytes,
		m.ClassifyDuration,
		m.ClassifierDegraded,
		m.VerdictsTotal,
		m.EventsTotal,
		m.EventsDroppedTotal,
		m.TurnsCommittedTotal,
		m.TurnsDiscardedTotal,
		m.TurnDuration,
		m.InterruptionsTotal,
		m.EchoFramesTotal,
		m.PlaybackActive,
	}
}

// Unregister removes the collectors, e.g. when the session is over.
func (m *Metrics) Unregister(registerer prometheus.Registerer) {
	if m == nil {
		return
	}
	for _, c := range m.collectors() {
		registerer.Unregister(c)
	}
}

func (m *Metrics) FrameEmitted() {
	if m == nil {
		return
	}
	m.FramesTotal.Inc()
}

func (m *Metrics) FrameOverrun() {
	if m == nil {
		return
	}
	m.FrameOverrunsTotal.Inc()
}

func (m *Metrics) CaptureOverrun(bytes int) {
	if m == nil {
		return
	}
	m.CaptureOverrunBytesTotal.Add(float64(bytes))
}

func (m *Metrics) SetCapturedBytes(bytes uint64) {
	if m == nil {
		return
	}
	m.CapturedBytes.Set(float64(bytes))
}

func (m *Metrics) Classified(activity string, took time.Duration) {
	if m == nil {
		return
	}
	m.VerdictsTotal.WithLabelValues(activity).Inc()
	m.ClassifyDuration.Observe(took.Seconds())
}

func (m *Metrics) SetClassifierDegraded(degraded bool) {
	if m == nil {
		return
	}
	m.ClassifierDegraded.Set(boolToFloat(degraded))
}

func (m *Metrics) EventEmitted(kind string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventDropped(kind string) {
	if m == nil {
		return
	}
	m.EventsDroppedTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) TurnCommitted(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TurnsCommittedTotal.WithLabelValues(reason).Inc()
	m.TurnDuration.Observe(duration.Seconds())
}

func (m *Metrics) TurnDiscarded() {
	if m == nil {
		return
	}
	m.TurnsDiscardedTotal.Inc()
}

func (m *Metrics) Interrupted() {
	if m == nil {
		return
	}
	m.InterruptionsTotal.Inc()
}

func (m *Metrics) EchoDetected() {
	if m == nil {
		return
	}
	m.EchoFramesTotal.Inc()
}

func (m *Metrics) SetPlaybackActive(active bool) {
	if m == nil {
		return
	}
	m.PlaybackActive.Set(boolToFloat(active))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
