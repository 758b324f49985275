// Package session wires the frame source, the voice activity classifier,
// the turn manager and the interruption monitor into a listening session.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/audio/framesource"
	"github.com/xaionaro-go/turntaking/pkg/config"
	"github.com/xaionaro-go/turntaking/pkg/echo"
	"github.com/xaionaro-go/turntaking/pkg/event"
	"github.com/xaionaro-go/turntaking/pkg/interruption"
	"github.com/xaionaro-go/turntaking/pkg/metrics"
	"github.com/xaionaro-go/turntaking/pkg/playback"
	"github.com/xaionaro-go/turntaking/pkg/turn"
	"github.com/xaionaro-go/turntaking/pkg/vad"
	"github.com/xaionaro-go/turntaking/pkg/voiceoutput"
	"github.com/xaionaro-go/turntaking/pkg/xchan"
)

var (
	// ErrSessionEnded is returned after the input stream ended by itself.
	ErrSessionEnded = errors.New("the session ended: the input stream is over")

	// ErrSessionStopped is returned after Stop was called.
	ErrSessionStopped = errors.New("the session was stopped")
)

// VADState is one entry of the live voice activity stream.
type VADState = interruption.State

type Session struct {
	ID      uuid.UUID
	Config  config.Config
	Metrics *metrics.Metrics

	source        *framesource.Source
	classifier    vad.Classifier
	micClassifier vad.Classifier
	echoDetector  *echo.Detector
	turns         *turn.Manager
	interruption  *interruption.Monitor
	playback      *playback.Controller
	voiceOutput   *voiceoutput.VoiceOutput

	// closers are the resources created (and so owned) by the session.
	closers []io.Closer

	eventsCh    chan event.Event
	vadStatesCh chan VADState
	doneCh      chan struct{}
	cancelFn    context.CancelFunc
	stopOnce    sync.Once
	stopErr     error

	locker      sync.Mutex
	stopping    bool
	termination Termination
	err         error

	droppedEvents uint64
}

// StartListening acquires the devices and starts emitting events.
// If there is no input device it returns a *audio.DeviceError of kind
// NoInputDevice and no session.
func StartListening(
	ctx context.Context,
	cfg config.Config,
	opts ...Option,
) (_ret *Session, _err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := Options(opts).config()

	id := uuid.New()
	ctx = logger.CtxWithLogger(ctx, logger.FromCtx(ctx).WithField("session_id", id.String()))
	logger.Debugf(ctx, "StartListening")
	defer func() { logger.Debugf(ctx, "/StartListening: %v", _err) }()

	s := &Session{
		ID:          id,
		Config:      cfg,
		eventsCh:    make(chan event.Event, cfg.Session.EventQueueSize),
		vadStatesCh: make(chan VADState, cfg.Session.VADStateQueueSize),
		doneCh:      make(chan struct{}),
	}
	defer func() {
		if _err != nil {
			if err := s.release(ctx); err != nil {
				logger.Errorf(ctx, "unable to release the resources: %v", err)
			}
		}
	}()

	if o.MetricsRegisterer != nil {
		m, err := metrics.New(o.MetricsRegisterer, prometheus.Labels{"session_id": id.String()})
		if err != nil {
			return nil, fmt.Errorf("unable to initialize the metrics: %w", err)
		}
		s.Metrics = m
		s.closers = append(s.closers, closerFunc(func() error {
			m.Unregister(o.MetricsRegisterer)
			return nil
		}))
	}

	if err := s.initSource(ctx, cfg, o); err != nil {
		return nil, err
	}
	if err := s.initPlayback(ctx, cfg, o); err != nil {
		return nil, err
	}
	if err := s.initClassifiers(ctx, cfg, o); err != nil {
		return nil, err
	}

	turns, err := turn.NewManager(cfg.Turn, s.Metrics)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the turn manager: %w", err)
	}
	s.turns = turns

	s.interruption = interruption.New(nil, s.Metrics)
	if s.playback != nil {
		s.interruption.Playback = s.playback
	}

	if err := s.source.Start(ctx); err != nil {
		return nil, err
	}

	ctx, s.cancelFn = context.WithCancel(ctx)
	observability.Go(ctx, func(ctx context.Context) {
		defer close(s.doneCh)
		s.loop(ctx)
	})
	return s, nil
}

func (s *Session) initSource(
	ctx context.Context,
	cfg config.Config,
	o options,
) error {
	recorder := o.Recorder
	if recorder == nil {
		r, err := audio.NewRecorderAuto(ctx)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, r)
		recorder = r
	}

	var loopback audio.LoopbackRecorderPCM
	if cfg.Audio.Loopback {
		loopback = o.LoopbackRecorder
		if loopback == nil {
			if l, ok := recorder.(audio.LoopbackRecorderPCM); ok && l.PingLoopback(ctx) == nil {
				loopback = l
			}
		}
		if loopback == nil {
			r, err := audio.NewLoopbackRecorderAuto(ctx)
			if err != nil {
				return err
			}
			s.closers = append(s.closers, r)
			loopback = r
		}
	}

	source, err := framesource.New(cfg.Audio, recorder, loopback, s.Metrics)
	if err != nil {
		return fmt.Errorf("unable to initialize the frame source: %w", err)
	}
	s.source = source
	s.closers = append(s.closers, source)
	return nil
}

func (s *Session) initPlayback(
	ctx context.Context,
	cfg config.Config,
	o options,
) error {
	player := o.Player
	if player == nil {
		p, err := audio.NewPlayerAuto(ctx)
		if err != nil {
			if !o.AllowMissingOutput {
				return err
			}
			logger.Warnf(ctx, "listening without the voice output: %v", err)
			return nil
		}
		s.closers = append(s.closers, p)
		player = p
	}

	pb, err := playback.NewController(cfg.Playback, player, s.Metrics)
	if err != nil {
		return fmt.Errorf("unable to initialize the playback: %w", err)
	}
	s.playback = pb
	s.voiceOutput = voiceoutput.New(pb)
	s.closers = append(s.closers, pb)
	return nil
}

func (s *Session) initClassifiers(
	ctx context.Context,
	cfg config.Config,
	o options,
) error {
	c, err := o.ClassifierFactory(ctx, cfg.VAD, s.Metrics)
	if err != nil {
		return fmt.Errorf("unable to initialize the voice activity classifier: %w", err)
	}
	s.classifier = c
	s.closers = append(s.closers, c)

	if !cfg.Audio.Loopback {
		return nil
	}
	if cfg.Echo.Enabled {
		d, err := echo.NewDetector(cfg.Echo, cfg.Audio.SampleRate)
		if err != nil {
			return fmt.Errorf("unable to initialize the echo detector: %w", err)
		}
		s.echoDetector = d
	}
	if !cfg.Session.MicOnlyInterruption {
		return nil
	}
	// the smoothing state must not be shared between the two streams
	c, err = o.ClassifierFactory(ctx, cfg.VAD, s.Metrics)
	if err != nil {
		return fmt.Errorf("unable to initialize the input-only voice activity classifier: %w", err)
	}
	s.micClassifier = c
	s.closers = append(s.closers, c)
	return nil
}

func (s *Session) loop(ctx context.Context) {
	logger.Debugf(ctx, "loop")
	defer func() { logger.Debugf(ctx, "/loop") }()
	defer close(s.vadStatesCh)
	defer close(s.eventsCh)

	frames := s.source.Frames()
	for {
		select {
		case <-ctx.Done():
			s.finish(ctx)
			return
		case frame, ok := <-frames:
			if !ok {
				s.finish(ctx)
				return
			}
			s.processFrame(ctx, frame)
		}
	}
}

func (s *Session) processFrame(ctx context.Context, frame *audio.Frame) {
	verdict := s.classify(ctx, s.classifier, frame)

	interruptionVerdict := verdict
	if s.micClassifier != nil {
		interruptionVerdict = s.classify(ctx, s.micClassifier, &audio.Frame{
			Index:         frame.Index,
			SampleRate:    frame.SampleRate,
			Samples:       frame.MicSamples,
			MicSamples:    frame.MicSamples,
			CapturedAt:    frame.CapturedAt,
			PaddedSamples: frame.PaddedSamples,
		})
	}

	state := VADState{
		FrameIndex: frame.Index,
		At:         frame.CapturedAt,
		Verdict:    interruptionVerdict,
	}
	xchan.SendDropOldest(s.vadStatesCh, state)

	interruptionState := state
	if s.echoDetector != nil {
		r := s.echoDetector.Observe(ctx, frame)
		if r.IsEcho && state.Verdict.IsSpeech() {
			logger.Tracef(ctx, "frame #%d is the echo of the playback (delay %v, confidence %.2f)", frame.Index, r.Delay, r.Confidence)
			s.Metrics.EchoDetected()
			interruptionState.Verdict.Activity = vad.ActivitySilence
		}
	}

	// the interruption must not wait for the turn to complete
	if ev := s.interruption.Observe(ctx, interruptionState); ev != nil {
		s.emit(ctx, ev)
	}
	for _, ev := range s.turns.Process(ctx, frame, verdict) {
		s.emit(ctx, ev)
	}
}

// classify never fails the session: a frame that could not be classified
// counts as silence, so the frame time keeps flowing through the turn manager.
func (s *Session) classify(
	ctx context.Context,
	c vad.Classifier,
	frame *audio.Frame,
) vad.Verdict {
	verdict, err := c.Classify(ctx, frame)
	if err != nil {
		logger.Errorf(ctx, "unable to classify frame #%d: %v", frame.Index, err)
		return vad.Verdict{Activity: vad.ActivitySilence}
	}
	return verdict
}

func (s *Session) emit(ctx context.Context, ev event.Event) {
	logger.Tracef(ctx, "event: %s", ev)
	s.Metrics.EventEmitted(ev.Kind().String())
	dropped, isDropped := xchan.SendDropOldest(s.eventsCh, ev)
	if !isDropped {
		return
	}
	s.droppedEvents++
	s.Metrics.EventDropped(dropped.Kind().String())
	logger.Warnf(ctx, "the event queue is full, dropped the oldest event %s (total dropped: %d)", dropped, s.droppedEvents)
}

// finish records why the session ended. A partially accumulated turn is
// abandoned, never committed.
func (s *Session) finish(ctx context.Context) {
	s.turns.Abandon(ctx)

	s.locker.Lock()
	defer s.locker.Unlock()
	switch {
	case s.stopping:
		s.termination = TerminationStopped
		s.err = ErrSessionStopped
	case s.source.Err() != nil:
		s.termination = TerminationDeviceFailure
		s.err = s.source.Err()
	case ctx.Err() != nil:
		// the context given to StartListening was cancelled
		s.termination = TerminationStopped
		s.err = ErrSessionStopped
	default:
		s.termination = TerminationInputEnded
		s.err = ErrSessionEnded
	}
	logger.Debugf(ctx, "the session terminated: %s: %v", s.termination, s.err)
}

// NextEvent blocks until the next event. After the session terminated and
// all queued events are consumed, it returns Err().
func (s *Session) NextEvent(ctx context.Context) (event.Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev, ok := <-s.eventsCh:
		if !ok {
			return nil, s.Err()
		}
		return ev, nil
	}
}

// Events returns the event channel; it is closed when the session terminates.
func (s *Session) Events() <-chan event.Event {
	return s.eventsCh
}

// VADStates returns the live voice activity stream. When nobody reads it,
// the oldest states are dropped.
func (s *Session) VADStates() <-chan VADState {
	return s.vadStatesCh
}

// VoiceOutput returns nil if the session has no output device.
func (s *Session) VoiceOutput() *voiceoutput.VoiceOutput {
	return s.voiceOutput
}

// Termination returns TerminationRunning until the session terminates.
func (s *Session) Termination() Termination {
	s.locker.Lock()
	defer s.locker.Unlock()
	return s.termination
}

// Err returns nil while the session runs. Then it returns ErrSessionStopped,
// ErrSessionEnded or the *audio.DeviceError the session failed with.
func (s *Session) Err() error {
	s.locker.Lock()
	defer s.locker.Unlock()
	return s.err
}

// Done is closed when the session terminates.
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}

// Stop terminates the session and releases the devices; the playback is
// stopped as well. It is safe to call multiple times and concurrently.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		ctx := context.Background()
		s.locker.Lock()
		if s.termination == TerminationRunning {
			s.stopping = true
		}
		s.locker.Unlock()

		s.cancelFn()
		<-s.doneCh
		s.stopErr = s.release(ctx)
	})
	return s.stopErr
}

func (s *Session) release(ctx context.Context) error {
	var mErr *multierror.Error
	for idx := len(s.closers) - 1; idx >= 0; idx-- {
		c := s.closers[idx]
		if err := c.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to close %T: %w", c, err))
		}
	}
	s.closers = nil
	if err := mErr.ErrorOrNil(); err != nil {
		logger.Errorf(ctx, "%v", err)
		return err
	}
	return nil
}

type closerFunc func() error

func (fn closerFunc) Close() error {
	return fn()
}
