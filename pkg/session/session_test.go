package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
	"github.com/xaionaro-go/turntaking/pkg/config"
	"github.com/xaionaro-go/turntaking/pkg/event"
	"github.com/xaionaro-go/turntaking/pkg/metrics"
	"github.com/xaionaro-go/turntaking/pkg/playback"
	"github.com/xaionaro-go/turntaking/pkg/vad"
	"github.com/xaionaro-go/turntaking/pkg/vad/classifier"
	"github.com/xaionaro-go/turntaking/pkg/voiceoutput"
)

const (
	frameSize = 480
	loud      = 0.5
)

// amplitudeClassifier is a deterministic stand-in for the VAD model.
type amplitudeClassifier struct{}

func (amplitudeClassifier) Close() error { return nil }

func (amplitudeClassifier) Classify(_ context.Context, frame *audio.Frame) (vad.Verdict, error) {
	var peak float64
	for _, v := range frame.Samples {
		peak = max(peak, math.Abs(float64(v)))
	}
	if peak > 0.1 {
		return vad.Verdict{Activity: vad.ActivitySpeech, Confidence: 1}, nil
	}
	return vad.Verdict{Activity: vad.ActivitySilence}, nil
}

type countingFactory struct {
	calls atomic.Int32
}

func (f *countingFactory) New(context.Context, classifier.Config, *metrics.Metrics) (vad.Classifier, error) {
	f.calls.Add(1)
	return amplitudeClassifier{}, nil
}

func frames(v float32, count int) []byte {
	result := make([]byte, count*frameSize*4)
	for idx := 0; idx < count*frameSize; idx++ {
		binary.LittleEndian.PutUint32(result[idx*4:], math.Float32bits(v))
	}
	return result
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Audio.CaptureBufferDuration = 10 * time.Second
	cfg.Audio.DeviceStallTimeout = 0
	return cfg
}

func newRecorder(r io.Reader) *audio.RecorderPCMReader {
	return audio.NewRecorderPCMReader(r, 16000, 1, audio.PCMFormatFloat32LE, false)
}

func testOptions(recorder audio.RecorderPCM) []Option {
	return []Option{
		WithRecorder(recorder),
		WithPlayer(audio.PlayerPCMDiscard{}),
		WithClassifierFactory((&countingFactory{}).New),
	}
}

func collectEvents(t *testing.T, s *Session) ([]event.Event, error) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFn()
	var events []event.Event
	for {
		ev, err := s.NextEvent(ctx)
		if err != nil {
			require.NotErrorIs(t, err, context.DeadlineExceeded, spew.Sdump(events))
			return events, err
		}
		events = append(events, ev)
	}
}

func kinds(events []event.Event) []event.Kind {
	var result []event.Kind
	for _, ev := range events {
		result = append(result, ev.Kind())
	}
	return result
}

func longSpeech() *voiceoutput.Synthesis {
	return &voiceoutput.Synthesis{
		PCM: &playback.PCM{
			Reader:     bytes.NewReader(make([]byte, 48000*10*4)),
			SampleRate: 48000,
			Channels:   1,
			Format:     audio.PCMFormatFloat32LE,
		},
	}
}

func TestNoInputDevice(t *testing.T) {
	s, err := StartListening(context.Background(), config.Default())
	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, types.ErrNoInputDevice), err)

	var deviceErr *types.DeviceError
	require.True(t, errors.As(err, &deviceErr))
	assert.Equal(t, types.DeviceErrorKindNoInputDevice, deviceErr.Kind)
}

func TestInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Turn.SilenceGapDuration = 0
	_, err := StartListening(context.Background(), cfg, testOptions(newRecorder(bytes.NewReader(nil)))...)
	require.Error(t, err)
}

func TestTurnFromTheInputStream(t *testing.T) {
	input := append(frames(loud, 40), frames(0, 30)...)
	s, err := StartListening(context.Background(), testConfig(), testOptions(newRecorder(bytes.NewReader(input)))...)
	require.NoError(t, err)
	defer s.Stop()

	events, err := collectEvents(t, s)
	require.ErrorIs(t, err, ErrSessionEnded)
	assert.Equal(t, TerminationInputEnded, s.Termination())
	assert.False(t, s.Termination().IsFatal())

	require.Equal(t, []event.Kind{
		event.KindSpeechStarted,
		event.KindSpeechContinuing,
		event.KindSpeechContinuing,
		event.KindSpeechContinuing,
		event.KindSpeechContinuing,
		event.KindSpeechEnded,
		event.KindTurnCommitted,
	}, kinds(events), spew.Sdump(events))

	turn := events[6].(*event.TurnCommitted).Turn
	assert.Len(t, turn.Samples, 67*frameSize)
	assert.Equal(t, uint64(66), turn.EndIndex)
	assert.Equal(t, events[0].(*event.SpeechStarted).TurnID, turn.ID)

	var last VADState
	for state := range s.VADStates() {
		last = state
	}
	assert.Equal(t, uint64(69), last.FrameIndex)
	assert.Equal(t, vad.ActivitySilence, last.Verdict.Activity)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Err(), ErrSessionEnded, "stopping an ended session does not change why it ended")
}

func TestEventQueueDropsOldest(t *testing.T) {
	registry := prometheus.NewRegistry()
	cfg := testConfig()
	cfg.Session.EventQueueSize = 1
	input := append(frames(loud, 40), frames(0, 30)...)
	opts := append(testOptions(newRecorder(bytes.NewReader(input))), WithMetricsRegisterer(registry))

	s, err := StartListening(context.Background(), cfg, opts...)
	require.NoError(t, err)
	defer s.Stop()
	<-s.Done()

	events, err := collectEvents(t, s)
	require.ErrorIs(t, err, ErrSessionEnded)
	require.Equal(t, []event.Kind{event.KindTurnCommitted}, kinds(events), spew.Sdump(events))

	assert.Equal(t, float64(1), testutil.ToFloat64(s.Metrics.EventsDroppedTotal.WithLabelValues("speech_started")))
	assert.Equal(t, float64(4), testutil.ToFloat64(s.Metrics.EventsDroppedTotal.WithLabelValues("speech_continuing")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.Metrics.EventsDroppedTotal.WithLabelValues("speech_ended")))
	assert.Equal(t, float64(70), testutil.ToFloat64(s.Metrics.FramesTotal))

	require.NoError(t, s.Stop())
	count, err := testutil.GatherAndCount(registry)
	require.NoError(t, err)
	assert.Zero(t, count, "the session unregisters its metrics")
}

// failingRecorder opens a stream that fails right away, like an unplugged device.
type failingRecorder struct{}

func (failingRecorder) Close() error               { return nil }
func (failingRecorder) Ping(context.Context) error { return nil }
func (failingRecorder) RecordPCM(
	context.Context,
	audio.SampleRate,
	audio.Channel,
	audio.PCMFormat,
	io.Writer,
) (audio.RecordStream, error) {
	return failingStream{}, nil
}

type failingStream struct{}

func (failingStream) Close() error               { return nil }
func (failingStream) Wait(context.Context) error { return errors.New("unplugged") }

func TestDeviceFailure(t *testing.T) {
	s, err := StartListening(context.Background(), testConfig(), testOptions(failingRecorder{})...)
	require.NoError(t, err)
	defer s.Stop()

	_, err = collectEvents(t, s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDisconnected), err)
	assert.NotErrorIs(t, err, ErrSessionEnded)
	assert.Equal(t, TerminationDeviceFailure, s.Termination())
	assert.True(t, s.Termination().IsFatal())
}

func TestInterruption(t *testing.T) {
	ctx := context.Background()
	pr, pw := io.Pipe()
	s, err := StartListening(ctx, testConfig(), testOptions(newRecorder(pr))...)
	require.NoError(t, err)
	defer s.Stop()
	assert.Equal(t, TerminationRunning, s.Termination())
	assert.NoError(t, s.Err())

	out := s.VoiceOutput()
	require.NotNil(t, out)
	require.NoError(t, out.Speak(ctx, "hello", voiceoutput.SynthesisBackendFunc(func(context.Context, string) (*voiceoutput.Synthesis, error) {
		return longSpeech(), nil
	})))
	require.True(t, out.IsPlaying())

	go func() {
		_, _ = pw.Write(append(frames(0, 5), frames(loud, 10)...))
	}()

	var events []event.Event
	for len(events) < 2 {
		ev, err := s.NextEvent(ctx)
		require.NoError(t, err)
		events = append(events, ev)
	}
	require.Equal(t, []event.Kind{event.KindInterruption, event.KindSpeechStarted}, kinds(events), spew.Sdump(events))
	assert.Equal(t, uint64(5), events[0].(*event.Interruption).FrameIndex)
	assert.False(t, out.IsPlaying())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.Equal(t, TerminationStopped, s.Termination())

	rest, err := collectEvents(t, s)
	require.ErrorIs(t, err, ErrSessionStopped)
	for _, ev := range rest {
		assert.NotEqual(t, event.KindInterruption, ev.Kind(), "the speech is interrupted once")
		assert.NotEqual(t, event.KindTurnCommitted, ev.Kind(), "a partial turn is abandoned on stop")
	}
}

type loopbackRecorder struct {
	*audio.RecorderPCMReader
	Loopback *audio.RecorderPCMReader
}

func (r *loopbackRecorder) PingLoopback(ctx context.Context) error {
	return r.Loopback.Ping(ctx)
}

func (r *loopbackRecorder) RecordLoopbackPCM(
	ctx context.Context,
	sampleRate audio.SampleRate,
	channels audio.Channel,
	format audio.PCMFormat,
	writer io.Writer,
) (audio.RecordStream, error) {
	return r.Loopback.RecordPCM(ctx, sampleRate, channels, format, writer)
}

func TestLoopbackDoesNotInterruptItself(t *testing.T) {
	ctx := context.Background()
	micR, micW := io.Pipe()
	loopbackR, loopbackW := io.Pipe()
	recorder := &loopbackRecorder{
		RecorderPCMReader: newRecorder(micR),
		Loopback:          newRecorder(loopbackR),
	}
	cfg := testConfig()
	cfg.Audio.Loopback = true
	cfg.Session.MicOnlyInterruption = true
	factory := &countingFactory{}

	s, err := StartListening(ctx, cfg,
		WithRecorder(recorder),
		WithLoopbackRecorder(recorder),
		WithPlayer(audio.PlayerPCMDiscard{}),
		WithClassifierFactory(factory.New),
	)
	require.NoError(t, err)
	defer s.Stop()
	assert.Equal(t, int32(2), factory.calls.Load())

	out := s.VoiceOutput()
	require.NoError(t, out.Speak(ctx, "hello", voiceoutput.SynthesisBackendFunc(func(context.Context, string) (*voiceoutput.Synthesis, error) {
		return longSpeech(), nil
	})))

	go func() {
		_, _ = micW.Write(frames(0, 20))
		_ = micW.Close()
	}()
	go func() {
		_, _ = loopbackW.Write(frames(loud, 20))
		_ = loopbackW.Close()
	}()

	events, err := collectEvents(t, s)
	require.ErrorIs(t, err, ErrSessionEnded)
	require.NotEmpty(t, events)
	assert.Equal(t, event.KindSpeechStarted, events[0].Kind(), "the mixed stream still carries speech")
	assert.NotContains(t, kinds(events), event.KindInterruption, spew.Sdump(events))
	assert.True(t, out.IsPlaying())
}

func samplesToBytes(samples []float32) []byte {
	result := make([]byte, len(samples)*4)
	for idx, v := range samples {
		binary.LittleEndian.PutUint32(result[idx*4:], math.Float32bits(v))
	}
	return result
}

func TestEchoDoesNotInterrupt(t *testing.T) {
	const (
		silentFrames = 12
		playedFrames = 20
		lag          = 40
	)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(1))
	played := make([]float32, (silentFrames+playedFrames)*frameSize)
	for idx := silentFrames * frameSize; idx < len(played); idx++ {
		played[idx] = rng.Float32() - 0.5
	}
	echoed := make([]float32, len(played))
	for idx := lag; idx < len(echoed); idx++ {
		echoed[idx] = 0.5 * played[idx-lag]
	}

	micR, micW := io.Pipe()
	loopbackR, loopbackW := io.Pipe()
	recorder := &loopbackRecorder{
		RecorderPCMReader: newRecorder(micR),
		Loopback:          newRecorder(loopbackR),
	}
	cfg := testConfig()
	cfg.Audio.Loopback = true
	registry := prometheus.NewRegistry()

	s, err := StartListening(ctx, cfg,
		WithRecorder(recorder),
		WithLoopbackRecorder(recorder),
		WithPlayer(audio.PlayerPCMDiscard{}),
		WithClassifierFactory((&countingFactory{}).New),
		WithMetricsRegisterer(registry),
	)
	require.NoError(t, err)
	defer s.Stop()
	require.NotNil(t, s.echoDetector)

	out := s.VoiceOutput()
	require.NoError(t, out.Speak(ctx, "hello", voiceoutput.SynthesisBackendFunc(func(context.Context, string) (*voiceoutput.Synthesis, error) {
		return longSpeech(), nil
	})))

	go func() {
		_, _ = micW.Write(samplesToBytes(echoed))
		_ = micW.Close()
	}()
	go func() {
		_, _ = loopbackW.Write(samplesToBytes(played))
		_ = loopbackW.Close()
	}()

	var speechStates int
	for state := range s.VADStates() {
		if state.Verdict.IsSpeech() {
			speechStates++
		}
	}
	events, err := collectEvents(t, s)
	require.ErrorIs(t, err, ErrSessionEnded)
	assert.Positive(t, speechStates, "the input device alone carries the echo")
	assert.NotContains(t, kinds(events), event.KindInterruption, spew.Sdump(events))
	assert.True(t, out.IsPlaying())
	assert.Positive(t, testutil.ToFloat64(s.Metrics.EchoFramesTotal))
}
