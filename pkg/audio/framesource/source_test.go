package framesource

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

func float32LE(samples ...float32) []byte {
	result := make([]byte, len(samples)*4)
	for idx, v := range samples {
		binary.LittleEndian.PutUint32(result[idx*4:], math.Float32bits(v))
	}
	return result
}

func constSignal(v float32, count int) []byte {
	samples := make([]float32, count)
	for idx := range samples {
		samples[idx] = v
	}
	return float32LE(samples...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FrameSize = 480
	cfg.DeviceStallTimeout = 0
	return cfg
}

func collectFrames(t *testing.T, src *Source) []*audio.Frame {
	var frames []*audio.Frame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case frame, ok := <-src.Frames():
			if !ok {
				return frames
			}
			frames = append(frames, frame)
		case <-timeout:
			t.Fatalf("timed out waiting for frames, got %d", len(frames))
		}
	}
}

// rateLimitedRecorder refuses any sample rate except the given one.
type rateLimitedRecorder struct {
	*audio.RecorderPCMReader
	AllowedRate audio.SampleRate
	Requests    []audio.SampleRate
}

func (r *rateLimitedRecorder) RecordPCM(
	ctx context.Context,
	sampleRate audio.SampleRate,
	channels audio.Channel,
	format audio.PCMFormat,
	writer io.Writer,
) (audio.RecordStream, error) {
	r.Requests = append(r.Requests, sampleRate)
	if sampleRate != r.AllowedRate {
		return nil, fmt.Errorf("sample rate %d is not supported", sampleRate)
	}
	return r.RecorderPCMReader.RecordPCM(ctx, sampleRate, channels, format, writer)
}

type loopbackRecorder struct {
	audio.RecorderPCM
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

// silentRecorder opens a stream that never delivers data.
type silentRecorder struct {
	WaitErr error
}

func (silentRecorder) Close() error               { return nil }
func (silentRecorder) Ping(context.Context) error { return nil }
func (r silentRecorder) RecordPCM(
	ctx context.Context,
	_ audio.SampleRate,
	_ audio.Channel,
	_ audio.PCMFormat,
	_ io.Writer,
) (audio.RecordStream, error) {
	return &silentStream{closeCh: make(chan struct{}), waitErr: r.WaitErr}, nil
}

type silentStream struct {
	closeCh chan struct{}
	waitErr error
}

func (s *silentStream) Close() error {
	select {
	case <-s.closeCh:
	default:
		close(s.closeCh)
	}
	return nil
}

func (s *silentStream) Wait(ctx context.Context) error {
	if s.waitErr != nil {
		return s.waitErr
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closeCh:
		return nil
	}
}

func TestSource(t *testing.T) {
	ctx := context.Background()

	t.Run("exact_frames_with_padded_tail", func(t *testing.T) {
		signal := constSignal(0.25, 480*2+40)
		rec := audio.NewRecorderPCMReader(bytes.NewReader(signal), 16000, 1, audio.PCMFormatFloat32LE, false)

		src, err := New(testConfig(), rec, nil, nil)
		require.NoError(t, err)
		defer src.Close()
		require.NoError(t, src.Start(ctx))

		frames := collectFrames(t, src)
		require.Len(t, frames, 3)
		for idx, frame := range frames {
			assert.Equal(t, uint64(idx), frame.Index)
			assert.Len(t, frame.Samples, 480)
			assert.Equal(t, audio.SampleRate(16000), frame.SampleRate)
			assert.Equal(t, 30*time.Millisecond, frame.Duration())
		}
		assert.Equal(t, 0, frames[1].PaddedSamples)
		assert.Equal(t, 440, frames[2].PaddedSamples)
		assert.Equal(t, float32(0.25), frames[2].Samples[39])
		assert.Equal(t, float32(0), frames[2].Samples[40])
		assert.Equal(t, 30*time.Millisecond, frames[1].CapturedAt.Sub(frames[0].CapturedAt))

		require.NoError(t, src.Wait(ctx))
		require.NoError(t, src.Err())
	})

	t.Run("falls_back_to_device_rate", func(t *testing.T) {
		signal := constSignal(0.5, 48000/10)
		rec := &rateLimitedRecorder{
			RecorderPCMReader: audio.NewRecorderPCMReader(bytes.NewReader(signal), 48000, 1, audio.PCMFormatFloat32LE, false),
			AllowedRate:       48000,
		}

		src, err := New(testConfig(), rec, nil, nil)
		require.NoError(t, err)
		defer src.Close()
		require.NoError(t, src.Start(ctx))

		frames := collectFrames(t, src)
		assert.Equal(t, []audio.SampleRate{16000, 48000}, rec.Requests)
		require.NotEmpty(t, frames)
		var total int
		for _, frame := range frames {
			total += len(frame.Samples) - frame.PaddedSamples
		}
		assert.InDelta(t, 1600, total, 2)
		assert.InDelta(t, 0.5, frames[0].Samples[100], 1e-6)
	})

	t.Run("stereo_is_averaged_into_mono", func(t *testing.T) {
		var signal []float32
		for i := 0; i < 480; i++ {
			signal = append(signal, 0.2, 0.6)
		}
		rec := audio.NewRecorderPCMReader(bytes.NewReader(float32LE(signal...)), 16000, 2, audio.PCMFormatFloat32LE, false)
		cfg := testConfig()
		cfg.Channels = 2

		src, err := New(cfg, rec, nil, nil)
		require.NoError(t, err)
		defer src.Close()
		require.NoError(t, src.Start(ctx))

		frames := collectFrames(t, src)
		require.Len(t, frames, 1)
		assert.InDelta(t, 0.4, frames[0].Samples[0], 1e-6)
	})

	t.Run("loopback_is_mixed_in", func(t *testing.T) {
		mic := audio.NewRecorderPCMReader(bytes.NewReader(constSignal(0.25, 480)), 16000, 1, audio.PCMFormatFloat32LE, false)
		loopback := &loopbackRecorder{
			RecorderPCM: mic,
			Loopback:    audio.NewRecorderPCMReader(bytes.NewReader(constSignal(0.75, 480)), 16000, 1, audio.PCMFormatFloat32LE, false),
		}
		cfg := testConfig()
		cfg.Loopback = true

		src, err := New(cfg, mic, loopback, nil)
		require.NoError(t, err)
		defer src.Close()
		require.NoError(t, src.Start(ctx))

		frames := collectFrames(t, src)
		require.Len(t, frames, 1)
		assert.Equal(t, float32(0.5), frames[0].Samples[0])
		assert.Equal(t, float32(0.25), frames[0].MicSamples[0])
		assert.Equal(t, float32(0.75), frames[0].LoopbackSamples[0])
	})

	t.Run("no_recorder", func(t *testing.T) {
		_, err := New(testConfig(), nil, nil, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrNoInputDevice), err)
	})

	t.Run("stall_is_a_disconnect", func(t *testing.T) {
		cfg := testConfig()
		cfg.DeviceStallTimeout = 200 * time.Millisecond

		src, err := New(cfg, silentRecorder{}, nil, nil)
		require.NoError(t, err)
		defer src.Close()
		require.NoError(t, src.Start(ctx))

		frames := collectFrames(t, src)
		assert.Empty(t, frames)
		err = src.Wait(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrDisconnected), err)
	})

	t.Run("stream_failure_is_a_disconnect", func(t *testing.T) {
		src, err := New(testConfig(), silentRecorder{WaitErr: fmt.Errorf("unplugged")}, nil, nil)
		require.NoError(t, err)
		defer src.Close()
		require.NoError(t, src.Start(ctx))

		collectFrames(t, src)
		err = src.Wait(ctx)
		var devErr *types.DeviceError
		require.True(t, errors.As(err, &devErr), err)
		assert.Equal(t, types.DeviceErrorKindDisconnected, devErr.Kind)
		assert.Equal(t, "input", devErr.Device)
	})

	t.Run("close_is_idempotent", func(t *testing.T) {
		src, err := New(testConfig(), silentRecorder{}, nil, nil)
		require.NoError(t, err)
		require.NoError(t, src.Start(ctx))
		require.NoError(t, src.Close())
		require.NoError(t, src.Close())
		_, ok := <-src.Frames()
		assert.False(t, ok)
	})

	t.Run("close_without_start", func(t *testing.T) {
		src, err := New(testConfig(), silentRecorder{}, nil, nil)
		require.NoError(t, err)
		require.NoError(t, src.Close())
		require.Error(t, src.Start(ctx))
	})
}

func TestCaptureBuffer(t *testing.T) {
	t.Run("drops_oldest_aligned", func(t *testing.T) {
		b := newCaptureBuffer(8, 4)
		for i := byte(0); i < 4; i++ {
			n, err := b.Write([]byte{i, i, i, i})
			require.NoError(t, err)
			require.Equal(t, 4, n)
		}
		assert.Equal(t, uint64(8), b.DroppedBytes())

		buf := make([]byte, 16)
		n, err := b.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, []byte{2, 2, 2, 2, 3, 3, 3, 3}, buf[:n])
	})

	t.Run("oversized_write_keeps_the_tail", func(t *testing.T) {
		b := newCaptureBuffer(4, 2)
		_, err := b.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8})
		require.NoError(t, err)

		buf := make([]byte, 16)
		n, err := b.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, []byte{5, 6, 7, 8}, buf[:n])
		assert.Equal(t, uint64(4), b.DroppedBytes())
	})

	t.Run("read_after_close", func(t *testing.T) {
		b := newCaptureBuffer(8, 1)
		_, err := b.Write([]byte{1})
		require.NoError(t, err)
		require.NoError(t, b.Close())

		buf := make([]byte, 4)
		n, err := b.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		_, err = b.Read(buf)
		assert.Equal(t, io.EOF, err)
		_, err = b.Write([]byte{1})
		assert.Error(t, err)
	})

	t.Run("read_blocks_until_write", func(t *testing.T) {
		b := newCaptureBuffer(8, 1)
		go func() {
			time.Sleep(20 * time.Millisecond)
			b.Write([]byte{7})
		}()
		buf := make([]byte, 4)
		n, err := b.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, []byte{7}, buf[:n])
	})
}
