// Package framesource turns a continuous device capture into a stream of
// fixed-size mono frames.
package framesource

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/datacounter"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/audio/resampler"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
	"github.com/xaionaro-go/turntaking/pkg/metrics"
	"github.com/xaionaro-go/turntaking/pkg/xchan"
)

const (
	deviceNameMic      = "input"
	deviceNameLoopback = "loopback"

	watchdogInterval = 100 * time.Millisecond
)

type recordFunc func(
	ctx context.Context,
	sampleRate audio.SampleRate,
	channels audio.Channel,
	format audio.PCMFormat,
	writer io.Writer,
) (audio.RecordStream, error)

type capture struct {
	Name    string
	Format  resampler.Format
	Buffer  *captureBuffer
	Counter *datacounter.WriterCounter
	Stream  audio.RecordStream
	Reader  io.Reader

	lastDroppedBytes uint64
	ended            chan struct{}
}

type Source struct {
	Config           Config
	Recorder         audio.RecorderPCM
	LoopbackRecorder audio.LoopbackRecorderPCM
	Metrics          *metrics.Metrics

	framesCh chan *audio.Frame
	doneCh   chan struct{}
	mic      *capture
	loopback *capture
	cancelFn context.CancelFunc
	wg       sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
	errLocker sync.Mutex
	err       error

	overrunCount uint64
}

// New prepares a frame source. The recorders are owned by the caller;
// loopbackRecorder may be nil if cfg.Loopback is false.
func New(
	cfg Config,
	recorder audio.RecorderPCM,
	loopbackRecorder audio.LoopbackRecorderPCM,
	m *metrics.Metrics,
) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if recorder == nil {
		return nil, &types.DeviceError{
			Kind:   types.DeviceErrorKindNoInputDevice,
			Device: deviceNameMic,
			Err:    fmt.Errorf("no recorder provided"),
		}
	}
	if cfg.Loopback && loopbackRecorder == nil {
		return nil, &types.DeviceError{
			Kind:   types.DeviceErrorKindNoInputDevice,
			Device: deviceNameLoopback,
			Err:    fmt.Errorf("loopback is enabled, but no loopback recorder provided"),
		}
	}
	return &Source{
		Config:           cfg,
		Recorder:         recorder,
		LoopbackRecorder: loopbackRecorder,
		Metrics:          m,
		framesCh:         make(chan *audio.Frame, cfg.FrameQueueSize),
		doneCh:           make(chan struct{}),
	}, nil
}

// Start opens the capture streams and begins emitting frames.
func (s *Source) Start(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Start")
	defer func() { logger.Debugf(ctx, "/Start: %v", _err) }()

	_err = fmt.Errorf("already started")
	s.startOnce.Do(func() {
		_err = s.start(ctx)
	})
	return
}

func (s *Source) start(ctx context.Context) (_err error) {
	ctx, s.cancelFn = context.WithCancel(ctx)
	defer func() {
		if _err != nil {
			s.cancelFn()
			if err := s.closeCaptures(ctx); err != nil {
				logger.Errorf(ctx, "unable to close the captures: %v", err)
			}
			s.mic, s.loopback = nil, nil
			close(s.framesCh)
			close(s.doneCh)
		}
	}()

	mic, err := s.openCapture(ctx, deviceNameMic, s.Recorder.RecordPCM)
	if err != nil {
		return &types.DeviceError{
			Kind:   types.DeviceErrorKindNoInputDevice,
			Device: deviceNameMic,
			Err:    err,
		}
	}
	s.mic = mic

	if s.Config.Loopback {
		loopback, err := s.openCapture(ctx, deviceNameLoopback, s.LoopbackRecorder.RecordLoopbackPCM)
		if err != nil {
			return &types.DeviceError{
				Kind:   types.DeviceErrorKindNoInputDevice,
				Device: deviceNameLoopback,
				Err:    err,
			}
		}
		s.loopback = loopback
	}

	for _, c := range s.captures() {
		s.wg.Add(1)
		observability.Go(ctx, func(ctx context.Context) {
			defer s.wg.Done()
			s.waitCapture(ctx, c)
		})
	}
	if s.Config.DeviceStallTimeout > 0 {
		s.wg.Add(1)
		observability.Go(ctx, func(ctx context.Context) {
			defer s.wg.Done()
			s.watchdog(ctx)
		})
	}

	startedAt := time.Now()
	observability.Go(ctx, func(ctx context.Context) {
		defer close(s.doneCh)
		defer close(s.framesCh)
		err := s.assembleLoop(ctx, startedAt)
		if err != nil {
			s.fail(ctx, err)
		}
	})
	return nil
}

func (s *Source) captures() []*capture {
	var result []*capture
	if s.mic != nil {
		result = append(result, s.mic)
	}
	if s.loopback != nil {
		result = append(result, s.loopback)
	}
	return result
}

func (s *Source) targetFormat() resampler.Format {
	return resampler.Format{
		Channels:   1,
		SampleRate: s.Config.SampleRate,
		PCMFormat:  audio.PCMFormatFloat32LE,
	}
}

func (s *Source) captureFormats() []resampler.Format {
	formats := []resampler.Format{{
		Channels:   s.Config.Channels,
		SampleRate: s.Config.SampleRate,
		PCMFormat:  audio.PCMFormatFloat32LE,
	}}
	if s.Config.DeviceSampleRate != s.Config.SampleRate {
		formats = append(formats, resampler.Format{
			Channels:   s.Config.Channels,
			SampleRate: s.Config.DeviceSampleRate,
			PCMFormat:  audio.PCMFormatFloat32LE,
		})
	}
	formats = append(formats, resampler.Format{
		Channels:   s.Config.Channels,
		SampleRate: s.Config.DeviceSampleRate,
		PCMFormat:  audio.PCMFormatS16LE,
	})
	return formats
}

// openCapture asks the device for the target format first and falls back
// to the device's native rate, converting on our side.
func (s *Source) openCapture(
	ctx context.Context,
	name string,
	record recordFunc,
) (_ret *capture, _err error) {
	logger.Debugf(ctx, "openCapture(%s)", name)
	defer func() { logger.Debugf(ctx, "/openCapture(%s): %v", name, _err) }()

	var mErr *multierror.Error
	for _, format := range s.captureFormats() {
		alignment := int(format.PCMFormat.Size()) * int(format.Channels)
		encoding := types.EncodingPCM{PCMFormat: format.PCMFormat, SampleRate: format.SampleRate}
		bufSize := int(encoding.BytesForDuration(s.Config.CaptureBufferDuration)) * int(format.Channels)
		buffer := newCaptureBuffer(bufSize, alignment)
		counter := datacounter.NewWriterCounter(buffer)

		stream, err := record(ctx, format.SampleRate, format.Channels, format.PCMFormat, counter)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to record %d Hz, %d channels, %s: %w", format.SampleRate, format.Channels, format.PCMFormat, err))
			continue
		}

		c := &capture{
			Name:    name,
			Format:  format,
			Buffer:  buffer,
			Counter: counter,
			Stream:  stream,
			Reader:  buffer,
			ended:   make(chan struct{}),
		}
		if format != s.targetFormat() {
			c.Reader, err = resampler.NewResampler(format, buffer, s.targetFormat())
			if err != nil {
				mErr = multierror.Append(mErr, fmt.Errorf("unable to convert %#+v: %w", format, err))
				if err := stream.Close(); err != nil {
					logger.Errorf(ctx, "unable to close the %s stream: %v", name, err)
				}
				continue
			}
		}
		if mErr != nil {
			logger.Infof(ctx, "%s: the device refused the preferred formats, capturing %d Hz %d channels %s: %v", name, format.SampleRate, format.Channels, format.PCMFormat, mErr)
		}
		return c, nil
	}
	return nil, mErr.ErrorOrNil()
}

func (s *Source) waitCapture(ctx context.Context, c *capture) {
	defer close(c.ended)
	err := c.Stream.Wait(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.fail(ctx, &types.DeviceError{
			Kind:   types.DeviceErrorKindDisconnected,
			Device: c.Name,
			Err:    err,
		})
		return
	}
	logger.Debugf(ctx, "the %s stream ended", c.Name)
	c.Buffer.Close()
}

func (s *Source) watchdog(ctx context.Context) {
	t := time.NewTicker(watchdogInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			var captured uint64
			for _, c := range s.captures() {
				captured += c.Counter.Count()
				select {
				case <-c.ended:
					continue
				default:
				}
				if stalled := c.Buffer.SinceLastWrite(now); stalled > s.Config.DeviceStallTimeout {
					s.fail(ctx, &types.DeviceError{
						Kind:   types.DeviceErrorKindDisconnected,
						Device: c.Name,
						Err:    fmt.Errorf("no data for %v", stalled),
					})
					return
				}
			}
			s.Metrics.SetCapturedBytes(captured)
		}
	}
}

func (s *Source) fail(ctx context.Context, err error) {
	s.errLocker.Lock()
	isFirst := s.err == nil
	if isFirst {
		s.err = err
	}
	s.errLocker.Unlock()
	if !isFirst {
		return
	}
	logger.Errorf(ctx, "frame source failed: %v", err)
	s.cancelFn()
	for _, c := range s.captures() {
		c.Buffer.Close()
	}
}

func (s *Source) assembleLoop(
	ctx context.Context,
	startedAt time.Time,
) (_err error) {
	logger.Debugf(ctx, "assembleLoop")
	defer func() { logger.Debugf(ctx, "/assembleLoop: %v", _err) }()

	frameSize := s.Config.FrameSize
	frameDuration := s.Config.FrameDuration()
	micBuf := make([]byte, frameSize*4)
	var loopbackBuf []byte
	if s.loopback != nil {
		loopbackBuf = make([]byte, frameSize*4)
	}
	loopbackEnded := false

	for index := uint64(0); ; index++ {
		micSamples, padded, err := readFrame(s.mic.Reader, micBuf, frameSize)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil
		default:
			return &types.DeviceError{
				Kind:   types.DeviceErrorKindDisconnected,
				Device: s.mic.Name,
				Err:    fmt.Errorf("unable to read: %w", err),
			}
		}

		samples := micSamples
		var loopbackSamples []float32
		if s.loopback != nil && !loopbackEnded {
			loopbackSamples, _, err = readFrame(s.loopback.Reader, loopbackBuf, frameSize)
			switch {
			case err == nil:
				samples = mix(micSamples, loopbackSamples)
			case errors.Is(err, io.EOF):
				logger.Debugf(ctx, "the loopback stream ended, continuing with the input device only")
				loopbackEnded = true
			default:
				return &types.DeviceError{
					Kind:   types.DeviceErrorKindDisconnected,
					Device: s.loopback.Name,
					Err:    fmt.Errorf("unable to read: %w", err),
				}
			}
		}

		if ctx.Err() != nil {
			return nil
		}
		s.checkCaptureOverruns(ctx)

		frame := &audio.Frame{
			Index:           index,
			SampleRate:      s.Config.SampleRate,
			Samples:         samples,
			MicSamples:      micSamples,
			LoopbackSamples: loopbackSamples,
			CapturedAt:      startedAt.Add(time.Duration(index) * frameDuration),
			PaddedSamples:   padded,
		}
		s.emit(ctx, frame)
		if padded > 0 {
			return nil
		}
	}
}

func (s *Source) emit(ctx context.Context, frame *audio.Frame) {
	s.Metrics.FrameEmitted()
	dropped, isDropped := xchan.SendDropOldest(s.framesCh, frame)
	if !isDropped {
		return
	}
	s.Metrics.FrameOverrun()
	s.overrunCount++
	if s.overrunCount == 1 || s.overrunCount%100 == 0 {
		logger.Warnf(ctx, "%v: dropped frame #%d (total dropped: %d)", ErrFrameOverrun, dropped.Index, s.overrunCount)
	}
}

func (s *Source) checkCaptureOverruns(ctx context.Context) {
	for _, c := range s.captures() {
		dropped := c.Buffer.DroppedBytes()
		if dropped == c.lastDroppedBytes {
			continue
		}
		delta := dropped - c.lastDroppedBytes
		c.lastDroppedBytes = dropped
		s.Metrics.CaptureOverrun(int(delta))
		logger.Warnf(ctx, "%v: the %s capture buffer overflowed, %d bytes were dropped", ErrFrameOverrun, c.Name, delta)
	}
}

// readFrame reads exactly one frame of Float32LE mono samples. A trailing
// partial frame is zero-padded; io.EOF is returned only if nothing was read.
func readFrame(r io.Reader, buf []byte, frameSize int) ([]float32, int, error) {
	n, err := io.ReadFull(r, buf)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF):
		n -= n % 4
		if n == 0 {
			return nil, 0, io.EOF
		}
		clear(buf[n:])
	default:
		return nil, 0, err
	}

	samples := make([]float32, frameSize)
	for idx := range samples {
		samples[idx] = math.Float32frombits(binary.LittleEndian.Uint32(buf[idx*4:]))
	}
	return samples, frameSize - n/4, nil
}

func mix(a, b []float32) []float32 {
	result := make([]float32, len(a))
	for idx := range result {
		result[idx] = (a[idx] + b[idx]) / 2
	}
	return result
}

// Frames returns the channel of frames; it is closed when the capture ends
// (naturally or due to an error, see Err).
func (s *Source) Frames() <-chan *audio.Frame {
	return s.framesCh
}

// Err returns the fatal error the source stopped with, if any.
func (s *Source) Err() error {
	s.errLocker.Lock()
	defer s.errLocker.Unlock()
	return s.err
}

// Wait blocks until no more frames will be emitted and returns Err().
func (s *Source) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

func (s *Source) closeCaptures(ctx context.Context) error {
	var mErr *multierror.Error
	for _, c := range s.captures() {
		if err := c.Stream.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to close the %s stream: %w", c.Name, err))
		}
		c.Buffer.Close()
	}
	return mErr.ErrorOrNil()
}

// Close stops capturing and releases the streams. It is safe to call multiple times.
func (s *Source) Close() (_err error) {
	s.closeOnce.Do(func() {
		ctx := context.Background()
		notStarted := false
		s.startOnce.Do(func() {
			notStarted = true
		})
		if notStarted {
			close(s.framesCh)
			close(s.doneCh)
			return
		}
		s.cancelFn()
		_err = s.closeCaptures(ctx)
		s.wg.Wait()
		<-s.doneCh
	})
	return
}
