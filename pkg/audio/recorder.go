package audio

import (
	"context"
	"fmt"
	"io"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/turntaking/pkg/audio/registry"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

type Recorder struct {
	RecorderPCM
}

func NewRecorder(recorderPCM RecorderPCM) *Recorder {
	return &Recorder{
		RecorderPCM: recorderPCM,
	}
}

// NewRecorderAuto returns the first registered input backend (by priority)
// that initializes and sees a default input device.
func NewRecorderAuto(
	ctx context.Context,
) (_ret *Recorder, _err error) {
	logger.Tracef(ctx, "NewRecorderAuto")
	defer func() { logger.Tracef(ctx, "/NewRecorderAuto: %T %v", _ret, _err) }()

	recorder, err := newRecorderPCMAuto(ctx, func(ctx context.Context, recorder RecorderPCM) error {
		return recorder.Ping(ctx)
	})
	if err != nil {
		return nil, &types.DeviceError{
			Kind: types.DeviceErrorKindNoInputDevice,
			Err:  err,
		}
	}
	return NewRecorder(recorder), nil
}

// NewLoopbackRecorderAuto is the same as NewRecorderAuto, but considers
// only the backends able to capture the system output.
func NewLoopbackRecorderAuto(
	ctx context.Context,
) (_ret *Recorder, _err error) {
	logger.Tracef(ctx, "NewLoopbackRecorderAuto")
	defer func() { logger.Tracef(ctx, "/NewLoopbackRecorderAuto: %T %v", _ret, _err) }()

	recorder, err := newRecorderPCMAuto(ctx, func(ctx context.Context, recorder RecorderPCM) error {
		loopback, ok := recorder.(LoopbackRecorderPCM)
		if !ok {
			return fmt.Errorf("%T does not support loopback capturing", recorder)
		}
		return loopback.PingLoopback(ctx)
	})
	if err != nil {
		return nil, &types.DeviceError{
			Kind:   types.DeviceErrorKindNoInputDevice,
			Device: "loopback",
			Err:    err,
		}
	}
	return NewRecorder(recorder), nil
}

func newRecorderPCMAuto(
	ctx context.Context,
	ping func(context.Context, RecorderPCM) error,
) (RecorderPCM, error) {
	var mErr *multierror.Error
	for _, factory := range registry.RecorderFactories() {
		recorder, err := factory.NewRecorderPCM()
		logger.Debugf(ctx, "initializing recorder %T result is %v", factory, err)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to initialize %T: %w", factory, err))
			continue
		}

		err = ping(ctx, recorder)
		logger.Debugf(ctx, "pinging PCM recorder %T result is %v", recorder, err)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to ping %T: %w", recorder, err))
			_ = recorder.Close()
			continue
		}

		return recorder, nil
	}
	if mErr == nil {
		return nil, fmt.Errorf("no recorder backends are registered")
	}
	return nil, mErr
}

func (a *Recorder) RecordPCM(
	ctx context.Context,
	sampleRate SampleRate,
	channels Channel,
	pcmFormat PCMFormat,
	pcmWriter io.Writer,
) (RecordStream, error) {
	return a.RecorderPCM.RecordPCM(
		ctx,
		sampleRate,
		channels,
		pcmFormat,
		pcmWriter,
	)
}

func (a *Recorder) RecordLoopbackPCM(
	ctx context.Context,
	sampleRate SampleRate,
	channels Channel,
	pcmFormat PCMFormat,
	pcmWriter io.Writer,
) (RecordStream, error) {
	loopback, ok := a.RecorderPCM.(LoopbackRecorderPCM)
	if !ok {
		return nil, fmt.Errorf("%T does not support loopback capturing", a.RecorderPCM)
	}
	return loopback.RecordLoopbackPCM(
		ctx,
		sampleRate,
		channels,
		pcmFormat,
		pcmWriter,
	)
}
