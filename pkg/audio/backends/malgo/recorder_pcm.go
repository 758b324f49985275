// Package malgo captures audio through miniaudio. The data callback is
// invoked on a realtime-priority thread owned by miniaudio.
package malgo

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/gen2brain/malgo"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

const (
	PeriodSizeInMilliseconds = 10
)

type RecorderPCM struct {
	MalgoCtx *malgo.AllocatedContext
}

var _ types.LoopbackRecorderPCM = (*RecorderPCM)(nil)

func NewRecorderPCM() (*RecorderPCM, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{
		ThreadPriority: malgo.ThreadPriorityRealtime,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize a miniaudio context: %w", err)
	}
	return &RecorderPCM{
		MalgoCtx: malgoCtx,
	}, nil
}

func (r *RecorderPCM) Close() error {
	err := r.MalgoCtx.Uninit()
	r.MalgoCtx.Free()
	return err
}

func (r *RecorderPCM) Ping(ctx context.Context) error {
	devices, err := r.MalgoCtx.Devices(malgo.Capture)
	if err != nil {
		return fmt.Errorf("unable to list capture devices: %w", err)
	}
	for idx, device := range devices {
		logger.Tracef(ctx, "devices[%d]: %s (default: %v)", idx, device.Name(), device.IsDefault != 0)
	}
	if len(devices) == 0 {
		return fmt.Errorf("no capture devices")
	}
	return nil
}

func (r *RecorderPCM) PingLoopback(ctx context.Context) error {
	// miniaudio supports loopback devices only with WASAPI
	if runtime.GOOS != "windows" {
		return fmt.Errorf("loopback capturing is not supported by miniaudio on %s", runtime.GOOS)
	}
	devices, err := r.MalgoCtx.Devices(malgo.Playback)
	if err != nil {
		return fmt.Errorf("unable to list playback devices: %w", err)
	}
	if len(devices) == 0 {
		return fmt.Errorf("no playback devices to capture from")
	}
	return nil
}

func (r *RecorderPCM) RecordPCM(
	ctx context.Context,
	sampleRate types.SampleRate,
	channels types.Channel,
	format types.PCMFormat,
	writer io.Writer,
) (_ types.RecordStream, _err error) {
	logger.Tracef(ctx, "RecordPCM")
	defer func() { logger.Tracef(ctx, "/RecordPCM: %v", _err) }()
	return r.record(ctx, malgo.Capture, sampleRate, channels, format, writer)
}

func (r *RecorderPCM) RecordLoopbackPCM(
	ctx context.Context,
	sampleRate types.SampleRate,
	channels types.Channel,
	format types.PCMFormat,
	writer io.Writer,
) (_ types.RecordStream, _err error) {
	logger.Tracef(ctx, "RecordLoopbackPCM")
	defer func() { logger.Tracef(ctx, "/RecordLoopbackPCM: %v", _err) }()
	return r.record(ctx, malgo.Loopback, sampleRate, channels, format, writer)
}

func malgoFormat(format types.PCMFormat) (malgo.FormatType, error) {
	switch format {
	case types.PCMFormatU8:
		return malgo.FormatU8, nil
	case types.PCMFormatS16LE:
		return malgo.FormatS16, nil
	case types.PCMFormatS24LE:
		return malgo.FormatS24, nil
	case types.PCMFormatS32LE:
		return malgo.FormatS32, nil
	case types.PCMFormatFloat32LE:
		return malgo.FormatF32, nil
	default:
		return malgo.FormatUnknown, fmt.Errorf("do not know how to capture PCM format %s", format)
	}
}

func (r *RecorderPCM) record(
	ctx context.Context,
	deviceType malgo.DeviceType,
	sampleRate types.SampleRate,
	channels types.Channel,
	format types.PCMFormat,
	writer io.Writer,
) (types.RecordStream, error) {
	f, err := malgoFormat(format)
	if err != nil {
		return nil, err
	}

	deviceConfig := malgo.DefaultDeviceConfig(deviceType)
	deviceConfig.Capture.Format = f
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = PeriodSizeInMilliseconds

	s := newRecordStream(writer)
	device, err := malgo.InitDevice(r.MalgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the device: %w", err)
	}
	s.Device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("unable to start the device: %w", err)
	}
	logger.Debugf(ctx, "started capturing %d Hz x %d (%s)", sampleRate, channels, format)
	return s, nil
}
