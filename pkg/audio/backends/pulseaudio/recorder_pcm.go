package pulseaudio

import (
	"context"
	"fmt"
	"io"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/jfreymuth/pulse"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

type RecorderPCM struct {
	PulseClient *pulse.Client
}

var _ types.LoopbackRecorderPCM = (*RecorderPCM)(nil)

func NewRecorderPCM() (*RecorderPCM, error) {
	c, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("unable to open a client to Pulse: %w", err)
	}
	return &RecorderPCM{
		PulseClient: c,
	}, nil
}

func (r *RecorderPCM) Close() error {
	r.PulseClient.Close()
	return nil
}

func (r *RecorderPCM) Ping(ctx context.Context) error {
	source, err := r.PulseClient.DefaultSource()
	if err != nil {
		return err
	}
	logger.Debugf(ctx, "default source: %s", source.Name())
	return nil
}

func (r *RecorderPCM) PingLoopback(ctx context.Context) error {
	sink, err := r.PulseClient.DefaultSink()
	if err != nil {
		return err
	}
	logger.Debugf(ctx, "default sink (for monitoring): %s", sink.Name())
	return nil
}

func (r *RecorderPCM) RecordPCM(
	ctx context.Context,
	sampleRate types.SampleRate,
	channels types.Channel,
	format types.PCMFormat,
	rawWriter io.Writer,
) (_ types.RecordStream, _err error) {
	logger.Tracef(ctx, "RecordPCM")
	defer func() { logger.Tracef(ctx, "/RecordPCM: %v", _err) }()
	return r.record(ctx, sampleRate, channels, format, rawWriter)
}

// RecordLoopbackPCM records the monitor source of the default sink,
// which is what the system is currently playing.
func (r *RecorderPCM) RecordLoopbackPCM(
	ctx context.Context,
	sampleRate types.SampleRate,
	channels types.Channel,
	format types.PCMFormat,
	rawWriter io.Writer,
) (_ types.RecordStream, _err error) {
	logger.Tracef(ctx, "RecordLoopbackPCM")
	defer func() { logger.Tracef(ctx, "/RecordLoopbackPCM: %v", _err) }()

	sink, err := r.PulseClient.DefaultSink()
	if err != nil {
		return nil, fmt.Errorf("unable to get the default sink: %w", err)
	}
	return r.record(ctx, sampleRate, channels, format, rawWriter, pulse.RecordMonitor(sink))
}

func (r *RecorderPCM) record(
	ctx context.Context,
	sampleRate types.SampleRate,
	channels types.Channel,
	format types.PCMFormat,
	rawWriter io.Writer,
	extraOpts ...pulse.RecordOption,
) (types.RecordStream, error) {
	writer, err := newPulseWriter(format, rawWriter)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize a writer for Pulse: %w", err)
	}

	chanMap, err := channelMap(channels)
	if err != nil {
		return nil, err
	}

	opts := append([]pulse.RecordOption{
		pulse.RecordSampleRate(int(sampleRate)),
		pulse.RecordChannels(chanMap),
	}, extraOpts...)
	stream, err := r.PulseClient.NewRecord(writer, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize a recording: %w", err)
	}

	stream.Start()
	if stream.Error() != nil {
		stream.Close()
		return nil, fmt.Errorf("an error occurred during recording: %w", stream.Error())
	}

	return newRecordStream(stream), nil
}
