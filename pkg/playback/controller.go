// Package playback plays synthesized speech and allows to cut it off at any moment.
package playback

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/audio/resampler"
	"github.com/xaionaro-go/turntaking/pkg/metrics"
)

// PCM is a piece of audio to be played.
type PCM struct {
	Reader     io.Reader
	SampleRate audio.SampleRate
	Channels   audio.Channel
	Format     audio.PCMFormat
}

func (pcm PCM) format() resampler.Format {
	return resampler.Format{
		Channels:   pcm.Channels,
		SampleRate: pcm.SampleRate,
		PCMFormat:  pcm.Format,
	}
}

type Controller struct {
	Config  Config
	Player  audio.PlayerPCM
	Metrics *metrics.Metrics

	locker sync.Mutex
	// current is the playback that accepts more audio into its queue.
	current *activePlayback
	// active are all the streams still sounding, including ones with an
	// ended queue that still play out the device buffer.
	active map[*activePlayback]struct{}
}

type activePlayback struct {
	Queue  *queue
	Stream audio.PlayStream
}

func NewController(
	cfg Config,
	player audio.PlayerPCM,
	m *metrics.Metrics,
) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if player == nil {
		return nil, fmt.Errorf("no player provided")
	}
	return &Controller{
		Config:  cfg,
		Player:  player,
		Metrics: m,
		active:  map[*activePlayback]struct{}{},
	}, nil
}

func (c *Controller) outputFormat() resampler.Format {
	return resampler.Format{
		Channels:   c.Config.Channels,
		SampleRate: c.Config.SampleRate,
		PCMFormat:  c.Config.PCMFormat,
	}
}

// Play queues the audio after whatever is already playing, starting
// the playback if nothing plays.
func (c *Controller) Play(
	ctx context.Context,
	pcm PCM,
) (_err error) {
	logger.Debugf(ctx, "Play(%d Hz, %d channels, %s)", pcm.SampleRate, pcm.Channels, pcm.Format)
	defer func() { logger.Debugf(ctx, "/Play: %v", _err) }()

	if pcm.Reader == nil {
		return fmt.Errorf("no audio provided")
	}
	reader := pcm.Reader
	if pcm.format() != c.outputFormat() {
		var err error
		reader, err = resampler.NewResampler(pcm.format(), pcm.Reader, c.outputFormat())
		if err != nil {
			return fmt.Errorf("unable to convert the audio to the output format: %w", err)
		}
	}

	c.locker.Lock()
	defer c.locker.Unlock()

	if c.current != nil && c.current.Queue.Append(reader) {
		logger.Debugf(ctx, "queued after the current playback")
		return nil
	}

	q := newQueue(reader)
	out := c.outputFormat()
	stream, err := c.Player.PlayPCM(ctx, out.SampleRate, out.Channels, out.PCMFormat, c.Config.BufferSize, q)
	if err != nil {
		return fmt.Errorf("unable to start playing: %w", err)
	}
	p := &activePlayback{
		Queue:  q,
		Stream: stream,
	}
	c.current = p
	c.active[p] = struct{}{}
	c.Metrics.SetPlaybackActive(true)

	observability.Go(ctx, func(ctx context.Context) {
		c.waitForEnd(ctx, p)
	})
	return nil
}

func (c *Controller) waitForEnd(ctx context.Context, p *activePlayback) {
	err := p.Stream.Drain()
	if err != nil {
		logger.Debugf(ctx, "draining the play stream: %v", err)
	}
	if err := p.Queue.LastErr(); err != nil {
		logger.Warnf(ctx, "unable to read the audio to play: %v", err)
	}

	c.locker.Lock()
	_, isActive := c.active[p]
	delete(c.active, p)
	if c.current == p {
		c.current = nil
	}
	if isActive {
		c.Metrics.SetPlaybackActive(len(c.active) > 0)
	}
	c.locker.Unlock()

	if !isActive {
		// Stop already closed the stream
		return
	}
	logger.Debugf(ctx, "the playback ended")
	if err := p.Stream.Close(); err != nil {
		logger.Errorf(ctx, "unable to close the play stream: %v", err)
	}
}

// Stop cuts the playback off and drops all queued audio. It is a no-op if nothing plays.
func (c *Controller) Stop() error {
	c.locker.Lock()
	active := c.active
	c.active = map[*activePlayback]struct{}{}
	c.current = nil
	if len(active) > 0 {
		c.Metrics.SetPlaybackActive(false)
	}
	c.locker.Unlock()

	var mErr *multierror.Error
	for p := range active {
		p.Queue.Clear()
		if err := p.Stream.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to close the play stream: %w", err))
		}
	}
	return mErr.ErrorOrNil()
}

// IsPlaying reports whether audio is being played right now; it turns
// false by itself when the queued audio is played out.
func (c *Controller) IsPlaying() bool {
	c.locker.Lock()
	defer c.locker.Unlock()
	return len(c.active) > 0
}

func (c *Controller) Close() error {
	return c.Stop()
}
