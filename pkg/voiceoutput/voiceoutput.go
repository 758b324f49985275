// Package voiceoutput speaks text through an external synthesis backend
// and the playback controller.
package voiceoutput

import (
	"context"
	"fmt"
	"io"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/jfreymuth/oggvorbis"
	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/playback"
)

// Synthesis is the audio of synthesized speech: either raw PCM or an Ogg/Vorbis stream.
type Synthesis struct {
	PCM       *playback.PCM
	OggVorbis io.Reader
}

type SynthesisBackend interface {
	Synthesize(ctx context.Context, text string) (*Synthesis, error)
}

type SynthesisBackendFunc func(ctx context.Context, text string) (*Synthesis, error)

func (fn SynthesisBackendFunc) Synthesize(ctx context.Context, text string) (*Synthesis, error) {
	return fn(ctx, text)
}

type VoiceOutput struct {
	Playback *playback.Controller
}

func New(pb *playback.Controller) *VoiceOutput {
	return &VoiceOutput{
		Playback: pb,
	}
}

// Speak synthesizes the text and queues it for playback. It returns
// once the audio is queued, not when it is played out.
func (v *VoiceOutput) Speak(
	ctx context.Context,
	text string,
	backend SynthesisBackend,
) (_err error) {
	logger.Debugf(ctx, "Speak(%d chars)", len(text))
	defer func() { logger.Debugf(ctx, "/Speak: %v", _err) }()

	if backend == nil {
		return fmt.Errorf("no synthesis backend provided")
	}
	synthesis, err := backend.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("unable to synthesize: %w", err)
	}
	pcm, err := synthesis.toPCM()
	if err != nil {
		return err
	}
	if err := v.Playback.Play(ctx, pcm); err != nil {
		return fmt.Errorf("unable to play the synthesized speech: %w", err)
	}
	return nil
}

func (s *Synthesis) toPCM() (playback.PCM, error) {
	switch {
	case s == nil:
		return playback.PCM{}, fmt.Errorf("the backend returned no audio")
	case s.PCM != nil && s.OggVorbis != nil:
		return playback.PCM{}, fmt.Errorf("the backend returned both PCM and Ogg/Vorbis")
	case s.PCM != nil:
		return *s.PCM, nil
	case s.OggVorbis != nil:
		decoder, err := oggvorbis.NewReader(s.OggVorbis)
		if err != nil {
			return playback.PCM{}, fmt.Errorf("unable to initialize a vorbis reader: %w", err)
		}
		return playback.PCM{
			Reader:     audio.NewReaderFromFloat32Reader(decoder),
			SampleRate: audio.SampleRate(decoder.SampleRate()),
			Channels:   audio.Channel(decoder.Channels()),
			Format:     audio.PCMFormatFloat32LE,
		}, nil
	default:
		return playback.PCM{}, fmt.Errorf("the backend returned no audio")
	}
}

// Stop cuts off the speech being played and everything queued after it.
func (v *VoiceOutput) Stop() error {
	return v.Playback.Stop()
}

func (v *VoiceOutput) IsPlaying() bool {
	return v.Playback.IsPlaying()
}
