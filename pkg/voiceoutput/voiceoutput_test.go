package voiceoutput

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/interruption"
	"github.com/xaionaro-go/turntaking/pkg/playback"
)

var _ interruption.Playback = (*VoiceOutput)(nil)

// endlessReader is a synthesis that never ends by itself.
type endlessReader struct{}

func (endlessReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func newVoiceOutput(t *testing.T) *VoiceOutput {
	cfg := playback.DefaultConfig()
	cfg.SampleRate = 16000
	cfg.BufferSize = 10 * time.Millisecond
	pb, err := playback.NewController(cfg, audio.PlayerPCMDiscard{}, nil)
	require.NoError(t, err)
	return New(pb)
}

func TestSpeak(t *testing.T) {
	ctx := context.Background()

	t.Run("pcm_then_stop", func(t *testing.T) {
		v := newVoiceOutput(t)
		var gotText string
		backend := SynthesisBackendFunc(func(_ context.Context, text string) (*Synthesis, error) {
			gotText = text
			return &Synthesis{PCM: &playback.PCM{
				Reader:     endlessReader{},
				SampleRate: 16000,
				Channels:   1,
				Format:     audio.PCMFormatFloat32LE,
			}}, nil
		})

		require.NoError(t, v.Speak(ctx, "hello", backend))
		assert.Equal(t, "hello", gotText)
		assert.True(t, v.IsPlaying())

		require.NoError(t, v.Stop())
		assert.False(t, v.IsPlaying())
		require.NoError(t, v.Stop())
	})

	t.Run("plays_out", func(t *testing.T) {
		v := newVoiceOutput(t)
		backend := SynthesisBackendFunc(func(context.Context, string) (*Synthesis, error) {
			return &Synthesis{PCM: &playback.PCM{
				Reader:     bytes.NewReader(make([]byte, 160*2)),
				SampleRate: 16000,
				Channels:   1,
				Format:     audio.PCMFormatS16LE,
			}}, nil
		})
		require.NoError(t, v.Speak(ctx, "hi", backend))
		assert.Eventually(t, func() bool { return !v.IsPlaying() }, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("backend_failure", func(t *testing.T) {
		v := newVoiceOutput(t)
		err := v.Speak(ctx, "hello", SynthesisBackendFunc(func(context.Context, string) (*Synthesis, error) {
			return nil, fmt.Errorf("quota exceeded")
		}))
		require.Error(t, err)
		assert.False(t, v.IsPlaying())
	})

	t.Run("invalid_synthesis", func(t *testing.T) {
		v := newVoiceOutput(t)
		for name, s := range map[string]*Synthesis{
			"nil":   nil,
			"empty": {},
			"both":  {PCM: &playback.PCM{}, OggVorbis: bytes.NewReader(nil)},
			"ogg":   {OggVorbis: io.LimitReader(endlessReader{}, 1024)},
		} {
			t.Run(name, func(t *testing.T) {
				err := v.Speak(ctx, "x", SynthesisBackendFunc(func(context.Context, string) (*Synthesis, error) {
					return s, nil
				}))
				require.Error(t, err)
			})
		}
	})

	t.Run("no_backend", func(t *testing.T) {
		require.Error(t, newVoiceOutput(t).Speak(ctx, "x", nil))
	})
}

func TestFileBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	pcmPath := filepath.Join(dir, "reply.raw")
	require.NoError(t, os.WriteFile(pcmPath, make([]byte, 320), 0o644))
	b := &FileBackend{Path: pcmPath, SampleRate: 16000, Channels: 1, PCMFormat: audio.PCMFormatS16LE}
	assert.False(t, b.IsOggVorbis())

	s, err := b.Synthesize(ctx, "ignored")
	require.NoError(t, err)
	require.NotNil(t, s.PCM)
	assert.Nil(t, s.OggVorbis)
	assert.Equal(t, audio.PCMFormatS16LE, s.PCM.Format)
	data, err := io.ReadAll(s.PCM.Reader)
	require.NoError(t, err)
	assert.Len(t, data, 320)

	v := newVoiceOutput(t)
	require.NoError(t, v.Speak(ctx, "hi", b))
	assert.Eventually(t, func() bool { return !v.IsPlaying() }, 2*time.Second, 5*time.Millisecond)

	oggPath := filepath.Join(dir, "reply.OGG")
	require.NoError(t, os.WriteFile(oggPath, []byte("not really vorbis"), 0o644))
	b = &FileBackend{Path: oggPath}
	assert.True(t, b.IsOggVorbis())
	s, err = b.Synthesize(ctx, "")
	require.NoError(t, err)
	assert.NotNil(t, s.OggVorbis)
	require.Error(t, v.Speak(ctx, "hi", b), "a broken Ogg stream is reported")

	_, err = (&FileBackend{Path: filepath.Join(dir, "missing.raw")}).Synthesize(ctx, "")
	require.Error(t, err)
}
