package voiceoutput

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/playback"
)

// FileBackend "synthesizes" any text into the same prerecorded file.
// Files with the .ogg or .oga extension are decoded as Ogg/Vorbis,
// anything else is raw PCM in the given format.
type FileBackend struct {
	Path       string
	SampleRate audio.SampleRate
	Channels   audio.Channel
	PCMFormat  audio.PCMFormat
}

var _ SynthesisBackend = (*FileBackend)(nil)

func (b *FileBackend) IsOggVorbis() bool {
	switch strings.ToLower(filepath.Ext(b.Path)) {
	case ".ogg", ".oga":
		return true
	}
	return false
}

func (b *FileBackend) Synthesize(ctx context.Context, _ string) (*Synthesis, error) {
	data, err := os.ReadFile(b.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to read '%s': %w", b.Path, err)
	}
	if b.IsOggVorbis() {
		return &Synthesis{OggVorbis: bytes.NewReader(data)}, nil
	}
	return &Synthesis{PCM: &playback.PCM{
		Reader:     bytes.NewReader(data),
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
		Format:     b.PCMFormat,
	}}, nil
}
