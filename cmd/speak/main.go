package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/turntaking/pkg/audio"
	_ "github.com/xaionaro-go/turntaking/pkg/audio/backends/oto"
	_ "github.com/xaionaro-go/turntaking/pkg/audio/backends/portaudio"
	_ "github.com/xaionaro-go/turntaking/pkg/audio/backends/pulseaudio"
	"github.com/xaionaro-go/turntaking/pkg/playback"
	"github.com/xaionaro-go/turntaking/pkg/voiceoutput"
)

func main() {
	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	sampleRate := pflag.Uint32("sample-rate", 48000, "sample rate of a raw PCM file")
	channels := pflag.Uint32("channels", 2, "channels of a raw PCM file")
	format := pflag.String("format", audio.PCMFormatFloat32LE.String(), "sample format of a raw PCM file")
	stopAfter := pflag.Duration("stop-after", 0, "cut the playback off after this duration (0 means play to the end)")
	pflag.Parse()

	if pflag.NArg() != 1 {
		panic("expected exactly one positional argument: path to an Ogg/Vorbis or a raw PCM file")
	}

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	ctx, cancelFn := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancelFn()

	pcmFormat, err := audio.ParsePCMFormat(*format)
	assertNoError(err)
	backend := &voiceoutput.FileBackend{
		Path:       pflag.Arg(0),
		SampleRate: audio.SampleRate(*sampleRate),
		Channels:   audio.Channel(*channels),
		PCMFormat:  pcmFormat,
	}

	player, err := audio.NewPlayerAuto(ctx)
	assertNoError(err)
	defer player.Close()

	pb, err := playback.NewController(playback.DefaultConfig(), player, nil)
	assertNoError(err)
	out := voiceoutput.New(pb)
	defer out.Stop()

	logger.Infof(ctx, "playing %s through %T", backend.Path, player.PlayerPCM)
	assertNoError(out.Speak(ctx, "", backend))

	var stopCh <-chan time.Time
	if *stopAfter > 0 {
		stopCh = time.After(*stopAfter)
	}
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for out.IsPlaying() {
		select {
		case <-ctx.Done():
			assertNoError(out.Stop())
			return
		case <-stopCh:
			logger.Infof(ctx, "stopping")
			assertNoError(out.Stop())
			return
		case <-t.C:
		}
	}
	logger.Infof(ctx, "played to the end")
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
