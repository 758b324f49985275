package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/turntaking/pkg/audio"
	_ "github.com/xaionaro-go/turntaking/pkg/audio/backends/malgo"
	_ "github.com/xaionaro-go/turntaking/pkg/audio/backends/oto"
	_ "github.com/xaionaro-go/turntaking/pkg/audio/backends/portaudio"
	_ "github.com/xaionaro-go/turntaking/pkg/audio/backends/pulseaudio"
	"github.com/xaionaro-go/turntaking/pkg/config"
	"github.com/xaionaro-go/turntaking/pkg/event"
	"github.com/xaionaro-go/turntaking/pkg/monitor"
	"github.com/xaionaro-go/turntaking/pkg/session"
	"github.com/xaionaro-go/turntaking/pkg/voiceoutput"
)

func allKinds() string {
	var names []string
	for k := event.KindUndefined + 1; k < event.EndOfKind; k++ {
		names = append(names, k.String())
	}
	return strings.Join(names, ",")
}

func main() {
	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	configPath := pflag.String("config", "", "path to a YAML config; the defaults are used for everything it does not set")
	printEvents := pflag.String("print-events", allKinds(), "comma-separated list of the event kinds to print")
	loopback := pflag.Bool("loopback", false, "capture the system output in addition to the input device")
	listenAddr := pflag.String("listen-addr", "", "an address to serve /metrics, /monitor (websocket) and /debug/pprof on")
	replyFile := pflag.String("reply-file", "", "a file (Ogg/Vorbis, or raw PCM as described by --reply-*) to play after every committed turn; speak over it to interrupt")
	replyRate := pflag.Uint32("reply-sample-rate", 48000, "sample rate of a raw PCM reply file")
	replyChannels := pflag.Uint32("reply-channels", 1, "channels of a raw PCM reply file")
	replyFormat := pflag.String("reply-format", audio.PCMFormatS16LE.String(), "sample format of a raw PCM reply file")
	pflag.Parse()

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	ctx, cancelFn := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancelFn()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		assertNoError(err)
		cfg = *loaded
	}
	if pflag.CommandLine.Changed("loopback") {
		cfg.Audio.Loopback = *loopback
	}

	kinds, err := event.ParseKinds(*printEvents)
	assertNoError(err)
	shouldPrint := map[event.Kind]bool{}
	for _, k := range kinds {
		shouldPrint[k] = true
	}

	var reply voiceoutput.SynthesisBackend
	if *replyFile != "" {
		format, err := audio.ParsePCMFormat(*replyFormat)
		assertNoError(err)
		reply = &voiceoutput.FileBackend{
			Path:       *replyFile,
			SampleRate: audio.SampleRate(*replyRate),
			Channels:   audio.Channel(*replyChannels),
			PCMFormat:  format,
		}
	}

	registry := prometheus.NewRegistry()
	hub := monitor.NewHub()
	if *listenAddr != "" {
		http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		http.Handle("/monitor", hub)
		observability.Go(ctx, func(ctx context.Context) {
			srv := &http.Server{Addr: *listenAddr, ReadHeaderTimeout: 10 * time.Second}
			logger.Error(ctx, srv.ListenAndServe())
		})
	}

	opts := []session.Option{session.WithMetricsRegisterer(registry)}
	if reply != nil {
		opts = append(opts, session.WithRequireOutput())
	}
	s, err := session.StartListening(ctx, cfg, opts...)
	if err != nil {
		logger.Errorf(ctx, "unable to start listening: %v", err)
		belt.Flush(ctx)
		os.Exit(1)
	}
	defer s.Stop()
	logger.Infof(ctx, "listening (session %s)", s.ID)

	observability.Go(ctx, func(ctx context.Context) {
		hub.PublishVADStates(ctx, s.VADStates())
	})

	for {
		ev, err := s.NextEvent(ctx)
		if err != nil {
			break
		}
		hub.PublishEvent(ev)
		if shouldPrint[ev.Kind()] {
			fmt.Println(ev)
		}
		if _, ok := ev.(*event.TurnCommitted); ok && reply != nil {
			if err := s.VoiceOutput().Speak(ctx, "", reply); err != nil {
				logger.Errorf(ctx, "unable to reply: %v", err)
			}
		}
	}

	assertNoError(s.Stop())
	err = s.Err()
	logger.Infof(ctx, "the session is over: %s: %v", s.Termination(), err)
	if s.Termination().IsFatal() {
		var deviceErr *audio.DeviceError
		if errors.As(err, &deviceErr) {
			logger.Errorf(ctx, "the %s device failed (%s), re-run to acquire the devices again", deviceErr.Device, deviceErr.Kind)
		}
		belt.Flush(ctx)
		os.Exit(1)
	}
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
