package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/turntaking/pkg/audio"
	_ "github.com/xaionaro-go/turntaking/pkg/audio/backends/malgo"
	_ "github.com/xaionaro-go/turntaking/pkg/audio/backends/portaudio"
	_ "github.com/xaionaro-go/turntaking/pkg/audio/backends/pulseaudio"
	"github.com/xaionaro-go/turntaking/pkg/audio/framesource"
	"github.com/xaionaro-go/turntaking/pkg/vad/classifier"
	"github.com/xaionaro-go/turntaking/pkg/vad/implementations/webrtc"
)

// vadprobe prints the verdict for every frame, which helps to tune the
// threshold and the smoothing for a particular microphone and room.
func main() {
	loggerLevel := logger.LevelWarning
	pflag.Var(&loggerLevel, "log-level", "Log level")
	inputFile := pflag.String("input-file", "", "read raw PCM from the file ('-' for stdin) instead of the input device")
	inputRate := pflag.Uint32("input-sample-rate", 16000, "sample rate of the input file")
	inputChannels := pflag.Uint32("input-channels", 1, "channels of the input file")
	inputFormat := pflag.String("input-format", audio.PCMFormatS16LE.String(), "sample format of the input file")
	realtime := pflag.Bool("realtime", false, "feed the input file at the real-time pace")
	model := pflag.String("model", string(classifier.ModelNameWebRTC), "VAD model: webrtc, rnnoise (each requires the build tag of its name) or energy")
	threshold := pflag.Float64("threshold", classifier.DefaultSpeechThreshold, "speech threshold")
	webrtcMode := pflag.Int("webrtc-mode", int(webrtc.DefaultMode), "WebRTC VAD aggressiveness, 0..3")
	onlyChanges := pflag.Bool("only-changes", false, "print only the frames where the verdict changes")
	pflag.Parse()

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	ctx, cancelFn := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancelFn()

	var recorder audio.RecorderPCM
	if *inputFile != "" {
		var r io.Reader = os.Stdin
		if *inputFile != "-" {
			f, err := os.Open(*inputFile)
			assertNoError(err)
			defer f.Close()
			r = f
		}
		format, err := audio.ParsePCMFormat(*inputFormat)
		assertNoError(err)
		recorder = audio.NewRecorderPCMReader(r, audio.SampleRate(*inputRate), audio.Channel(*inputChannels), format, *realtime)
	} else {
		r, err := audio.NewRecorderAuto(ctx)
		assertNoError(err)
		defer r.Close()
		recorder = r
	}

	audioCfg := framesource.DefaultConfig()
	vadCfg := classifier.DefaultConfig()
	vadCfg.SampleRate = audioCfg.SampleRate
	vadCfg.Model = classifier.ModelName(strings.ToLower(*model))
	vadCfg.SpeechThreshold = *threshold
	vadCfg.WebRTCMode = webrtc.Mode(*webrtcMode)

	c, err := classifier.New(ctx, vadCfg, nil)
	assertNoError(err)
	defer c.Close()
	if c.Degraded {
		fmt.Fprintln(os.Stderr, "WARNING: the model is unavailable, using the energy heuristic")
	}

	src, err := framesource.New(audioCfg, recorder, nil, nil)
	assertNoError(err)
	defer src.Close()
	assertNoError(src.Start(ctx))

	var prev string
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-src.Frames():
			if !ok {
				assertNoError(src.Err())
				return
			}
			verdict, err := c.Classify(ctx, frame)
			assertNoError(err)
			activity := verdict.Activity.String()
			if *onlyChanges && activity == prev {
				continue
			}
			prev = activity
			fmt.Printf("%6d %10v %-8s %.3f\n", frame.Index, time.Duration(frame.Index)*frame.Duration(), activity, verdict.Confidence)
		}
	}
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
