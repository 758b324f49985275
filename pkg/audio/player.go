package audio

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/turntaking/pkg/audio/registry"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

const BufferSize = 100 * time.Millisecond

type Player struct {
	PlayerPCM
}

func NewPlayer(playerPCM PlayerPCM) *Player {
	return &Player{
		PlayerPCM: playerPCM,
	}
}

// NewPlayerAuto returns the first registered output backend (by priority)
// that initializes and responds to Ping.
func NewPlayerAuto(
	ctx context.Context,
) (_ret *Player, _err error) {
	logger.Tracef(ctx, "NewPlayerAuto")
	defer func() { logger.Tracef(ctx, "/NewPlayerAuto: %T %v", _ret, _err) }()

	var mErr *multierror.Error
	for _, factory := range registry.PlayerFactories() {
		player, err := factory.NewPlayerPCM()
		logger.Debugf(ctx, "initializing player %T result is %v", factory, err)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to initialize %T: %w", factory, err))
			continue
		}

		err = player.Ping(ctx)
		logger.Debugf(ctx, "pinging PCM player %T result is %v", player, err)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to ping %T: %w", player, err))
			_ = player.Close()
			continue
		}

		return NewPlayer(player), nil
	}

	return nil, &types.DeviceError{
		Kind: types.DeviceErrorKindNoOutputDevice,
		Err:  mErr.ErrorOrNil(),
	}
}

func (a *Player) PlayPCM(
	ctx context.Context,
	sampleRate SampleRate,
	channels Channel,
	pcmFormat PCMFormat,
	bufferSize time.Duration,
	pcmReader io.Reader,
) (PlayStream, error) {
	return a.PlayerPCM.PlayPCM(
		ctx,
		sampleRate,
		channels,
		pcmFormat,
		bufferSize,
		pcmReader,
	)
}
