package portaudio

import (
	"github.com/xaionaro-go/turntaking/pkg/audio/registry"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

const (
	Priority = 60
)

func init() {
	registry.RegisterPlayerFactory(Priority, PlayerPCMFactory{})
	registry.RegisterRecorderFactory(Priority, RecorderPCMFactory{})
}

type PlayerPCMFactory struct{}

func (PlayerPCMFactory) NewPlayerPCM() (types.PlayerPCM, error) {
	p, err := NewPlayerPCM()
	if err != nil {
		return nil, err
	}
	return p, nil
}

type RecorderPCMFactory struct{}

func (RecorderPCMFactory) NewRecorderPCM() (types.RecorderPCM, error) {
	r, err := NewRecorderPCM()
	if err != nil {
		return nil, err
	}
	return r, nil
}
