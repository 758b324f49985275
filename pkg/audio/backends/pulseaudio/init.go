package pulseaudio

import (
	"github.com/xaionaro-go/turntaking/pkg/audio/registry"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

const (
	Priority = 100
)

func init() {
	registry.RegisterPlayerFactory(Priority, PlayerPCMPulseFactory{})
	registry.RegisterRecorderFactory(Priority, RecorderPCMPulseFactory{})
}

type PlayerPCMPulseFactory struct{}

func (PlayerPCMPulseFactory) NewPlayerPCM() (types.PlayerPCM, error) {
	p, err := NewPlayerPCM()
	if err != nil {
		return nil, err
	}
	return p, nil
}

type RecorderPCMPulseFactory struct{}

func (RecorderPCMPulseFactory) NewRecorderPCM() (types.RecorderPCM, error) {
	r, err := NewRecorderPCM()
	if err != nil {
		return nil, err
	}
	return r, nil
}
