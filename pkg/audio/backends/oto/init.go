package oto

import (
	"github.com/xaionaro-go/turntaking/pkg/audio/registry"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

const (
	Priority = 50
)

func init() {
	registry.RegisterPlayerFactory(Priority, PlayerPCMOtoFactory{})
}

type PlayerPCMOtoFactory struct{}

func (PlayerPCMOtoFactory) NewPlayerPCM() (types.PlayerPCM, error) {
	p, err := NewPlayerPCM()
	if err != nil {
		return nil, err
	}
	return p, nil
}
