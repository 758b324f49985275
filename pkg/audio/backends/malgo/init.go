package malgo

import (
	"github.com/xaionaro-go/turntaking/pkg/audio/registry"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

const (
	Priority = 70
)

func init() {
	registry.RegisterRecorderFactory(Priority, RecorderPCMFactory{})
}

type RecorderPCMFactory struct{}

func (RecorderPCMFactory) NewRecorderPCM() (types.RecorderPCM, error) {
	r, err := NewRecorderPCM()
	if err != nil {
		return nil, err
	}
	return r, nil
}
