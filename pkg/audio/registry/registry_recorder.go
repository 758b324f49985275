package registry

import (
	"fmt"
	"sort"

	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

type RecorderPCMFactory interface {
	NewRecorderPCM() (types.RecorderPCM, error)
}

type recorderFactoryWithPriority struct {
	Priority int
	RecorderPCMFactory
}

// populated only from init() functions of the backends, read-only afterwards
var recorderFactoryRegistry = map[string]recorderFactoryWithPriority{}

func RegisterRecorderFactory(
	priority int,
	recorderPCMFactory RecorderPCMFactory,
) {
	t := factoryType(recorderPCMFactory).String()
	if _, ok := recorderFactoryRegistry[t]; ok {
		panic(fmt.Errorf("there is already registered a factory of RecorderPCM of type %v", t))
	}
	recorderFactoryRegistry[t] = recorderFactoryWithPriority{
		Priority:           priority,
		RecorderPCMFactory: recorderPCMFactory,
	}
}

// RecorderFactories returns the registered factories, the highest priority first.
func RecorderFactories() []RecorderPCMFactory {
	var factoriesWithPriorities []recorderFactoryWithPriority
	for _, factory := range recorderFactoryRegistry {
		factoriesWithPriorities = append(factoriesWithPriorities, factory)
	}
	sort.SliceStable(factoriesWithPriorities, func(i, j int) bool {
		return factoriesWithPriorities[i].Priority > factoriesWithPriorities[j].Priority
	})

	factories := make([]RecorderPCMFactory, 0, len(factoriesWithPriorities))
	for _, factory := range factoriesWithPriorities {
		factories = append(factories, factory.RecorderPCMFactory)
	}
	return factories
}
