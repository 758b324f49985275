package registry

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

type PlayerPCMFactory interface {
	NewPlayerPCM() (types.PlayerPCM, error)
}

type playerFactoryWithPriority struct {
	Priority int
	PlayerPCMFactory
}

// populated only from init() functions of the backends, read-only afterwards
var playerFactoryRegistry = map[reflect.Type]playerFactoryWithPriority{}

func RegisterPlayerFactory(
	priority int,
	playerPCMFactory PlayerPCMFactory,
) {
	t := factoryType(playerPCMFactory)
	if _, ok := playerFactoryRegistry[t]; ok {
		panic(fmt.Errorf("there is already registered a factory of PlayerPCM of type %v", t))
	}
	playerFactoryRegistry[t] = playerFactoryWithPriority{
		Priority:         priority,
		PlayerPCMFactory: playerPCMFactory,
	}
}

// PlayerFactories returns the registered factories, the highest priority first.
func PlayerFactories() []PlayerPCMFactory {
	var factoriesWithPriorities []playerFactoryWithPriority
	for _, factory := range playerFactoryRegistry {
		factoriesWithPriorities = append(factoriesWithPriorities, factory)
	}
	sort.SliceStable(factoriesWithPriorities, func(i, j int) bool {
		return factoriesWithPriorities[i].Priority > factoriesWithPriorities[j].Priority
	})

	factories := make([]PlayerPCMFactory, 0, len(factoriesWithPriorities))
	for _, factory := range factoriesWithPriorities {
		factories = append(factories, factory.PlayerPCMFactory)
	}
	return factories
}

func factoryType(factory any) reflect.Type {
	t := reflect.ValueOf(factory).Type()
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
