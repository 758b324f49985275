package event

import (
	"fmt"
	"strings"
)

type Kind int

const (
	KindUndefined = Kind(iota)
	KindSpeechStarted
	KindSpeechContinuing
	KindSpeechEnded
	KindTurnCommitted
	KindInterruption
	EndOfKind
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "<undefined>"
	case KindSpeechStarted:
		return "speech_started"
	case KindSpeechContinuing:
		return "speech_continuing"
	case KindSpeechEnded:
		return "speech_ended"
	case KindTurnCommitted:
		return "turn_committed"
	case KindInterruption:
		return "interruption"
	default:
		return fmt.Sprintf("unknown_kind_%d", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind accepts exactly the names returned by Kind.String;
// anything else is an error.
func ParseKind(s string) (Kind, error) {
	for k := KindUndefined + 1; k < EndOfKind; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return KindUndefined, fmt.Errorf("unknown event kind '%s'", s)
}

// ParseKinds parses a comma-separated list of kinds.
func ParseKinds(s string) ([]Kind, error) {
	var result []Kind
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := ParseKind(part)
		if err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	return result, nil
}
