package vad

import (
	"fmt"
)

type ErrorKind int

const (
	ErrorKindUndefined = ErrorKind(iota)
	ErrorKindSampleRateMismatch
	ErrorKindModelInit
	ErrorKindInference
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindUndefined:
		return "<undefined>"
	case ErrorKindSampleRateMismatch:
		return "sample_rate_mismatch"
	case ErrorKindModelInit:
		return "model_init"
	case ErrorKindInference:
		return "inference"
	default:
		return fmt.Sprintf("unknown_vad_error_%d", int(k))
	}
}

type VadError struct {
	Kind ErrorKind
	Err  error
}

var _ error = (*VadError)(nil)

func (e *VadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("VAD error %s", e.Kind)
	}
	return fmt.Sprintf("VAD error %s: %v", e.Kind, e.Err)
}

func (e *VadError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, &VadError{Kind: k}) match by kind.
func (e *VadError) Is(target error) bool {
	t, ok := target.(*VadError)
	if !ok {
		return false
	}
	return t.Kind == ErrorKindUndefined || t.Kind == e.Kind
}

var (
	ErrSampleRateMismatch = &VadError{Kind: ErrorKindSampleRateMismatch}
	ErrModelInit          = &VadError{Kind: ErrorKindModelInit}
	ErrInference          = &VadError{Kind: ErrorKindInference}
)
