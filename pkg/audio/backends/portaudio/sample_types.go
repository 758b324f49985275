package portaudio

import (
	"unsafe"
)

type sampleType interface {
	uint8 | int16 | int32 | int64 | float32 | float64
}

// asBytes returns the memory of the given sample buffer as a byte slice (no copy).
func asBytes[T sampleType](buf []T) []byte {
	var sample T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(buf))), len(buf)*int(unsafe.Sizeof(sample)))
}
