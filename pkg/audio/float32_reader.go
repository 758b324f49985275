package audio

import (
	"encoding/binary"
	"io"
	"math"
)

type Float32Reader interface {
	Read([]float32) (int, error)
}

type readerFromFloat32Reader struct {
	Backend Float32Reader
	Buffer  []float32
}

var _ io.Reader = (*readerFromFloat32Reader)(nil)

// NewReaderFromFloat32Reader converts a reader of float samples (like an
// oggvorbis.Reader) into a reader of PCMFormatFloat32LE bytes.
func NewReaderFromFloat32Reader(r Float32Reader) io.Reader {
	return &readerFromFloat32Reader{
		Backend: r,
	}
}

func (r *readerFromFloat32Reader) Read(p []byte) (int, error) {
	samples := len(p) / 4
	if samples == 0 {
		return 0, io.ErrShortBuffer
	}
	if cap(r.Buffer) < samples {
		r.Buffer = make([]float32, samples)
	}
	buf := r.Buffer[:samples]

	n, err := r.Backend.Read(buf)
	for idx, v := range buf[:n] {
		binary.LittleEndian.PutUint32(p[idx*4:], math.Float32bits(v))
	}
	return n * 4, err
}
