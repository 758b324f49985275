package resampler

import (
	"fmt"
	"io"
	"sync"

	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

const (
	distanceStep = 10000
)

type Format struct {
	Channels   types.Channel
	SampleRate types.SampleRate
	PCMFormat  types.PCMFormat
}

type precalculated struct {
	inSampleSize    uint
	outSampleSize   uint
	inNumAvg        uint
	outNumRepeat    uint
	outDistanceStep uint64
}

type Resampler struct {
	inReader    io.Reader
	inFormat    Format
	outFormat   Format
	inDistance  uint64
	outDistance uint64
	locker      sync.Mutex
	buffer      []byte
	pendingLen  int
	precalculated
}

var _ io.Reader = (*Resampler)(nil)

func NewResampler(
	inFormat Format,
	inReader io.Reader,
	outFormat Format,
) (*Resampler, error) {
	r := &Resampler{
		inReader:  inReader,
		inFormat:  inFormat,
		outFormat: outFormat,
	}
	err := r.init()
	if err != nil {
		return nil, fmt.Errorf("unable to initialize a resampler from %#+v to %#+v: %w", inFormat, outFormat, err)
	}
	return r, nil
}

func (r *Resampler) init() error {
	for _, f := range []Format{r.inFormat, r.outFormat} {
		if f.PCMFormat.Size() == 0 {
			return fmt.Errorf("unsupported PCM format: %v", f.PCMFormat)
		}
		if f.SampleRate == 0 {
			return fmt.Errorf("the sample rate is not set")
		}
		if f.Channels == 0 {
			return fmt.Errorf("the amount of channels is not set")
		}
	}
	r.inSampleSize = r.inFormat.PCMFormat.Size()
	r.outSampleSize = r.outFormat.PCMFormat.Size()

	r.inNumAvg = 1
	r.outNumRepeat = 1
	if r.inFormat.Channels != r.outFormat.Channels {
		switch {
		case r.inFormat.Channels == 1:
			r.outNumRepeat = uint(r.outFormat.Channels)
		case r.outFormat.Channels == 1:
			r.inNumAvg = uint(r.inFormat.Channels)
		default:
			return fmt.Errorf("do not know how to convert %d channels to %d", r.inFormat.Channels, r.outFormat.Channels)
		}
	}

	sampleRateAdjust := float64(r.outFormat.SampleRate) / float64(r.inFormat.SampleRate)
	r.outDistanceStep = uint64(float64(distanceStep) / sampleRateAdjust)

	r.inDistance = 0
	r.outDistance = 0

	return nil
}

// Read converts the input into the output format. Multichannel input is mixed
// down to mono by averaging; bytes of incomplete input chunks are kept until the next call.
func (r *Resampler) Read(p []byte) (int, error) {
	r.locker.Lock()
	defer r.locker.Unlock()

	outChunkSize := uint64(r.outSampleSize) * uint64(r.outNumRepeat)
	inChunkSize := uint64(r.inSampleSize) * uint64(r.inNumAvg)
	maxOutChunks := uint64(len(p)) / outChunkSize
	if maxOutChunks == 0 {
		return 0, io.ErrShortBuffer
	}

	chunksToRead := uint64(float64(maxOutChunks) * float64(r.inFormat.SampleRate) / float64(r.outFormat.SampleRate))
	if chunksToRead == 0 {
		chunksToRead = 1
	}
	bytesWanted := chunksToRead * inChunkSize
	if cap(r.buffer) < int(bytesWanted) {
		newBuffer := make([]byte, bytesWanted)
		copy(newBuffer, r.buffer[:r.pendingLen])
		r.buffer = newBuffer
	}
	r.buffer = r.buffer[:cap(r.buffer)]

	var (
		n   int
		err error
	)
	if uint64(r.pendingLen) < bytesWanted {
		n, err = r.inReader.Read(r.buffer[r.pendingLen:bytesWanted])
		if n < 0 {
			return 0, fmt.Errorf("received a negative count of bytes: %d", n)
		}
	}
	totalLen := uint64(r.pendingLen + n)
	chunksRead := totalLen / inChunkSize

	dstChunkIdx := uint64(0)
	srcChunkIdx := uint64(0)
	for srcChunkIdx < chunksRead && dstChunkIdx < maxOutChunks {
		// skipping input chunks when downsampling
		for r.inDistance < r.outDistance && srcChunkIdx < chunksRead {
			srcChunkIdx++
			r.inDistance += distanceStep
		}
		if srcChunkIdx >= chunksRead {
			break
		}

		idxSrc := srcChunkIdx * inChunkSize
		var sum float64
		for channelIdx := uint64(0); channelIdx < uint64(r.inNumAvg); channelIdx++ {
			sum += r.inFormat.PCMFormat.Decode(r.buffer[idxSrc+channelIdx*uint64(r.inSampleSize):])
		}
		val := sum / float64(r.inNumAvg)

		// repeating output chunks when upsampling
		for dstChunkIdx < maxOutChunks && r.outDistance <= r.inDistance {
			for repeatIdx := uint64(0); repeatIdx < uint64(r.outNumRepeat); repeatIdx++ {
				idxDst := dstChunkIdx*outChunkSize + repeatIdx*uint64(r.outSampleSize)
				r.outFormat.PCMFormat.Encode(p[idxDst:], val)
			}
			dstChunkIdx++
			r.outDistance += r.outDistanceStep
		}
		if r.outDistance <= r.inDistance {
			// the output is full, but this input chunk is not fully consumed yet
			break
		}

		srcChunkIdx++
		r.inDistance += distanceStep
	}

	consumed := srcChunkIdx * inChunkSize
	r.pendingLen = int(copy(r.buffer, r.buffer[consumed:totalLen]))

	return int(dstChunkIdx * outChunkSize), err
}
