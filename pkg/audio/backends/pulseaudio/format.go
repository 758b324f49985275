package pulseaudio

import (
	"fmt"
	"io"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
	"github.com/xaionaro-go/turntaking/pkg/audio/types"
)

func pulseFormat(pcmFormat types.PCMFormat) (byte, error) {
	switch pcmFormat {
	case types.PCMFormatU8:
		return proto.FormatUint8, nil
	case types.PCMFormatS16LE:
		return proto.FormatInt16LE, nil
	case types.PCMFormatS16BE:
		return proto.FormatInt16BE, nil
	case types.PCMFormatS32LE:
		return proto.FormatInt32LE, nil
	case types.PCMFormatS32BE:
		return proto.FormatInt32BE, nil
	case types.PCMFormatFloat32LE:
		return proto.FormatFloat32LE, nil
	case types.PCMFormatFloat32BE:
		return proto.FormatFloat32BE, nil
	default:
		return 0, fmt.Errorf("received an unexpected format: %v", pcmFormat)
	}
}

func channelMap(channels types.Channel) (proto.ChannelMap, error) {
	switch channels {
	case 1:
		return proto.ChannelMap{proto.ChannelMono}, nil
	case 2:
		return proto.ChannelMap{proto.ChannelLeft, proto.ChannelRight}, nil
	default:
		return nil, fmt.Errorf("do not know how to configure %d channels", channels)
	}
}

type pulseReader struct {
	pulseFormat byte
	io.Reader
}

var _ pulse.Reader = (*pulseReader)(nil)

func newPulseReader(pcmFormat types.PCMFormat, reader io.Reader) (*pulseReader, error) {
	f, err := pulseFormat(pcmFormat)
	if err != nil {
		return nil, err
	}
	return &pulseReader{
		pulseFormat: f,
		Reader:      reader,
	}, nil
}

func (r pulseReader) Format() byte {
	return r.pulseFormat
}

type pulseWriter struct {
	pulseFormat byte
	io.Writer
}

var _ pulse.Writer = (*pulseWriter)(nil)

func newPulseWriter(pcmFormat types.PCMFormat, writer io.Writer) (*pulseWriter, error) {
	f, err := pulseFormat(pcmFormat)
	if err != nil {
		return nil, err
	}
	return &pulseWriter{
		pulseFormat: f,
		Writer:      writer,
	}, nil
}

func (w pulseWriter) Format() byte {
	return w.pulseFormat
}
