package playback

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/turntaking/pkg/audio"
	"github.com/xaionaro-go/turntaking/pkg/metrics"
)

type fakePlayer struct {
	// Hold makes streams keep "playing" after the source ended until closed.
	Hold bool

	locker  sync.Mutex
	streams []*fakeStream
}

var _ audio.PlayerPCM = (*fakePlayer)(nil)

func (*fakePlayer) Close() error               { return nil }
func (*fakePlayer) Ping(context.Context) error { return nil }

func (p *fakePlayer) PlayPCM(
	ctx context.Context,
	sampleRate audio.SampleRate,
	channels audio.Channel,
	format audio.PCMFormat,
	bufferSize time.Duration,
	reader io.Reader,
) (audio.PlayStream, error) {
	s := &fakeStream{
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go func() {
		defer close(s.doneCh)
		buf := make([]byte, 64)
		for {
			select {
			case <-s.closeCh:
				return
			default:
			}
			n, err := reader.Read(buf)
			s.locker.Lock()
			s.played.Write(buf[:n])
			s.locker.Unlock()
			if err != nil {
				break
			}
		}
		if p.Hold {
			<-s.closeCh
		}
	}()

	p.locker.Lock()
	defer p.locker.Unlock()
	p.streams = append(p.streams, s)
	return s, nil
}

func (p *fakePlayer) Streams() []*fakeStream {
	p.locker.Lock()
	defer p.locker.Unlock()
	return append([]*fakeStream(nil), p.streams...)
}

type fakeStream struct {
	locker    sync.Mutex
	played    bytes.Buffer
	closeOnce sync.Once
	closeCh   chan struct{}
	doneCh    chan struct{}
	closed    bool
}

func (s *fakeStream) Drain() error {
	<-s.doneCh
	return nil
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() {
		s.locker.Lock()
		s.closed = true
		s.locker.Unlock()
		close(s.closeCh)
	})
	return nil
}

func (s *fakeStream) IsClosed() bool {
	s.locker.Lock()
	defer s.locker.Unlock()
	return s.closed
}

func (s *fakeStream) Played() int {
	s.locker.Lock()
	defer s.locker.Unlock()
	return s.played.Len()
}

func float32PCM(samples int) PCM {
	return PCM{
		Reader:     bytes.NewReader(make([]byte, samples*4)),
		SampleRate: 48000,
		Channels:   1,
		Format:     audio.PCMFormatFloat32LE,
	}
}

// blockingReader never ends until released.
type blockingReader struct {
	releaseCh chan struct{}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	<-r.releaseCh
	return 0, io.EOF
}

func TestController(t *testing.T) {
	ctx := context.Background()

	t.Run("stop_when_idle_is_a_noop", func(t *testing.T) {
		c, err := NewController(DefaultConfig(), &fakePlayer{}, nil)
		require.NoError(t, err)
		assert.False(t, c.IsPlaying())
		require.NoError(t, c.Stop())
		require.NoError(t, c.Stop())
		assert.False(t, c.IsPlaying())
	})

	t.Run("natural_end", func(t *testing.T) {
		player := &fakePlayer{}
		c, err := NewController(DefaultConfig(), player, nil)
		require.NoError(t, err)

		require.NoError(t, c.Play(ctx, float32PCM(1000)))
		assert.Eventually(t, func() bool { return !c.IsPlaying() }, time.Second, time.Millisecond)

		streams := player.Streams()
		require.Len(t, streams, 1)
		assert.Equal(t, 4000, streams[0].Played())
		assert.Eventually(t, streams[0].IsClosed, time.Second, time.Millisecond)
	})

	t.Run("stop_clears_the_queue", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		m, err := metrics.New(registry, nil)
		require.NoError(t, err)

		player := &fakePlayer{Hold: true}
		c, err := NewController(DefaultConfig(), player, m)
		require.NoError(t, err)

		first := &blockingReader{releaseCh: make(chan struct{})}
		defer close(first.releaseCh)
		require.NoError(t, c.Play(ctx, PCM{Reader: first, SampleRate: 48000, Channels: 1, Format: audio.PCMFormatFloat32LE}))
		require.NoError(t, c.Play(ctx, float32PCM(1000)))
		assert.True(t, c.IsPlaying())
		assert.Equal(t, float64(1), testutil.ToFloat64(m.PlaybackActive))

		streams := player.Streams()
		require.Len(t, streams, 1, "the second piece is queued into the same stream")
		assert.Equal(t, 2, c.current.Queue.Len())

		require.NoError(t, c.Stop())
		assert.False(t, c.IsPlaying())
		assert.True(t, streams[0].IsClosed())
		assert.Equal(t, float64(0), testutil.ToFloat64(m.PlaybackActive))
		assert.Equal(t, 0, streams[0].Played())
	})

	t.Run("play_after_stop", func(t *testing.T) {
		player := &fakePlayer{Hold: true}
		c, err := NewController(DefaultConfig(), player, nil)
		require.NoError(t, err)

		require.NoError(t, c.Play(ctx, float32PCM(100)))
		require.NoError(t, c.Stop())
		require.NoError(t, c.Play(ctx, float32PCM(100)))
		assert.True(t, c.IsPlaying())
		assert.Len(t, player.Streams(), 2)
		require.NoError(t, c.Close())
		assert.False(t, c.IsPlaying())
	})

	t.Run("stop_cuts_off_a_draining_stream", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		m, err := metrics.New(registry, nil)
		require.NoError(t, err)

		player := &fakePlayer{Hold: true}
		c, err := NewController(DefaultConfig(), player, m)
		require.NoError(t, err)

		require.NoError(t, c.Play(ctx, float32PCM(100)))
		first := c.current
		require.NotNil(t, first)
		require.Eventually(t, first.Queue.IsEnded, time.Second, time.Millisecond)

		// the device still plays out the tail of the first piece
		require.NoError(t, c.Play(ctx, float32PCM(100)))
		streams := player.Streams()
		require.Len(t, streams, 2)
		assert.True(t, c.IsPlaying())
		assert.False(t, streams[0].IsClosed())

		require.NoError(t, c.Stop())
		assert.False(t, c.IsPlaying())
		assert.True(t, streams[0].IsClosed(), "the tail of the first piece must be cut off too")
		assert.True(t, streams[1].IsClosed())
		assert.Equal(t, float64(0), testutil.ToFloat64(m.PlaybackActive))
	})

	t.Run("converts_to_the_output_format", func(t *testing.T) {
		player := &fakePlayer{}
		c, err := NewController(DefaultConfig(), player, nil)
		require.NoError(t, err)

		require.NoError(t, c.Play(ctx, PCM{
			Reader:     bytes.NewReader(make([]byte, 1600*2)),
			SampleRate: 16000,
			Channels:   1,
			Format:     audio.PCMFormatS16LE,
		}))
		assert.Eventually(t, func() bool { return !c.IsPlaying() }, time.Second, time.Millisecond)

		streams := player.Streams()
		require.Len(t, streams, 1)
		assert.InDelta(t, 4800*4, streams[0].Played(), 16)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := NewController(DefaultConfig(), nil, nil)
		require.Error(t, err)

		c, err := NewController(DefaultConfig(), &fakePlayer{}, nil)
		require.NoError(t, err)
		require.Error(t, c.Play(ctx, PCM{}))
	})
}

func TestQueue(t *testing.T) {
	q := newQueue(bytes.NewReader([]byte{1, 2}))
	require.True(t, q.Append(bytes.NewReader([]byte{3})))

	got, err := io.ReadAll(q)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
	assert.False(t, q.Append(bytes.NewReader([]byte{4})), "an ended queue accepts nothing")

	q = newQueue(bytes.NewReader([]byte{1}))
	q.Clear()
	n, err := q.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}
