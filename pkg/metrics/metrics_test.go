package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("records", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m, err := New(reg, prometheus.Labels{"session_id": "test"})
		require.NoError(t, err)

		m.FrameEmitted()
		m.FrameEmitted()
		m.FrameOverrun()
		m.Classified("speech", time.Millisecond)
		m.Classified("silence", time.Millisecond)
		m.Classified("speech", time.Millisecond)
		m.TurnCommitted("silence_gap", 2*time.Second)
		m.TurnDiscarded()
		m.Interrupted()
		m.SetClassifierDegraded(true)
		m.SetPlaybackActive(true)
		m.SetPlaybackActive(false)

		assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesTotal))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.FrameOverrunsTotal))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.VerdictsTotal.WithLabelValues("speech")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.VerdictsTotal.WithLabelValues("silence")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsCommittedTotal.WithLabelValues("silence_gap")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsDiscardedTotal))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.InterruptionsTotal))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassifierDegraded))
		assert.Equal(t, 0.0, testutil.ToFloat64(m.PlaybackActive))
		assert.Equal(t, 1, testutil.CollectAndCount(m.TurnDuration))
	})

	t.Run("sessions_do_not_share_collectors", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m0, err := New(reg, prometheus.Labels{"session_id": "a"})
		require.NoError(t, err)
		m1, err := New(reg, prometheus.Labels{"session_id": "b"})
		require.NoError(t, err)

		m0.Interrupted()
		assert.Equal(t, 1.0, testutil.ToFloat64(m0.InterruptionsTotal))
		assert.Equal(t, 0.0, testutil.ToFloat64(m1.InterruptionsTotal))

		_, err = New(reg, prometheus.Labels{"session_id": "a"})
		require.Error(t, err)

		m0.Unregister(reg)
		_, err = New(reg, prometheus.Labels{"session_id": "a"})
		require.NoError(t, err)
	})

	t.Run("nil_is_noop", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.FrameEmitted()
			m.Classified("speech", time.Millisecond)
			m.TurnCommitted("max_duration", time.Second)
			m.Unregister(prometheus.NewRegistry())
		})
	})
}
