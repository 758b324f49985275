//go:build !webrtc
// +build !webrtc

package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/turntaking/pkg/vad/implementations/energy"
	"github.com/xaionaro-go/turntaking/pkg/vad/implementations/webrtc"
)

func TestWebRTCWithoutBuildTagDegrades(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, ModelNameWebRTC, cfg.Model)

	_, err := DefaultModelFactory(context.Background(), cfg)
	require.ErrorIs(t, err, webrtc.ErrNotSupported)

	c, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.Degraded)
	assert.IsType(t, &energy.Model{}, c.Model)
}
