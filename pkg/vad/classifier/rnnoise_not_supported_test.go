//go:build !rnnoise
// +build !rnnoise

package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/turntaking/pkg/vad/implementations/energy"
)

func TestRNNoiseWithoutBuildTagDegrades(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model = ModelNameRNNoise
	require.NoError(t, cfg.Validate())

	c, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.Degraded)
	assert.IsType(t, &energy.Model{}, c.Model)
}
