//go:build !rnnoise
// +build !rnnoise

package rnnoise

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNotSupported(t *testing.T) {
	m, err := New(context.Background(), 16000)
	require.ErrorIs(t, err, ErrNotSupported)
	assert.Nil(t, m)

	_, err = New(context.Background(), 44100)
	assert.NotErrorIs(t, err, ErrNotSupported)
}
