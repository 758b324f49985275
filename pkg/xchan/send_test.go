package xchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDropOldest(t *testing.T) {
	ch := make(chan int, 3)
	for i := 0; i < 3; i++ {
		_, isDropped := SendDropOldest(ch, i)
		require.False(t, isDropped)
	}

	dropped, isDropped := SendDropOldest(ch, 3)
	require.True(t, isDropped)
	assert.Equal(t, 0, dropped)

	dropped, isDropped = SendDropOldest(ch, 4)
	require.True(t, isDropped)
	assert.Equal(t, 1, dropped)

	close(ch)
	var result []int
	for v := range ch {
		result = append(result, v)
	}
	assert.Equal(t, []int{2, 3, 4}, result)
}
