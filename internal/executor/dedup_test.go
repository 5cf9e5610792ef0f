package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDedup_Seen(t *testing.T) {
	d := NewMemoryDedup(time.Hour)
	ctx := context.Background()

	seen, err := d.Seen(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, seen, "first sighting is not a duplicate")

	seen, err = d.Seen(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = d.Seen(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, seen, "distinct keys are independent")
}

func TestMemoryDedup_ExpiryReadmits(t *testing.T) {
	d := NewMemoryDedup(10 * time.Millisecond)
	ctx := context.Background()

	seen, err := d.Seen(ctx, "k1")
	require.NoError(t, err)
	require.False(t, seen)

	time.Sleep(25 * time.Millisecond)

	seen, err = d.Seen(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, seen, "an expired key is seen fresh")
}

func TestMemoryDedup_Concurrent(t *testing.T) {
	d := NewMemoryDedup(time.Hour)
	ctx := context.Background()

	const n = 50
	dupes := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() {
			seen, err := d.Seen(ctx, "same-key")
			if err != nil {
				dupes <- false
				return
			}
			dupes <- seen
		}()
	}

	fresh := 0
	for i := 0; i < n; i++ {
		if !<-dupes {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one caller wins the key")
}
