package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	var r registry
	var calls []string
	mk := func(name string) Listener {
		return func(context.Context, Push) error {
			calls = append(calls, name)
			return nil
		}
	}

	r.add(mk("a"))
	tokenB := r.add(mk("b"))
	r.add(mk("c"))

	require.True(t, r.remove(tokenB))
	require.False(t, r.remove(tokenB), "second removal must be a no-op")

	for _, e := range r.snapshot() {
		_ = e.fn(context.Background(), Push{})
	}
	assert.Equal(t, []string{"a", "c"}, calls)
	assert.Equal(t, 2, r.len())
}

func TestRegistryTokensAreNotReused(t *testing.T) {
	var r registry
	first := r.add(func(context.Context, Push) error { return nil })
	r.remove(first)
	second := r.add(func(context.Context, Push) error { return nil })
	assert.NotEqual(t, first, second)

	r.clear()
	assert.Zero(t, r.len())
	assert.False(t, r.remove(second))
}

func TestRegistrySnapshotIsDetached(t *testing.T) {
	var r registry
	r.add(func(context.Context, Push) error { return nil })
	snap := r.snapshot()
	r.clear()
	assert.Len(t, snap, 1)
}
