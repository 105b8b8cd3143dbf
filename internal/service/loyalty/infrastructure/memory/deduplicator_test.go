package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeduplicatorClaimOnce(t *testing.T) {
	ctx := context.Background()
	clock := now
	d := NewDeduplicator(time.Hour)
	d.now = func() time.Time { return clock }

	ok, err := d.Claim(ctx, "visits:event:e-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(ctx, "visits:event:e-1")
	require.NoError(t, err)
	assert.False(t, ok, "second claim within ttl is a duplicate")

	ok, _ = d.Claim(ctx, "visits:event:e-2")
	assert.True(t, ok)

	require.NoError(t, d.Release(ctx, "visits:event:e-2"))
	ok, _ = d.Claim(ctx, "visits:event:e-2")
	assert.True(t, ok, "released key can be claimed again")

	clock = clock.Add(time.Hour)
	ok, _ = d.Claim(ctx, "visits:event:e-1")
	assert.True(t, ok, "expired key can be claimed again")
}
