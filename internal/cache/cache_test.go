package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "fraud:score:abc:T000001", Key("abc", "T000001"))
	assert.NotEqual(t, Key("m1", "T1"), Key("m2", "T1"))
}

func TestOpen_EmptyAddrIsNop(t *testing.T) {
	c, err := Open(context.Background(), "", 0, time.Minute)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, c)

	require.NoError(t, c.Set(context.Background(), "m", map[string]float64{"T1": 0.4}))
	got, err := c.Get(context.Background(), "m", []string{"T1"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, c.Close())
}

func TestNewRedis_InvalidTTL(t *testing.T) {
	_, err := NewRedis(context.Background(), "localhost:6379", 0, 0)
	assert.Error(t, err)
}

func TestRedis_RoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	c, err := NewRedis(ctx, addr, 0, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	model := uuid.NewString()
	scores := map[string]float64{"T1": 0.1234567890123, "T2": 1e-9}
	require.NoError(t, c.Set(ctx, model, scores))

	got, err := c.Get(ctx, model, []string{"T1", "T2", "T3"})
	require.NoError(t, err)
	assert.Equal(t, scores, got)

	other, err := c.Get(ctx, uuid.NewString(), []string{"T1"})
	require.NoError(t, err)
	assert.Empty(t, other)
}
