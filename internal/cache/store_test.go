package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/guardproxy/config"
)

type verdict struct {
	Category string `json:"category"`
	Action   string `json:"action"`
}

func connect(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := Connect(context.Background(), Options{Addr: mr.Addr(), DefaultTTL: time.Minute}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return mr, s
}

func TestOptionsFrom(t *testing.T) {
	o := OptionsFrom(config.CacheConfig{Addr: "redis:6379", Password: "pw", DB: 2, TLSEnabled: true, PoolSize: 8, MinIdleConns: 1, TTL: time.Hour})
	assert.Equal(t, Options{Addr: "redis:6379", Password: "pw", DB: 2, TLS: true, PoolSize: 8, MinIdleConns: 1, DefaultTTL: time.Hour}, o)
}

func TestStore_RoundTripAndStats(t *testing.T) {
	mr, s := connect(t)
	ctx := context.Background()

	var got verdict
	assert.ErrorIs(t, s.GetJSON(ctx, "gp:v:1", &got), ErrMiss)

	require.NoError(t, s.SetJSON(ctx, "gp:v:1", verdict{Category: "benign", Action: "allow"}, 0))
	require.NoError(t, s.GetJSON(ctx, "gp:v:1", &got))
	assert.Equal(t, verdict{Category: "benign", Action: "allow"}, got)

	// ttl 为 0 时使用 DefaultTTL
	assert.Equal(t, time.Minute, mr.TTL("gp:v:1"))

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.InDelta(t, 0.5, st.HitRate(), 1e-9)
	assert.Zero(t, Stats{}.HitRate())
}

func TestStore_TTLExpiry(t *testing.T) {
	mr, s := connect(t)
	ctx := context.Background()

	require.NoError(t, s.SetJSON(ctx, "k", verdict{Action: "block"}, 30*time.Second))
	mr.FastForward(31 * time.Second)

	var got verdict
	assert.ErrorIs(t, s.GetJSON(ctx, "k", &got), ErrMiss)
}

func TestStore_CorruptEntryIsMiss(t *testing.T) {
	mr, s := connect(t)
	require.NoError(t, mr.Set("k", "{not json"))

	var got verdict
	err := s.GetJSON(context.Background(), "k", &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode cached value")
	assert.Equal(t, uint64(1), s.Stats().Misses)
}

func TestStore_RedisDown(t *testing.T) {
	mr, s := connect(t)
	mr.Close()

	var got verdict
	assert.Error(t, s.GetJSON(context.Background(), "k", &got))
	assert.Error(t, s.SetJSON(context.Background(), "k", verdict{}, 0))
	assert.Error(t, s.Ping(context.Background()))
	assert.Equal(t, uint64(2), s.Stats().Errors)
}

func TestStore_Closed(t *testing.T) {
	_, s := connect(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	var got verdict
	assert.ErrorIs(t, s.GetJSON(context.Background(), "k", &got), ErrClosed)
	assert.ErrorIs(t, s.SetJSON(context.Background(), "k", got, 0), ErrClosed)
	assert.ErrorIs(t, s.Ping(context.Background()), ErrClosed)
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(context.Background(), Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}
