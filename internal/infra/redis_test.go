package infra

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClientAppliesTimeout(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0", 300*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	opt := client.Options()
	assert.Equal(t, 300*time.Millisecond, opt.DialTimeout)
	assert.Equal(t, 300*time.Millisecond, opt.ReadTimeout)
	assert.Equal(t, 600*time.Millisecond, opt.PoolTimeout)
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	assert.Equal(t, "v", mr.Get("k"))
}

func TestNewRedisClientRejectsBadInput(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "", time.Second)
	assert.ErrorContains(t, err, "required")

	_, err = NewRedisClient(context.Background(), "http://not-redis", time.Second)
	assert.ErrorContains(t, err, "parse redis url")
}

func TestNewRedisClientFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), "redis://"+addr, 200*time.Millisecond)
	assert.ErrorContains(t, err, "ping redis "+addr)
}
