package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOwnerID(t *testing.T) {
	id := NewOwnerID()

	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, NewOwnerID())
}

func TestNewRemoteClient(t *testing.T) {
	t.Run("http is the default", func(t *testing.T) {
		client, closeFn, err := NewRemoteClient(context.Background(), BackendConfig{RequestTimeout: time.Second})
		require.NoError(t, err)
		defer closeFn()

		httpClient, ok := client.(*HTTPClient)
		require.True(t, ok)
		assert.Equal(t, time.Second, httpClient.http.Timeout)
	})

	t.Run("memory", func(t *testing.T) {
		client, closeFn, err := NewRemoteClient(context.Background(), BackendConfig{
			Backend: BackendMemory,
			Owner:   "client0",
		})
		require.NoError(t, err)
		defer closeFn()

		mc, ok := client.(*MemoryClient)
		require.True(t, ok)
		assert.Equal(t, "client0", mc.Owner())
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)

		client, closeFn, err := NewRemoteClient(context.Background(), BackendConfig{
			Backend:  BackendRedis,
			RedisURL: "redis://" + mr.Addr() + "/0",
			LeaseTTL: 5 * time.Second,
		})
		require.NoError(t, err)
		defer closeFn()

		rc, ok := client.(*RedisClient)
		require.True(t, ok)
		assert.NotEmpty(t, rc.Owner(), "owner defaults to a generated ID")
		assert.Equal(t, 5*time.Second, rc.TTL())
	})

	t.Run("redis bad url", func(t *testing.T) {
		_, closeFn, err := NewRemoteClient(context.Background(), BackendConfig{
			Backend:  BackendRedis,
			RedisURL: "not-a-url",
		})
		require.Error(t, err)
		assert.NotNil(t, closeFn)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, closeFn, err := NewRemoteClient(context.Background(), BackendConfig{Backend: "etcd"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown lock backend")
		assert.NoError(t, closeFn())
	})
}
