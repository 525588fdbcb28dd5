// ABOUTME: Tests for the redis session backend
// ABOUTME: Uses miniredis to verify key prefixing and expiry

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBackend_PrefixAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedisBackend("redis://"+mr.Addr(), "coven:session:", time.Hour)
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "abc", []byte(`{}`)))

	assert.True(t, mr.Exists("coven:session:abc"))
	assert.Equal(t, time.Hour, mr.TTL("coven:session:abc"))

	mr.FastForward(2 * time.Hour)
	_, err = b.Get(ctx, "abc")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestRedisBackend_NoTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedisBackend("redis://"+mr.Addr(), "p:", 0)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Put(context.Background(), "abc", []byte(`{}`)))
	assert.Equal(t, time.Duration(0), mr.TTL("p:abc"))
}

func TestRedisBackend_BadURL(t *testing.T) {
	_, err := NewRedisBackend("not a url", "", 0)
	assert.Error(t, err)
}

func TestRedisBackend_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	b, err := NewRedisBackend("redis://"+addr, "", 0)
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = b.Get(ctx, "x")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSessionNotFound))
}
