package prefixcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_StartLoadsInitialData(t *testing.T) {
	load := func(ctx context.Context) (map[string]string, error) {
		return map[string]string{"user1": "!", "user2": NoPrefix}, nil
	}
	c := New(load, nil, time.Hour)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	assert.Equal(t, "!", c.GetPrefix("user1"))
	assert.Equal(t, NoPrefix, c.GetPrefix("user2"))
}

func TestCache_GetPrefix_UnknownUserReturnsNoPrefix(t *testing.T) {
	load := func(ctx context.Context) (map[string]string, error) {
		return map[string]string{}, nil
	}
	c := New(load, nil, time.Hour)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	assert.Equal(t, NoPrefix, c.GetPrefix("nobody"))
}

func TestCache_PutPrefix_WritesThroughWithoutValkey(t *testing.T) {
	load := func(ctx context.Context) (map[string]string, error) {
		return map[string]string{}, nil
	}
	c := New(load, nil, time.Hour)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	c.PutPrefix(context.Background(), "user1", "#")
	assert.Equal(t, "#", c.GetPrefix("user1"))
}

func TestCache_PutPrefix_EmptyNormalizesToNoPrefix(t *testing.T) {
	load := func(ctx context.Context) (map[string]string, error) {
		return map[string]string{}, nil
	}
	c := New(load, nil, time.Hour)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	c.PutPrefix(context.Background(), "user1", "")
	assert.Equal(t, NoPrefix, c.GetPrefix("user1"))
}

func TestCache_Size(t *testing.T) {
	load := func(ctx context.Context) (map[string]string, error) {
		return map[string]string{"a": "1", "b": "2", "c": "3"}, nil
	}
	c := New(load, nil, time.Hour)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	assert.Equal(t, 3, c.Size())
}
