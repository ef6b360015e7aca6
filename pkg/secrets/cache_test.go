package secrets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_Expiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache[string](time.Minute)
	c.now = func() time.Time { return now }

	c.Put("a", "1")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_Bust(t *testing.T) {
	c := NewCache[int](time.Minute)
	c.Put("a", 1)
	c.Bust("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("APP_BROKER_API_KEY", "k")
	t.Setenv("APP_BROKER_CLIENT_ID", "3")

	got, err := EnvProvider{Prefix: "app"}.GetSecret(context.Background(), "broker")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"api_key": "k", "client_id": "3"}, got)

	_, err = EnvProvider{Prefix: "app"}.GetSecret(context.Background(), "nothing")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}
