// Package secrets fetches key/value secrets from a backing store.
package secrets

import (
	"context"
	"errors"
	"os"
	"strings"
)

// ErrSecretNotFound is returned when a provider has nothing under a key.
var ErrSecretNotFound = errors.New("secret not found")

// Provider retrieves a secret by name as a key/value map.
type Provider interface {
	GetSecret(ctx context.Context, key string) (map[string]string, error)
}

// EnvProvider serves secrets from environment variables. Key "broker"
// with prefix "EC" maps BROKER_API_KEY to api_key by reading EC_BROKER_API_KEY.
type EnvProvider struct {
	Prefix string
}

func (p EnvProvider) GetSecret(_ context.Context, key string) (map[string]string, error) {
	prefix := strings.ToUpper(key) + "_"
	if p.Prefix != "" {
		prefix = strings.ToUpper(p.Prefix) + "_" + prefix
	}

	out := make(map[string]string)
	for _, kv := range os.Environ() {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || val == "" || !strings.HasPrefix(name, prefix) {
			continue
		}
		out[strings.ToLower(strings.TrimPrefix(name, prefix))] = val
	}
	if len(out) == 0 {
		return nil, ErrSecretNotFound
	}
	return out, nil
}
