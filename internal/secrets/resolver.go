// Package secrets resolves broker credentials through a secrets provider,
// caching them locally to reduce provider calls.
package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/internal/broker"
	"github.com/Checker-Finance/execution-core/internal/metrics"
	pkgsecrets "github.com/Checker-Finance/execution-core/pkg/secrets"
)

// Resolver loads broker.Credentials stored under a secret name.
type Resolver struct {
	logger   *zap.Logger
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[broker.Credentials]
}

func NewResolver(logger *zap.Logger, provider pkgsecrets.Provider, cache *pkgsecrets.Cache[broker.Credentials]) *Resolver {
	return &Resolver{logger: logger, provider: provider, cache: cache}
}

// Resolve returns the credentials under name, from cache when fresh.
func (r *Resolver) Resolve(ctx context.Context, name string) (broker.Credentials, error) {
	key := strings.ToLower(name)
	if creds, ok := r.cache.Get(key); ok {
		metrics.IncCacheHit("hit")
		return creds, nil
	}
	metrics.IncCacheHit("miss")

	values, err := r.provider.GetSecret(ctx, name)
	if err != nil {
		r.logger.Warn("secrets.fetch_failed", zap.String("key", name), zap.Error(err))
		return broker.Credentials{}, fmt.Errorf("resolve broker credentials %q: %w", name, err)
	}

	creds, err := ParseCredentials(values)
	if err != nil {
		return broker.Credentials{}, fmt.Errorf("parse secret %q: %w", name, err)
	}

	r.cache.Put(key, creds)
	r.logger.Info("secrets.credentials_resolved",
		zap.String("key", name),
		zap.String("client_id", creds.ClientID))
	return creds, nil
}

// Invalidate forgets cached credentials for name.
func (r *Resolver) Invalidate(name string) {
	r.cache.Bust(strings.ToLower(name))
}

// ParseCredentials reads client_id, api_key and api_secret. An empty map
// yields empty credentials, which sessions treat as "no login".
func ParseCredentials(values map[string]string) (broker.Credentials, error) {
	creds := broker.Credentials{
		ClientID:  values["client_id"],
		APIKey:    values["api_key"],
		APISecret: values["api_secret"],
	}
	if creds.APIKey != "" && creds.APISecret == "" {
		return broker.Credentials{}, fmt.Errorf("api_secret is required with api_key")
	}
	if creds.APIKey != "" && creds.ClientID == "" {
		return broker.Credentials{}, fmt.Errorf("client_id is required with api_key")
	}
	return creds, nil
}
