package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/internal/broker"
	pkgsecrets "github.com/Checker-Finance/execution-core/pkg/secrets"
)

type stubProvider struct {
	calls  int
	values map[string]string
	err    error
}

func (p *stubProvider) GetSecret(context.Context, string) (map[string]string, error) {
	p.calls++
	return p.values, p.err
}

func newResolver(p pkgsecrets.Provider) *Resolver {
	return NewResolver(zap.NewNop(), p, pkgsecrets.NewCache[broker.Credentials](time.Minute))
}

func TestResolver_CachesCredentials(t *testing.T) {
	p := &stubProvider{values: map[string]string{"client_id": "7", "api_key": "k", "api_secret": "s"}}
	r := newResolver(p)

	creds, err := r.Resolve(context.Background(), "Prod/Broker")
	require.NoError(t, err)
	assert.Equal(t, broker.Credentials{ClientID: "7", APIKey: "k", APISecret: "s"}, creds)

	again, err := r.Resolve(context.Background(), "prod/broker")
	require.NoError(t, err)
	assert.Equal(t, creds, again)
	assert.Equal(t, 1, p.calls)

	r.Invalidate("PROD/BROKER")
	_, err = r.Resolve(context.Background(), "prod/broker")
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)
}

func TestResolver_ProviderError(t *testing.T) {
	p := &stubProvider{err: pkgsecrets.ErrSecretNotFound}
	_, err := newResolver(p).Resolve(context.Background(), "missing")
	assert.True(t, errors.Is(err, pkgsecrets.ErrSecretNotFound))
}

func TestParseCredentials(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]string
		wantErr string
	}{
		{"empty is anonymous", map[string]string{}, ""},
		{"complete", map[string]string{"client_id": "1", "api_key": "k", "api_secret": "s"}, ""},
		{"key without secret", map[string]string{"client_id": "1", "api_key": "k"}, "api_secret is required"},
		{"key without client", map[string]string{"api_key": "k", "api_secret": "s"}, "client_id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCredentials(tt.values)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolver_EnvProvider(t *testing.T) {
	t.Setenv("EC_BROKER_CLIENT_ID", "9")
	t.Setenv("EC_BROKER_API_KEY", "key")
	t.Setenv("EC_BROKER_API_SECRET", "secret")

	creds, err := newResolver(pkgsecrets.EnvProvider{Prefix: "ec"}).Resolve(context.Background(), "broker")
	require.NoError(t, err)
	assert.Equal(t, "9", creds.ClientID)
	assert.Equal(t, "key", creds.APIKey)
	assert.Equal(t, "secret", creds.APISecret)
}
