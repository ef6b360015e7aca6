package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/execution-core/internal/broker"
)

func TestLogin_Sign(t *testing.T) {
	l := Login{ClientID: "7", APIKey: "key", Nonce: "n1"}
	require.NoError(t, l.Sign("secret"))
	assert.Len(t, l.Signature, 64)

	other := Login{ClientID: "7", APIKey: "key", Nonce: "n1"}
	require.NoError(t, other.Sign("secret"))
	assert.Equal(t, l.Signature, other.Signature)

	other.Nonce = "n2"
	require.NoError(t, other.Sign("secret"))
	assert.NotEqual(t, l.Signature, other.Signature)
}

func TestLogin_SignEmptySecret(t *testing.T) {
	l := Login{ClientID: "7", APIKey: "key", Nonce: "n1"}
	err := l.Sign("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret cannot be empty")
}

func TestNewLogin(t *testing.T) {
	l, err := NewLogin(broker.Credentials{ClientID: "7", APIKey: "key", APISecret: "secret"})
	require.NoError(t, err)
	assert.NotEmpty(t, l.Nonce)
	assert.Equal(t, Signature("secret", l.Nonce, "7", "key"), l.Signature)
}

func TestLogin_Validate(t *testing.T) {
	tests := []struct {
		name   string
		login  Login
		errMsg string
	}{
		{"valid", Login{ClientID: "1", APIKey: "k", Nonce: "n", Signature: "s"}, ""},
		{"missing api key", Login{ClientID: "1", Nonce: "n", Signature: "s"}, "api key is required"},
		{"missing client id", Login{APIKey: "k", Nonce: "n", Signature: "s"}, "client id is required"},
		{"missing nonce", Login{ClientID: "1", APIKey: "k", Signature: "s"}, "nonce is required"},
		{"missing signature", Login{ClientID: "1", APIKey: "k", Nonce: "n"}, "signature is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.login.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
