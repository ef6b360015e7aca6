package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Checker-Finance/execution-core/internal/broker"
)

// ErrAuthentication is returned by Dial when the gateway rejects the login.
var ErrAuthentication = errors.New("gateway authentication failed")

// Login is the AuthenticateUser payload.
type Login struct {
	ClientID  string `json:"client_id"`
	APIKey    string `json:"api_key"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

type loginReply struct {
	Authenticated bool   `json:"authenticated"`
	Error         string `json:"error,omitempty"`
}

// NewLogin builds a signed login for creds with a fresh nonce.
func NewLogin(creds broker.Credentials) (Login, error) {
	l := Login{ClientID: creds.ClientID, APIKey: creds.APIKey, Nonce: uuid.NewString()}
	if err := l.Sign(creds.APISecret); err != nil {
		return Login{}, err
	}
	return l, l.Validate()
}

// Sign sets Signature to hex(HMAC-SHA256(secret, Nonce + ClientID + APIKey)).
func (l *Login) Sign(secret string) error {
	if secret == "" {
		return fmt.Errorf("secret cannot be empty")
	}
	l.Signature = Signature(secret, l.Nonce, l.ClientID, l.APIKey)
	return nil
}

// Signature computes the login signature.
func Signature(secret, nonce, clientID, apiKey string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(nonce + clientID + apiKey))
	return hex.EncodeToString(h.Sum(nil))
}

func (l Login) Validate() error {
	if l.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if l.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if l.Nonce == "" {
		return fmt.Errorf("nonce is required")
	}
	if l.Signature == "" {
		return fmt.Errorf("signature is required")
	}
	return nil
}
