// Package credential consumes the external credential vault. The gateway
// never persists secret material; it only holds decrypted secrets in memory
// for the duration of a dispatch (plus a short resolver cache).
package credential

import (
	"context"

	"github.com/operant-labs/toolgate/internal/fault"
)

// Secret is decrypted credential material for one credential id. Only the
// fields relevant to the credential's auth type are populated.
type Secret struct {
	Token        string `json:"token,omitempty"`         // bearer
	APIKey       string `json:"api_key,omitempty"`       // api_key
	Username     string `json:"username,omitempty"`      // basic
	Password     string `json:"password,omitempty"`      // basic
	ClientID     string `json:"client_id,omitempty"`     // oauth2 client credentials
	ClientSecret string `json:"client_secret,omitempty"` // oauth2 client credentials
	TLSCertPEM   []byte `json:"tls_cert_pem,omitempty"`  // mutual_tls
	TLSKeyPEM    []byte `json:"tls_key_pem,omitempty"`   // mutual_tls
}

// Resolver fetches decrypted secrets from the vault.
type Resolver interface {
	// GetSecret returns the secret for a credential id. Fails with
	// CredentialNotFound or CredentialRevoked.
	GetSecret(ctx context.Context, credentialID string) (*Secret, error)
}

// ErrNotFound and ErrRevoked are the classified resolver failures.
var (
	ErrNotFound = fault.New(fault.CredentialNotFound, "credential not found")
	ErrRevoked  = fault.New(fault.CredentialRevoked, "credential revoked")
)
