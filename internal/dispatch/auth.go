package dispatch

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"net/http"
	"net/url"
	"sync"

	"github.com/operant-labs/toolgate/internal/credential"
	"github.com/operant-labs/toolgate/internal/fault"
	"github.com/operant-labs/toolgate/internal/registry"
)

// AuthInjector applies a system's auth binding to outgoing requests. The
// injection logic is shared across protocol strategies, parametrized by auth
// type — strategies never touch secrets directly.
type AuthInjector struct {
	resolver credential.Resolver
	tokens   *credential.TokenCache

	mu      sync.Mutex
	clients map[string]*http.Client // mutual_tls clients keyed by credential id
	base    *http.Client
}

func NewAuthInjector(resolver credential.Resolver, tokens *credential.TokenCache) *AuthInjector {
	return &AuthInjector{
		resolver: resolver,
		tokens:   tokens,
		clients:  make(map[string]*http.Client),
		base:     &http.Client{},
	}
}

// Credentials resolves the system's credential and returns the headers and
// query parameters to add to the wire request.
func (a *AuthInjector) Credentials(ctx context.Context, sys *registry.System) (http.Header, url.Values, error) {
	hdr := make(http.Header)
	query := make(url.Values)

	switch sys.Auth.Type {
	case registry.AuthNone, registry.AuthMutualTLS, "":
		// mutual_tls authenticates at the transport layer via Client.
		return hdr, query, nil

	case registry.AuthBearer:
		secret, err := a.resolver.GetSecret(ctx, sys.Auth.CredentialID)
		if err != nil {
			return nil, nil, err
		}
		hdr.Set("Authorization", "Bearer "+secret.Token)

	case registry.AuthBasic:
		secret, err := a.resolver.GetSecret(ctx, sys.Auth.CredentialID)
		if err != nil {
			return nil, nil, err
		}
		raw := base64.StdEncoding.EncodeToString([]byte(secret.Username + ":" + secret.Password))
		hdr.Set("Authorization", "Basic "+raw)

	case registry.AuthAPIKey:
		secret, err := a.resolver.GetSecret(ctx, sys.Auth.CredentialID)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case sys.Auth.APIKeyHeader != "":
			hdr.Set(sys.Auth.APIKeyHeader, secret.APIKey)
		case sys.Auth.APIKeyQuery != "":
			query.Set(sys.Auth.APIKeyQuery, secret.APIKey)
		default:
			hdr.Set("X-Api-Key", secret.APIKey)
		}

	case registry.AuthOAuth2:
		token, err := a.tokens.Token(ctx, sys.Auth.CredentialID, sys.Auth.TokenURL, sys.Auth.Scopes)
		if err != nil {
			return nil, nil, err
		}
		hdr.Set("Authorization", "Bearer "+token)

	default:
		return nil, nil, fault.New(fault.AuthError, "unsupported auth type %q", sys.Auth.Type)
	}

	return hdr, query, nil
}

// Client returns the HTTP client for a system. Systems bound to mutual_tls
// get a client carrying the credential's client certificate, cached per
// credential id.
func (a *AuthInjector) Client(ctx context.Context, sys *registry.System) (*http.Client, error) {
	if sys.Auth.Type != registry.AuthMutualTLS {
		return a.base, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if client, ok := a.clients[sys.Auth.CredentialID]; ok {
		return client, nil
	}

	secret, err := a.resolver.GetSecret(ctx, sys.Auth.CredentialID)
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(secret.TLSCertPEM, secret.TLSKeyPEM)
	if err != nil {
		return nil, fault.Wrap(fault.AuthError, err)
	}

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		},
	}
	a.clients[sys.Auth.CredentialID] = client
	return client, nil
}

// apply merges resolved credentials into a prepared request.
func (a *AuthInjector) apply(ctx context.Context, sys *registry.System, req *http.Request) error {
	hdr, query, err := a.Credentials(ctx, sys)
	if err != nil {
		return err
	}
	for name, vals := range hdr {
		for _, v := range vals {
			req.Header.Set(name, v)
		}
	}
	if len(query) > 0 {
		q := req.URL.Query()
		for name, vals := range query {
			for _, v := range vals {
				q.Set(name, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
	return nil
}
