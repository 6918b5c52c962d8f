package credential

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/operant-labs/toolgate/internal/fault"
)

// TokenCache hands out OAuth2 client-credentials access tokens, caching one
// token source per credential id. oauth2.TokenSource refreshes tokens near
// expiry behind a mutex, so concurrent callers needing a fresh token trigger
// at most one token request and the rest wait on it.
//
// Caching is per-credential, not per-system: systems sharing a credential
// share the token.
type TokenCache struct {
	resolver Resolver

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

func NewTokenCache(resolver Resolver) *TokenCache {
	return &TokenCache{
		resolver: resolver,
		sources:  make(map[string]oauth2.TokenSource),
	}
}

// Token returns a valid access token for the credential, fetching or
// refreshing through the token endpoint as needed.
func (c *TokenCache) Token(ctx context.Context, credentialID, tokenURL string, scopes []string) (string, error) {
	src, err := c.source(ctx, credentialID, tokenURL, scopes)
	if err != nil {
		return "", err
	}

	tok, err := src.Token()
	if err != nil {
		return "", fault.Wrap(fault.AuthError, fmt.Errorf("token fetch for credential %s: %w", credentialID, err))
	}
	return tok.AccessToken, nil
}

// Invalidate drops every cached source for a credential, forcing a fresh
// client-credentials grant on the next call. Used after a credential rotation.
func (c *TokenCache) Invalidate(credentialID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.sources {
		if strings.HasPrefix(key, credentialID+"|") {
			delete(c.sources, key)
		}
	}
}

func (c *TokenCache) source(ctx context.Context, credentialID, tokenURL string, scopes []string) (oauth2.TokenSource, error) {
	key := credentialID + "|" + tokenURL + "|" + strings.Join(scopes, ",")

	c.mu.Lock()
	defer c.mu.Unlock()

	if src, ok := c.sources[key]; ok {
		return src, nil
	}

	secret, err := c.resolver.GetSecret(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	if secret.ClientID == "" || secret.ClientSecret == "" {
		return nil, fault.New(fault.AuthError, "credential %s lacks oauth2 client credentials", credentialID)
	}

	cfg := &clientcredentials.Config{
		ClientID:     secret.ClientID,
		ClientSecret: secret.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	// Background context: the source outlives the call that created it.
	src := cfg.TokenSource(context.Background())
	c.sources[key] = src
	return src, nil
}
