// Package auth authenticates inbound agent requests via agk_ API keys.
// The key identifies the calling agent runtime; per-call user identity and
// permissions travel in the request body and are enforced by the gateway.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Authenticator validates an API key and returns the calling agent's identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*AgentContext, error)
}

// AgentContext is the authenticated agent runtime.
type AgentContext struct {
	AgentID string
	Name    string
}

// ErrUnauthenticated is returned when no valid credentials are found.
var ErrUnauthenticated = errors.New("unauthenticated")

// ExtractBearerToken pulls an agk_ API key from "Authorization: Bearer <token>".
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrUnauthenticated
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrUnauthenticated
	}
	token := strings.TrimSpace(header[len(prefix):])
	if !strings.HasPrefix(token, "agk_") {
		return "", ErrUnauthenticated
	}
	return token, nil
}
