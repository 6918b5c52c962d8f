package auth

import "context"

// StaticAuthenticator is a development-only authenticator that accepts any
// agk_ key.
type StaticAuthenticator struct{}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, token string) (*AgentContext, error) {
	if len(token) < 8 {
		return nil, ErrUnauthenticated
	}
	return &AgentContext{
		AgentID: "static-" + token[:8],
		Name:    "static",
	}, nil
}
