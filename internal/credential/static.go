package credential

import (
	"context"
	"sync"
)

// StaticResolver is an in-memory Resolver for development and tests.
type StaticResolver struct {
	mu      sync.RWMutex
	secrets map[string]*Secret
	revoked map[string]bool
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{
		secrets: make(map[string]*Secret),
		revoked: make(map[string]bool),
	}
}

// Put registers a secret under a credential id.
func (r *StaticResolver) Put(credentialID string, secret *Secret) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets[credentialID] = secret
	delete(r.revoked, credentialID)
}

// Revoke marks a credential revoked; later lookups fail with CredentialRevoked.
func (r *StaticResolver) Revoke(credentialID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[credentialID] = true
}

func (r *StaticResolver) GetSecret(_ context.Context, credentialID string) (*Secret, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.revoked[credentialID] {
		return nil, ErrRevoked
	}
	secret, ok := r.secrets[credentialID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *secret
	return &cp, nil
}
