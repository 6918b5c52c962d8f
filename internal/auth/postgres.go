package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const defaultAuthCacheTTL = 30 * time.Second

// AgentStore abstracts the agents table for testability.
type AgentStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*agentRow, error)
}

type agentRow struct {
	AgentID    string
	Name       string
	APIKeyHash string
	Disabled   bool
}

type sqlAgentStore struct {
	db *sql.DB
}

func (s *sqlAgentStore) LookupByPrefix(ctx context.Context, prefix string) (*agentRow, error) {
	var r agentRow
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, api_key_hash, disabled
		FROM agents
		WHERE api_key_prefix = $1
	`, prefix).Scan(&r.AgentID, &r.Name, &r.APIKeyHash, &r.Disabled)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// PostgresAuthenticator verifies agent API keys against bcrypt hashes stored
// in Postgres, with a stale-while-revalidate cache in front. There is no
// fail-open mode: this service injects upstream credentials on the agent's
// behalf, so an unverifiable key is always rejected.
type PostgresAuthenticator struct {
	store  AgentStore
	cache  *AuthCache
	logger *zap.Logger
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Logger   *zap.Logger
}

func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	return NewPostgresAuthenticatorWithStore(&sqlAgentStore{db: cfg.DB}, cfg.CacheTTL, cfg.Logger)
}

// NewPostgresAuthenticatorWithStore accepts a custom store (for testing).
func NewPostgresAuthenticatorWithStore(store AgentStore, cacheTTL time.Duration, logger *zap.Logger) *PostgresAuthenticator {
	if cacheTTL == 0 {
		cacheTTL = defaultAuthCacheTTL
	}
	return &PostgresAuthenticator{
		store:  store,
		cache:  NewAuthCache(cacheTTL),
		logger: logger,
	}
}

func (a *PostgresAuthenticator) Authenticate(ctx context.Context, token string) (*AgentContext, error) {
	if hit := a.cache.Get(token); hit.Hit {
		if hit.NeedsRefresh {
			go a.refresh(token)
		}
		return hit.Agent, nil
	}

	agent, err := a.verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("Authenticate: %w", err)
	}
	a.cache.Set(token, agent)
	return agent, nil
}

// verify checks the token against the stored hash. Keys are indexed by their
// first 8 characters so the bcrypt compare runs against a single row.
func (a *PostgresAuthenticator) verify(ctx context.Context, token string) (*AgentContext, error) {
	if len(token) < 8 {
		return nil, ErrUnauthenticated
	}
	row, err := a.store.LookupByPrefix(ctx, token[:8])
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	if row.Disabled {
		return nil, ErrUnauthenticated
	}
	if bcrypt.CompareHashAndPassword([]byte(row.APIKeyHash), []byte(token)) != nil {
		return nil, ErrUnauthenticated
	}
	return &AgentContext{AgentID: row.AgentID, Name: row.Name}, nil
}

// refresh re-verifies a stale cache entry. A key that no longer verifies is
// evicted rather than served stale forever.
func (a *PostgresAuthenticator) refresh(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	agent, err := a.verify(ctx, token)
	if err != nil {
		a.logger.Warn("background auth refresh failed", zap.Error(err))
		a.cache.Delete(token)
		return
	}
	a.cache.Set(token, agent)
}
