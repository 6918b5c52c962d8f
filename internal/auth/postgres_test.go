package auth

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type fakeAgentStore struct {
	rows    map[string]*agentRow
	lookups atomic.Int64
}

func (s *fakeAgentStore) LookupByPrefix(_ context.Context, prefix string) (*agentRow, error) {
	s.lookups.Add(1)
	row, ok := s.rows[prefix]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return row, nil
}

func storeWithKey(t *testing.T, key string) *fakeAgentStore {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return &fakeAgentStore{rows: map[string]*agentRow{
		key[:8]: {AgentID: "agent_1", Name: "planner", APIKeyHash: string(hash)},
	}}
}

func TestPostgresAuth_ValidKey(t *testing.T) {
	key := "agk_live_0123456789"
	a := NewPostgresAuthenticatorWithStore(storeWithKey(t, key), time.Minute, zap.NewNop())

	agent, err := a.Authenticate(context.Background(), key)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if agent.AgentID != "agent_1" {
		t.Errorf("expected agent_1, got %s", agent.AgentID)
	}
}

func TestPostgresAuth_WrongKeySamePrefix(t *testing.T) {
	key := "agk_live_0123456789"
	a := NewPostgresAuthenticatorWithStore(storeWithKey(t, key), time.Minute, zap.NewNop())

	if _, err := a.Authenticate(context.Background(), "agk_live_WRONG"); err == nil {
		t.Error("a key failing the bcrypt check must be rejected")
	}
}

func TestPostgresAuth_UnknownPrefix(t *testing.T) {
	a := NewPostgresAuthenticatorWithStore(&fakeAgentStore{rows: map[string]*agentRow{}}, time.Minute, zap.NewNop())

	if _, err := a.Authenticate(context.Background(), "agk_unknown_key"); err == nil {
		t.Error("unknown prefix must be rejected")
	}
}

func TestPostgresAuth_DisabledAgent(t *testing.T) {
	key := "agk_live_0123456789"
	store := storeWithKey(t, key)
	store.rows[key[:8]].Disabled = true
	a := NewPostgresAuthenticatorWithStore(store, time.Minute, zap.NewNop())

	if _, err := a.Authenticate(context.Background(), key); err == nil {
		t.Error("disabled agents must be rejected")
	}
}

func TestPostgresAuth_CachesHits(t *testing.T) {
	key := "agk_live_0123456789"
	store := storeWithKey(t, key)
	a := NewPostgresAuthenticatorWithStore(store, time.Minute, zap.NewNop())

	for i := 0; i < 5; i++ {
		if _, err := a.Authenticate(context.Background(), key); err != nil {
			t.Fatalf("Authenticate %d: %v", i, err)
		}
	}
	if n := store.lookups.Load(); n != 1 {
		t.Errorf("expected one store lookup, got %d", n)
	}
}

func TestPostgresAuth_ShortToken(t *testing.T) {
	a := NewPostgresAuthenticatorWithStore(&fakeAgentStore{rows: map[string]*agentRow{}}, time.Minute, zap.NewNop())

	if _, err := a.Authenticate(context.Background(), "agk"); err == nil {
		t.Error("tokens shorter than the prefix must be rejected")
	}
}
