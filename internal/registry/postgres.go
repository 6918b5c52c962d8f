package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Store abstracts DB queries for testability.
type Store interface {
	LookupSystem(ctx context.Context, systemID string) (*systemRow, error)
	LookupEndpoint(ctx context.Context, endpointID string) (*endpointRow, error)
	ListSystems(ctx context.Context) ([]*systemRow, error)
}

type systemRow struct {
	ID          string
	Name        string
	BaseURL     string
	Status      string
	AgentAccess bool
	AuthConfig  string // JSONB as string
}

type endpointRow struct {
	ID                  string
	SystemID            string
	Name                string
	Protocol            string
	Descriptor          string // JSONB as string, protocol-specific
	RiskLevel           string
	TimeoutSeconds      int
	RateLimit           sql.NullString
	RetryPolicy         sql.NullString
	RequiredPermissions string // JSONB array as string
}

// sqlStore is the real implementation using *sql.DB.
type sqlStore struct {
	db *sql.DB
}

func (s *sqlStore) LookupSystem(ctx context.Context, systemID string) (*systemRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, base_url, status, agent_access, auth_config
		FROM systems
		WHERE id = $1
	`, systemID)

	var r systemRow
	if err := row.Scan(&r.ID, &r.Name, &r.BaseURL, &r.Status, &r.AgentAccess, &r.AuthConfig); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqlStore) LookupEndpoint(ctx context.Context, endpointID string) (*endpointRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, system_id, name, protocol, descriptor, risk_level,
		       timeout_seconds, rate_limit, retry_policy, required_permissions
		FROM endpoints
		WHERE id = $1
	`, endpointID)

	var r endpointRow
	if err := row.Scan(
		&r.ID, &r.SystemID, &r.Name, &r.Protocol, &r.Descriptor, &r.RiskLevel,
		&r.TimeoutSeconds, &r.RateLimit, &r.RetryPolicy, &r.RequiredPermissions,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqlStore) ListSystems(ctx context.Context) ([]*systemRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, base_url, status, agent_access, auth_config
		FROM systems
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*systemRow
	for rows.Next() {
		var r systemRow
		if err := rows.Scan(&r.ID, &r.Name, &r.BaseURL, &r.Status, &r.AgentAccess, &r.AuthConfig); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// PostgresRegistry serves system and endpoint definitions from Postgres with
// a stale-while-revalidate cache in front.
type PostgresRegistry struct {
	store     Store
	systems   *cache[System]
	endpoints *cache[Endpoint]
	logger    *zap.Logger
}

// PostgresRegistryConfig configures the PostgresRegistry.
type PostgresRegistryConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewPostgresRegistry creates a new PostgresRegistry.
func NewPostgresRegistry(cfg PostgresRegistryConfig) *PostgresRegistry {
	return newPostgresRegistryWithStore(&sqlStore{db: cfg.DB}, cfg.CacheTTL, cfg.Logger)
}

// newPostgresRegistryWithStore creates a registry with a custom store (for testing).
func newPostgresRegistryWithStore(store Store, cacheTTL time.Duration, logger *zap.Logger) *PostgresRegistry {
	if cacheTTL == 0 {
		cacheTTL = 60 * time.Second
	}
	return &PostgresRegistry{
		store:     store,
		systems:   newCache[System](cacheTTL),
		endpoints: newCache[Endpoint](cacheTTL),
		logger:    logger,
	}
}

func (r *PostgresRegistry) Resolve(ctx context.Context, systemID, endpointID string) (*System, *Endpoint, error) {
	sys, err := r.GetSystem(ctx, systemID)
	if err != nil {
		return nil, nil, err
	}
	ep, err := r.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, nil, err
	}
	if err := checkResolved(sys, ep, systemID, endpointID); err != nil {
		return nil, nil, err
	}
	// Clones: a registry edit landing mid-call must not retroactively change
	// an in-flight risk decision.
	return sys.Clone(), ep.Clone(), nil
}

func (r *PostgresRegistry) GetSystem(ctx context.Context, systemID string) (*System, error) {
	res := r.systems.get(systemID)
	if res.Hit {
		if res.NeedsRefresh {
			go r.refreshSystem(systemID)
		}
		return res.Val, nil
	}

	sys, err := r.fetchSystem(ctx, systemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.systems.set(systemID, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("GetSystem: %w", err)
	}
	r.systems.set(systemID, sys)
	return sys, nil
}

func (r *PostgresRegistry) GetEndpoint(ctx context.Context, endpointID string) (*Endpoint, error) {
	res := r.endpoints.get(endpointID)
	if res.Hit {
		if res.NeedsRefresh {
			go r.refreshEndpoint(endpointID)
		}
		return res.Val, nil
	}

	ep, err := r.fetchEndpoint(ctx, endpointID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.endpoints.set(endpointID, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("GetEndpoint: %w", err)
	}
	r.endpoints.set(endpointID, ep)
	return ep, nil
}

func (r *PostgresRegistry) ListSystems(ctx context.Context) ([]*System, error) {
	rows, err := r.store.ListSystems(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListSystems: %w", err)
	}
	out := make([]*System, 0, len(rows))
	for _, row := range rows {
		sys, err := parseSystemRow(row)
		if err != nil {
			return nil, fmt.Errorf("ListSystems: %w", err)
		}
		out = append(out, sys)
	}
	return out, nil
}

func (r *PostgresRegistry) fetchSystem(ctx context.Context, systemID string) (*System, error) {
	row, err := r.store.LookupSystem(ctx, systemID)
	if err != nil {
		return nil, err
	}
	return parseSystemRow(row)
}

func (r *PostgresRegistry) fetchEndpoint(ctx context.Context, endpointID string) (*Endpoint, error) {
	row, err := r.store.LookupEndpoint(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	return parseEndpointRow(row)
}

func (r *PostgresRegistry) refreshSystem(systemID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sys, err := r.fetchSystem(ctx, systemID)
	if err != nil {
		r.logger.Warn("background system refresh failed",
			zap.String("system_id", systemID),
			zap.Error(err),
		)
		return
	}
	r.systems.set(systemID, sys)
}

func (r *PostgresRegistry) refreshEndpoint(endpointID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ep, err := r.fetchEndpoint(ctx, endpointID)
	if err != nil {
		r.logger.Warn("background endpoint refresh failed",
			zap.String("endpoint_id", endpointID),
			zap.Error(err),
		)
		return
	}
	r.endpoints.set(endpointID, ep)
}

func parseSystemRow(row *systemRow) (*System, error) {
	sys := &System{
		ID:          row.ID,
		Name:        row.Name,
		BaseURL:     row.BaseURL,
		Status:      SystemStatus(row.Status),
		AgentAccess: row.AgentAccess,
	}
	if row.AuthConfig != "" && row.AuthConfig != "{}" {
		if err := json.Unmarshal([]byte(row.AuthConfig), &sys.Auth); err != nil {
			return nil, fmt.Errorf("parseSystemRow: auth_config: %w", err)
		}
	}
	if sys.Auth.Type == "" {
		sys.Auth.Type = AuthNone
	}
	return sys, nil
}

func parseEndpointRow(row *endpointRow) (*Endpoint, error) {
	ep := &Endpoint{
		ID:        row.ID,
		SystemID:  row.SystemID,
		Name:      row.Name,
		Protocol:  ProtocolType(row.Protocol),
		RiskLevel: RiskLevel(row.RiskLevel),
		Timeout:   time.Duration(row.TimeoutSeconds) * time.Second,
	}

	// Descriptor JSONB decodes into the protocol-specific struct.
	desc := []byte(row.Descriptor)
	var err error
	switch ep.Protocol {
	case ProtocolREST:
		ep.REST = &RESTSpec{}
		err = json.Unmarshal(desc, ep.REST)
	case ProtocolGraphQL:
		ep.GraphQL = &GraphQLSpec{}
		err = json.Unmarshal(desc, ep.GraphQL)
	case ProtocolSOAP:
		ep.SOAP = &SOAPSpec{}
		err = json.Unmarshal(desc, ep.SOAP)
	case ProtocolGRPC:
		ep.GRPC = &GRPCSpec{}
		err = json.Unmarshal(desc, ep.GRPC)
	case ProtocolWebSocket:
		ep.WebSocket = &WebSocketSpec{}
		err = json.Unmarshal(desc, ep.WebSocket)
	default:
		return nil, fmt.Errorf("parseEndpointRow: unknown protocol %q", row.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("parseEndpointRow: descriptor: %w", err)
	}

	if row.RateLimit.Valid && row.RateLimit.String != "" && row.RateLimit.String != "null" {
		ep.RateLimit = &RateLimit{}
		if err := json.Unmarshal([]byte(row.RateLimit.String), ep.RateLimit); err != nil {
			return nil, fmt.Errorf("parseEndpointRow: rate_limit: %w", err)
		}
	}
	if row.RetryPolicy.Valid && row.RetryPolicy.String != "" && row.RetryPolicy.String != "null" {
		ep.RetryPolicy = &RetryPolicy{}
		if err := json.Unmarshal([]byte(row.RetryPolicy.String), ep.RetryPolicy); err != nil {
			return nil, fmt.Errorf("parseEndpointRow: retry_policy: %w", err)
		}
	}
	if row.RequiredPermissions != "" && row.RequiredPermissions != "[]" {
		if err := json.Unmarshal([]byte(row.RequiredPermissions), &ep.RequiredPermissions); err != nil {
			return nil, fmt.Errorf("parseEndpointRow: required_permissions: %w", err)
		}
	}

	return ep, nil
}
