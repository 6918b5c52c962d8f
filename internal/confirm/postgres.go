package confirm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/operant-labs/toolgate/internal/fault"
	"github.com/operant-labs/toolgate/internal/registry"
)

// PostgresStore persists confirmations in the pending_confirmations table.
// The single-transition guarantee comes from conditional UPDATEs on
// state='pending' — two racing resolutions cannot both match.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const confirmationColumns = `id, tool_name, endpoint_id, params, risk_level,
	created_at, expires_at, state, resolved_by, resolved_at`

func (s *PostgresStore) Create(ctx context.Context, c *Confirmation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_confirmations
			(id, tool_name, endpoint_id, params, risk_level, created_at, expires_at, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
	`, c.ID, c.ToolName, nullStr(c.EndpointID), string(c.ParamsJSON), string(c.RiskLevel), c.CreatedAt, c.ExpiresAt)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Confirmation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+confirmationColumns+`
		FROM pending_confirmations
		WHERE id = $1
	`, id)
	c, err := scanConfirmation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Resolve(ctx context.Context, id string, state State, actor string, now time.Time) (*Confirmation, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE pending_confirmations
		SET state = $2, resolved_by = $3, resolved_at = $4
		WHERE id = $1 AND state = 'pending' AND expires_at > $4
		RETURNING `+confirmationColumns+`
	`, id, string(state), actor, now)

	c, err := scanConfirmation(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Resolve: %w", err)
	}

	// The CAS missed: unknown id, already terminal, or past expiry.
	existing, gerr := s.Get(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if existing == nil {
		return nil, fault.New(fault.NotFound, "confirmation %s not found", id)
	}
	if existing.State == StatePending {
		// Pending but overdue — expire this row now. The expired row is
		// returned with the error so the gate can notify its waiter; the
		// sweeper will not see it again (ExpireDue matches pending only).
		expired, eerr := scanConfirmation(s.db.QueryRowContext(ctx, `
			UPDATE pending_confirmations
			SET state = 'expired', resolved_by = $2, resolved_at = $3
			WHERE id = $1 AND state = 'pending'
			RETURNING `+confirmationColumns,
			id, ExpiredActor, now))
		if errors.Is(eerr, sql.ErrNoRows) {
			// Lost the race to the sweeper or another signal.
			raced, gerr := s.Get(ctx, id)
			if gerr != nil {
				return nil, gerr
			}
			return nil, resolvedFault(raced)
		}
		if eerr != nil {
			return nil, fmt.Errorf("Resolve: %w", eerr)
		}
		return expired, fault.New(fault.ConfirmationExpired, "confirmation %s expired at %s", id, existing.ExpiresAt.Format(time.RFC3339))
	}
	return nil, resolvedFault(existing)
}

func (s *PostgresStore) ExpireDue(ctx context.Context, now time.Time) ([]*Confirmation, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE pending_confirmations
		SET state = 'expired', resolved_by = $2, resolved_at = $1
		WHERE state = 'pending' AND expires_at <= $1
		RETURNING `+confirmationColumns,
		now, ExpiredActor)
	if err != nil {
		return nil, fmt.Errorf("ExpireDue: %w", err)
	}
	defer rows.Close()

	var expired []*Confirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, fmt.Errorf("ExpireDue: %w", err)
		}
		expired = append(expired, c)
	}
	return expired, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfirmation(row rowScanner) (*Confirmation, error) {
	var c Confirmation
	var endpointID, resolvedBy sql.NullString
	var params, risk, state string
	var resolvedAt sql.NullTime
	if err := row.Scan(
		&c.ID, &c.ToolName, &endpointID, &params, &risk,
		&c.CreatedAt, &c.ExpiresAt, &state, &resolvedBy, &resolvedAt,
	); err != nil {
		return nil, err
	}
	c.EndpointID = endpointID.String
	c.ParamsJSON = []byte(params)
	c.RiskLevel = registry.RiskLevel(risk)
	c.State = State(state)
	c.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		c.ResolvedAt = resolvedAt.Time
	}
	return &c, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
