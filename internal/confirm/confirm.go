// Package confirm implements the human-approval gate: a time-boxed
// PendingConfirmation state machine that suspends gated invocations until an
// external actor approves, rejects, or the request expires.
package confirm

import (
	"encoding/json"
	"time"

	"github.com/operant-labs/toolgate/internal/registry"
)

// State of a confirmation. pending is the only non-terminal state and
// exactly one terminal transition is allowed.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
	StateExpired  State = "expired"
)

// Decision is an external resolution signal.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ExpiredActor is recorded as the resolving actor when the TTL sweeper (not
// a human) terminates a confirmation.
const ExpiredActor = "system:expired"

// Confirmation is one ephemeral approval request. ParamsJSON is already
// redacted — raw arguments never enter this struct.
type Confirmation struct {
	ID         string             `json:"id"`
	ToolName   string             `json:"tool_name"`
	EndpointID string             `json:"endpoint_id,omitempty"` // empty for ad hoc calls
	ParamsJSON json.RawMessage    `json:"params,omitempty"`
	RiskLevel  registry.RiskLevel `json:"risk_level"`
	CreatedAt  time.Time          `json:"created_at"`
	ExpiresAt  time.Time          `json:"expires_at"`
	State      State              `json:"state"`
	ResolvedBy string             `json:"resolved_by,omitempty"`
	ResolvedAt time.Time          `json:"resolved_at,omitzero"`
}

func (c *Confirmation) clone() *Confirmation {
	cp := *c
	cp.ParamsJSON = append(json.RawMessage(nil), c.ParamsJSON...)
	return &cp
}

// Required reports whether an invocation at the given risk level needs human
// confirmation. Destructive endpoints always gate; high-write endpoints gate
// unless the invoking user holds the wildcard permission. Reads and low
// writes never gate.
func Required(risk registry.RiskLevel, hasWildcard bool) bool {
	switch risk {
	case registry.RiskDestructive:
		return true
	case registry.RiskHighWrite:
		return !hasWildcard
	default:
		return false
	}
}
