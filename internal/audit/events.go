package audit

import "time"

// Writer is the interface for emitting audit events.
// Write() must NEVER block the caller — the audit sink is best-effort.
type Writer interface {
	Write(event *Event)
	Close()
}

// EventType distinguishes the three audit record shapes.
type EventType string

const (
	EventInvocation           EventType = "invocation"
	EventConfirmationCreated  EventType = "confirmation_created"
	EventConfirmationResolved EventType = "confirmation_resolved"
)

// Event is a single audit record: enough structured detail to reconstruct
// who attempted what, against which system, and why it ended the way it did
// — without the raw secrets. ParamsJSON is always the redacted form.
type Event struct {
	Type           EventType
	RequestID      string
	Timestamp      time.Time
	UserID         string
	ToolName       string
	SystemID       string
	EndpointID     string
	Protocol       string
	RiskLevel      string
	Outcome        string // "success", a taxonomy code, or a confirmation state
	ErrorDetail    string
	StatusCode     int32
	Attempt        int32
	LatencyMs      float32
	ParamsJSON     string
	ConfirmationID string
	Actor          string
}
