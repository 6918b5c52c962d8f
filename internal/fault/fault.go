// Package fault defines the error taxonomy shared by every layer of the
// gateway. A Fault carries a stable machine-readable kind so the audit trail
// can distinguish "external system down" from "user declined" from
// "insufficient permission".
package fault

import (
	"errors"
	"fmt"
)

// Kind is a stable taxonomy code for a failure.
type Kind string

const (
	PermissionDenied    Kind = "permission_denied"
	NotFound            Kind = "not_found"
	SystemInactive      Kind = "system_inactive"
	RateLimited         Kind = "rate_limited"
	ConfirmationPending Kind = "confirmation_pending"
	ConfirmationReject  Kind = "confirmation_rejected"
	ConfirmationExpired Kind = "confirmation_expired"
	AlreadyResolved     Kind = "already_resolved"
	InvalidArgument     Kind = "invalid_argument"
	Cancelled           Kind = "cancelled"
	Timeout             Kind = "timeout"
	ConnectionError     Kind = "connection_error"
	ProtocolError       Kind = "protocol_error"
	UpstreamError       Kind = "upstream_error"
	AuthError           Kind = "auth_error"
	CredentialNotFound  Kind = "credential_not_found"
	CredentialRevoked   Kind = "credential_revoked"
	RetriesExhausted    Kind = "retries_exhausted"
)

// Fault is a classified error. Status carries the protocol status code that
// produced the fault when one exists (HTTP status, transcoded gRPC code).
type Fault struct {
	Kind    Kind
	Message string
	Status  int
	err     error
}

func (f *Fault) Error() string {
	if f.Message == "" {
		return string(f.Kind)
	}
	return string(f.Kind) + ": " + f.Message
}

func (f *Fault) Unwrap() error { return f.err }

// New creates a Fault with a formatted message.
func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error) *Fault {
	if err == nil {
		return nil
	}
	return &Fault{Kind: kind, Message: err.Error(), err: err}
}

// WithStatus attaches a protocol status code.
func (f *Fault) WithStatus(status int) *Fault {
	f.Status = status
	return f
}

// KindOf extracts the taxonomy kind from an error chain. Unclassified errors
// report as ConnectionError — the conservative retryable default for errors
// escaping the transport layer.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ConnectionError
}

// As returns the Fault in the chain, or nil.
func As(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return nil
}

// Retryable reports whether a fault is worth retrying: timeouts, connection
// failures, and 5xx-equivalent upstream responses. Auth, protocol, and
// 4xx-equivalent failures are not expected to change on retry.
func Retryable(f *Fault) bool {
	if f == nil {
		return false
	}
	switch f.Kind {
	case Timeout, ConnectionError:
		return true
	case UpstreamError:
		return f.Status >= 500 || f.Status == 0
	default:
		return false
	}
}
