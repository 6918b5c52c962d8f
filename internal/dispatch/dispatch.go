// Package dispatch turns an endpoint definition plus call-time arguments into
// a wire request and normalizes the response into a uniform result envelope.
// One strategy exists per protocol type; adding a protocol means adding one
// strategy, nothing upstream changes.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/operant-labs/toolgate/internal/fault"
	"github.com/operant-labs/toolgate/internal/registry"
)

// Args are the call-time arguments supplied by the agent.
type Args struct {
	PathParams  map[string]string `json:"path_params,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        json.RawMessage   `json:"body,omitempty"`
	Variables   map[string]any    `json:"variables,omitempty"` // graphql
	Message     json.RawMessage   `json:"message,omitempty"`   // websocket frame
}

// Call is one dispatch attempt against an endpoint.
type Call struct {
	System   *registry.System
	Endpoint *registry.Endpoint
	Args     Args
	Attempt  int // 1-based, stamped by the retry executor
}

// Result is the outcome of one dispatch attempt. Immutable once produced.
type Result struct {
	Status  string          `json:"status"` // "success" or "failed"
	Code    int             `json:"code,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	Fault   *fault.Fault    `json:"-"`
	Error   string          `json:"error,omitempty"` // taxonomy code + message
	Attempt int             `json:"attempt"`
	Latency time.Duration   `json:"latency"`
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

func successResult(code int, body json.RawMessage) *Result {
	return &Result{Status: StatusSuccess, Code: code, Body: body}
}

func failedResult(f *fault.Fault, body json.RawMessage) *Result {
	return &Result{Status: StatusFailed, Code: f.Status, Body: body, Fault: f, Error: f.Error()}
}

// Strategy executes calls for one protocol type.
type Strategy interface {
	Protocol() registry.ProtocolType
	Execute(ctx context.Context, call *Call) *Result
}

// Dispatcher selects the strategy for an endpoint's protocol and applies the
// endpoint timeout around the attempt.
type Dispatcher struct {
	strategies map[registry.ProtocolType]Strategy
	logger     *zap.Logger
}

// NewDispatcher wires the full strategy set.
func NewDispatcher(auth *AuthInjector, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		strategies: make(map[registry.ProtocolType]Strategy),
		logger:     logger,
	}
	for _, s := range []Strategy{
		NewRESTStrategy(auth),
		NewGraphQLStrategy(auth),
		NewSOAPStrategy(auth),
		NewGRPCStrategy(auth),
		NewWebSocketStrategy(auth),
	} {
		d.strategies[s.Protocol()] = s
	}
	return d
}

// Dispatch runs one attempt. It never returns an error — failures are
// classified into the result envelope so every attempt is recordable.
func (d *Dispatcher) Dispatch(ctx context.Context, call *Call) *Result {
	start := time.Now()

	strategy, ok := d.strategies[call.Endpoint.Protocol]
	if !ok {
		res := failedResult(fault.New(fault.ProtocolError, "no strategy for protocol %q", call.Endpoint.Protocol), nil)
		res.Attempt = call.Attempt
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, call.Endpoint.Timeout)
	defer cancel()

	res := strategy.Execute(ctx, call)
	res.Attempt = call.Attempt
	res.Latency = time.Since(start)

	d.logger.Debug("dispatch attempt",
		zap.String("system_id", call.System.ID),
		zap.String("endpoint_id", call.Endpoint.ID),
		zap.String("protocol", string(call.Endpoint.Protocol)),
		zap.Int("attempt", call.Attempt),
		zap.String("status", res.Status),
		zap.Int("code", res.Code),
		zap.Duration("latency", res.Latency),
	)
	return res
}

// --- shared HTTP plumbing ---

// doHTTP executes an HTTP request and classifies transport failures.
func doHTTP(client *http.Client, req *http.Request) (int, []byte, http.Header, *fault.Fault) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, nil, classifyTransportError(req.Context(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, resp.Header, classifyTransportError(req.Context(), err)
	}
	return resp.StatusCode, body, resp.Header, nil
}

const maxResponseBytes = 8 << 20

func classifyTransportError(ctx context.Context, err error) *fault.Fault {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fault.Wrap(fault.Timeout, err)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return fault.Wrap(fault.Timeout, err)
	}
	return fault.Wrap(fault.ConnectionError, err)
}

// classifyStatus maps a non-2xx HTTP status onto the failure taxonomy.
func classifyStatus(code int, body []byte) *fault.Fault {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return fault.New(fault.AuthError, "upstream returned %d: %s", code, msg).WithStatus(code)
	}
	return fault.New(fault.UpstreamError, "upstream returned %d: %s", code, msg).WithStatus(code)
}

// normalizeBody returns the response body as JSON: raw when already valid
// JSON, otherwise wrapped as a JSON string.
func normalizeBody(body []byte) json.RawMessage {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	wrapped, _ := json.Marshal(trimmed)
	return wrapped
}

// joinURL appends a path to a base URL without doubling slashes.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
