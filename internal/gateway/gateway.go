// Package gateway coordinates the invocation pipeline: resolve, permission
// filter, argument validation, confirmation gate, rate limit, retried
// dispatch, audit. It owns the suspension table for gated calls — a call
// that needs human approval parks here until the confirmation terminates.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/operant-labs/toolgate/internal/audit"
	"github.com/operant-labs/toolgate/internal/confirm"
	"github.com/operant-labs/toolgate/internal/dispatch"
	"github.com/operant-labs/toolgate/internal/fault"
	"github.com/operant-labs/toolgate/internal/ratelimit"
	"github.com/operant-labs/toolgate/internal/registry"
	"github.com/operant-labs/toolgate/internal/retry"
)

// DefaultAdHocTimeout is applied to inline endpoint definitions that omit one.
const DefaultAdHocTimeout = 30 * time.Second

// AdHoc is an inline target definition for a one-off call against a system
// that is not (or not yet) registered.
type AdHoc struct {
	System   *registry.System   `json:"system"`
	Endpoint *registry.Endpoint `json:"endpoint"`
}

// InvokeRequest is one tool invocation as the agent layer hands it over.
// Either SystemID+EndpointID or AdHoc must be set.
type InvokeRequest struct {
	RequestID  string        `json:"request_id,omitempty"`
	ToolName   string        `json:"tool_name"`
	SystemID   string        `json:"system_id,omitempty"`
	EndpointID string        `json:"endpoint_id,omitempty"`
	AdHoc      *AdHoc        `json:"ad_hoc,omitempty"`
	Args       dispatch.Args `json:"args"`
	User       User          `json:"user"`
}

// Outcome is what Invoke returns: either a finished dispatch result or a
// confirmation handle when the call is gated.
type Outcome struct {
	RequestID string           `json:"request_id"`
	Gated     bool             `json:"gated"`
	Handle    *confirm.Handle  `json:"confirmation,omitempty"`
	Result    *dispatch.Result `json:"result,omitempty"`
}

// ResolutionOutcome is what Resolve returns. Result is the dispatch result
// produced by an approved call, nil on reject/expiry-races and nil when the
// suspended call's arguments were lost to a restart (the confirmation record
// survives in the store, the in-memory call does not).
type ResolutionOutcome struct {
	Confirmation *confirm.Confirmation `json:"confirmation"`
	Result       *dispatch.Result      `json:"result,omitempty"`
}

// pendingCall is a gated invocation parked until its confirmation
// terminates. result is written exactly once, before done closes.
type pendingCall struct {
	req    *InvokeRequest
	system *registry.System
	ep     *registry.Endpoint

	confirmation *confirm.Confirmation
	result       *dispatch.Result
	done         chan struct{}
}

// Gateway runs the invocation pipeline.
type Gateway struct {
	registry   registry.Registry
	dispatcher *dispatch.Dispatcher
	limiter    *ratelimit.Limiter
	retrier    *retry.Executor
	gate       *confirm.Gate
	writer     audit.Writer
	logger     *zap.Logger

	pending sync.Map // confirmation id -> *pendingCall
}

// Config wires a Gateway.
type Config struct {
	Registry   registry.Registry
	Dispatcher *dispatch.Dispatcher
	Limiter    *ratelimit.Limiter
	Gate       *confirm.Gate
	Writer     audit.Writer
	Logger     *zap.Logger
}

func New(cfg Config) *Gateway {
	return &Gateway{
		registry:   cfg.Registry,
		dispatcher: cfg.Dispatcher,
		limiter:    cfg.Limiter,
		retrier:    retry.NewExecutor(cfg.Logger),
		gate:       cfg.Gate,
		writer:     cfg.Writer,
		logger:     cfg.Logger,
	}
}

// Invoke runs the pipeline up to the confirmation gate. Pre-dispatch
// failures (unknown endpoint, inactive system, missing permission, invalid
// arguments) return an error and nothing is dispatched. Ungated calls return
// a finished Result; gated calls return a confirmation handle and the
// dispatch happens later, on approval.
func (g *Gateway) Invoke(ctx context.Context, req *InvokeRequest) (*Outcome, error) {
	out, _, err := g.invoke(ctx, req)
	return out, err
}

// InvokeAndWait is the in-process form: when the call gates, it blocks until
// the confirmation terminates and returns the eventual result. Caller
// cancellation abandons the wait — the confirmation stays pending and a
// human can still act on it.
func (g *Gateway) InvokeAndWait(ctx context.Context, req *InvokeRequest) (*Outcome, error) {
	out, pc, err := g.invoke(ctx, req)
	if err != nil || pc == nil {
		return out, err
	}
	select {
	case <-pc.done:
		out.Result = pc.result
		return out, nil
	case <-ctx.Done():
		return out, ctx.Err()
	}
}

func (g *Gateway) invoke(ctx context.Context, req *InvokeRequest) (*Outcome, *pendingCall, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	sys, ep, err := g.resolve(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if req.ToolName == "" {
		req.ToolName = ep.Name
	}

	if !req.User.Satisfies(ep.RequiredPermissions) {
		return nil, nil, fault.New(fault.PermissionDenied,
			"user %s lacks permission for endpoint %s", req.User.ID, ep.ID)
	}
	if err := validateArgs(ep, req.Args); err != nil {
		return nil, nil, err
	}

	out := &Outcome{RequestID: req.RequestID}

	if !confirm.Required(ep.RiskLevel, req.User.HasWildcard()) {
		out.Result = g.execute(ctx, req, sys, ep)
		return out, nil, nil
	}

	// Subscribe before the row exists so a resolution arriving between
	// Create and the goroutine start cannot be missed.
	id := uuid.New().String()
	sub, cancel := g.gate.Subscribe(id)

	pc := &pendingCall{req: req, system: sys, ep: ep, done: make(chan struct{})}
	g.pending.Store(id, pc)

	endpointID := req.EndpointID // empty for ad hoc calls
	c, err := g.gate.Create(ctx, confirm.CreateRequest{
		ID:         id,
		ToolName:   req.ToolName,
		EndpointID: endpointID,
		ParamsJSON: dispatch.RedactArgs(req.Args),
		RiskLevel:  ep.RiskLevel,
		User:       req.User.ID,
	})
	if err != nil {
		cancel()
		g.pending.Delete(id)
		return nil, nil, err
	}

	go g.awaitConfirmation(pc, sub)

	out.Gated = true
	out.Handle = &confirm.Handle{ID: c.ID, RiskLevel: c.RiskLevel, ExpiresAt: c.ExpiresAt}
	g.logger.Info("invocation gated",
		zap.String("request_id", req.RequestID),
		zap.String("tool_name", req.ToolName),
		zap.String("confirmation_id", c.ID),
		zap.String("risk_level", string(ep.RiskLevel)),
	)
	return out, pc, nil
}

// Resolve applies an approve/reject signal and, when the suspended call
// lives in this process, waits for its outcome so the resolver sees the
// result of what they approved. Caller cancellation returns the resolved
// confirmation immediately; the dispatch keeps running in the background.
func (g *Gateway) Resolve(ctx context.Context, id string, decision confirm.Decision, actor string) (*ResolutionOutcome, error) {
	// Load before resolving: the waiter goroutine removes the entry the
	// moment the resolution is published.
	var pc *pendingCall
	if v, ok := g.pending.Load(id); ok {
		pc = v.(*pendingCall)
	}

	c, err := g.gate.Resolve(ctx, id, decision, actor)
	if err != nil {
		return nil, err
	}
	if pc == nil {
		return &ResolutionOutcome{Confirmation: c}, nil
	}

	select {
	case <-pc.done:
		return &ResolutionOutcome{Confirmation: c, Result: pc.result}, nil
	case <-ctx.Done():
		return &ResolutionOutcome{Confirmation: c}, nil
	}
}

// Confirmation returns the confirmation record by id, nil if unknown.
func (g *Gateway) Confirmation(ctx context.Context, id string) (*confirm.Confirmation, error) {
	return g.gate.Get(ctx, id)
}

// awaitConfirmation blocks on the single terminal transition of a gated
// call's confirmation. Approval runs the remaining pipeline exactly once,
// under a fresh context — the invoking request may be long gone.
func (g *Gateway) awaitConfirmation(pc *pendingCall, sub <-chan *confirm.Confirmation) {
	c := <-sub // the gate always publishes: resolution or expiry sweep
	pc.confirmation = c
	g.pending.Delete(c.ID)

	switch c.State {
	case confirm.StateApproved:
		pc.result = g.execute(context.Background(), pc.req, pc.system, pc.ep)
	case confirm.StateRejected:
		f := fault.New(fault.ConfirmationReject, "invocation rejected by %s", c.ResolvedBy)
		pc.result = faultResult(f)
		g.auditTerminal(pc.req, pc.system, pc.ep, pc.result)
	case confirm.StateExpired:
		f := fault.New(fault.ConfirmationExpired, "confirmation %s expired before resolution", c.ID)
		pc.result = faultResult(f)
		g.auditTerminal(pc.req, pc.system, pc.ep, pc.result)
	}
	close(pc.done)
}

// execute runs the post-gate pipeline: rate limit, then retried dispatch.
// Failures come back inside the Result so the caller (and the audit trail)
// always gets an envelope.
func (g *Gateway) execute(ctx context.Context, req *InvokeRequest, sys *registry.System, ep *registry.Endpoint) *dispatch.Result {
	if err := g.limiter.Allow(ep.ID, ep.RateLimit); err != nil {
		res := faultResult(fault.As(err))
		g.auditTerminal(req, sys, ep, res)
		return res
	}

	final, attempts := g.retrier.Run(ctx, ep.RetryPolicy, func(ctx context.Context, n int) *dispatch.Result {
		return g.dispatcher.Dispatch(ctx, &dispatch.Call{
			System:   sys,
			Endpoint: ep,
			Args:     req.Args,
			Attempt:  n,
		})
	})

	for _, a := range attempts {
		if a == final {
			break
		}
		g.auditAttempt(req, sys, ep, a)
	}
	g.auditTerminal(req, sys, ep, final)
	return final
}

func (g *Gateway) resolve(ctx context.Context, req *InvokeRequest) (*registry.System, *registry.Endpoint, error) {
	if req.AdHoc == nil {
		return g.registry.Resolve(ctx, req.SystemID, req.EndpointID)
	}

	if req.AdHoc.System == nil || req.AdHoc.Endpoint == nil {
		return nil, nil, fault.New(fault.InvalidArgument, "ad hoc call requires inline system and endpoint")
	}
	sys := req.AdHoc.System.Clone()
	ep := req.AdHoc.Endpoint.Clone()
	if sys.BaseURL == "" {
		return nil, nil, fault.New(fault.InvalidArgument, "ad hoc system requires base_url")
	}

	// Inline definitions never went through registration, so defaults and
	// validation happen here. Unspecified risk is treated as high write.
	if sys.ID == "" {
		sys.ID = "adhoc:" + uuid.New().String()
	}
	sys.Status = registry.StatusActive
	sys.AgentAccess = true
	if ep.ID == "" {
		ep.ID = "adhoc:" + uuid.New().String()
	}
	ep.SystemID = sys.ID
	if ep.RiskLevel == "" {
		ep.RiskLevel = registry.RiskHighWrite
	}
	if ep.Timeout <= 0 {
		ep.Timeout = DefaultAdHocTimeout
	}
	if err := registry.ValidateEndpoint(ep); err != nil {
		return nil, nil, fault.New(fault.InvalidArgument, "ad hoc endpoint: %v", err)
	}
	return sys, ep, nil
}

func (g *Gateway) auditAttempt(req *InvokeRequest, sys *registry.System, ep *registry.Endpoint, res *dispatch.Result) {
	g.writer.Write(invocationEvent(req, sys, ep, res))
}

func (g *Gateway) auditTerminal(req *InvokeRequest, sys *registry.System, ep *registry.Endpoint, res *dispatch.Result) {
	g.writer.Write(invocationEvent(req, sys, ep, res))

	fields := []zap.Field{
		zap.String("request_id", req.RequestID),
		zap.String("tool_name", req.ToolName),
		zap.String("system_id", sys.ID),
		zap.String("endpoint_id", ep.ID),
		zap.String("status", res.Status),
		zap.Int("code", res.Code),
		zap.Int("attempt", res.Attempt),
		zap.Duration("latency", res.Latency),
	}
	if res.Fault != nil {
		fields = append(fields, zap.String("fault", string(res.Fault.Kind)))
	}
	g.logger.Info("invocation finished", fields...)
}

func invocationEvent(req *InvokeRequest, sys *registry.System, ep *registry.Endpoint, res *dispatch.Result) *audit.Event {
	ev := &audit.Event{
		Type:       audit.EventInvocation,
		RequestID:  req.RequestID,
		Timestamp:  time.Now(),
		UserID:     req.User.ID,
		ToolName:   req.ToolName,
		SystemID:   sys.ID,
		EndpointID: ep.ID,
		Protocol:   string(ep.Protocol),
		RiskLevel:  string(ep.RiskLevel),
		Outcome:    res.Status,
		StatusCode: int32(res.Code),
		Attempt:    int32(res.Attempt),
		LatencyMs:  float32(res.Latency) / float32(time.Millisecond),
		ParamsJSON: string(dispatch.RedactArgs(req.Args)),
	}
	if res.Fault != nil {
		ev.Outcome = string(res.Fault.Kind)
		ev.ErrorDetail = res.Error
	}
	return ev
}

func faultResult(f *fault.Fault) *dispatch.Result {
	return &dispatch.Result{
		Status: dispatch.StatusFailed,
		Code:   f.Status,
		Fault:  f,
		Error:  f.Error(),
	}
}
