// Package server exposes the gateway over HTTP: invocation, confirmation
// resolution, and the registry read path.
package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/operant-labs/toolgate/internal/auth"
	"github.com/operant-labs/toolgate/internal/confirm"
	"github.com/operant-labs/toolgate/internal/fault"
	"github.com/operant-labs/toolgate/internal/gateway"
	"github.com/operant-labs/toolgate/internal/registry"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Gateway  *gateway.Gateway
	Registry registry.Registry
	Auth     auth.Authenticator
	Logger   *zap.Logger
}

// ErrorResp is the JSON error envelope.
type ErrorResp struct {
	Detail string     `json:"detail"`
	Code   fault.Kind `json:"code,omitempty"`
}

// ResolveReq is the body of a confirmation resolution.
type ResolveReq struct {
	Decision confirm.Decision `json:"decision"`
	Actor    string           `json:"actor"`
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/invoke", deps.authMiddleware(deps.handleInvoke))
	mux.HandleFunc("POST /v1/confirmations/{id}/resolve", deps.authMiddleware(deps.handleResolve))
	mux.HandleFunc("GET /v1/confirmations/{id}", deps.authMiddleware(deps.handleGetConfirmation))

	mux.HandleFunc("GET /v1/systems", deps.authMiddleware(deps.handleListSystems))
	mux.HandleFunc("GET /v1/systems/{id}", deps.authMiddleware(deps.handleGetSystem))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}

func (d *Dependencies) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req gateway.InvokeRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.AdHoc == nil && (req.SystemID == "" || req.EndpointID == "") {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "system_id and endpoint_id (or ad_hoc) are required"})
		return
	}

	if agent := agentFromContext(r.Context()); agent != nil {
		d.Logger.Debug("invoke",
			zap.String("agent_id", agent.AgentID),
			zap.String("tool_name", req.ToolName),
		)
	}

	out, err := d.Gateway.Invoke(r.Context(), &req)
	if err != nil {
		writeFault(w, err)
		return
	}
	if out.Gated {
		writeJSON(w, http.StatusAccepted, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (d *Dependencies) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req ResolveReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Actor == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "actor is required"})
		return
	}
	switch req.Decision {
	case confirm.DecisionApprove, confirm.DecisionReject:
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "decision must be approve or reject"})
		return
	}

	out, err := d.Gateway.Resolve(r.Context(), id, req.Decision, req.Actor)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (d *Dependencies) handleGetConfirmation(w http.ResponseWriter, r *http.Request) {
	c, err := d.Gateway.Confirmation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	if c == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Confirmation not found", Code: fault.NotFound})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (d *Dependencies) handleListSystems(w http.ResponseWriter, r *http.Request) {
	systems, err := d.Registry.ListSystems(r.Context())
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"systems": systems})
}

func (d *Dependencies) handleGetSystem(w http.ResponseWriter, r *http.Request) {
	sys, err := d.Registry.GetSystem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	if sys == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "System not found", Code: fault.NotFound})
		return
	}
	writeJSON(w, http.StatusOK, sys)
}

// writeFault maps a taxonomy fault onto the HTTP surface. Unclassified
// errors become opaque 500s — no internal detail leaks.
func writeFault(w http.ResponseWriter, err error) {
	f := fault.As(err)
	if f == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}
	writeJSON(w, faultStatus(f.Kind), ErrorResp{Detail: f.Message, Code: f.Kind})
}

func faultStatus(kind fault.Kind) int {
	switch kind {
	case fault.InvalidArgument:
		return http.StatusBadRequest
	case fault.PermissionDenied:
		return http.StatusForbidden
	case fault.NotFound:
		return http.StatusNotFound
	case fault.SystemInactive, fault.AlreadyResolved:
		return http.StatusConflict
	case fault.ConfirmationExpired:
		return http.StatusGone
	case fault.RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
