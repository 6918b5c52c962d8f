package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/operant-labs/toolgate/internal/auth"
)

// maxBodyBytes bounds inbound request bodies; tool arguments are small.
const maxBodyBytes = 1 << 20

// contextKey is an unexported type for context keys to avoid collisions.
type contextKey int

const agentCtxKey contextKey = iota

// agentFromContext extracts the authenticated agent from the request context.
func agentFromContext(ctx context.Context) *auth.AgentContext {
	v, _ := ctx.Value(agentCtxKey).(*auth.AgentContext)
	return v
}

// authMiddleware validates Bearer agk_ tokens and injects the authenticated
// agent into the request context.
func (d *Dependencies) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			unauthorized(w, "Missing or invalid Authorization header")
			return
		}
		agent, err := d.Auth.Authenticate(r.Context(), token)
		if err != nil {
			d.Logger.Warn("auth failed", zap.Error(err))
			unauthorized(w, "Invalid API key")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), agentCtxKey, agent)))
	}
}

func unauthorized(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: detail})
}

// writeJSON marshals v and writes it with the given status code. Marshal
// failures fall back to a bare 500 since the response line is not out yet.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck
}

// readJSON decodes a size-capped JSON request body into v.
func readJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(v)
}

// requestLogging emits one structured line per request with the final status.
func requestLogging(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
	"Access-Control-Allow-Headers": "Authorization, Content-Type",
	"Access-Control-Max-Age":       "86400",
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range corsHeaders {
			w.Header().Set(k, v)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
