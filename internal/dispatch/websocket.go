package dispatch

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/operant-labs/toolgate/internal/fault"
	"github.com/operant-labs/toolgate/internal/registry"
)

// WebSocketStrategy opens a connection, sends one message, waits for one
// response frame within the endpoint timeout, then closes. No connection is
// retained across calls.
type WebSocketStrategy struct {
	auth *AuthInjector
}

func NewWebSocketStrategy(auth *AuthInjector) *WebSocketStrategy {
	return &WebSocketStrategy{auth: auth}
}

func (s *WebSocketStrategy) Protocol() registry.ProtocolType { return registry.ProtocolWebSocket }

func (s *WebSocketStrategy) Execute(ctx context.Context, call *Call) *Result {
	target := joinURL(wsScheme(call.System.BaseURL), call.Endpoint.WebSocket.Path)

	hdr, query, err := s.auth.Credentials(ctx, call.System)
	if err != nil {
		return failedResult(authFault(err), nil)
	}
	// Caller headers ride along on the handshake; injected credentials win
	// on conflict, as in the HTTP strategies.
	for name, val := range call.Args.Headers {
		if hdr.Get(name) == "" {
			hdr.Set(name, val)
		}
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}
	client, err := s.auth.Client(ctx, call.System)
	if err != nil {
		return failedResult(authFault(err), nil)
	}

	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient: client,
		HTTPHeader: hdr,
	})
	if err != nil {
		return failedResult(classifyWSError(ctx, err), nil)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	message := call.Args.Message
	if len(message) == 0 {
		message = call.Args.Body
	}
	if err := conn.Write(ctx, websocket.MessageText, message); err != nil {
		return failedResult(classifyWSError(ctx, err), nil)
	}

	_, frame, err := conn.Read(ctx)
	if err != nil {
		return failedResult(classifyWSError(ctx, err), nil)
	}

	return successResult(http.StatusOK, normalizeBody(frame))
}

func classifyWSError(ctx context.Context, err error) *fault.Fault {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fault.Wrap(fault.Timeout, err)
	}
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		return fault.New(fault.UpstreamError, "websocket closed: %s", closeErr.Reason).WithStatus(int(closeErr.Code))
	}
	return fault.Wrap(fault.ConnectionError, err)
}

// wsScheme rewrites http(s) base URLs to their websocket equivalents.
func wsScheme(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
