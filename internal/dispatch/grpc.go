package dispatch

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"google.golang.org/grpc/codes"

	"github.com/operant-labs/toolgate/internal/fault"
	"github.com/operant-labs/toolgate/internal/registry"
)

// GRPCStrategy reaches gRPC services through a JSON-transcoding layer:
// {service, method, body} maps onto POST base_url/service/method with a JSON
// payload, and the transcoder reflects the gRPC status in the Grpc-Status
// header (or the HTTP status when the header is absent).
type GRPCStrategy struct {
	auth *AuthInjector
}

func NewGRPCStrategy(auth *AuthInjector) *GRPCStrategy {
	return &GRPCStrategy{auth: auth}
}

func (s *GRPCStrategy) Protocol() registry.ProtocolType { return registry.ProtocolGRPC }

func (s *GRPCStrategy) Execute(ctx context.Context, call *Call) *Result {
	spec := call.Endpoint.GRPC

	target := joinURL(call.System.BaseURL, spec.Service+"/"+spec.Method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(call.Args.Body))
	if err != nil {
		return failedResult(fault.Wrap(fault.ProtocolError, err), nil)
	}
	req.Header.Set("Content-Type", "application/json")
	for name, val := range call.Args.Headers {
		req.Header.Set(name, val)
	}

	if err := s.auth.apply(ctx, call.System, req); err != nil {
		return failedResult(authFault(err), nil)
	}
	client, err := s.auth.Client(ctx, call.System)
	if err != nil {
		return failedResult(authFault(err), nil)
	}

	httpCode, respBody, hdr, f := doHTTP(client, req)
	if f != nil {
		return failedResult(f, nil)
	}

	if raw := hdr.Get("Grpc-Status"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return failedResult(fault.New(fault.ProtocolError, "unparseable Grpc-Status %q", raw).WithStatus(httpCode), normalizeBody(respBody))
		}
		code := codes.Code(n)
		if code != codes.OK {
			return failedResult(grpcFault(code, hdr.Get("Grpc-Message"), httpCode), normalizeBody(respBody))
		}
		return successResult(httpCode, normalizeBody(respBody))
	}

	if httpCode < 200 || httpCode > 299 {
		return failedResult(classifyStatus(httpCode, respBody), normalizeBody(respBody))
	}
	return successResult(httpCode, normalizeBody(respBody))
}

// grpcFault maps a non-OK gRPC code onto the failure taxonomy. The attached
// status follows the standard transcoding table so retry classification
// (5xx-equivalent vs 4xx-equivalent) works unchanged.
func grpcFault(code codes.Code, message string, httpCode int) *fault.Fault {
	if message == "" {
		message = code.String()
	}
	switch code {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fault.New(fault.AuthError, "grpc %s: %s", code, message).WithStatus(httpEquivalent(code, httpCode))
	case codes.DeadlineExceeded:
		return fault.New(fault.Timeout, "grpc %s: %s", code, message).WithStatus(httpEquivalent(code, httpCode))
	default:
		return fault.New(fault.UpstreamError, "grpc %s: %s", code, message).WithStatus(httpEquivalent(code, httpCode))
	}
}

func httpEquivalent(code codes.Code, httpCode int) int {
	if httpCode != 0 && httpCode != http.StatusOK {
		return httpCode
	}
	switch code {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
