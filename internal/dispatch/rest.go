package dispatch

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/operant-labs/toolgate/internal/fault"
	"github.com/operant-labs/toolgate/internal/registry"
)

// RESTStrategy substitutes {param} placeholders in the path template, merges
// query parameters, posts the body as JSON, and injects auth.
type RESTStrategy struct {
	auth *AuthInjector
}

func NewRESTStrategy(auth *AuthInjector) *RESTStrategy {
	return &RESTStrategy{auth: auth}
}

func (s *RESTStrategy) Protocol() registry.ProtocolType { return registry.ProtocolREST }

func (s *RESTStrategy) Execute(ctx context.Context, call *Call) *Result {
	spec := call.Endpoint.REST

	path, f := expandPath(spec.Path, call.Args.PathParams)
	if f != nil {
		return failedResult(f, nil)
	}

	target := joinURL(call.System.BaseURL, path)
	if len(call.Args.QueryParams) > 0 {
		q := make(url.Values, len(call.Args.QueryParams))
		for name, val := range call.Args.QueryParams {
			q.Set(name, val)
		}
		target += "?" + q.Encode()
	}

	var body *bytes.Reader
	if len(call.Args.Body) > 0 {
		body = bytes.NewReader(call.Args.Body)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, target, body)
	if err != nil {
		return failedResult(fault.Wrap(fault.ProtocolError, err), nil)
	}
	if len(call.Args.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
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

	code, respBody, _, f := doHTTP(client, req)
	if f != nil {
		return failedResult(f, nil)
	}
	if code < 200 || code > 299 {
		return failedResult(classifyStatus(code, respBody), normalizeBody(respBody))
	}
	return successResult(code, normalizeBody(respBody))
}

// expandPath substitutes every {param} token. A declared param missing from
// the call arguments fails before any network activity.
func expandPath(template string, params map[string]string) (string, *fault.Fault) {
	path := template
	for _, name := range registry.PathParamNames(template) {
		val, ok := params[name]
		if !ok || val == "" {
			return "", fault.New(fault.InvalidArgument, "missing path parameter %q", name)
		}
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(val))
	}
	return path, nil
}

// authFault keeps resolver taxonomy codes (CredentialNotFound etc.) intact
// and classifies anything else as AuthError.
func authFault(err error) *fault.Fault {
	if f := fault.As(err); f != nil {
		return f
	}
	return fault.Wrap(fault.AuthError, err)
}
