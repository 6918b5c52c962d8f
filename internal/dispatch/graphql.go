package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/operant-labs/toolgate/internal/fault"
	"github.com/operant-labs/toolgate/internal/registry"
)

// GraphQLStrategy posts {query, variables, operationName} to the system base
// URL. A non-null errors array is a partial failure: the result is failed but
// still carries whatever data the server returned.
type GraphQLStrategy struct {
	auth *AuthInjector
}

func NewGraphQLStrategy(auth *AuthInjector) *GraphQLStrategy {
	return &GraphQLStrategy{auth: auth}
}

func (s *GraphQLStrategy) Protocol() registry.ProtocolType { return registry.ProtocolGraphQL }

type graphqlRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *GraphQLStrategy) Execute(ctx context.Context, call *Call) *Result {
	spec := call.Endpoint.GraphQL

	payload, err := json.Marshal(graphqlRequest{
		Query:         spec.Query,
		Variables:     call.Args.Variables,
		OperationName: spec.OperationName,
	})
	if err != nil {
		return failedResult(fault.Wrap(fault.ProtocolError, err), nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, call.System.BaseURL, bytes.NewReader(payload))
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

	code, respBody, _, f := doHTTP(client, req)
	if f != nil {
		return failedResult(f, nil)
	}
	if code < 200 || code > 299 {
		return failedResult(classifyStatus(code, respBody), normalizeBody(respBody))
	}

	var resp graphqlResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return failedResult(fault.Wrap(fault.ProtocolError, err).WithStatus(code), normalizeBody(respBody))
	}

	if len(resp.Errors) > 0 {
		msg := resp.Errors[0].Message
		f := fault.New(fault.UpstreamError, "GraphQLError: %s", msg).WithStatus(code)
		// Partial failure: data may still be present and useful.
		return failedResult(f, resp.Data)
	}

	return successResult(code, resp.Data)
}
