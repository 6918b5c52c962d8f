package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/operant-labs/toolgate/internal/fault"
	"github.com/operant-labs/toolgate/internal/registry"
)

func graphqlEndpoint(query string) *registry.Endpoint {
	return &registry.Endpoint{
		ID:        "ep-gql",
		SystemID:  "sys-test",
		Name:      "search",
		Protocol:  registry.ProtocolGraphQL,
		GraphQL:   &registry.GraphQLSpec{Query: query, OperationName: "Search"},
		RiskLevel: registry.RiskRead,
		Timeout:   5 * time.Second,
	}
}

func TestGraphQL_PostsQueryAndVariables(t *testing.T) {
	var got graphqlRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"data":{"search":[{"id":"1"}]}}`))
	}))
	defer srv.Close()

	d := testDispatcher(nil)
	res := d.Dispatch(context.Background(), &Call{
		System:   testSystem(srv.URL, registry.AuthConfig{}),
		Endpoint: graphqlEndpoint("query Search($q: String!) { search(q: $q) { id } }"),
		Args:     Args{Variables: map[string]any{"q": "printers"}},
		Attempt:  1,
	})

	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if got.OperationName != "Search" || got.Variables["q"] != "printers" {
		t.Errorf("request payload wrong: %+v", got)
	}
	if string(res.Body) != `{"search":[{"id":"1"}]}` {
		t.Errorf("result should carry the data object, got %s", res.Body)
	}
}

func TestGraphQL_ErrorsArrayIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"partial":true},"errors":[{"message":"field denied"}]}`))
	}))
	defer srv.Close()

	d := testDispatcher(nil)
	res := d.Dispatch(context.Background(), &Call{
		System:   testSystem(srv.URL, registry.AuthConfig{}),
		Endpoint: graphqlEndpoint("{ partial }"),
		Attempt:  1,
	})

	if res.Status != StatusFailed {
		t.Fatal("a non-empty errors array must fail the invocation even on HTTP 200")
	}
	if res.Fault.Kind != fault.UpstreamError {
		t.Errorf("expected upstream_error, got %s", res.Fault.Kind)
	}
	if string(res.Body) != `{"partial":true}` {
		t.Errorf("partial data should still be carried, got %s", res.Body)
	}
}

func TestGraphQL_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	d := testDispatcher(nil)
	res := d.Dispatch(context.Background(), &Call{
		System:   testSystem(srv.URL, registry.AuthConfig{}),
		Endpoint: graphqlEndpoint("{ x }"),
		Attempt:  1,
	})
	if res.Fault == nil || res.Fault.Kind != fault.ProtocolError {
		t.Errorf("expected protocol_error, got %+v", res)
	}
}
