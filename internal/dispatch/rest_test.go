package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/operant-labs/toolgate/internal/credential"
	"github.com/operant-labs/toolgate/internal/fault"
	"github.com/operant-labs/toolgate/internal/registry"
)

func TestREST_PathTemplatingAndQuery(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("expand")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"id":"c-42"}`))
	}))
	defer srv.Close()

	d := testDispatcher(map[string]*credential.Secret{
		"cred-1": {Token: "tok-secret"},
	})
	sys := testSystem(srv.URL, registry.AuthConfig{Type: registry.AuthBearer, CredentialID: "cred-1"})

	res := d.Dispatch(context.Background(), &Call{
		System:   sys,
		Endpoint: restEndpoint("GET", "/customers/{customer_id}"),
		Args: Args{
			PathParams:  map[string]string{"customer_id": "c-42"},
			QueryParams: map[string]string{"expand": "orders"},
		},
		Attempt: 1,
	})

	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if gotPath != "/customers/c-42" {
		t.Errorf("path not templated, got %q", gotPath)
	}
	if gotQuery != "orders" {
		t.Errorf("query param not merged, got %q", gotQuery)
	}
	if gotAuth != "Bearer tok-secret" {
		t.Errorf("bearer credential not injected, got %q", gotAuth)
	}
	var body map[string]string
	if err := json.Unmarshal(res.Body, &body); err != nil || body["id"] != "c-42" {
		t.Errorf("response body not passed through: %s", res.Body)
	}
}

func TestREST_MissingPathParamNoNetwork(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	d := testDispatcher(nil)
	res := d.Dispatch(context.Background(), &Call{
		System:   testSystem(srv.URL, registry.AuthConfig{}),
		Endpoint: restEndpoint("GET", "/customers/{customer_id}"),
		Args:     Args{},
		Attempt:  1,
	})

	if res.Fault == nil || res.Fault.Kind != fault.InvalidArgument {
		t.Fatalf("expected invalid_argument, got %+v", res)
	}
	if hits.Load() != 0 {
		t.Error("missing path param must fail before any network activity")
	}
}

func TestREST_APIKeyQueryInjection(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("api_key")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	d := testDispatcher(map[string]*credential.Secret{
		"cred-1": {APIKey: "k-secret"},
	})
	sys := testSystem(srv.URL, registry.AuthConfig{
		Type:         registry.AuthAPIKey,
		CredentialID: "cred-1",
		APIKeyQuery:  "api_key",
	})

	res := d.Dispatch(context.Background(), &Call{
		System:   sys,
		Endpoint: restEndpoint("GET", "/ping"),
		Attempt:  1,
	})
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if gotKey != "k-secret" {
		t.Errorf("api key not injected in query, got %q", gotKey)
	}
}

func TestREST_BasicAuthInjection(t *testing.T) {
	var user, pass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ = r.BasicAuth()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	d := testDispatcher(map[string]*credential.Secret{
		"cred-1": {Username: "svc", Password: "pw-secret"},
	})
	sys := testSystem(srv.URL, registry.AuthConfig{Type: registry.AuthBasic, CredentialID: "cred-1"})

	res := d.Dispatch(context.Background(), &Call{
		System:   sys,
		Endpoint: restEndpoint("GET", "/ping"),
		Attempt:  1,
	})
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if user != "svc" || pass != "pw-secret" {
		t.Errorf("basic credentials not injected, got %s/%s", user, pass)
	}
}

func TestREST_StatusClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   fault.Kind
	}{
		{http.StatusUnauthorized, fault.AuthError},
		{http.StatusForbidden, fault.AuthError},
		{http.StatusNotFound, fault.UpstreamError},
		{http.StatusServiceUnavailable, fault.UpstreamError},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		d := testDispatcher(nil)
		res := d.Dispatch(context.Background(), &Call{
			System:   testSystem(srv.URL, registry.AuthConfig{}),
			Endpoint: restEndpoint("GET", "/ping"),
			Attempt:  1,
		})
		srv.Close()

		if res.Fault == nil || res.Fault.Kind != tc.kind {
			t.Errorf("status %d: expected %s, got %+v", tc.status, tc.kind, res.Fault)
			continue
		}
		if res.Fault.Status != tc.status {
			t.Errorf("status %d: fault status %d", tc.status, res.Fault.Status)
		}
	}
}

func TestREST_TimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ep := restEndpoint("GET", "/slow")
	ep.Timeout = 20 * time.Millisecond

	d := testDispatcher(nil)
	res := d.Dispatch(context.Background(), &Call{
		System:   testSystem(srv.URL, registry.AuthConfig{}),
		Endpoint: ep,
		Attempt:  1,
	})
	if res.Fault == nil || res.Fault.Kind != fault.Timeout {
		t.Errorf("expected timeout, got %+v", res)
	}
}

func TestREST_CredentialFaultPreserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	d := testDispatcher(nil) // no credentials registered
	sys := testSystem(srv.URL, registry.AuthConfig{Type: registry.AuthBearer, CredentialID: "missing"})

	res := d.Dispatch(context.Background(), &Call{
		System:   sys,
		Endpoint: restEndpoint("GET", "/ping"),
		Attempt:  1,
	})
	if res.Fault == nil || res.Fault.Kind != fault.CredentialNotFound {
		t.Errorf("resolver taxonomy should pass through, got %+v", res.Fault)
	}
}

func TestREST_BodyForwarded(t *testing.T) {
	var gotBody string
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	d := testDispatcher(nil)
	res := d.Dispatch(context.Background(), &Call{
		System:   testSystem(srv.URL, registry.AuthConfig{}),
		Endpoint: restEndpoint("POST", "/tickets"),
		Args:     Args{Body: json.RawMessage(`{"title":"broken printer"}`)},
		Attempt:  1,
	})
	if res.Status != StatusSuccess || res.Code != http.StatusCreated {
		t.Fatalf("expected 201 success, got %+v", res)
	}
	if gotBody != `{"title":"broken printer"}` {
		t.Errorf("body not forwarded, got %q", gotBody)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type not set, got %q", gotContentType)
	}
}
