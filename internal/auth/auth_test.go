package auth

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"valid", "Bearer agk_abcdef123", "agk_abcdef123", true},
		{"missing header", "", "", false},
		{"no bearer prefix", "agk_abcdef123", "", false},
		{"wrong key prefix", "Bearer tok_abcdef123", "", false},
		{"trims whitespace", "Bearer  agk_abcdef123", "agk_abcdef123", true},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("POST", "/v1/invoke", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		got, err := ExtractBearerToken(r)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("%s: got (%q, %v), want %q", tc.name, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error, got %q", tc.name, got)
		}
	}
}

func TestStaticAuthenticator(t *testing.T) {
	a := NewStaticAuthenticator()

	agent, err := a.Authenticate(context.Background(), "agk_abcd1234")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if agent.AgentID != "static-agk_abcd" {
		t.Errorf("unexpected agent id %q", agent.AgentID)
	}

	if _, err := a.Authenticate(context.Background(), "agk"); err == nil {
		t.Error("short tokens should be rejected")
	}
}
