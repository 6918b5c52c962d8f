package dispatch

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRedactHeaders(t *testing.T) {
	out := RedactHeaders(map[string]string{
		"Authorization": "Bearer tok-secret",
		"X-Api-Key":     "k-secret",
		"Cookie":        "session=abc",
		"Accept":        "application/json",
	})

	for _, name := range []string{"Authorization", "X-Api-Key", "Cookie"} {
		if out[name] != "[REDACTED]" {
			t.Errorf("%s should be redacted, got %q", name, out[name])
		}
	}
	if out["Accept"] != "application/json" {
		t.Errorf("benign header should pass through, got %q", out["Accept"])
	}
}

func TestRedactJSON_NestedFields(t *testing.T) {
	raw := json.RawMessage(`{
		"name": "alice",
		"password": "hunter2",
		"nested": {"api_key": "k-1", "items": [{"client_secret": "cs-1", "id": 7}]}
	}`)

	out := RedactJSON(raw)
	s := string(out)
	for _, leak := range []string{"hunter2", "k-1", "cs-1"} {
		if strings.Contains(s, leak) {
			t.Errorf("redacted output leaks %q: %s", leak, s)
		}
	}
	if !strings.Contains(s, "alice") {
		t.Errorf("benign field dropped: %s", s)
	}
}

func TestRedactJSON_Malformed(t *testing.T) {
	out := RedactJSON(json.RawMessage(`{"password": "hunter2"`))
	if strings.Contains(string(out), "hunter2") {
		t.Errorf("malformed input must not pass through raw: %s", out)
	}
}

func TestRedactArgs_AuditSafe(t *testing.T) {
	args := Args{
		PathParams:  map[string]string{"id": "42"},
		QueryParams: map[string]string{"token": "q-secret"},
		Headers:     map[string]string{"Authorization": "Bearer h-secret"},
		Body:        json.RawMessage(`{"password": "b-secret", "note": "ok"}`),
	}

	out := string(RedactArgs(args))
	for _, leak := range []string{"q-secret", "h-secret", "b-secret"} {
		if strings.Contains(out, leak) {
			t.Errorf("audit form leaks %q: %s", leak, out)
		}
	}
	if !strings.Contains(out, "42") || !strings.Contains(out, "ok") {
		t.Errorf("benign values should survive redaction: %s", out)
	}
}
