package dispatch

import (
	"encoding/json"
	"strings"
)

// Redaction is applied uniformly at the dispatcher boundary — one declarative
// deny-list, not per-strategy logic. Nothing matching it may reach the audit
// trail.

const redactedPlaceholder = "[REDACTED]"

var denyHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"x-api-key":           {},
	"api-key":             {},
	"x-auth-token":        {},
	"x-amz-security-token": {},
	"cookie":              {},
	"set-cookie":          {},
}

var denyFields = map[string]struct{}{
	"password":      {},
	"passwd":        {},
	"secret":        {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"id_token":      {},
	"api_key":       {},
	"apikey":        {},
	"client_secret": {},
	"authorization": {},
	"private_key":   {},
	"credential":    {},
	"credentials":   {},
}

// RedactHeaders returns a copy with deny-listed header values replaced.
func RedactHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, val := range headers {
		if _, deny := denyHeaders[strings.ToLower(name)]; deny {
			out[name] = redactedPlaceholder
		} else {
			out[name] = val
		}
	}
	return out
}

// RedactJSON walks a JSON document and replaces values of deny-listed fields
// at any nesting depth. Invalid JSON is redacted wholesale.
func RedactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		wrapped, _ := json.Marshal(redactedPlaceholder)
		return wrapped
	}
	out, err := json.Marshal(redactValue(doc))
	if err != nil {
		wrapped, _ := json.Marshal(redactedPlaceholder)
		return wrapped
	}
	return out
}

// RedactArgs produces the audit-safe JSON form of call arguments.
func RedactArgs(args Args) json.RawMessage {
	safe := Args{
		PathParams:  redactStringMap(args.PathParams),
		QueryParams: redactStringMap(args.QueryParams),
		Headers:     RedactHeaders(args.Headers),
		Body:        RedactJSON(args.Body),
		Message:     RedactJSON(args.Message),
	}
	if args.Variables != nil {
		safe.Variables = redactValue(args.Variables).(map[string]any)
	}
	out, _ := json.Marshal(safe)
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, deny := denyFields[strings.ToLower(k)]; deny {
				out[k] = redactedPlaceholder
				continue
			}
			out[k] = redactValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactValue(e)
		}
		return out
	default:
		return v
	}
}

func redactStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if _, deny := denyFields[strings.ToLower(k)]; deny {
			out[k] = redactedPlaceholder
		} else {
			out[k] = v
		}
	}
	return out
}
