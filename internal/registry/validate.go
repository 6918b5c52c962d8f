package registry

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var pathParamPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// PathParamNames returns the {identifier} tokens found in a path template,
// in order of first appearance, deduplicated.
func PathParamNames(path string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, m := range pathParamPattern.FindAllStringSubmatch(path, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// ValidateEndpoint checks an endpoint definition at registration time.
// Violations here are registration errors, never dispatch errors: a stored
// endpoint that passed validation can always be turned into a wire request.
func ValidateEndpoint(e *Endpoint) error {
	if e.ID == "" || e.SystemID == "" {
		return fmt.Errorf("endpoint requires id and system_id")
	}
	switch e.RiskLevel {
	case RiskRead, RiskLowWrite, RiskHighWrite, RiskDestructive:
	default:
		return fmt.Errorf("endpoint %s: unknown risk level %q", e.ID, e.RiskLevel)
	}
	if e.Timeout <= 0 {
		return fmt.Errorf("endpoint %s: timeout must be positive", e.ID)
	}
	if e.RateLimit != nil && (e.RateLimit.MaxRequests <= 0 || e.RateLimit.WindowSeconds <= 0) {
		return fmt.Errorf("endpoint %s: rate_limit requires positive max_requests and window_seconds", e.ID)
	}
	if e.RetryPolicy != nil && e.RetryPolicy.MaxRetries < 0 {
		return fmt.Errorf("endpoint %s: retry_policy max_retries must not be negative", e.ID)
	}

	switch e.Protocol {
	case ProtocolREST:
		if e.REST == nil {
			return fmt.Errorf("endpoint %s: rest descriptor missing", e.ID)
		}
		return validateREST(e.ID, e.REST)
	case ProtocolGraphQL:
		if e.GraphQL == nil || e.GraphQL.Query == "" {
			return fmt.Errorf("endpoint %s: graphql descriptor requires a query", e.ID)
		}
		return compileSchemas(e.ID, map[string]map[string]any{"variables_schema": e.GraphQL.VariablesSchema})
	case ProtocolSOAP:
		if e.SOAP == nil || e.SOAP.Action == "" || e.SOAP.BodyTemplate == "" {
			return fmt.Errorf("endpoint %s: soap descriptor requires action and body_template", e.ID)
		}
		return nil
	case ProtocolGRPC:
		if e.GRPC == nil || e.GRPC.Service == "" || e.GRPC.Method == "" {
			return fmt.Errorf("endpoint %s: grpc descriptor requires service and method", e.ID)
		}
		return compileSchemas(e.ID, map[string]map[string]any{"body_schema": e.GRPC.BodySchema})
	case ProtocolWebSocket:
		if e.WebSocket == nil {
			return fmt.Errorf("endpoint %s: websocket descriptor missing", e.ID)
		}
		return nil
	default:
		return fmt.Errorf("endpoint %s: unknown protocol %q", e.ID, e.Protocol)
	}
}

func validateREST(id string, spec *RESTSpec) error {
	if spec.Method == "" || spec.Path == "" {
		return fmt.Errorf("endpoint %s: rest descriptor requires method and path", id)
	}

	// Detected path parameters are computed once here by scanning the
	// template; they must exactly match the declared path_params schema.
	detected := PathParamNames(spec.Path)
	declared := schemaPropertyNames(spec.PathParams)
	if !sameStringSet(detected, declared) {
		return fmt.Errorf("endpoint %s: path template params %v do not match declared path_params %v",
			id, detected, declared)
	}

	return compileSchemas(id, map[string]map[string]any{
		"path_params":  spec.PathParams,
		"query_params": spec.QueryParams,
		"body_schema":  spec.BodySchema,
	})
}

// CompileSchema compiles an inline JSON Schema document.
func CompileSchema(doc map[string]any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", normalizeSchemaDoc(doc)); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

func compileSchemas(id string, docs map[string]map[string]any) error {
	for name, doc := range docs {
		if doc == nil {
			continue
		}
		if _, err := CompileSchema(doc); err != nil {
			return fmt.Errorf("endpoint %s: %s does not compile: %w", id, name, err)
		}
	}
	return nil
}

// normalizeSchemaDoc round-trips the schema through generic JSON types so the
// compiler sees plain maps and slices regardless of how the doc was built.
func normalizeSchemaDoc(doc map[string]any) any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeSchemaDoc(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case int:
		return float64(t)
	default:
		return v
	}
}

func schemaPropertyNames(schema map[string]any) []string {
	if schema == nil {
		return nil
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	return strings.Join(as, "\x00") == strings.Join(bs, "\x00")
}
