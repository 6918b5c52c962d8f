package registry

import "time"

// SystemStatus is the lifecycle state of a registered external system.
// Only active systems accept dispatches.
type SystemStatus string

const (
	StatusDraft    SystemStatus = "draft"
	StatusActive   SystemStatus = "active"
	StatusInactive SystemStatus = "inactive"
	StatusDegraded SystemStatus = "degraded"
)

// AuthType selects the credential injection scheme for a system.
type AuthType string

const (
	AuthNone      AuthType = "none"
	AuthOAuth2    AuthType = "oauth2"
	AuthAPIKey    AuthType = "api_key"
	AuthBasic     AuthType = "basic"
	AuthBearer    AuthType = "bearer"
	AuthMutualTLS AuthType = "mutual_tls"
)

// ProtocolType discriminates the endpoint's wire protocol.
type ProtocolType string

const (
	ProtocolREST      ProtocolType = "rest"
	ProtocolGraphQL   ProtocolType = "graphql"
	ProtocolSOAP      ProtocolType = "soap"
	ProtocolGRPC      ProtocolType = "grpc"
	ProtocolWebSocket ProtocolType = "websocket"
)

// RiskLevel classifies an endpoint's blast radius. Fixed at registration time;
// it is the sole input to confirmation gating and cannot be downgraded by a
// caller at invocation time.
type RiskLevel string

const (
	RiskRead        RiskLevel = "read"
	RiskLowWrite    RiskLevel = "low_write"
	RiskHighWrite   RiskLevel = "high_write"
	RiskDestructive RiskLevel = "destructive"
)

// AuthConfig binds a system to a credential and its injection parameters.
// CredentialID references the external credential vault; secrets are never
// stored here.
type AuthConfig struct {
	Type         AuthType `json:"type"`
	CredentialID string   `json:"credential_id,omitempty"`
	APIKeyHeader string   `json:"api_key_header,omitempty"` // header name for api_key auth
	APIKeyQuery  string   `json:"api_key_query,omitempty"`  // query param name, used when header is unset
	TokenURL     string   `json:"token_url,omitempty"`      // oauth2 client-credentials token endpoint
	Scopes       []string `json:"scopes,omitempty"`
}

// System is a registered external backend.
type System struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	BaseURL     string       `json:"base_url"`
	Status      SystemStatus `json:"status"`
	AgentAccess bool         `json:"agent_access"`
	Auth        AuthConfig   `json:"auth"`
}

// RESTSpec describes a REST endpoint. Path placeholders use {identifier}
// syntax and must each have a matching property in PathParams.
type RESTSpec struct {
	Method      string         `json:"method"`
	Path        string         `json:"path"`
	PathParams  map[string]any `json:"path_params,omitempty"`  // JSON Schema
	QueryParams map[string]any `json:"query_params,omitempty"` // JSON Schema
	BodySchema  map[string]any `json:"body_schema,omitempty"`  // JSON Schema
}

// GraphQLSpec describes a GraphQL operation posted to the system base URL.
type GraphQLSpec struct {
	Query           string         `json:"query"`
	OperationName   string         `json:"operation_name,omitempty"`
	VariablesSchema map[string]any `json:"variables_schema,omitempty"` // JSON Schema
}

// SOAPSpec describes a SOAP operation. BodyTemplate is posted verbatim after
// {param} substitution.
type SOAPSpec struct {
	Action       string `json:"action"`
	BodyTemplate string `json:"body_template"`
}

// GRPCSpec describes a gRPC method reached through a JSON-transcoding layer.
type GRPCSpec struct {
	Service    string         `json:"service"`
	Method     string         `json:"method"`
	BodySchema map[string]any `json:"body_schema,omitempty"` // JSON Schema
}

// WebSocketSpec describes a one-shot request/response over a websocket.
type WebSocketSpec struct {
	Path string `json:"path"`
}

// RateLimit is a fixed-window admission policy.
type RateLimit struct {
	MaxRequests   int `json:"max_requests"`
	WindowSeconds int `json:"window_seconds"`
}

// RetryPolicy bounds dispatch retries. MaxRetries of zero means a single
// attempt with no retry.
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// Endpoint is one callable operation on a System. Exactly one protocol
// descriptor is set, matching Protocol.
type Endpoint struct {
	ID        string         `json:"id"`
	SystemID  string         `json:"system_id"`
	Name      string         `json:"name"`
	Protocol  ProtocolType   `json:"protocol"`
	REST      *RESTSpec      `json:"rest,omitempty"`
	GraphQL   *GraphQLSpec   `json:"graphql,omitempty"`
	SOAP      *SOAPSpec      `json:"soap,omitempty"`
	GRPC      *GRPCSpec      `json:"grpc,omitempty"`
	WebSocket *WebSocketSpec `json:"websocket,omitempty"`

	RiskLevel           RiskLevel     `json:"risk_level"`
	Timeout             time.Duration `json:"timeout"`
	RateLimit           *RateLimit    `json:"rate_limit,omitempty"`
	RetryPolicy         *RetryPolicy  `json:"retry_policy,omitempty"`
	RequiredPermissions []string      `json:"required_permissions,omitempty"`
}

// Clone returns a deep-enough copy so an in-flight invocation holds a
// consistent snapshot even if the registry row is edited mid-call.
func (e *Endpoint) Clone() *Endpoint {
	if e == nil {
		return nil
	}
	cp := *e
	if e.REST != nil {
		rest := *e.REST
		cp.REST = &rest
	}
	if e.GraphQL != nil {
		gql := *e.GraphQL
		cp.GraphQL = &gql
	}
	if e.SOAP != nil {
		soap := *e.SOAP
		cp.SOAP = &soap
	}
	if e.GRPC != nil {
		rpc := *e.GRPC
		cp.GRPC = &rpc
	}
	if e.WebSocket != nil {
		ws := *e.WebSocket
		cp.WebSocket = &ws
	}
	if e.RateLimit != nil {
		rl := *e.RateLimit
		cp.RateLimit = &rl
	}
	if e.RetryPolicy != nil {
		rp := *e.RetryPolicy
		cp.RetryPolicy = &rp
	}
	cp.RequiredPermissions = append([]string(nil), e.RequiredPermissions...)
	return &cp
}

// Clone returns a copy of the system.
func (s *System) Clone() *System {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Auth.Scopes = append([]string(nil), s.Auth.Scopes...)
	return &cp
}
