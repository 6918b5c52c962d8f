package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/operant-labs/toolgate/internal/dispatch"
	"github.com/operant-labs/toolgate/internal/fault"
	"github.com/operant-labs/toolgate/internal/registry"
)

// validateArgs checks call-time arguments against the endpoint's declared
// schemas. Failures here happen before any confirmation is created and
// before any network activity.
func validateArgs(ep *registry.Endpoint, args dispatch.Args) error {
	switch ep.Protocol {
	case registry.ProtocolREST:
		spec := ep.REST
		for _, name := range registry.PathParamNames(spec.Path) {
			if args.PathParams[name] == "" {
				return fault.New(fault.InvalidArgument, "missing path parameter %q", name)
			}
		}
		if err := validateAgainst(spec.PathParams, stringMapDoc(args.PathParams)); err != nil {
			return fault.New(fault.InvalidArgument, "path_params: %v", err)
		}
		if err := validateAgainst(spec.QueryParams, stringMapDoc(args.QueryParams)); err != nil {
			return fault.New(fault.InvalidArgument, "query_params: %v", err)
		}
		if err := validateRaw(spec.BodySchema, args.Body); err != nil {
			return fault.New(fault.InvalidArgument, "body: %v", err)
		}
	case registry.ProtocolGraphQL:
		if err := validateAgainst(ep.GraphQL.VariablesSchema, anyMapDoc(args.Variables)); err != nil {
			return fault.New(fault.InvalidArgument, "variables: %v", err)
		}
	case registry.ProtocolGRPC:
		if err := validateRaw(ep.GRPC.BodySchema, args.Body); err != nil {
			return fault.New(fault.InvalidArgument, "body: %v", err)
		}
	}
	return nil
}

func validateAgainst(schemaDoc map[string]any, doc any) error {
	if schemaDoc == nil {
		return nil
	}
	sch, err := registry.CompileSchema(schemaDoc)
	if err != nil {
		return fmt.Errorf("schema does not compile: %w", err)
	}
	return sch.Validate(doc)
}

func validateRaw(schemaDoc map[string]any, raw json.RawMessage) error {
	if schemaDoc == nil || len(raw) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	return validateAgainst(schemaDoc, doc)
}

func stringMapDoc(m map[string]string) any {
	doc := make(map[string]any, len(m))
	for k, v := range m {
		doc[k] = v
	}
	return doc
}

func anyMapDoc(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
