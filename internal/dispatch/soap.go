package dispatch

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strings"

	"github.com/operant-labs/toolgate/internal/fault"
	"github.com/operant-labs/toolgate/internal/registry"
)

// SOAPStrategy posts the endpoint's body template (after {param}
// substitution) with the SOAPAction header. A Fault element anywhere in the
// response envelope is a failure.
type SOAPStrategy struct {
	auth *AuthInjector
}

func NewSOAPStrategy(auth *AuthInjector) *SOAPStrategy {
	return &SOAPStrategy{auth: auth}
}

func (s *SOAPStrategy) Protocol() registry.ProtocolType { return registry.ProtocolSOAP }

func (s *SOAPStrategy) Execute(ctx context.Context, call *Call) *Result {
	spec := call.Endpoint.SOAP

	body := spec.BodyTemplate
	for name, val := range call.Args.PathParams {
		body = strings.ReplaceAll(body, "{"+name+"}", xmlEscape(val))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, call.System.BaseURL, strings.NewReader(body))
	if err != nil {
		return failedResult(fault.Wrap(fault.ProtocolError, err), nil)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", spec.Action)
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

	faultMsg, found, parseErr := findSOAPFault(respBody)
	if parseErr != nil {
		return failedResult(fault.Wrap(fault.ProtocolError, parseErr).WithStatus(code), normalizeBody(respBody))
	}
	if found {
		f := fault.New(fault.UpstreamError, "SOAP fault: %s", faultMsg).WithStatus(code)
		return failedResult(f, normalizeBody(respBody))
	}

	return successResult(code, normalizeBody(respBody))
}

// findSOAPFault scans the envelope for a Fault element regardless of
// namespace prefix and returns its faultstring when present. Malformed XML
// surfaces as a parse error for the caller to classify.
func findSOAPFault(body []byte) (string, bool, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	inFault := false
	inFaultString := false
	msg := ""
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", false, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "Fault" {
				inFault = true
			}
			if inFault && strings.EqualFold(t.Name.Local, "faultstring") {
				inFaultString = true
			}
		case xml.EndElement:
			if t.Name.Local == "Fault" && inFault {
				return msg, true, nil
			}
			if strings.EqualFold(t.Name.Local, "faultstring") {
				inFaultString = false
			}
		case xml.CharData:
			if inFaultString {
				msg += strings.TrimSpace(string(t))
			}
		}
	}
	return "", false, nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
