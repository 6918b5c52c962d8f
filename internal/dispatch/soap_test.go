package dispatch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/operant-labs/toolgate/internal/fault"
	"github.com/operant-labs/toolgate/internal/registry"
)

func soapEndpoint(action, template string) *registry.Endpoint {
	return &registry.Endpoint{
		ID:        "ep-soap",
		SystemID:  "sys-test",
		Name:      "lookup",
		Protocol:  registry.ProtocolSOAP,
		SOAP:      &registry.SOAPSpec{Action: action, BodyTemplate: template},
		RiskLevel: registry.RiskRead,
		Timeout:   5 * time.Second,
	}
}

const envelope = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body><Lookup><Id>{id}</Id></Lookup></soap:Body>
</soap:Envelope>`

func TestSOAP_TemplateSubstitutionAndAction(t *testing.T) {
	var gotBody, gotAction string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		gotAction = r.Header.Get("SOAPAction")
		w.Write([]byte(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><LookupResponse/></soap:Body></soap:Envelope>`))
	}))
	defer srv.Close()

	d := testDispatcher(nil)
	res := d.Dispatch(context.Background(), &Call{
		System:   testSystem(srv.URL, registry.AuthConfig{}),
		Endpoint: soapEndpoint("urn:Lookup", envelope),
		Args:     Args{PathParams: map[string]string{"id": "a<b&c"}},
		Attempt:  1,
	})

	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if gotAction != "urn:Lookup" {
		t.Errorf("SOAPAction header missing, got %q", gotAction)
	}
	if !strings.Contains(gotBody, "<Id>a&lt;b&amp;c</Id>") {
		t.Errorf("param not XML-escaped, body: %s", gotBody)
	}
}

func TestSOAP_FaultEnvelopeIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <soap:Fault>
      <faultcode>soap:Server</faultcode>
      <faultstring>record locked</faultstring>
    </soap:Fault>
  </soap:Body>
</soap:Envelope>`))
	}))
	defer srv.Close()

	d := testDispatcher(nil)
	res := d.Dispatch(context.Background(), &Call{
		System:   testSystem(srv.URL, registry.AuthConfig{}),
		Endpoint: soapEndpoint("urn:Lookup", envelope),
		Args:     Args{PathParams: map[string]string{"id": "1"}},
		Attempt:  1,
	})

	if res.Status != StatusFailed {
		t.Fatal("a Fault element must fail the invocation even on HTTP 200")
	}
	if res.Fault.Kind != fault.UpstreamError {
		t.Errorf("expected upstream_error, got %s", res.Fault.Kind)
	}
	if !strings.Contains(res.Error, "record locked") {
		t.Errorf("faultstring should surface in the error, got %q", res.Error)
	}
}

func TestSOAP_MalformedXML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<soap:Envelope><unclosed`))
	}))
	defer srv.Close()

	d := testDispatcher(nil)
	res := d.Dispatch(context.Background(), &Call{
		System:   testSystem(srv.URL, registry.AuthConfig{}),
		Endpoint: soapEndpoint("urn:Lookup", envelope),
		Args:     Args{PathParams: map[string]string{"id": "1"}},
		Attempt:  1,
	})
	if res.Fault == nil || res.Fault.Kind != fault.ProtocolError {
		t.Errorf("expected protocol_error, got %+v", res)
	}
}

func TestFindSOAPFault_NamespaceAgnostic(t *testing.T) {
	body := []byte(`<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/">
  <SOAP-ENV:Body><SOAP-ENV:Fault><faultstring>boom</faultstring></SOAP-ENV:Fault></SOAP-ENV:Body>
</SOAP-ENV:Envelope>`)
	msg, found, err := findSOAPFault(body)
	if err != nil {
		t.Fatalf("findSOAPFault: %v", err)
	}
	if !found || msg != "boom" {
		t.Errorf("expected fault boom, got found=%v msg=%q", found, msg)
	}
}
