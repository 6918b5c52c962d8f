package credential

import (
	"context"
	"testing"

	"github.com/operant-labs/toolgate/internal/fault"
)

func TestStaticResolver_RoundTrip(t *testing.T) {
	r := NewStaticResolver()
	r.Put("cred-1", &Secret{Token: "tok-xyz"})

	secret, err := r.GetSecret(context.Background(), "cred-1")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if secret.Token != "tok-xyz" {
		t.Errorf("expected tok-xyz, got %s", secret.Token)
	}
}

func TestStaticResolver_NotFound(t *testing.T) {
	r := NewStaticResolver()
	_, err := r.GetSecret(context.Background(), "missing")
	if fault.KindOf(err) != fault.CredentialNotFound {
		t.Errorf("expected credential_not_found, got %v", err)
	}
}

func TestStaticResolver_Revoked(t *testing.T) {
	r := NewStaticResolver()
	r.Put("cred-1", &Secret{Token: "tok"})
	r.Revoke("cred-1")

	_, err := r.GetSecret(context.Background(), "cred-1")
	if fault.KindOf(err) != fault.CredentialRevoked {
		t.Errorf("expected credential_revoked, got %v", err)
	}
}

func TestStaticResolver_ReturnsCopy(t *testing.T) {
	r := NewStaticResolver()
	r.Put("cred-1", &Secret{Token: "tok"})

	first, _ := r.GetSecret(context.Background(), "cred-1")
	first.Token = "mutated"

	second, _ := r.GetSecret(context.Background(), "cred-1")
	if second.Token != "tok" {
		t.Error("mutating a returned secret must not affect the stored one")
	}
}
