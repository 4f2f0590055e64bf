package httpemu

import (
	"net/http"
	"testing"
)

func TestAuthenticate_ParsesFullIdentity(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/messages/", nil)
	req.SetBasicAuth("alice@example.com", "secret")

	creds, ok := authenticate(req, "fallback.example")
	if !ok {
		t.Fatal("authenticate should succeed")
	}
	if creds.identity.Name != "alice" || creds.identity.Domain != "example.com" {
		t.Errorf("identity = %+v", creds.identity)
	}
}

func TestAuthenticate_BareNameUsesDefaultDomain(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/messages/", nil)
	req.SetBasicAuth("alice", "secret")

	creds, ok := authenticate(req, "fallback.example")
	if !ok {
		t.Fatal("authenticate should succeed")
	}
	if creds.identity.Name != "alice" || creds.identity.Domain != "fallback.example" {
		t.Errorf("identity = %+v", creds.identity)
	}
}

func TestAuthenticate_MissingHeaderFails(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/messages/", nil)
	if _, ok := authenticate(req, "fallback.example"); ok {
		t.Error("authenticate should fail without an Authorization header")
	}
}

func TestTransportKey_DeterministicAndSensitiveToInputs(t *testing.T) {
	k1 := transportKey("alice", "secret")
	k2 := transportKey("alice", "secret")
	k3 := transportKey("alice", "other")

	if k1 != k2 {
		t.Error("transportKey should be deterministic for the same inputs")
	}
	if k1 == k3 {
		t.Error("transportKey should differ when the password differs")
	}
}
