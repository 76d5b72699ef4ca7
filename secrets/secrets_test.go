package secrets

import (
	"context"
	"testing"
)

func TestLoadBillingCredentials(t *testing.T) {
	store := NewInMemorySecretStore()
	store.SetSecret("billing/prod", `{"api_key": "sk_live_abc", "endpoint": "https://billing.internal"}`)

	creds, err := LoadBillingCredentials(context.Background(), store, "billing/prod")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.APIKey != "sk_live_abc" {
		t.Errorf("api key = %q", creds.APIKey)
	}
	if creds.Endpoint != "https://billing.internal" {
		t.Errorf("endpoint = %q", creds.Endpoint)
	}
}

func TestLoadBillingCredentials_MissingKey(t *testing.T) {
	store := NewInMemorySecretStore()
	store.SetSecret("billing/prod", `{"endpoint": "https://billing.internal"}`)

	if _, err := LoadBillingCredentials(context.Background(), store, "billing/prod"); err == nil {
		t.Fatal("expected error for secret without api_key")
	}
}

func TestLoadBillingCredentials_NotFound(t *testing.T) {
	store := NewInMemorySecretStore()

	if _, err := LoadBillingCredentials(context.Background(), store, "billing/missing"); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestInMemorySecretStore_GetSecretJSON(t *testing.T) {
	store := NewInMemorySecretStore()
	store.SetSecret("config", `{"a": 1}`)

	var v struct {
		A int `json:"a"`
	}
	if err := store.GetSecretJSON(context.Background(), "config", &v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.A != 1 {
		t.Errorf("a = %d, want 1", v.A)
	}
}
