package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", cfg.Timeout)
	}
	if cfg.DialTimeout != 5*time.Second {
		t.Errorf("DialTimeout = %v, want 5s", cfg.DialTimeout)
	}
	if cfg.MaxIdleConnsPerHost != 16 {
		t.Errorf("MaxIdleConnsPerHost = %v, want 16", cfg.MaxIdleConnsPerHost)
	}
}

func TestNewClient(t *testing.T) {
	client := NewClient(DefaultConfig())

	if client.Timeout != 15*time.Second {
		t.Errorf("client timeout = %v, want 15s", client.Timeout)
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatal("expected *http.Transport")
	}
	if !transport.ForceAttemptHTTP2 {
		t.Error("expected HTTP/2 enabled")
	}
	if transport.MaxIdleConns != 64 {
		t.Errorf("MaxIdleConns = %v, want 64", transport.MaxIdleConns)
	}
}

func TestClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := DefaultClient()
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
