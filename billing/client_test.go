package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Dispatch(t *testing.T) {
	var received MeterEvent
	var authHeader, idempotencyKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/billing/meter_events" {
			t.Errorf("path = %s", r.URL.Path)
		}
		authHeader = r.Header.Get("Authorization")
		idempotencyKey = r.Header.Get("Idempotency-Key")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test_123")

	event := MeterEvent{
		EventName:  DefaultEventName,
		Identifier: "evt-abc-input",
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload: Payload{
			CustomerID: "cus_123",
			Value:      "1500",
			Model:      "anthropic/claude-3.5-sonnet",
			TokenType:  TokenTypeInput,
		},
	}

	if err := client.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if authHeader != "Bearer sk_test_123" {
		t.Errorf("auth header = %q", authHeader)
	}
	if idempotencyKey != "evt-abc-input" {
		t.Errorf("idempotency key = %q", idempotencyKey)
	}
	if received.EventName != DefaultEventName {
		t.Errorf("event_name = %q", received.EventName)
	}
	if received.Payload.CustomerID != "cus_123" {
		t.Errorf("customer_id = %q", received.Payload.CustomerID)
	}
	if received.Payload.Value != "1500" {
		t.Errorf("value = %q, want string 1500", received.Payload.Value)
	}
	if received.Payload.TokenType != TokenTypeInput {
		t.Errorf("token_type = %q", received.Payload.TokenType)
	}
	if !received.Timestamp.Equal(event.Timestamp) {
		t.Errorf("timestamp = %v, want %v", received.Timestamp, event.Timestamp)
	}
}

func TestClient_TimestampWireFormat(t *testing.T) {
	// The ingestion API takes ISO-8601 timestamps; time.Time marshals as
	// RFC 3339, which satisfies it.
	event := MeterEvent{
		EventName: DefaultEventName,
		Timestamp: time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC),
		Payload:   Payload{CustomerID: "cus_1"},
	}

	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts := decoded["timestamp"]; ts != "2026-03-01T12:30:45Z" {
		t.Errorf("timestamp wire form = %v", ts)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate_limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test_123")

	err := client.Dispatch(context.Background(), MeterEvent{EventName: DefaultEventName})
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
}
