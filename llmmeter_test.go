package llmmeter

import (
	"context"
	"testing"
	"time"

	"github.com/felipepmaragno/llm-meter/billing"
	"github.com/felipepmaragno/llm-meter/config"
	"github.com/felipepmaragno/llm-meter/stream"
)

func newTestMetering(t *testing.T) (*Metering, *billing.InMemoryDispatcher) {
	t.Helper()

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	dispatcher := billing.NewInMemoryDispatcher()
	m, err := New(context.Background(), cfg, WithDispatcher(dispatcher))
	if err != nil {
		t.Fatalf("assemble pipeline: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Close(ctx)
	})

	return m, dispatcher
}

func settle(t *testing.T, m *Metering) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.Drain(ctx); err != nil {
		t.Fatalf("drain pipeline: %v", err)
	}
}

func TestNew_RequiresDispatcherConfig(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected error with no billing endpoint or api key")
	}
}

func TestMeterResponse_ChatCompletion(t *testing.T) {
	m, dispatcher := newTestMetering(t)

	response := map[string]any{
		"id":    "chatcmpl-1",
		"model": "gpt-4o-2024-08-06",
		"choices": []any{
			map[string]any{"message": map[string]any{"role": "assistant", "content": "hi"}},
		},
		"usage": map[string]any{
			"prompt_tokens":     float64(9),
			"completion_tokens": float64(12),
		},
	}

	m.MeterResponse(response, "cus_1")
	settle(t, m)

	events := dispatcher.Events()
	if len(events) != 2 {
		t.Fatalf("dispatched %d events, want 2", len(events))
	}
	if events[0].Payload.Model != "openai/gpt-4o" {
		t.Errorf("model = %q, want openai/gpt-4o", events[0].Payload.Model)
	}
	if events[0].Payload.Value != "9" || events[1].Payload.Value != "12" {
		t.Errorf("values = %q, %q, want 9 then 12", events[0].Payload.Value, events[1].Payload.Value)
	}
}

func TestMeterResponse_UnrecognizedShape(t *testing.T) {
	m, dispatcher := newTestMetering(t)

	m.MeterResponse(map[string]any{"hello": "world"}, "cus_1")
	settle(t, m)

	if n := len(dispatcher.Events()); n != 0 {
		t.Fatalf("dispatched %d events, want 0", n)
	}
}

func TestMeterChatStream_CallerSeesFullStream(t *testing.T) {
	m, dispatcher := newTestMetering(t)

	chunks := make(chan stream.ChatChunk, 3)
	chunks <- stream.ChatChunk{Model: "gpt-4o-mini-2024-07-18"}
	chunks <- stream.ChatChunk{Choices: []stream.ChatChoice{{Delta: &stream.ChatDelta{Content: "hi"}}}}
	chunks <- stream.ChatChunk{Usage: &stream.ChatUsage{PromptTokens: 4, CompletionTokens: 2}}
	close(chunks)
	errs := make(chan error, 1)
	close(errs)

	out, outErrs := m.MeterChatStream(context.Background(), chunks, errs, "cus_1")

	var got int
	for range out {
		got++
	}
	if err, ok := <-outErrs; ok && err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if got != 3 {
		t.Fatalf("caller received %d chunks, want 3", got)
	}

	settle(t, m)

	events := dispatcher.Events()
	if len(events) != 2 {
		t.Fatalf("dispatched %d events, want 2", len(events))
	}
	if events[0].Payload.Model != "openai/gpt-4o-mini" {
		t.Errorf("model = %q, want openai/gpt-4o-mini", events[0].Payload.Model)
	}
}

func TestMeterMessageStream(t *testing.T) {
	m, dispatcher := newTestMetering(t)

	events := make(chan stream.MessageEvent, 2)
	events <- stream.MessageEvent{
		Type: "message_start",
		Message: &stream.MessageSnapshot{
			Model: "claude-3-5-sonnet-20241022",
			Usage: stream.MessageUsage{InputTokens: 30},
		},
	}
	events <- stream.MessageEvent{
		Type:  "message_delta",
		Usage: &stream.MessageDeltaUsage{OutputTokens: 11},
	}
	close(events)
	errs := make(chan error, 1)
	close(errs)

	out, _ := m.MeterMessageStream(context.Background(), events, errs, "cus_1")
	for range out {
	}

	settle(t, m)

	dispatched := dispatcher.Events()
	if len(dispatched) != 2 {
		t.Fatalf("dispatched %d events, want 2", len(dispatched))
	}
	if dispatched[0].Payload.Model != "anthropic/claude-3.5-sonnet" {
		t.Errorf("model = %q, want anthropic/claude-3.5-sonnet", dispatched[0].Payload.Model)
	}
	if dispatched[0].Payload.Value != "30" || dispatched[1].Payload.Value != "11" {
		t.Errorf("values = %q, %q, want 30 then 11", dispatched[0].Payload.Value, dispatched[1].Payload.Value)
	}
}

func TestMeterGenerateStream(t *testing.T) {
	m, dispatcher := newTestMetering(t)

	chunks := make(chan stream.GenerateChunk, 2)
	chunks <- stream.GenerateChunk{Text: "hi"}
	chunks <- stream.GenerateChunk{UsageMetadata: &stream.UsageMetadata{
		PromptTokenCount:     8,
		CandidatesTokenCount: 5,
		ThoughtsTokenCount:   3,
	}}
	close(chunks)
	errs := make(chan error, 1)
	close(errs)
	response := make(chan stream.GenerateResponse, 1)
	response <- stream.GenerateResponse{ModelVersion: "gemini-2.0-flash"}
	close(response)

	out := m.MeterGenerateStream(context.Background(), stream.GenerateStream{
		Chunks:   chunks,
		Errs:     errs,
		Response: response,
	}, "cus_1")

	for range out.Chunks {
	}
	<-out.Response

	settle(t, m)

	dispatched := dispatcher.Events()
	if len(dispatched) != 2 {
		t.Fatalf("dispatched %d events, want 2", len(dispatched))
	}
	if dispatched[0].Payload.Model != "google/gemini-2.0-flash" {
		t.Errorf("model = %q, want google/gemini-2.0-flash", dispatched[0].Payload.Model)
	}
	if dispatched[1].Payload.Value != "8" {
		t.Errorf("output value = %q, want candidates+thoughts = 8", dispatched[1].Payload.Value)
	}
}

func TestMeterStream_FailedStreamNotBilled(t *testing.T) {
	m, dispatcher := newTestMetering(t)

	chunks := make(chan stream.ChatChunk, 1)
	chunks <- stream.ChatChunk{Model: "gpt-4o", Usage: &stream.ChatUsage{PromptTokens: 4, CompletionTokens: 2}}
	close(chunks)
	errs := make(chan error, 1)
	errs <- context.DeadlineExceeded
	close(errs)

	out, outErrs := m.MeterChatStream(context.Background(), chunks, errs, "cus_1")
	for range out {
	}
	<-outErrs

	settle(t, m)

	if n := len(dispatcher.Events()); n != 0 {
		t.Fatalf("dispatched %d events from failed stream, want 0", n)
	}
}
