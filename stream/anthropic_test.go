package stream

import (
	"context"
	"testing"

	"github.com/felipepmaragno/llm-meter/meter"
)

func TestFromMessages_SplitAcrossEvents(t *testing.T) {
	events := feed(
		MessageEvent{
			Type: "message_start",
			Message: &MessageSnapshot{
				ID:    "msg_1",
				Model: "claude-3-5-sonnet-20241022",
				Usage: MessageUsage{InputTokens: 25},
			},
		},
		MessageEvent{Type: "content_block_delta", Delta: &MessageDelta{Type: "text_delta", Text: "hi"}},
		MessageEvent{
			Type:  "message_delta",
			Delta: &MessageDelta{StopReason: "end_turn"},
			Usage: &MessageDeltaUsage{OutputTokens: 9},
		},
		MessageEvent{Type: "message_stop"},
	)

	got := FromMessages(context.Background(), events, closedErrs())
	if got == nil {
		t.Fatal("expected a detection")
	}
	if got.Provider != meter.ProviderAnthropic {
		t.Errorf("provider = %s", got.Provider)
	}
	if got.Model != "claude-3-5-sonnet-20241022" {
		t.Errorf("model = %q", got.Model)
	}
	if got.Usage.InputTokens != 25 || got.Usage.OutputTokens != 9 {
		t.Errorf("usage = %+v, want 25/9", got.Usage)
	}
}

func TestFromMessages_NoDelta(t *testing.T) {
	events := feed(
		MessageEvent{
			Type: "message_start",
			Message: &MessageSnapshot{
				Model: "claude-3-5-haiku-latest",
				Usage: MessageUsage{InputTokens: 25},
			},
		},
	)

	got := FromMessages(context.Background(), events, closedErrs())
	if got == nil {
		t.Fatal("expected a detection")
	}
	if got.Usage.InputTokens != 25 || got.Usage.OutputTokens != 0 {
		t.Errorf("usage = %+v, want 25/0", got.Usage)
	}
}

func TestFromMessages_StreamError(t *testing.T) {
	events := feed(
		MessageEvent{
			Type: "message_start",
			Message: &MessageSnapshot{
				Model: "claude-3-5-sonnet-20241022",
				Usage: MessageUsage{InputTokens: 25},
			},
		},
	)

	got := FromMessages(context.Background(), events, closedErrs(errTest))
	if got != nil {
		t.Fatalf("failed stream must yield nil, got %+v", got)
	}
}

func TestFromMessages_NoModel(t *testing.T) {
	events := feed(
		MessageEvent{Type: "message_delta", Usage: &MessageDeltaUsage{OutputTokens: 9}},
	)

	got := FromMessages(context.Background(), events, closedErrs())
	if got != nil {
		t.Fatalf("stream without message_start must yield nil, got %+v", got)
	}
}
