package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/adesege/factbeat/internal/storage"
)

func TestParseWhatsAppUSFormat(t *testing.T) {
	export := strings.Join([]string{
		"12/31/23, 10:15 PM - Ada: My TIN is 12345678",
		"12/31/23, 10:16 PM - TaxBot: Noted, I have it on record.",
		"12/31/23, 10:18 PM - Ada: We also moved to Lagos",
	}, "\n")

	msgs, err := ParseWhatsApp(strings.NewReader(export), Options{UserID: "u1", AssistantName: "TaxBot"})
	if err != nil {
		t.Fatalf("ParseWhatsApp: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}

	first := msgs[0]
	if first.UserID != "u1" || first.Direction != storage.DirectionInbound {
		t.Errorf("first message = %+v", first)
	}
	if first.Content != "My TIN is 12345678" {
		t.Errorf("content = %q", first.Content)
	}
	want := time.Date(2023, 12, 31, 22, 15, 0, 0, time.UTC)
	if !first.CreatedAt.Equal(want) {
		t.Errorf("created_at = %v, want %v", first.CreatedAt, want)
	}
	if first.ID == "" {
		t.Error("expected a generated message ID")
	}

	if msgs[1].Direction != storage.DirectionOutbound {
		t.Errorf("assistant message direction = %q, want outbound", msgs[1].Direction)
	}
	if msgs[2].Direction != storage.DirectionInbound {
		t.Errorf("third message direction = %q, want inbound", msgs[2].Direction)
	}
}

func TestParseWhatsAppBracketFormat(t *testing.T) {
	export := "[31/12/2023, 22:15:33] Ada: Registered the company today"

	msgs, err := ParseWhatsApp(strings.NewReader(export), Options{UserID: "u1"})
	if err != nil {
		t.Fatalf("ParseWhatsApp: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	want := time.Date(2023, 12, 31, 22, 15, 33, 0, time.UTC)
	if !msgs[0].CreatedAt.Equal(want) {
		t.Errorf("created_at = %v, want %v", msgs[0].CreatedAt, want)
	}
}

func TestParseWhatsAppContinuationLines(t *testing.T) {
	export := strings.Join([]string{
		"12/31/23, 10:15 PM - Ada: Our registered address is",
		"12 Allen Avenue",
		"Ikeja, Lagos",
		"",
		"12/31/23, 10:16 PM - Ada: That's the new one",
	}, "\n")

	msgs, err := ParseWhatsApp(strings.NewReader(export), Options{UserID: "u1"})
	if err != nil {
		t.Fatalf("ParseWhatsApp: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	want := "Our registered address is\n12 Allen Avenue\nIkeja, Lagos"
	if msgs[0].Content != want {
		t.Errorf("multi-line content = %q, want %q", msgs[0].Content, want)
	}
}

func TestParseWhatsAppSkipsSystemLines(t *testing.T) {
	// System notices precede the first message and have no sender.
	export := strings.Join([]string{
		"Messages and calls are end-to-end encrypted.",
		"12/31/23, 10:15 PM - Ada: hello",
	}, "\n")

	msgs, err := ParseWhatsApp(strings.NewReader(export), Options{UserID: "u1"})
	if err != nil {
		t.Fatalf("ParseWhatsApp: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestParseWhatsAppRequiresUserID(t *testing.T) {
	if _, err := ParseWhatsApp(strings.NewReader(""), Options{}); err == nil {
		t.Error("expected error without a user id")
	}
}

func TestParseWhatsAppBadTimestamp(t *testing.T) {
	export := "99/99/23, 10:15 PM - Ada: hello"
	if _, err := ParseWhatsApp(strings.NewReader(export), Options{UserID: "u1"}); err == nil {
		t.Error("expected error for unparseable timestamp")
	}
}
