// Package transcript parses exported chat histories into messages so past
// conversations can be backfilled into the store and mined for facts.
package transcript

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adesege/factbeat/internal/storage"
)

// Options control how parsed transcripts map onto stored messages.
type Options struct {
	// UserID is the user the imported messages belong to.
	UserID string
	// AssistantName marks a sender whose messages are recorded as outbound.
	// Every other sender is treated as the user speaking (inbound).
	AssistantName string
}

// whatsappLine matches the header of a WhatsApp export line in both common
// shapes:
//
//	12/31/23, 10:15 PM - Ada: Registered the company today
//	[31/12/2023, 22:15:33] Ada: Registered the company today
var whatsappLine = regexp.MustCompile(`^\[?(\d{1,2}/\d{1,2}/\d{2,4}),? (\d{1,2}:\d{2}(?::\d{2})?(?: ?[AP]M)?)\]?(?: -)? ([^:]+): (.*)$`)

var whatsappTimeLayouts = []string{
	"1/2/06 3:04 PM",
	"1/2/2006 3:04 PM",
	"2/1/2006 15:04:05",
	"2/1/06 15:04:05",
	"1/2/06 15:04",
	"2/1/2006 15:04",
}

// ParseWhatsApp reads a WhatsApp .txt export and returns messages in file
// order. Continuation lines (no timestamp header) are appended to the
// preceding message. System lines such as "Messages and calls are end-to-end
// encrypted" carry no sender and are skipped.
func ParseWhatsApp(r io.Reader, opts Options) ([]storage.Message, error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	var messages []storage.Message
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimPrefix(scanner.Text(), "‎")
		m := whatsappLine.FindStringSubmatch(line)
		if m == nil {
			// Continuation of a multi-line message.
			if len(messages) > 0 && strings.TrimSpace(line) != "" {
				messages[len(messages)-1].Content += "\n" + line
			}
			continue
		}

		at, err := parseWhatsAppTime(m[1], m[2])
		if err != nil {
			return nil, fmt.Errorf("line %q: %w", line, err)
		}

		sender := strings.TrimSpace(m[3])
		direction := storage.DirectionInbound
		if opts.AssistantName != "" && sender == opts.AssistantName {
			direction = storage.DirectionOutbound
		}

		messages = append(messages, storage.Message{
			ID:        uuid.New().String(),
			UserID:    opts.UserID,
			Direction: direction,
			Content:   m[4],
			CreatedAt: at,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading export: %w", err)
	}

	return messages, nil
}

func parseWhatsAppTime(date, clock string) (time.Time, error) {
	joined := date + " " + strings.ToUpper(clock)
	for _, layout := range whatsappTimeLayouts {
		if t, err := time.Parse(layout, joined); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", joined)
}
