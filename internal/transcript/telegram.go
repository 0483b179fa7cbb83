package transcript

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/adesege/factbeat/internal/storage"
)

// telegramTimeLayout matches the title attribute of a message date node,
// e.g. "31.12.2023 22:15:33 UTC+01:00".
const telegramTimeLayout = "02.01.2006 15:04:05 UTC-07:00"

// ParseTelegramHTML reads a Telegram Desktop HTML export (messages.html) and
// returns messages in file order. "Joined" messages (class "message default
// joined") inherit the sender of the preceding message, matching how the
// export elides repeated names.
func ParseTelegramHTML(r io.Reader, opts Options) ([]storage.Message, error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	var messages []storage.Message
	var lastSender string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "message") && hasClass(n, "default") {
			if msg, ok := parseTelegramMessage(n, opts, &lastSender); ok {
				messages = append(messages, msg)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return messages, nil
}

func parseTelegramMessage(n *html.Node, opts Options, lastSender *string) (storage.Message, bool) {
	var sender, text, dateTitle string

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == "div" {
			switch {
			case hasClass(node, "from_name"):
				sender = strings.TrimSpace(textContent(node))
			case hasClass(node, "text"):
				text = strings.TrimSpace(textContent(node))
			case hasClass(node, "date"):
				dateTitle = attr(node, "title")
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	if sender == "" {
		sender = *lastSender
	} else {
		*lastSender = sender
	}
	if text == "" || dateTitle == "" {
		return storage.Message{}, false
	}

	at, err := time.Parse(telegramTimeLayout, dateTitle)
	if err != nil {
		return storage.Message{}, false
	}

	direction := storage.DirectionInbound
	if opts.AssistantName != "" && sender == opts.AssistantName {
		direction = storage.DirectionOutbound
	}

	return storage.Message{
		ID:        uuid.New().String(),
		UserID:    opts.UserID,
		Direction: direction,
		Content:   text,
		CreatedAt: at.UTC(),
	}, true
}

func hasClass(n *html.Node, class string) bool {
	for _, f := range strings.Fields(attr(n, "class")) {
		if f == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
