package transcript

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/adesege/factbeat/internal/storage"
)

// ParsePDF extracts the plain text of a PDF chat export and parses it with
// the WhatsApp line format, which is what print-to-PDF exports of those
// chats contain.
func ParsePDF(path string, opts Options) ([]storage.Message, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	var text strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extracting text from page %d: %w", i, err)
		}
		text.WriteString(content)
		text.WriteString("\n")
	}

	return ParseWhatsApp(strings.NewReader(text.String()), opts)
}
