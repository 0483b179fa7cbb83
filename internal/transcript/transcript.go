package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adesege/factbeat/internal/storage"
)

// ParseFile dispatches on file extension: .txt is a WhatsApp export, .html a
// Telegram Desktop export, .pdf a printed chat.
func ParseFile(path string, opts Options) ([]storage.Message, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening export: %w", err)
		}
		defer f.Close()
		return ParseWhatsApp(f, opts)
	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening export: %w", err)
		}
		defer f.Close()
		return ParseTelegramHTML(f, opts)
	case ".pdf":
		return ParsePDF(path, opts)
	default:
		return nil, fmt.Errorf("unsupported transcript format %q (want .txt, .html, or .pdf)", filepath.Ext(path))
	}
}
