// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"

	"github.com/jeranaias/chatrelay/internal/storage"
)

// =============================================================================
// TEXT EXPORTER
// =============================================================================

// TextExporter writes the plain transcript: one "ROLE: content" block per
// message, separated by a blank line, without a trailing newline.
type TextExporter struct{}

// NewTextExporter creates a new text exporter.
func NewTextExporter() *TextExporter {
	return &TextExporter{}
}

// Export converts a session to the plain transcript.
func (e *TextExporter) Export(s *storage.Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("session is nil")
	}
	blocks := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		blocks = append(blocks, m.Role.Label()+": "+m.Content())
	}
	return []byte(strings.Join(blocks, "\n\n")), nil
}

// FileExtension returns the file extension for text.
func (e *TextExporter) FileExtension() string {
	return ".txt"
}

// MimeType returns the MIME type for text.
func (e *TextExporter) MimeType() string {
	return "text/plain"
}
