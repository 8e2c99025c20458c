// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/chatrelay/internal/model"
	"github.com/jeranaias/chatrelay/internal/storage"
	"github.com/jeranaias/chatrelay/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for session exporters.
type Exporter interface {
	// Export converts a session to the target format and returns the content.
	Export(s *storage.Session) ([]byte, error)

	// FileExtension returns the appropriate file extension (e.g., ".md", ".html").
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

var (
	_ storage.Encoder = (*TextExporter)(nil)
	_ storage.Encoder = (*MarkdownExporter)(nil)
	_ storage.Encoder = (*JSONExporter)(nil)
	_ storage.Encoder = (*HTMLExporter)(nil)
)

// Formats lists the names accepted by ForFormat.
var Formats = []string{"txt", "md", "json", "html"}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// IncludeMetadata includes a metadata header (dates, message count).
	IncludeMetadata bool

	// IncludeTimestamps includes per-message timestamps.
	IncludeTimestamps bool

	// Theme for HTML export ("light" or "dark").
	// Default: "dark"
	Theme string

	// CodeStyle is the chroma style used for HTML code blocks.
	// Default: "monokai"
	CodeStyle string

	// Now stamps the export footer. Default: time.Now
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Theme:             "dark",
		CodeStyle:         "monokai",
		Now:               time.Now,
	}
}

func normalizeOptions(opts *Options) *Options {
	if opts == nil {
		return DefaultOptions()
	}
	o := *opts
	if o.Theme == "" {
		o.Theme = "dark"
	}
	if o.CodeStyle == "" {
		o.CodeStyle = "monokai"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &o
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ForFormat returns the exporter registered under name: txt, md, json or
// html. The match is case-insensitive and a leading dot is ignored.
func ForFormat(name string, opts *Options) (Exporter, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), ".") {
	case "", "txt", "text":
		return NewTextExporter(), nil
	case "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	case "html", "htm":
		return NewHTMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("unknown export format %q (want one of %s)", name, strings.Join(Formats, ", "))
	}
}

// ExportToFile renders s with exporter and writes it into dir under a name
// derived from the session title. The write is atomic. It returns the path
// of the written file.
func ExportToFile(s *storage.Session, exporter Exporter, dir string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("session is nil")
	}
	content, err := exporter.Export(s)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	outputPath := filepath.Join(dir, storage.Filename(s.Title, exporter.FileExtension()))
	if err := util.AtomicWriteFile(outputPath, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return outputPath, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a timestamp for inline display.
func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}

// statusNote describes a message that did not finish streaming.
func statusNote(m model.Message) string {
	if m.Status == model.StatusIncomplete {
		return "(incomplete)"
	}
	return ""
}
