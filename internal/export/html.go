// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"

	"github.com/jeranaias/chatrelay/internal/model"
	"github.com/jeranaias/chatrelay/internal/storage"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// codeBlockRegex matches fenced code blocks with an optional language.
var codeBlockRegex = regexp.MustCompile("```([a-zA-Z0-9_+-]*)\\n([\\s\\S]*?)```")

// inlineCodeRegex matches `code` spans in already-escaped text.
var inlineCodeRegex = regexp.MustCompile("`([^`\n]+)`")

// HTMLExporter exports sessions to a standalone HTML page with embedded CSS.
// Fenced code blocks are highlighted with chroma using inline styles, so
// the page needs no external stylesheet.
type HTMLExporter struct {
	options   *Options
	formatter *chromahtml.Formatter
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	return &HTMLExporter{
		options:   normalizeOptions(opts),
		formatter: chromahtml.New(chromahtml.WithClasses(false), chromahtml.TabWidth(4)),
	}
}

// Export converts a session to HTML format.
func (e *HTMLExporter) Export(s *storage.Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("session is nil")
	}

	var sb strings.Builder

	sb.WriteString("<!DOCTYPE html>\n")
	sb.WriteString("<html lang=\"en\">\n")
	sb.WriteString("<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	sb.WriteString(fmt.Sprintf("    <title>%s</title>\n", html.EscapeString(s.Title)))
	sb.WriteString("    <meta name=\"generator\" content=\"chatrelay\">\n")
	if !s.CreatedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("    <meta name=\"date\" content=\"%s\">\n", s.CreatedAt.Format(time.RFC3339)))
	}
	sb.WriteString(pageCSS)
	sb.WriteString("</head>\n")
	sb.WriteString(fmt.Sprintf("<body class=\"%s-theme\">\n", html.EscapeString(e.options.Theme)))
	sb.WriteString("    <div class=\"container\">\n")

	sb.WriteString(e.renderHeader(s))

	sb.WriteString("        <main class=\"conversation\">\n")
	for _, msg := range s.Messages {
		sb.WriteString(e.renderMessage(msg))
	}
	sb.WriteString("        </main>\n")

	sb.WriteString("        <footer class=\"footer\">\n")
	sb.WriteString(fmt.Sprintf("            <p>Exported from <strong>chatrelay</strong> on %s</p>\n",
		e.options.Now().Format("January 2, 2006 at 3:04 PM")))
	sb.WriteString("        </footer>\n")
	sb.WriteString("    </div>\n")
	sb.WriteString("</body>\n")
	sb.WriteString("</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// =============================================================================
// RENDERING FUNCTIONS
// =============================================================================

func (e *HTMLExporter) renderHeader(s *storage.Session) string {
	var sb strings.Builder
	sb.WriteString("        <header class=\"header\">\n")
	sb.WriteString(fmt.Sprintf("            <h1>%s</h1>\n", html.EscapeString(s.Title)))
	if e.options.IncludeMetadata {
		sb.WriteString("            <div class=\"metadata\">\n")
		if !s.CreatedAt.IsZero() {
			sb.WriteString(fmt.Sprintf("                <span><strong>Created:</strong> %s</span>\n", formatTimestamp(s.CreatedAt)))
		}
		if !s.UpdatedAt.IsZero() {
			sb.WriteString(fmt.Sprintf("                <span><strong>Updated:</strong> %s</span>\n", formatTimestamp(s.UpdatedAt)))
		}
		sb.WriteString(fmt.Sprintf("                <span><strong>Messages:</strong> %d</span>\n", len(s.Messages)))
		sb.WriteString("            </div>\n")
	}
	sb.WriteString("        </header>\n")
	return sb.String()
}

func (e *HTMLExporter) renderMessage(msg model.Message) string {
	var sb strings.Builder

	roleClass := strings.ToLower(msg.Role.String())
	sb.WriteString(fmt.Sprintf("            <div class=\"message %s-message\">\n", html.EscapeString(roleClass)))

	sb.WriteString("                <div class=\"message-header\">\n")
	label := msg.Role.DisplayName()
	if note := statusNote(msg); note != "" {
		label += " " + note
	}
	sb.WriteString(fmt.Sprintf("                    <span class=\"role-label\">%s</span>\n", html.EscapeString(label)))
	if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
		sb.WriteString(fmt.Sprintf("                    <span class=\"timestamp\">%s</span>\n", formatShortTimestamp(msg.Timestamp)))
	}
	sb.WriteString("                </div>\n")

	sb.WriteString("                <div class=\"message-content\">\n")
	if text := msg.Text(); strings.TrimSpace(text) != "" {
		sb.WriteString(e.formatContent(text))
		sb.WriteString("\n")
	}
	for _, att := range msg.Attachments() {
		sb.WriteString(renderAttachment(att))
	}
	if msg.IsEmpty() {
		sb.WriteString(fmt.Sprintf("<p class=\"muted\">%s</p>\n", model.NoResponseText))
	}
	sb.WriteString("                </div>\n")
	sb.WriteString("            </div>\n")

	return sb.String()
}

func renderAttachment(att *model.Attachment) string {
	caption := html.EscapeString(att.Name)
	if att.Description != "" {
		caption += " - " + html.EscapeString(att.Description)
	}
	if !strings.HasPrefix(att.DataURI, "data:image/") {
		return fmt.Sprintf("<p class=\"attachment\">[image: %s]</p>\n", caption)
	}
	return fmt.Sprintf("<figure class=\"attachment\"><img src=\"%s\" alt=\"%s\"><figcaption>%s</figcaption></figure>\n",
		html.EscapeString(att.DataURI), html.EscapeString(att.Name), caption)
}

// =============================================================================
// CONTENT FORMATTING
// =============================================================================

// formatContent renders prose as escaped paragraphs and fenced code blocks
// as chroma-highlighted HTML.
func (e *HTMLExporter) formatContent(content string) string {
	var sb strings.Builder
	last := 0
	for _, loc := range codeBlockRegex.FindAllStringSubmatchIndex(content, -1) {
		sb.WriteString(formatProse(content[last:loc[0]]))
		lang := content[loc[2]:loc[3]]
		code := content[loc[4]:loc[5]]
		sb.WriteString(e.highlightCode(code, lang))
		last = loc[1]
	}
	sb.WriteString(formatProse(content[last:]))
	return sb.String()
}

// highlightCode renders one code block. Unknown languages fall back to
// chroma's plain-text lexer.
func (e *HTMLExporter) highlightCode(code, lang string) string {
	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get(e.options.CodeStyle)
	if style == nil {
		style = chromaStyles.Fallback
	}

	langLabel := ""
	if lang != "" {
		langLabel = fmt.Sprintf("<div class=\"code-lang\">%s</div>", html.EscapeString(lang))
	}

	var buf strings.Builder
	iterator, err := lexer.Tokenise(nil, code)
	if err == nil {
		err = e.formatter.Format(&buf, style, iterator)
	}
	if err != nil {
		buf.Reset()
		buf.WriteString("<pre><code>")
		buf.WriteString(html.EscapeString(code))
		buf.WriteString("</code></pre>")
	}
	return fmt.Sprintf("<div class=\"code-block\">%s%s</div>\n", langLabel, buf.String())
}

// formatProse escapes text and splits it into paragraphs on blank lines.
// Single newlines become <br>.
func formatProse(text string) string {
	text = strings.Trim(text, "\n")
	if strings.TrimSpace(text) == "" {
		return ""
	}
	var sb strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		escaped := html.EscapeString(para)
		escaped = inlineCodeRegex.ReplaceAllString(escaped, "<code class=\"inline-code\">$1</code>")
		escaped = strings.ReplaceAll(escaped, "\n", "<br>\n")
		sb.WriteString("<p>")
		sb.WriteString(escaped)
		sb.WriteString("</p>\n")
	}
	return sb.String()
}

// =============================================================================
// EMBEDDED CSS
// =============================================================================

const pageCSS = `    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        .dark-theme {
            --bg: #1a1b26; --panel: #24283b; --line: #414868;
            --text: #c0caf5; --muted: #565f89; --user: #7aa2f7; --assistant: #9ece6a;
        }
        .light-theme {
            --bg: #ffffff; --panel: #f7f8fa; --line: #e1e4e8;
            --text: #24292e; --muted: #6a737d; --user: #0366d6; --assistant: #22863a;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
            line-height: 1.6; color: var(--text); background: var(--bg); padding: 20px;
        }
        .container { max-width: 900px; margin: 0 auto; background: var(--panel); border-radius: 12px; overflow: hidden; }
        .header { padding: 32px; border-bottom: 2px solid var(--line); }
        .header h1 { font-size: 26px; margin-bottom: 12px; }
        .metadata { display: flex; flex-wrap: wrap; gap: 16px; font-size: 14px; color: var(--muted); }
        .conversation { padding: 24px 32px; }
        .message { margin-bottom: 24px; padding: 16px 20px; border-left: 4px solid var(--line); border-radius: 8px; }
        .user-message { border-left-color: var(--user); }
        .assistant-message { border-left-color: var(--assistant); }
        .message-header { display: flex; justify-content: space-between; margin-bottom: 8px; font-size: 14px; }
        .role-label { font-weight: 600; }
        .timestamp, .muted { color: var(--muted); font-family: monospace; }
        .message-content p { margin-bottom: 12px; }
        .code-block { margin: 16px 0; border: 1px solid var(--line); border-radius: 8px; overflow: hidden; }
        .code-block pre { padding: 16px; overflow-x: auto; }
        .code-lang { padding: 6px 16px; font-size: 12px; text-transform: uppercase; color: var(--muted); }
        .inline-code { font-family: monospace; padding: 2px 6px; border: 1px solid var(--line); border-radius: 4px; }
        .attachment img { max-width: 100%; border-radius: 6px; }
        .attachment figcaption { font-size: 13px; color: var(--muted); }
        .footer { padding: 20px 32px; text-align: center; font-size: 14px; color: var(--muted); border-top: 1px solid var(--line); }
        @media print { .message { page-break-inside: avoid; } }
    </style>
`
