// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// markdownRenderer renders assistant text with glamour. A TermRenderer is
// built per style and width. Finished messages are cached by ID.
type markdownRenderer struct {
	style    string
	width    int
	renderer *glamour.TermRenderer
	cache    map[string]string
}

func newMarkdownRenderer() *markdownRenderer {
	return &markdownRenderer{cache: make(map[string]string)}
}

// configure switches style or width, dropping cached output when either
// changes.
func (mr *markdownRenderer) configure(style string, width int) {
	if width < 20 {
		width = 20
	}
	if style == mr.style && width == mr.width && mr.renderer != nil {
		return
	}
	mr.style = style
	mr.width = width
	mr.cache = make(map[string]string)

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		mr.renderer = nil
		return
	}
	mr.renderer = r
}

// render returns text as styled markdown. Only final output is cached.
func (mr *markdownRenderer) render(id, text string, final bool) string {
	if final {
		if out, ok := mr.cache[id]; ok {
			return out
		}
	}

	out := mr.plain(text)
	if mr.renderer != nil {
		if rendered, err := mr.renderer.Render(text); err == nil {
			out = strings.Trim(rendered, "\n")
		}
	}

	if final && id != "" {
		mr.cache[id] = out
	}
	return out
}

// forget drops the cached output for id.
func (mr *markdownRenderer) forget(id string) {
	delete(mr.cache, id)
}

func (mr *markdownRenderer) plain(text string) string {
	return lipgloss.NewStyle().Width(mr.width).PaddingLeft(2).Render(text)
}
