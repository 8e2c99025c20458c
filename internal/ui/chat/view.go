// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/chatrelay/internal/model"
	"github.com/jeranaias/chatrelay/internal/server"
)

// =============================================================================
// VIEW RENDERING
// =============================================================================

// renderChat renders the full chat view.
func (m Model) renderChat() string {
	if !m.ready {
		return "Loading..."
	}

	body := m.viewport.View()
	if w := m.sidebarWidth(); w > 0 {
		body = lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(w, m.viewport.Height), body)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		body,
		m.renderStatus(),
		m.renderInput(),
	)
}

// renderHeader renders the title line.
func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("chatrelay")

	detail := fmt.Sprintf("v%s · %d messages", server.Version, m.state.Conversation().Len())
	if m.loaded >= 0 {
		detail += fmt.Sprintf(" · session %d", m.loaded+1)
	}
	if m.state.IsDirty() {
		detail += " · unsaved"
	}
	detail = m.theme.HeaderDetail.Render(detail)

	gap := m.width - lipgloss.Width(title) - lipgloss.Width(detail) - 2
	if gap < 1 {
		gap = 1
	}
	return m.theme.Header.Width(m.width).Render(title + strings.Repeat(" ", gap) + detail)
}

// renderSidebar lists saved sessions, highlighting the loaded one.
func (m Model) renderSidebar(width, height int) string {
	inner := width - 3
	lines := []string{m.theme.SidebarTitle.Render("Sessions")}

	sessions := m.state.Archive().List()
	if len(sessions) == 0 {
		lines = append(lines, m.theme.SidebarMeta.Render("none saved"))
	}
	for _, s := range sessions {
		label := runewidth.Truncate(fmt.Sprintf("%d. %s", s.Index+1, s.Title), inner, "…")
		style := m.theme.SidebarItem
		if s.Index == m.loaded {
			style = m.theme.SidebarSelected
		}
		lines = append(lines, style.Render(label))
		lines = append(lines, m.theme.SidebarMeta.Render(fmt.Sprintf("   %d msgs · %s", s.Messages, s.UpdatedAt.Format("Jan 2"))))
	}

	if len(lines) > height {
		lines = lines[:height]
	}
	return m.theme.Sidebar.Width(width - 1).Height(height).Render(strings.Join(lines, "\n"))
}

// renderMessages renders the transcript for the viewport.
func (m Model) renderMessages() string {
	width := m.viewport.Width
	var b strings.Builder

	for i, msg := range m.state.Conversation().Messages() {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.renderMessage(i, msg, width))
	}

	if m.output != "" {
		b.WriteString("\n\n")
		b.WriteString(m.theme.CommandOutput.Width(width - 2).Render(m.output))
	}
	return b.String()
}

// renderMessage renders one message with its role label and timestamp.
func (m Model) renderMessage(index int, msg model.Message, width int) string {
	var labelStyle = m.theme.SystemLabel
	switch msg.Role {
	case model.RoleUser:
		labelStyle = m.theme.UserLabel
	case model.RoleAssistant:
		labelStyle = m.theme.AssistantLabel
	}

	header := labelStyle.Render(fmt.Sprintf("%s #%d", msg.Role.DisplayName(), index+1))
	if !msg.Timestamp.IsZero() {
		header += m.theme.Timestamp.Render(" · " + msg.Timestamp.Format("15:04"))
	}

	var body string
	if msg.Role == model.RoleAssistant {
		final := msg.Status != model.StatusStreaming
		body = m.md.render(msg.ID, msg.Text(), final)
	} else {
		body = m.theme.MessageBody.Width(width - 2).Render(msg.Text())
	}

	parts := []string{header, body}
	for _, a := range msg.Attachments() {
		line := "[image] " + a.Name
		if a.Description != "" {
			line += ": " + a.Description
		}
		parts = append(parts, m.theme.Attachment.Width(width-2).Render(line))
	}

	switch msg.Status {
	case model.StatusStreaming:
		parts = append(parts, m.spinner.View())
	case model.StatusIncomplete:
		parts = append(parts, m.theme.Incomplete.Render("(incomplete)"))
	}
	return strings.Join(parts, "\n")
}

// renderStatus renders the status line: an error, a notice or key hints.
func (m Model) renderStatus() string {
	if m.status != "" {
		style := m.theme.StatusBar
		if m.statusErr {
			style = m.theme.StatusError
		}
		return style.Width(m.width).Render(runewidth.Truncate(m.status, m.width-2, "…"))
	}

	bindings := m.keyMap.ShortHelp()
	if m.streaming {
		bindings = m.keyMap.StreamingHelp()
	}
	var hints []string
	for _, b := range bindings {
		h := b.Help()
		hints = append(hints, m.theme.ShortcutKey.Render(h.Key)+" "+m.theme.ShortcutDesc.Render(h.Desc))
	}
	return m.theme.StatusHint.Width(m.width).Render(strings.Join(hints, "  "))
}

// renderInput renders the input box with the pending reply and attachments.
func (m Model) renderInput() string {
	var extras []string
	if quote := m.state.ReplyTo(); quote != "" {
		extras = append(extras, "replying to: "+runewidth.Truncate(firstLine(quote), 40, "…"))
	}
	if n := len(m.state.PendingAttachments()); n > 0 {
		extras = append(extras, fmt.Sprintf("%d attachment(s)", n))
	}

	line := m.input.View()
	if len(extras) > 0 {
		line = m.theme.ReplyBanner.Render("["+strings.Join(extras, " · ")+"]") + " " + line
	}
	return m.theme.InputContainer.Width(m.width - 2).Render(line)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
