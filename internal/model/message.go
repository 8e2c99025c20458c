// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/chatrelay/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is a role accepted on the wire.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// Label returns the upper-cased role used in transcripts ("USER", "ASSISTANT").
func (r Role) Label() string {
	return strings.ToUpper(string(r))
}

// =============================================================================
// STATUS TYPE
// =============================================================================

// MessageStatus tracks whether a message is still receiving content.
type MessageStatus string

const (
	// StatusComplete is a frozen message that ended normally.
	StatusComplete MessageStatus = "complete"
	// StatusStreaming is the single in-flight assistant message.
	StatusStreaming MessageStatus = "streaming"
	// StatusIncomplete is a frozen message whose stream was interrupted or cancelled.
	StatusIncomplete MessageStatus = "incomplete"
)

// NoResponseText replaces the content of an interrupted reply that never
// produced any text.
const NoResponseText = "(no response)"

// =============================================================================
// PARTS
// =============================================================================

// Attachment is an image carried inline with a message.
type Attachment struct {
	Name        string `json:"name"`
	MIMEType    string `json:"mime_type"`
	DataURI     string `json:"data_uri"`
	Description string `json:"description,omitempty"`
}

// NewAttachment encodes data as a base64 data URI.
func NewAttachment(name, mimeType string, data []byte) *Attachment {
	return &Attachment{
		Name:     name,
		MIMEType: mimeType,
		DataURI:  fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)),
	}
}

// Part is one piece of message content: either text or an attachment.
type Part struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// TextPart creates a text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// AttachmentPart creates an attachment part.
func AttachmentPart(a *Attachment) Part {
	return Part{Attachment: a}
}

// IsAttachment reports whether the part carries an attachment.
func (p Part) IsAttachment() bool {
	return p.Attachment != nil
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Parts     []Part        `json:"parts"`
	Status    MessageStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewMessage creates a complete message with a generated ID.
// Empty text produces no text part.
func NewMessage(role Role, text string, attachments ...*Attachment) Message {
	parts := make([]Part, 0, 1+len(attachments))
	if text != "" {
		parts = append(parts, TextPart(text))
	}
	for _, a := range attachments {
		if a != nil {
			parts = append(parts, AttachmentPart(a))
		}
	}
	return Message{
		ID:        generateID(),
		Role:      role,
		Parts:     parts,
		Status:    StatusComplete,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a user message.
func NewUserMessage(text string, attachments ...*Attachment) Message {
	return NewMessage(RoleUser, text, attachments...)
}

// NewAssistantText creates a complete assistant message, e.g. a greeting.
func NewAssistantText(text string) Message {
	return NewMessage(RoleAssistant, text)
}

// Text concatenates the text parts.
func (m Message) Text() string {
	if len(m.Parts) == 1 {
		return m.Parts[0].Text
	}
	var sb strings.Builder
	for _, p := range m.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// Attachments returns the attachments in order.
func (m Message) Attachments() []*Attachment {
	var out []*Attachment
	for _, p := range m.Parts {
		if p.Attachment != nil {
			out = append(out, p.Attachment)
		}
	}
	return out
}

// Content renders the message as plain text: the text followed by one
// "[image: name]" line per attachment.
func (m Message) Content() string {
	text := m.Text()
	atts := m.Attachments()
	if len(atts) == 0 {
		return text
	}
	lines := make([]string, 0, len(atts)+1)
	if text != "" {
		lines = append(lines, text)
	}
	for _, a := range atts {
		label := a.Name
		if label == "" {
			label = a.MIMEType
		}
		if a.Description != "" {
			lines = append(lines, fmt.Sprintf("[image: %s - %s]", label, a.Description))
		} else {
			lines = append(lines, fmt.Sprintf("[image: %s]", label))
		}
	}
	return strings.Join(lines, "\n")
}

// IsEmpty returns true if the message has neither text nor attachments.
func (m Message) IsEmpty() bool {
	for _, p := range m.Parts {
		if p.Text != "" || p.Attachment != nil {
			return false
		}
	}
	return true
}

// Preview returns a single-line, rune-truncated preview of the content.
func (m Message) Preview(maxLen int) string {
	return util.TruncateRunes(util.CollapseWhitespace(m.Content()), maxLen)
}

// Clone returns a deep copy that shares no mutable state with m.
func (m Message) Clone() Message {
	out := m
	if m.Parts != nil {
		out.Parts = make([]Part, len(m.Parts))
		for i, p := range m.Parts {
			out.Parts[i] = p
			if p.Attachment != nil {
				a := *p.Attachment
				out.Parts[i].Attachment = &a
			}
		}
	}
	return out
}

// FirstUserText returns the text of the first user message, or "".
func FirstUserText(msgs []Message) string {
	for _, m := range msgs {
		if m.Role == RoleUser {
			return m.Text()
		}
	}
	return ""
}

// CloneMessages deep-copies a message slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// NewID returns a new message ID.
func NewID() string {
	return uuid.NewString()
}

func generateID() string {
	return NewID()
}
