// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInFlight is returned when a message is still streaming.
	ErrInFlight = errors.New("a response is still streaming")

	// ErrStaleGeneration is returned when a stream belongs to a conversation
	// that has since been replaced or cleared.
	ErrStaleGeneration = errors.New("conversation was replaced while streaming")
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is the ordered list of messages shown to the user.
// At most one message is in flight at any time.
// It is safe for concurrent use.
type Conversation struct {
	mu         sync.Mutex
	messages   []Message
	generation uint64
	inflight   *inflight
	updatedAt  time.Time
}

// inflight tracks the assistant message that is receiving fragments.
type inflight struct {
	id        string
	gen       uint64
	text      strings.Builder
	fragments int
}

// NewConversation creates a conversation seeded with the given messages.
func NewConversation(seed ...Message) *Conversation {
	c := &Conversation{updatedAt: time.Now()}
	c.messages = normalize(seed)
	return c
}

// Append adds a complete message at the end.
// It fails with ErrInFlight while a reply is streaming.
func (c *Conversation) Append(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight != nil {
		return ErrInFlight
	}
	msg = msg.Clone()
	if msg.ID == "" {
		msg.ID = generateID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Status == "" || msg.Status == StatusStreaming {
		msg.Status = StatusComplete
	}
	c.messages = append(c.messages, msg)
	c.updatedAt = time.Now()
	return nil
}

// ReplaceAll discards the current messages, including any in-flight reply,
// and installs a copy of msgs. The generation advances so that fragments of
// a stream started earlier are dropped.
func (c *Conversation) ReplaceAll(msgs []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = normalize(msgs)
	c.inflight = nil
	c.generation++
	c.updatedAt = time.Now()
}

// Clear removes every message.
func (c *Conversation) Clear() {
	c.ReplaceAll(nil)
}

// Messages returns a copy of the messages in display order.
// The in-flight message carries the text received so far.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = c.materialize(m)
	}
	return out
}

// Snapshot returns a deep copy suitable for archiving. An in-flight reply is
// included with its partial text and marked incomplete.
func (c *Conversation) Snapshot() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		m = c.materialize(m)
		if m.Status == StatusStreaming {
			m.Status = StatusIncomplete
		}
		out[i] = m
	}
	return out
}

// Message returns the message at index i.
func (c *Conversation) Message(i int) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i < 0 || i >= len(c.messages) {
		return Message{}, false
	}
	return c.materialize(c.messages[i]), true
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// InFlight reports whether a reply is streaming.
func (c *Conversation) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != nil
}

// Generation returns the current generation number.
func (c *Conversation) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// UpdatedAt returns the time of the last mutation.
func (c *Conversation) UpdatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatedAt
}

// =============================================================================
// STREAMING
// =============================================================================

// BeginAssistant appends an empty assistant placeholder in the streaming
// state and returns its ID. gen must be the generation observed when the
// request was sent.
func (c *Conversation) BeginAssistant(gen uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return "", ErrStaleGeneration
	}
	if c.inflight != nil {
		return "", ErrInFlight
	}

	msg := Message{
		ID:        generateID(),
		Role:      RoleAssistant,
		Status:    StatusStreaming,
		Timestamp: time.Now(),
	}
	c.messages = append(c.messages, msg)
	c.inflight = &inflight{id: msg.ID, gen: gen}
	c.updatedAt = time.Now()
	return msg.ID, nil
}

// AppendFragment appends text to the in-flight message. It returns false when
// the fragment was dropped because the stream is stale or already finished.
func (c *Conversation) AppendFragment(gen uint64, id, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.inflight
	if f == nil || f.gen != gen || f.id != id || gen != c.generation {
		return false
	}
	f.text.WriteString(text)
	f.fragments++
	c.updatedAt = time.Now()
	return true
}

// Finish freezes the in-flight message with the given final status
// (StatusComplete or StatusIncomplete) and returns the frozen message.
//
// A reply that completes with no text is removed, and kept reports false.
// An incomplete reply with no text is kept with NoResponseText.
func (c *Conversation) Finish(gen uint64, id string, status MessageStatus) (msg Message, kept bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.inflight
	if f == nil || f.gen != gen || f.id != id || gen != c.generation {
		return Message{}, false
	}
	c.inflight = nil
	c.updatedAt = time.Now()

	idx := c.indexOf(id)
	if idx < 0 {
		return Message{}, false
	}

	if status != StatusIncomplete {
		status = StatusComplete
	}
	text := f.text.String()
	if text == "" {
		if status == StatusComplete {
			c.messages = append(c.messages[:idx], c.messages[idx+1:]...)
			return Message{}, false
		}
		text = NoResponseText
	}

	m := &c.messages[idx]
	m.Parts = []Part{TextPart(text)}
	m.Status = status
	return m.Clone(), true
}

// materialize copies m, filling in the partial text of the in-flight message.
// The caller must hold c.mu.
func (c *Conversation) materialize(m Message) Message {
	out := m.Clone()
	if c.inflight != nil && m.ID == c.inflight.id {
		if t := c.inflight.text.String(); t != "" {
			out.Parts = []Part{TextPart(t)}
		}
	}
	return out
}

func (c *Conversation) indexOf(id string) int {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// normalize deep-copies msgs and freezes any message still marked streaming.
func normalize(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		m = m.Clone()
		if m.Status == "" {
			m.Status = StatusComplete
		}
		if m.Status == StatusStreaming {
			m.Status = StatusIncomplete
		}
		if m.ID == "" {
			m.ID = generateID()
		}
		out = append(out, m)
	}
	return out
}
