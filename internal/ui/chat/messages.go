// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatrelay/internal/app"
	"github.com/jeranaias/chatrelay/internal/commands"
)

// =============================================================================
// STREAMING MESSAGES
// =============================================================================

// StreamEventMsg carries one applied stream event (start or fragment) from
// the sending goroutine into the update loop.
type StreamEventMsg struct {
	Event app.Event
}

// StreamDoneMsg is posted when a send finishes. Err is nil for a complete
// reply, context.Canceled when the user stopped it, or the send error.
type StreamDoneMsg struct {
	Err error
}

// =============================================================================
// ARCHIVE AND COMMAND MESSAGES
// =============================================================================

// ArchiveChangedMsg is posted when another process rewrote the archive.
type ArchiveChangedMsg struct{}

// CommandDoneMsg carries the outcome of a slash command.
type CommandDoneMsg struct {
	Input  string
	Result commands.Result
	Err    error
}

// =============================================================================
// SENDER
// =============================================================================

// Sender posts messages into a running program. *tea.Program satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// senderRef is shared by every copy of the Model so the program can be
// attached after the model is built.
type senderRef struct {
	mu sync.RWMutex
	s  Sender
}

func (r *senderRef) set(s Sender) {
	r.mu.Lock()
	r.s = s
	r.mu.Unlock()
}

func (r *senderRef) send(msg tea.Msg) {
	r.mu.RLock()
	s := r.s
	r.mu.RUnlock()
	if s != nil {
		s.Send(msg)
	}
}
