// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/atotto/clipboard"

	"github.com/jeranaias/chatrelay/internal/export"
	"github.com/jeranaias/chatrelay/internal/model"
	"github.com/jeranaias/chatrelay/internal/storage"
	"github.com/jeranaias/chatrelay/internal/stream"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultGreeting seeds every new conversation.
	DefaultGreeting = "Hello! I'm your virtual assistant. How can I help you today?"

	// DefaultMaxAttachments bounds the pending attachments of one message.
	DefaultMaxAttachments = 3
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Relay is the part of the relay API the application uses.
// *api.Client implements it.
type Relay interface {
	Chat(ctx context.Context, messages []model.Message) (io.ReadCloser, error)
	DescribeImage(ctx context.Context, name string, data []byte) (string, error)
}

// Deps wires a State.
type Deps struct {
	Archive *storage.Archive
	// Prefs stores the preferences document. Nil keeps them in memory only.
	Prefs storage.KV
	Relay Relay
	// Stream configures the client-side stream guards.
	Stream stream.Options
	// Greeting seeds new conversations. Empty uses DefaultGreeting.
	Greeting string
	// DefaultTheme applies when no theme preference is stored.
	DefaultTheme string
	// MaxAttachments defaults to DefaultMaxAttachments.
	MaxAttachments int
	// Clipboard writes text to the system clipboard.
	// Default: clipboard.WriteAll
	Clipboard func(text string) error
	Logger    *slog.Logger
}

// =============================================================================
// STATE
// =============================================================================

// State is the application core shared by the TUI, the line REPL and the
// one-shot ask command. It owns the live conversation and connects it to
// the relay and the archive.
type State struct {
	conv     *model.Conversation
	archive  *storage.Archive
	relay    Relay
	consumer *stream.Consumer
	kv       storage.KV
	logger   *slog.Logger
	copyFn   func(string) error

	greeting       string
	maxAttachments int

	mu      sync.Mutex
	prefs   Prefs
	pending []*model.Attachment
	replyTo string
	cancel  context.CancelFunc // non-nil while Send runs
	dirty   bool
}

// New creates the application state. It loads stored preferences and seeds
// the conversation with the greeting.
func New(deps Deps) (*State, error) {
	if deps.Archive == nil {
		return nil, errors.New("app: archive is required")
	}
	if deps.Relay == nil {
		return nil, errors.New("app: relay is required")
	}
	s := &State{
		archive:        deps.Archive,
		relay:          deps.Relay,
		consumer:       stream.NewConsumer(deps.Stream),
		kv:             deps.Prefs,
		logger:         deps.Logger,
		copyFn:         deps.Clipboard,
		greeting:       deps.Greeting,
		maxAttachments: deps.MaxAttachments,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.copyFn == nil {
		s.copyFn = clipboard.WriteAll
	}
	if s.greeting == "" {
		s.greeting = DefaultGreeting
	}
	if s.maxAttachments <= 0 {
		s.maxAttachments = DefaultMaxAttachments
	}
	s.prefs = s.loadPrefs(deps.DefaultTheme)
	s.conv = model.NewConversation(model.NewAssistantText(s.greeting))
	return s, nil
}

// Conversation returns the live conversation.
func (s *State) Conversation() *model.Conversation {
	return s.conv
}

// Archive returns the session archive.
func (s *State) Archive() *storage.Archive {
	return s.archive
}

// Greeting returns the greeting that seeds new conversations.
func (s *State) Greeting() string {
	return s.greeting
}

// IsDirty reports whether the conversation changed since it was last saved
// or loaded.
func (s *State) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *State) setDirty(dirty bool) {
	s.mu.Lock()
	s.dirty = dirty
	s.mu.Unlock()
}

// =============================================================================
// SESSIONS
// =============================================================================

// SaveCurrent archives a snapshot of the live conversation and returns its
// 0-based index. An in-flight reply is saved with its partial text.
func (s *State) SaveCurrent() (int, error) {
	idx, err := s.archive.Save(s.conv.Snapshot())
	if err != nil {
		return -1, err
	}
	s.setDirty(false)
	s.logger.Info("SESSION_SAVED", "index", idx)
	return idx, nil
}

// LoadSession replaces the live conversation with archived session i.
// A stream still running for the old conversation is cancelled and its
// remaining fragments are dropped.
func (s *State) LoadSession(i int) error {
	sess, err := s.archive.Session(i)
	if err != nil {
		return err
	}
	s.Cancel()
	s.conv.ReplaceAll(sess.Messages)
	s.setDirty(false)
	s.logger.Info("SESSION_LOADED", "index", i, "messages", len(sess.Messages))
	return nil
}

// NewConversation clears the live conversation and re-seeds the greeting.
func (s *State) NewConversation() {
	s.Cancel()
	s.conv.ReplaceAll([]model.Message{model.NewAssistantText(s.greeting)})
	s.ClearAttachments()
	s.ClearReplyTo()
	s.setDirty(false)
}

// RenameSession sets the title of archived session i.
func (s *State) RenameSession(i int, title string) error {
	return s.archive.Rename(i, title)
}

// DeleteSession removes archived session i.
func (s *State) DeleteSession(i int) error {
	return s.archive.Delete(i)
}

// ExportSession writes archived session i in format (txt, md, json or
// html) into dir and returns the written path.
func (s *State) ExportSession(i int, format, dir string) (string, error) {
	exp, err := export.ForFormat(format, nil)
	if err != nil {
		return "", err
	}
	sess, err := s.archive.Session(i)
	if err != nil {
		return "", err
	}
	path, err := export.ExportToFile(&sess, exp, dir)
	if err != nil {
		return "", err
	}
	s.logger.Info("SESSION_EXPORTED", "index", i, "format", format, "path", path)
	return path, nil
}

// CopySession puts the text transcript of archived session i on the
// clipboard.
func (s *State) CopySession(i int) error {
	_, data, err := s.archive.Export(i, export.NewTextExporter())
	if err != nil {
		return err
	}
	if err := s.copyFn(string(data)); err != nil {
		return fmt.Errorf("clipboard unavailable: %w", err)
	}
	return nil
}

// =============================================================================
// REPLY-TO
// =============================================================================

// SetReplyTo quotes message i of the live conversation in the next Send.
// It returns the quoted text.
func (s *State) SetReplyTo(i int) (string, error) {
	msg, ok := s.conv.Message(i)
	if !ok {
		return "", fmt.Errorf("no message %d", i+1)
	}
	quoted := msg.Text()
	if quoted == "" {
		return "", fmt.Errorf("message %d has no text to quote", i+1)
	}
	s.mu.Lock()
	s.replyTo = quoted
	s.mu.Unlock()
	return quoted, nil
}

// ReplyTo returns the pending quote, if any.
func (s *State) ReplyTo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replyTo
}

// ClearReplyTo drops the pending quote.
func (s *State) ClearReplyTo() {
	s.mu.Lock()
	s.replyTo = ""
	s.mu.Unlock()
}
