// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	apperrors "github.com/jeranaias/chatrelay/internal/errors"
	"github.com/jeranaias/chatrelay/internal/model"
	"github.com/jeranaias/chatrelay/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// SessionsKey is the fixed key of the archive document.
	SessionsKey = "chatrelay.sessions"

	// DefaultTitle labels a session without user text.
	DefaultTitle = "Untitled conversation"

	// TitleMaxRunes bounds a derived title, including the "..." suffix.
	TitleMaxRunes = 30

	// FilenameMaxRunes bounds the title part of an export file name.
	FilenameMaxRunes = 50

	// FilenameFallback is used when the title sanitizes to nothing.
	FilenameFallback = "conversation"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSessionNotFound is returned for an index outside the archive.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidTitle is returned when renaming to an empty title.
	ErrInvalidTitle = errors.New("title must not be empty")
)

// =============================================================================
// TYPES
// =============================================================================

// Session is a saved conversation. It never shares memory with the live
// conversation it was taken from.
type Session struct {
	Title     string          `json:"title"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Messages  []model.Message `json:"messages"`
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	out.Messages = model.CloneMessages(s.Messages)
	return out
}

// Summary describes one archive entry for listings.
type Summary struct {
	Index     int // 0-based
	Title     string
	Messages  int
	UpdatedAt time.Time
}

// Encoder renders a session for export. The export package's exporters
// implement it.
type Encoder interface {
	Export(s *Session) ([]byte, error)
	FileExtension() string
}

// =============================================================================
// ARCHIVE
// =============================================================================

// Archive is the ordered list of saved sessions.
// It is safe for concurrent use.
type Archive struct {
	mu       sync.Mutex
	kv       KV
	key      string
	sessions []Session
	lastData []byte // bytes last read or written, to recognize our own writes
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the archive logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) { a.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Archive) { a.now = now }
}

// Open loads the archive from kv, migrating older schemas in memory.
// A document with an unknown schema version fails with a StorageError and
// is left untouched.
func Open(kv KV, opts ...Option) (*Archive, error) {
	a := &Archive{
		kv:     kv,
		key:    SessionsKey,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.Reload(); err != nil {
		return nil, err
	}
	return a, nil
}

// Reload re-reads the archive from the backend, discarding memory state.
func (a *Archive) Reload() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastData = nil
	_, err := a.loadLocked()
	return err
}

// loadLocked reads the document. It reports whether the content differed
// from what this process last saw.
func (a *Archive) loadLocked() (bool, error) {
	raw, err := a.kv.Get(a.key)
	if errors.Is(err, ErrNotFound) {
		changed := a.lastData != nil
		a.sessions = nil
		a.lastData = nil
		return changed, nil
	}
	if err != nil {
		return false, apperrors.NewStorageError("load", a.key, err)
	}
	if a.lastData != nil && bytes.Equal(raw, a.lastData) {
		return false, nil
	}

	doc, migrated, err := decodeDocument(raw, a.now())
	if err != nil {
		return false, apperrors.NewStorageError("load", a.key, err)
	}
	if migrated {
		a.logger.Info("ARCHIVE_MIGRATED", "key", a.key, "version", SchemaVersion, "sessions", len(doc.Sessions))
	}
	a.sessions = doc.Sessions
	a.lastData = raw
	return true, nil
}

// persistLocked writes the whole archive in one Put.
func (a *Archive) persistLocked() error {
	data, err := encodeDocument(a.sessions)
	if err != nil {
		return apperrors.NewStorageError("encode", a.key, err)
	}
	if err := a.kv.Put(a.key, data); err != nil {
		a.logger.Error("ARCHIVE_PERSIST_FAILED", "key", a.key, "error", err)
		return apperrors.NewStorageError("persist", a.key, err)
	}
	a.lastData = data
	return nil
}

// Save appends a session built from snapshot and returns its 0-based index.
// The title is derived from the first user message.
func (a *Archive) Save(snapshot []model.Message) (int, error) {
	now := a.now()
	s := Session{
		Title:     deriveTitle(snapshot),
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  freeze(model.CloneMessages(snapshot)),
	}
	if s.Messages == nil {
		s.Messages = []model.Message{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.sessions = append(a.sessions, s)
	idx := len(a.sessions) - 1
	return idx, a.persistLocked()
}

// Rename sets the title of session i. Renaming to the current title does
// not write, also when the stored title predates normalization.
func (a *Archive) Rename(i int, title string) error {
	title = normalizeTitle(title)
	if title == "" {
		return ErrInvalidTitle
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if i < 0 || i >= len(a.sessions) {
		return ErrSessionNotFound
	}
	if normalizeTitle(a.sessions[i].Title) == title {
		return nil
	}
	a.sessions[i].Title = title
	a.sessions[i].UpdatedAt = a.now()
	return a.persistLocked()
}

// Delete removes session i. Later sessions shift down by one.
func (a *Archive) Delete(i int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i < 0 || i >= len(a.sessions) {
		return ErrSessionNotFound
	}
	a.sessions = append(a.sessions[:i:i], a.sessions[i+1:]...)
	return a.persistLocked()
}

// Session returns a copy of session i.
func (a *Archive) Session(i int) (Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i < 0 || i >= len(a.sessions) {
		return Session{}, ErrSessionNotFound
	}
	return a.sessions[i].Clone(), nil
}

// Len returns the number of sessions.
func (a *Archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// List returns a summary of every session in order.
func (a *Archive) List() []Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Summary, len(a.sessions))
	for i, s := range a.sessions {
		out[i] = Summary{
			Index:     i,
			Title:     s.Title,
			Messages:  len(s.Messages),
			UpdatedAt: s.UpdatedAt,
		}
	}
	return out
}

// Export renders session i with enc and returns a file name derived from the
// title along with the rendered bytes.
func (a *Archive) Export(i int, enc Encoder) (string, []byte, error) {
	s, err := a.Session(i)
	if err != nil {
		return "", nil, err
	}
	data, err := enc.Export(&s)
	if err != nil {
		return "", nil, fmt.Errorf("export failed: %w", err)
	}
	return Filename(s.Title, enc.FileExtension()), data, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// Filename builds an export file name from a session title.
func Filename(title, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return util.SanitizeFilename(title, FilenameMaxRunes, FilenameFallback) + ext
}

func deriveTitle(msgs []model.Message) string {
	title := util.TruncateRunes(normalizeTitle(model.FirstUserText(msgs)), TitleMaxRunes)
	if title == "" {
		return DefaultTitle
	}
	return title
}

// normalizeTitle collapses whitespace and applies Unicode NFC so that
// visually equal titles compare equal.
func normalizeTitle(s string) string {
	return norm.NFC.String(util.CollapseWhitespace(s))
}
