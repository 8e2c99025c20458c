// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	apperrors "github.com/jeranaias/chatrelay/internal/errors"
	"github.com/jeranaias/chatrelay/internal/model"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newArchive(t *testing.T) (*Archive, *FileKV) {
	t.Helper()
	kv, err := NewFileKV(t.TempDir())
	require.NoError(t, err)
	a, err := Open(kv, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return a, kv
}

func conversation(userText string) []model.Message {
	return []model.Message{
		model.NewAssistantText("Hello! How can I help?"),
		model.NewUserMessage(userText),
		model.NewAssistantText("Sure."),
	}
}

// countingKV counts writes and can be made to fail.
type countingKV struct {
	KV
	puts atomic.Int32
	fail atomic.Bool
}

func (c *countingKV) Put(key string, value []byte) error {
	c.puts.Add(1)
	if c.fail.Load() {
		return errors.New("disk full")
	}
	return c.KV.Put(key, value)
}

// =============================================================================
// KV TESTS
// =============================================================================

func testKV(t *testing.T, kv KV) {
	t.Helper()

	_, err := kv.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Put("k", []byte("one")))
	got, err := kv.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	require.NoError(t, kv.Put("k", []byte("two")))
	got, err = kv.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	require.NoError(t, kv.Close())
}

func TestFileKV(t *testing.T) {
	kv, err := NewFileKV(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	testKV(t, kv)

	assert.Error(t, kv.Put("../escape", []byte("x")))
}

func TestSQLiteKV(t *testing.T) {
	kv, err := NewSQLiteKV(filepath.Join(t.TempDir(), "chatrelay.db"))
	require.NoError(t, err)
	testKV(t, kv)
}

func TestSQLiteKV_ArchiveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatrelay.db")
	kv, err := NewSQLiteKV(path)
	require.NoError(t, err)

	a, err := Open(kv)
	require.NoError(t, err)
	_, err = a.Save(conversation("from sqlite"))
	require.NoError(t, err)
	require.NoError(t, kv.Close())

	kv2, err := NewSQLiteKV(path)
	require.NoError(t, err)
	defer kv2.Close()
	b, err := Open(kv2)
	require.NoError(t, err)
	require.Equal(t, 1, b.Len())
	assert.Equal(t, "from sqlite", b.List()[0].Title)
}

// =============================================================================
// ARCHIVE TESTS
// =============================================================================

func TestArchive_SaveAndReopen(t *testing.T) {
	a, kv := newArchive(t)

	idx, err := a.Save(conversation("What is the capital city of France?"))
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	reopened, err := Open(kv)
	require.NoError(t, err)
	list := reopened.List()
	require.Len(t, list, 1)
	assert.Equal(t, "What is the capital city of...", list[0].Title)
	assert.Equal(t, 3, list[0].Messages)

	s, err := reopened.Session(0)
	require.NoError(t, err)
	assert.Equal(t, "Sure.", s.Messages[2].Text())
	assert.True(t, s.CreatedAt.Equal(fixedNow))
}

func TestArchive_PersistedSchema(t *testing.T) {
	a, kv := newArchive(t)
	msgs := []model.Message{model.NewUserMessage("look", model.NewAttachment("a.png", "image/png", []byte{1}))}
	_, err := a.Save(msgs)
	require.NoError(t, err)

	raw, err := kv.Get(SessionsKey)
	require.NoError(t, err)
	assert.Equal(t, int64(SchemaVersion), gjson.GetBytes(raw, "version").Int())
	assert.Equal(t, "look", gjson.GetBytes(raw, "sessions.0.messages.0.parts.0.text").String())
	assert.Equal(t, "image/png", gjson.GetBytes(raw, "sessions.0.messages.0.parts.1.attachment.mime_type").String())
	assert.Equal(t, "complete", gjson.GetBytes(raw, "sessions.0.messages.0.status").String())
}

func TestArchive_RoundTripIsLossless(t *testing.T) {
	a, kv := newArchive(t)
	_, err := a.Save(conversation("first"))
	require.NoError(t, err)
	_, err = a.Save(conversation("second"))
	require.NoError(t, err)

	before, err := kv.Get(SessionsKey)
	require.NoError(t, err)

	b, err := Open(kv)
	require.NoError(t, err)
	require.NoError(t, b.Rename(0, "renamed"))
	require.NoError(t, b.Rename(0, "first"))

	after, err := kv.Get(SessionsKey)
	require.NoError(t, err)

	// UpdatedAt moves on rename; everything else must survive unchanged.
	s0, _ := a.Session(0)
	r0, _ := b.Session(0)
	require.Len(t, r0.Messages, len(s0.Messages))
	for i := range s0.Messages {
		assert.Equal(t, s0.Messages[i].ID, r0.Messages[i].ID)
		assert.Equal(t, s0.Messages[i].Role, r0.Messages[i].Role)
		assert.Equal(t, s0.Messages[i].Parts, r0.Messages[i].Parts)
		assert.True(t, s0.Messages[i].Timestamp.Equal(r0.Messages[i].Timestamp))
	}
	assert.Equal(t, gjson.GetBytes(before, "sessions.1").Raw, gjson.GetBytes(after, "sessions.1").Raw)
}

func TestArchive_SessionIsDeepCopy(t *testing.T) {
	a, _ := newArchive(t)
	live := conversation("original")
	_, err := a.Save(live)
	require.NoError(t, err)

	live[1].Parts[0].Text = "mutated"
	s, _ := a.Session(0)
	assert.Equal(t, "original", s.Messages[1].Text())

	s.Messages[1].Parts[0].Text = "mutated again"
	again, _ := a.Session(0)
	assert.Equal(t, "original", again.Messages[1].Text())
}

func TestArchive_DeriveTitle(t *testing.T) {
	tests := []struct {
		name string
		msgs []model.Message
		want string
	}{
		{"short", conversation("Hi"), "Hi"},
		{"whitespace collapsed", conversation("  line one\n\n line   two "), "line one line two"},
		{"truncated", conversation(strings.Repeat("a", 40)), strings.Repeat("a", 27) + "..."},
		{"nfc", conversation("café"), "café"},
		{"no user message", []model.Message{model.NewAssistantText("Hello!")}, DefaultTitle},
		{"empty", nil, DefaultTitle},
		{"attachment only", []model.Message{model.NewUserMessage("", &model.Attachment{Name: "a.png"})}, DefaultTitle},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := deriveTitle(tc.msgs); got != tc.want {
				t.Errorf("deriveTitle() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestArchive_Rename(t *testing.T) {
	counting := &countingKV{}
	var err error
	counting.KV, err = NewFileKV(t.TempDir())
	require.NoError(t, err)
	a, err := Open(counting)
	require.NoError(t, err)

	_, err = a.Save(conversation("hello"))
	require.NoError(t, err)
	_, err = a.Save(conversation("other"))
	require.NoError(t, err)
	writes := counting.puts.Load()

	require.NoError(t, a.Rename(0, "hello"))
	assert.Equal(t, writes, counting.puts.Load(), "renaming to the same title must not write")

	assert.ErrorIs(t, a.Rename(0, "   "), ErrInvalidTitle)
	assert.ErrorIs(t, a.Rename(5, "x"), ErrSessionNotFound)

	require.NoError(t, a.Rename(0, "Trip  planning"))
	list := a.List()
	assert.Equal(t, "Trip planning", list[0].Title)
	assert.Equal(t, "other", list[1].Title, "rename must not touch other sessions")
}

func TestArchive_RenameUnnormalizedStoredTitle(t *testing.T) {
	counting := &countingKV{}
	var err error
	counting.KV, err = NewFileKV(t.TempDir())
	require.NoError(t, err)

	// Written by an older build or by hand.
	raw, err := encodeDocument([]Session{{
		Title:     "My  trip",
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
		Messages:  conversation("hello"),
	}})
	require.NoError(t, err)
	require.NoError(t, counting.KV.Put(SessionsKey, raw))

	a, err := Open(counting)
	require.NoError(t, err)
	writes := counting.puts.Load()

	for _, title := range []string{"My trip", "My  trip", " My trip "} {
		require.NoError(t, a.Rename(0, title))
	}
	assert.Equal(t, writes, counting.puts.Load(), "renaming to an equivalent title must not write")

	s, err := a.Session(0)
	require.NoError(t, err)
	assert.Equal(t, "My  trip", s.Title)
	stored, err := counting.KV.Get(SessionsKey)
	require.NoError(t, err)
	assert.Equal(t, raw, stored)
}

func TestArchive_Delete(t *testing.T) {
	a, kv := newArchive(t)
	for _, text := range []string{"one", "two", "three"} {
		_, err := a.Save(conversation(text))
		require.NoError(t, err)
	}

	require.NoError(t, a.Delete(1))
	assert.ErrorIs(t, a.Delete(7), ErrSessionNotFound)
	assert.ErrorIs(t, a.Delete(-1), ErrSessionNotFound)

	reopened, err := Open(kv)
	require.NoError(t, err)
	list := reopened.List()
	require.Len(t, list, 2)
	assert.Equal(t, "one", list[0].Title)
	assert.Equal(t, "three", list[1].Title)
	assert.Equal(t, 1, list[1].Index)
}

func TestArchive_PersistFailure(t *testing.T) {
	counting := &countingKV{}
	var err error
	counting.KV, err = NewFileKV(t.TempDir())
	require.NoError(t, err)
	a, err := Open(counting)
	require.NoError(t, err)

	counting.fail.Store(true)
	_, err = a.Save(conversation("kept in memory"))

	var storageErr *apperrors.StorageError
	require.True(t, errors.As(err, &storageErr), "Save() error = %v", err)
	assert.ErrorIs(t, err, apperrors.ErrStorage)
	assert.Equal(t, 1, a.Len(), "in-memory state stays authoritative")
}

func TestArchive_ConcurrentSaves(t *testing.T) {
	a, kv := newArchive(t)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Save(conversation("concurrent"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	reopened, err := Open(kv)
	require.NoError(t, err)
	assert.Equal(t, 10, reopened.Len())
}

type textEncoder struct{}

func (textEncoder) Export(s *Session) ([]byte, error) { return []byte(s.Title), nil }
func (textEncoder) FileExtension() string            { return ".txt" }

func TestArchive_Export(t *testing.T) {
	a, _ := newArchive(t)
	_, err := a.Save(conversation("What: is/this?"))
	require.NoError(t, err)

	name, data, err := a.Export(0, textEncoder{})
	require.NoError(t, err)
	assert.Equal(t, "What-_is-this-.txt", name)
	assert.Equal(t, "What: is/this?", string(data))

	_, _, err = a.Export(3, textEncoder{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "conversation.md", Filename("", "md"))
	assert.Equal(t, "Hello_world.json", Filename("Hello world", ".json"))
}

// =============================================================================
// MIGRATION TESTS
// =============================================================================

const legacyV1 = `[
  {"title": "Cats", "messages": [
    {"id": "m1", "role": "user", "content": "What is this? ![cat.png](data:image/png;base64,AAAA)"},
    {"id": "m2", "role": "assistant", "content": "A cat."}
  ]},
  {"title": "", "messages": [
    {"id": "m3", "role": "user", "content": "Untitled legacy session"}
  ]}
]`

func TestArchive_MigratesV1(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, kv.Put(SessionsKey, []byte(legacyV1)))

	a, err := Open(kv, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	require.Equal(t, 2, a.Len())

	s, err := a.Session(0)
	require.NoError(t, err)
	assert.Equal(t, "Cats", s.Title)
	require.Len(t, s.Messages, 2)

	user := s.Messages[0]
	assert.Equal(t, "m1", user.ID)
	assert.Equal(t, "What is this?", user.Text())
	atts := user.Attachments()
	require.Len(t, atts, 1)
	assert.Equal(t, "cat.png", atts[0].Name)
	assert.Equal(t, "image/png", atts[0].MIMEType)
	assert.Equal(t, "data:image/png;base64,AAAA", atts[0].DataURI)
	assert.Equal(t, model.StatusComplete, user.Status)

	second, _ := a.Session(1)
	assert.Equal(t, "Untitled legacy session", second.Title)

	// No write-back until the next mutation.
	raw, _ := kv.Get(SessionsKey)
	assert.Equal(t, legacyV1, string(raw))

	require.NoError(t, a.Rename(1, "Renamed"))
	raw, _ = kv.Get(SessionsKey)
	assert.Equal(t, int64(2), gjson.GetBytes(raw, "version").Int())
}

func TestArchive_FutureVersionRejected(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	require.NoError(t, err)
	future := `{"version": 99, "sessions": []}`
	require.NoError(t, kv.Put(SessionsKey, []byte(future)))

	_, err = Open(kv)
	assert.ErrorIs(t, err, apperrors.ErrStorage)

	raw, _ := kv.Get(SessionsKey)
	assert.Equal(t, future, string(raw), "unknown versions must be left untouched")
}

func TestArchive_CorruptDocument(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, kv.Put(SessionsKey, []byte(`{"sessions": [`)))

	_, err = Open(kv)
	assert.ErrorIs(t, err, apperrors.ErrStorage)
}

func TestSplitLegacyContent(t *testing.T) {
	parts := splitLegacyContent("![a](http://x/a.png) ![b](data:image/jpeg;base64,BB)")
	require.Len(t, parts, 2)
	assert.Equal(t, "a", parts[0].Attachment.Name)
	assert.Equal(t, "", parts[0].Attachment.MIMEType)
	assert.Equal(t, "image/jpeg", parts[1].Attachment.MIMEType)

	assert.Nil(t, splitLegacyContent(""))
}

// =============================================================================
// WATCH TESTS
// =============================================================================

func TestArchive_WatchReloadsExternalWrites(t *testing.T) {
	a, kv := newArchive(t)
	_, err := a.Save(conversation("mine"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 4)
	require.NoError(t, a.Watch(ctx, func() { changed <- struct{}{} }))

	// Our own write is ignored.
	_, err = a.Save(conversation("mine too"))
	require.NoError(t, err)
	select {
	case <-changed:
		t.Fatal("own write triggered onChange")
	case <-time.After(3 * DefaultWatchDebounce):
	}

	// Another process appends a session.
	other, err := Open(kv)
	require.NoError(t, err)
	_, err = other.Save(conversation("theirs"))
	require.NoError(t, err)

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("external write did not trigger onChange")
	}
	assert.Equal(t, 3, a.Len())
}

func TestArchive_WatchUnsupported(t *testing.T) {
	kv, err := NewSQLiteKV(filepath.Join(t.TempDir(), "db.sqlite"))
	require.NoError(t, err)
	defer kv.Close()
	a, err := Open(kv)
	require.NoError(t, err)
	assert.ErrorIs(t, a.Watch(context.Background(), func() {}), ErrWatchUnsupported)
}

func TestFileKV_AtomicWriteLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewFileKV(dir)
	require.NoError(t, err)
	require.NoError(t, kv.Put(SessionsKey, []byte("{}")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, SessionsKey+".json", entries[0].Name())
}
