// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package internal provides end-to-end tests for the complete chatrelay
// pipeline: a fake completion provider, the relay, the relay client and the
// application state, wired the way the serve and chat commands wire them.
package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatrelay/internal/api"
	"github.com/jeranaias/chatrelay/internal/app"
	"github.com/jeranaias/chatrelay/internal/cloud"
	apperrors "github.com/jeranaias/chatrelay/internal/errors"
	"github.com/jeranaias/chatrelay/internal/model"
	"github.com/jeranaias/chatrelay/internal/server"
	"github.com/jeranaias/chatrelay/internal/storage"
	"github.com/jeranaias/chatrelay/internal/stream"
)

// =============================================================================
// FAKE PROVIDER
// =============================================================================

// provider is an OpenAI-compatible endpoint that streams fragments as SSE.
type provider struct {
	fragments []string
	// hold, when set, keeps the stream open after the fragments until the
	// request is cancelled.
	hold bool
	// cut, when set, drops the connection after the fragments.
	cut bool

	mu       sync.Mutex
	requests []map[string]any
}

func (p *provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)
	p.mu.Lock()
	p.requests = append(p.requests, body)
	p.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer test-key" {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad key","code":"invalid_api_key"}}`)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher := w.(http.Flusher)
	for _, f := range p.fragments {
		chunk, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"delta": map[string]any{"content": f}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		flusher.Flush()
	}
	switch {
	case p.cut:
		panic(http.ErrAbortHandler)
	case p.hold:
		<-r.Context().Done()
		return
	}
	io.WriteString(w, "data: [DONE]\n\n")
}

func (p *provider) lastRequest() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[len(p.requests)-1]
}

// =============================================================================
// HARNESS
// =============================================================================

type pipeline struct {
	provider *provider
	relay    *httptest.Server
	state    *app.State
	archive  *storage.Archive
}

func newPipeline(t *testing.T, p *provider, apiKey string) *pipeline {
	t.Helper()
	upstream := httptest.NewServer(p)
	t.Cleanup(upstream.Close)

	completer := cloud.NewClient(cloud.Options{
		Provider: "openai",
		BaseURL:  upstream.URL,
		APIKey:   apiKey,
	})
	relaySrv := server.New(server.Config{MaxStreamDuration: 10 * time.Second}, completer)
	relay := httptest.NewServer(relaySrv.Handler())
	t.Cleanup(relay.Close)

	kv, err := storage.NewFileKV(t.TempDir())
	require.NoError(t, err)
	archive, err := storage.Open(kv)
	require.NoError(t, err)

	state, err := app.New(app.Deps{
		Archive: archive,
		Prefs:   kv,
		Relay:   api.NewClient(relay.URL),
		Stream:  stream.Options{MaxDuration: 10 * time.Second},
		Clipboard: func(string) error {
			return nil
		},
	})
	require.NoError(t, err)
	return &pipeline{provider: p, relay: relay, state: state, archive: archive}
}

// =============================================================================
// TESTS
// =============================================================================

func TestPipeline_CompleteReply(t *testing.T) {
	p := newPipeline(t, &provider{fragments: []string{"Hel", "lo ", "wörld", "!"}}, "test-key")

	var fragments []string
	err := p.state.Send(context.Background(), "Say hello", func(ev app.Event) {
		if ev.Kind == stream.EventFragment {
			fragments = append(fragments, ev.Text)
		}
	})
	require.NoError(t, err)

	msgs := p.state.Conversation().Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, model.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "Say hello", msgs[1].Text())
	assert.Equal(t, "Hello wörld!", msgs[2].Text())
	assert.Equal(t, model.StatusComplete, msgs[2].Status)
	assert.Equal(t, "Hello wörld!", strings.Join(fragments, ""))

	// The greeting is local only.
	req := p.provider.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, true, req["stream"])
	assert.Len(t, req["messages"], 1)
}

func TestPipeline_SaveAndReload(t *testing.T) {
	p := newPipeline(t, &provider{fragments: []string{"Sure."}}, "test-key")
	require.NoError(t, p.state.Send(context.Background(), "Plan a picnic", nil))

	idx, err := p.state.SaveCurrent()
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	p.state.NewConversation()
	assert.Equal(t, 1, p.state.Conversation().Len())

	require.NoError(t, p.state.LoadSession(0))
	msgs := p.state.Conversation().Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Sure.", msgs[2].Text())

	// Continuing a loaded session sends its history.
	require.NoError(t, p.state.Send(context.Background(), "And drinks?", nil))
	assert.Len(t, p.provider.lastRequest()["messages"], 3)
}

func TestPipeline_UpstreamCutOff(t *testing.T) {
	p := newPipeline(t, &provider{fragments: []string{"Partial"}, cut: true}, "test-key")

	err := p.state.Send(context.Background(), "Tell me a story", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStreamInterrupted)

	msgs := p.state.Conversation().Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Partial", msgs[2].Text())
	assert.Equal(t, model.StatusIncomplete, msgs[2].Status)
	assert.False(t, p.state.InFlight())
}

func TestPipeline_AuthFailure(t *testing.T) {
	p := newPipeline(t, &provider{fragments: []string{"never"}}, "wrong-key")

	err := p.state.Send(context.Background(), "hello", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUpstream)

	// The user message stays; no assistant message was created.
	msgs := p.state.Conversation().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[1].Role)
}

func TestPipeline_NotConfigured(t *testing.T) {
	p := newPipeline(t, &provider{}, "")

	health, err := api.NewClient(p.relay.URL).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "not_configured", health.Upstream)

	err = p.state.Send(context.Background(), "hello", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
}

func TestPipeline_ReplyToQuote(t *testing.T) {
	p := newPipeline(t, &provider{fragments: []string{"ok"}}, "test-key")

	_, err := p.state.SetReplyTo(0)
	require.NoError(t, err)
	require.NoError(t, p.state.Send(context.Background(), "What did you mean?", nil))

	msgs := p.state.Conversation().Messages()
	require.Len(t, msgs, 3)
	assert.True(t, strings.HasPrefix(msgs[1].Text(), "Replying to:\n\""), msgs[1].Text())
	assert.True(t, strings.HasSuffix(msgs[1].Text(), "What did you mean?"))
	assert.Empty(t, p.state.ReplyTo())
}
