// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jeranaias/chatrelay/internal/errors"
	"github.com/jeranaias/chatrelay/internal/model"
)

func TestChat_ReturnsBodyUnread(t *testing.T) {
	var got chatRequest
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "Hello!")
	}))
	defer relay.Close()

	msgs := []model.Message{
		model.NewUserMessage("look", model.NewAttachment("a.png", "image/png", []byte{1})),
		model.NewAssistantText("nice"),
	}
	body, err := NewClient(relay.URL).Chat(context.Background(), msgs)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "Hello!", string(data))

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "look", got.Messages[0].Content)
	require.Len(t, got.Messages[0].Attachments, 1)
	assert.Equal(t, "data:image/png;base64,AQ==", got.Messages[0].Attachments[0].DataURI)
	assert.Equal(t, "assistant", got.Messages[1].Role)
}

func TestChat_ErrorStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantMsg  string
		sentinel error
	}{
		{"json error", http.StatusBadGateway, `{"error":"failed to connect to upstream: boom"}`, "failed to connect to upstream: boom", apperrors.ErrUpstream},
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow"}`, "slow", apperrors.ErrRateLimited},
		{"plain text", http.StatusServiceUnavailable, "down", "down", apperrors.ErrUpstream},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			defer relay.Close()

			_, err := NewClient(relay.URL).Chat(context.Background(), []model.Message{model.NewUserMessage("hi")})
			var upErr *apperrors.UpstreamError
			require.True(t, errors.As(err, &upErr), "error = %v", err)
			assert.Equal(t, tc.status, upErr.Status)
			assert.Equal(t, tc.wantMsg, upErr.Message)
			assert.ErrorIs(t, err, tc.sentinel)
		})
	}
}

func TestChat_Unreachable(t *testing.T) {
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := relay.URL
	relay.Close()

	_, err := NewClient(url).Chat(context.Background(), []model.Message{model.NewUserMessage("hi")})
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
}

func TestChat_CancelledContext(t *testing.T) {
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer relay.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(relay.URL).Chat(ctx, []model.Message{model.NewUserMessage("hi")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDescribeImage(t *testing.T) {
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("image")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"No file"}`)
			return
		}
		defer file.Close()
		assert.Equal(t, "dot.png", header.Filename)
		io.WriteString(w, `{"result":"A dot"}`)
	}))
	defer relay.Close()

	got, err := NewClient(relay.URL).DescribeImage(context.Background(), "/tmp/dot.png", []byte("\x89PNG\r\n\x1a\n"))
	require.NoError(t, err)
	assert.Equal(t, "A dot", got)
}

func TestHealth(t *testing.T) {
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"ok","version":"1.0.0","upstream":"configured","provider":"openai","model":"gpt-4o-mini"}`)
	}))
	defer relay.Close()

	h, err := NewClient(relay.URL).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "configured", h.Upstream)
	assert.Equal(t, "gpt-4o-mini", h.Model)
}

func TestNewClient_Defaults(t *testing.T) {
	if got := NewClient("").BaseURL(); got != DefaultRelayURL {
		t.Errorf("BaseURL() = %q, want %q", got, DefaultRelayURL)
	}
	if got := NewClient("http://x:1/").BaseURL(); got != "http://x:1" {
		t.Errorf("BaseURL() = %q, want trailing slash trimmed", got)
	}
}
