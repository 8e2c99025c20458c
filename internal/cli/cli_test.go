// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatrelay/internal/commands"
	"github.com/jeranaias/chatrelay/internal/config"
	apperrors "github.com/jeranaias/chatrelay/internal/errors"
	"github.com/jeranaias/chatrelay/internal/model"
	"github.com/jeranaias/chatrelay/internal/storage"
)

// =============================================================================
// HARNESS
// =============================================================================

// setupEnv points HOME and the data directory at temp dirs and clears the
// overrides a developer shell may carry. It returns the data directory.
func setupEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	data := filepath.Join(home, "data")
	t.Setenv("HOME", home)
	t.Setenv("CHATRELAY_DATA_DIR", data)
	for _, key := range []string{
		"CHATRELAY_PROVIDER", "CHATRELAY_MODEL", "CHATRELAY_RELAY_URL", "CHATRELAY_PORT",
		"OPENAI_API_KEY", "OPENROUTER_API_KEY",
	} {
		t.Setenv(key, "")
	}
	return data
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCmd(strings.NewReader(""), &stdout, &stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// seedSessions saves one session per title into the archive in dir.
func seedSessions(t *testing.T, dir string, titles ...string) {
	t.Helper()
	kv, err := storage.NewFileKV(dir)
	require.NoError(t, err)
	archive, err := storage.Open(kv)
	require.NoError(t, err)
	for _, title := range titles {
		_, err := archive.Save([]model.Message{
			model.NewUserMessage(title),
			model.NewAssistantText("Sounds good."),
		})
		require.NoError(t, err)
	}
}

// relayStub answers /chat with reply. When abort is set the stream is cut
// off after the reply.
func relayStub(t *testing.T, reply string, abort bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, reply)
		w.(http.Flusher).Flush()
		if abort {
			panic(http.ErrAbortHandler)
		}
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status":"ok","version":"1.0.0","upstream":"configured","provider":"openai","model":"gpt-4o-mini"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// =============================================================================
// EXIT CODES
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"interrupted", fmt.Errorf("response interrupted: %w", apperrors.ErrStreamInterrupted), ExitInterrupted},
		{"cancelled", context.Canceled, ExitInterrupted},
		{"usage", &UsageError{Field: "--port", Value: "0", Reason: "bad"}, ExitUsageError},
		{"config", fmt.Errorf("invalid config: %w", config.ValidateErrors{{Field: "server.port", Message: "bad"}}), ExitConfigError},
		{"not configured", apperrors.ErrNotConfigured, ExitAuthError},
		{"session", NewCommandError("sessions", "show", storage.ErrSessionNotFound), ExitNotFoundError},
		{"other", errors.New("boom"), ExitGeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetExitCode(tt.err); got != tt.want {
				t.Errorf("GetExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUsageError_Error(t *testing.T) {
	tests := []struct {
		err  *UsageError
		want string
	}{
		{&UsageError{Field: "prompt", Reason: "required"}, "prompt: required"},
		{&UsageError{Field: "--port", Value: "0", Reason: "out of range"}, `--port "0": out of range`},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

// =============================================================================
// CONFIG COMMANDS
// =============================================================================

func TestConfigCommands(t *testing.T) {
	setupEnv(t)
	home := os.Getenv("HOME")
	wantPath := filepath.Join(home, ".chatrelay", "config.toml")

	out, _, err := runCLI(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, wantPath+"\n", out)

	out, _, err = runCLI(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, wantPath)
	assert.FileExists(t, wantPath)

	_, _, err = runCLI(t, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = runCLI(t, "config", "init", "--force")
	require.NoError(t, err)

	_, _, err = runCLI(t, "config", "set", "client.idle_timeout", "90s")
	require.NoError(t, err)
	out, _, err = runCLI(t, "config", "get", "client.idle_timeout")
	require.NoError(t, err)
	assert.Equal(t, "1m30s\n", out)

	_, _, err = runCLI(t, "config", "set", "server.cors_origins", "http://a.test, http://b.test")
	require.NoError(t, err)
	out, _, err = runCLI(t, "config", "get", "server.cors_origins")
	require.NoError(t, err)
	assert.Equal(t, "http://a.test,http://b.test\n", out)
}

func TestConfigSet_Invalid(t *testing.T) {
	setupEnv(t)

	_, _, err := runCLI(t, "config", "set", "server.port", "0")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, GetExitCode(err))

	_, _, err = runCLI(t, "config", "set", "no.such", "1")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestConfigShow_RedactsKey(t *testing.T) {
	setupEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-secret-value")

	out, _, err := runCLI(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "sk-secret-value")

	out, _, err = runCLI(t, "config", "get", "upstream.api_key")
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]\n", out)
}

func TestConfigKeys(t *testing.T) {
	out, _, err := runCLI(t, "config", "keys")
	require.NoError(t, err)
	assert.Contains(t, out, "server.port\n")
	assert.Contains(t, out, "archive.backend\n")
}

// =============================================================================
// SESSIONS COMMANDS
// =============================================================================

func TestSessionsLifecycle(t *testing.T) {
	data := setupEnv(t)

	out, _, err := runCLI(t, "sessions", "list")
	require.NoError(t, err)
	assert.Equal(t, "No saved sessions.\n", out)

	seedSessions(t, data, "Plan a picnic", "Fix the bike")

	out, _, err = runCLI(t, "sessions", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "Plan a picnic")
	assert.Contains(t, out, "Fix the bike")

	out, _, err = runCLI(t, "sessions", "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Plan a picnic")
	assert.Contains(t, out, "Sounds good.")

	out, _, err = runCLI(t, "sessions", "rename", "2", "Bike", "repair")
	require.NoError(t, err)
	assert.Equal(t, "Session 2 renamed to \"Bike repair\".\n", out)

	exportDir := t.TempDir()
	out, _, err = runCLI(t, "sessions", "export", "2", "--format", "json", "--dir", exportDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported session 2")
	assert.FileExists(t, filepath.Join(exportDir, "Bike_repair.json"))

	out, _, err = runCLI(t, "sessions", "delete", "1")
	require.NoError(t, err)
	assert.Equal(t, "Deleted session 1: Plan a picnic\n", out)

	out, _, err = runCLI(t, "sessions", "list", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"title": "Bike repair"`)
	assert.NotContains(t, out, "Plan a picnic")
}

func TestSessionsErrors(t *testing.T) {
	setupEnv(t)

	tests := []struct {
		args []string
		code int
	}{
		{[]string{"sessions", "show", "zero"}, ExitUsageError},
		{[]string{"sessions", "show", "0"}, ExitUsageError},
		{[]string{"sessions", "show", "3"}, ExitNotFoundError},
		{[]string{"sessions", "delete", "1"}, ExitNotFoundError},
		{[]string{"sessions", "export", "1", "--format", "pdf"}, ExitUsageError},
	}
	for _, tt := range tests {
		_, _, err := runCLI(t, tt.args...)
		require.Error(t, err, tt.args)
		if got := GetExitCode(err); got != tt.code {
			t.Errorf("%v: exit code = %d, want %d (%v)", tt.args, got, tt.code, err)
		}
	}
}

func TestFormatSessionList_AlignsWideTitles(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	out := formatSessionList([]storage.Summary{
		{Index: 0, Title: "Plain title", Messages: 3, UpdatedAt: now},
		{Index: 1, Title: "日本語のタイトル", Messages: 12, UpdatedAt: now},
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	want := runewidth.StringWidth(lines[1])
	if got := runewidth.StringWidth(lines[2]); got != want {
		t.Errorf("row width = %d, want %d", got, want)
	}
}

// =============================================================================
// ASK
// =============================================================================

func TestAsk_StreamsReply(t *testing.T) {
	setupEnv(t)
	relay := relayStub(t, "Paris is the capital.", false)

	out, _, err := runCLI(t, "ask", "--relay", relay.URL, "What", "is", "the", "capital?")
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital.\n", out)
}

func TestAsk_InterruptedExitCode(t *testing.T) {
	setupEnv(t)
	relay := relayStub(t, "Partial ans", true)

	out, _, err := runCLI(t, "ask", "--relay", relay.URL, "hello")
	require.Error(t, err)
	assert.Equal(t, ExitInterrupted, GetExitCode(err))
	assert.Contains(t, err.Error(), "response interrupted")
	assert.Contains(t, out, "Partial ans")
}

func TestAsk_RequiresPrompt(t *testing.T) {
	setupEnv(t)
	_, _, err := runCLI(t, "ask")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestAsk_RelayDown(t *testing.T) {
	setupEnv(t)
	relay := relayStub(t, "", false)
	url := relay.URL
	relay.Close()

	_, _, err := runCLI(t, "ask", "--relay", url, "hello")
	require.Error(t, err)
	assert.Equal(t, ExitNetworkError, GetExitCode(err))
}

func TestReadPrompt(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "prompt.md")
	require.NoError(t, os.WriteFile(file, []byte("  from the file \n"), 0600))
	blank := filepath.Join(dir, "blank.md")
	require.NoError(t, os.WriteFile(blank, []byte(" \n\t\n"), 0600))

	tests := []struct {
		name string
		args []string
		file string
		want string
	}{
		{"args only", []string{"hello", "world"}, "", "hello world"},
		{"file only", nil, file, "from the file"},
		{"args then file", []string{"Summarize:"}, file, "Summarize:\n\nfrom the file"},
		{"args padded", []string{"  Summarize: "}, file, "Summarize:\n\nfrom the file"},
		{"blank file", []string{"hello"}, blank, "hello"},
		{"blank args", []string{" "}, file, "from the file"},
		{"nothing", nil, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readPrompt(strings.NewReader("ignored"), tt.args, tt.file)
			require.NoError(t, err)
			if got != tt.want {
				t.Errorf("readPrompt() = %q, want %q", got, tt.want)
			}
		})
	}

	_, err := readPrompt(nil, nil, filepath.Join(dir, "missing.md"))
	assert.Error(t, err)
}

func TestLastReply(t *testing.T) {
	msgs := []model.Message{
		model.NewAssistantText("greeting"),
		model.NewUserMessage("question"),
		model.NewAssistantText("answer"),
		model.NewUserMessage("follow-up"),
	}
	if got := lastReply(msgs); got != "answer" {
		t.Errorf("lastReply() = %q, want %q", got, "answer")
	}
	if got := lastReply(nil); got != "" {
		t.Errorf("lastReply(nil) = %q, want empty", got)
	}
}

// =============================================================================
// STATUS AND LINE CHAT
// =============================================================================

func TestStatus_JSON(t *testing.T) {
	setupEnv(t)
	relay := relayStub(t, "", false)

	out, _, err := runCLI(t, "status", "--json", "--relay", relay.URL)
	require.NoError(t, err)
	assert.Contains(t, out, `"reachable": true`)
	assert.Contains(t, out, `"provider": "openai"`)
	assert.Contains(t, out, `"archive_backend": "file"`)
}

func TestStatus_Unreachable(t *testing.T) {
	setupEnv(t)
	relay := relayStub(t, "", false)
	url := relay.URL
	relay.Close()

	out, _, err := runCLI(t, "status", "--relay", url)
	require.NoError(t, err)
	assert.Contains(t, out, "[FAIL]")
}

func TestLineChat_HandleLine(t *testing.T) {
	setupEnv(t)
	relay := relayStub(t, "Hi there!", false)

	var stdout, stderr bytes.Buffer
	opts := &globalOptions{stdout: &stdout, stderr: &stderr}
	rt, err := opts.start(context.Background(), false)
	require.NoError(t, err)
	defer rt.Close()
	state, _, err := rt.newState(relay.URL, "")
	require.NoError(t, err)

	lc := newLineChat(context.Background(), opts, state, commands.NewRegistry())

	assert.False(t, lc.handleLine(context.Background(), "   "))
	assert.Empty(t, stdout.String())

	assert.False(t, lc.handleLine(context.Background(), "hello"))
	assert.Contains(t, stdout.String(), "Hi there!")
	assert.Equal(t, 3, state.Conversation().Len())

	stdout.Reset()
	assert.False(t, lc.handleLine(context.Background(), "/save"))
	assert.Contains(t, stdout.String(), "Saved as session 1")

	assert.False(t, lc.handleLine(context.Background(), "/load 7"))
	assert.Contains(t, stderr.String(), "no session 7")

	assert.True(t, lc.handleLine(context.Background(), "/quit"))
}
