// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatrelay/internal/app"
	"github.com/jeranaias/chatrelay/internal/model"
	"github.com/jeranaias/chatrelay/internal/storage"
)

// =============================================================================
// PARSER TESTS
// =============================================================================

func TestIsCommand(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"/help", true},
		{"/load 2", true},
		{"  /help", true},
		{"hello", false},
		{"hello /help", false},
		{"", false},
		{"/", true},
	}

	for _, tc := range tests {
		got := IsCommand(tc.input)
		if got != tc.want {
			t.Errorf("IsCommand(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestSplitCommandLine(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"/help", []string{"/help"}},
		{"/load 2", []string{"/load", "2"}},
		{`/rename 1 "my session"`, []string{"/rename", "1", "my session"}},
		{`/rename 1 'my session'`, []string{"/rename", "1", "my session"}},
		{`/rename 1 "say \"hi\""`, []string{"/rename", "1", `say "hi"`}},
		{`/rename 1 "Café crème"`, []string{"/rename", "1", "Café crème"}},
		{`/attach ""`, []string{"/attach", ""}},
		{"/export  1   md", []string{"/export", "1", "md"}},
	}

	for _, tc := range tests {
		got := splitCommandLine(tc.input)
		if len(got) != len(tc.want) {
			t.Errorf("splitCommandLine(%q) = %q, want %q", tc.input, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("splitCommandLine(%q)[%d] = %q, want %q", tc.input, i, got[i], tc.want[i])
			}
		}
	}
}

func TestParser_Parse(t *testing.T) {
	p := NewParser(NewRegistry())

	tests := []struct {
		input       string
		isCommand   bool
		commandName string
		rawArgs     string
		found       bool
	}{
		{"hello", false, "", "", false},
		{"/help", true, "/help", "", true},
		{"/LS", true, "/ls", "", true},
		{"/rename 2  New   title", true, "/rename", "2  New   title", true},
		{"/nope x", true, "/nope", "x", false},
	}

	for _, tc := range tests {
		got := p.Parse(tc.input)
		if got.IsCommand != tc.isCommand {
			t.Errorf("Parse(%q).IsCommand = %v, want %v", tc.input, got.IsCommand, tc.isCommand)
		}
		if got.CommandName != tc.commandName {
			t.Errorf("Parse(%q).CommandName = %q, want %q", tc.input, got.CommandName, tc.commandName)
		}
		if got.RawArgs != tc.rawArgs {
			t.Errorf("Parse(%q).RawArgs = %q, want %q", tc.input, got.RawArgs, tc.rawArgs)
		}
		if (got.Command != nil) != tc.found {
			t.Errorf("Parse(%q).Command found = %v, want %v", tc.input, got.Command != nil, tc.found)
		}
	}
}

func TestValidateArgs(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		name    string
		command string
		args    []string
		wantErr bool
	}{
		{"no args needed", "/help", nil, false},
		{"missing required", "/load", nil, true},
		{"required present", "/load", []string{"1"}, false},
		{"valid enum", "/export", []string{"1", "HTML"}, false},
		{"invalid enum", "/export", []string{"1", "pdf"}, true},
		{"rename needs title", "/rename", []string{"1"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateArgs(r.Get(tc.command), tc.args)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateArgs(%s, %q) error = %v, wantErr %v", tc.command, tc.args, err, tc.wantErr)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Command: "/export", Arg: "format", Message: "invalid value", Got: "pdf", Expected: "txt, md"}
	want := "/export: invalid value for argument 'format' (got: pdf) - expected: txt, md"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

// =============================================================================
// REGISTRY TESTS
// =============================================================================

func TestRegistry_Builtins(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		name string
		want string
	}{
		{"/help", "/help"},
		{"/?", "/help"},
		{"/sessions", "/sessions"},
		{"/ls", "/sessions"},
		{"/new", "/new"},
		{"/clear", "/new"},
		{"/quit", "/quit"},
		{"/q", "/quit"},
		{"/save", "/save"},
		{"/load", "/load"},
		{"/rename", "/rename"},
		{"/delete", "/delete"},
		{"/export", "/export"},
		{"/copy", "/copy"},
		{"/attach", "/attach"},
		{"/detach", "/detach"},
		{"/reply", "/reply"},
		{"/theme", "/theme"},
		{"/sidebar", "/sidebar"},
		{"/cancel", "/cancel"},
	}
	for _, tc := range tests {
		cmd := r.Get(tc.name)
		if cmd == nil {
			t.Errorf("Get(%q) = nil, want %s", tc.name, tc.want)
			continue
		}
		if cmd.Name != tc.want {
			t.Errorf("Get(%q).Name = %q, want %q", tc.name, cmd.Name, tc.want)
		}
	}
	if r.Get("/nonexistent") != nil {
		t.Error("/nonexistent should return nil")
	}
}

func TestRegistry_ByCategory(t *testing.T) {
	r := NewRegistry()
	r.Register(&Command{Name: "/secret", Hidden: true})
	groups := r.ByCategory()

	for _, category := range categoryOrder {
		if len(groups[category]) == 0 {
			t.Errorf("category %q has no commands", category)
		}
	}
	for _, cmds := range groups {
		for _, cmd := range cmds {
			if cmd.Name == "/secret" {
				t.Error("hidden command listed")
			}
		}
	}
}

// =============================================================================
// HANDLER TESTS
// =============================================================================

type stubRelay struct{ reply string }

func (s stubRelay) Chat(ctx context.Context, messages []model.Message) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.reply)), nil
}

func (s stubRelay) DescribeImage(ctx context.Context, name string, data []byte) (string, error) {
	return "a picture", nil
}

func newHarness(t *testing.T) (*Parser, *Context, *string) {
	t.Helper()
	kv, err := storage.NewFileKV(t.TempDir())
	require.NoError(t, err)
	archive, err := storage.Open(kv)
	require.NoError(t, err)
	var clip string
	st, err := app.New(app.Deps{
		Archive:   archive,
		Prefs:     kv,
		Relay:     stubRelay{reply: "Sure thing."},
		Clipboard: func(text string) error { clip = text; return nil },
	})
	require.NoError(t, err)

	registry := NewRegistry()
	ctx := NewContext(context.Background(), st, registry)
	ctx.ExportDir = t.TempDir()
	return NewParser(registry), ctx, &clip
}

func run(t *testing.T, p *Parser, ctx *Context, input string) Result {
	t.Helper()
	res, err := p.Execute(ctx, input)
	require.NoError(t, err, input)
	return res
}

func TestHandlers_SessionLifecycle(t *testing.T) {
	p, ctx, clip := newHarness(t)
	require.NoError(t, ctx.State.Send(context.Background(), "Plan a picnic", nil))

	assert.Equal(t, "No saved sessions.", run(t, p, ctx, "/sessions").Output)

	res := run(t, p, ctx, "/save")
	assert.Equal(t, "Saved as session 1: Plan a picnic", res.Output)

	res = run(t, p, ctx, "/ls")
	assert.Contains(t, res.Output, "1. Plan a picnic (3 messages)")

	run(t, p, ctx, `/rename 1 "Picnic  ideas"`)
	assert.Equal(t, "Picnic ideas", ctx.State.Archive().List()[0].Title)

	run(t, p, ctx, "/rename 1 Park lunch")
	assert.Equal(t, "Park lunch", ctx.State.Archive().List()[0].Title)

	run(t, p, ctx, "/new")
	assert.Equal(t, 1, ctx.State.Conversation().Len())

	assert.Equal(t, "Loaded session 1.", run(t, p, ctx, "/load 1").Output)
	assert.Equal(t, 3, ctx.State.Conversation().Len())

	res = run(t, p, ctx, "/export 1 md")
	path := strings.TrimPrefix(res.Output, "Exported to ")
	assert.Equal(t, filepath.Join(ctx.ExportDir, "Park_lunch.md"), path)
	_, err := os.Stat(path)
	assert.NoError(t, err)

	otherDir := t.TempDir()
	res = run(t, p, ctx, "/export 1 txt "+otherDir)
	assert.Equal(t, "Exported to "+filepath.Join(otherDir, "Park_lunch.txt"), res.Output)

	assert.Contains(t, run(t, p, ctx, "/copy 1").Output, "Copied session 1")
	assert.Contains(t, *clip, "USER: Plan a picnic")

	run(t, p, ctx, "/delete 1")
	assert.Equal(t, 0, ctx.State.Archive().Len())
}

func TestHandlers_Errors(t *testing.T) {
	p, ctx, _ := newHarness(t)

	tests := []struct {
		input string
		want  string
	}{
		{"/bogus", "unknown command /bogus"},
		{"/load", "required argument missing"},
		{"/load zero", `invalid session number "zero"`},
		{"/load 0", `invalid session number "0"`},
		{"/load 4", "no session 4"},
		{"/export 1 pdf", "invalid value"},
		{"/reply 99", "no message 99"},
		{"/attach /does/not/exist.png", "failed to read attachment"},
	}
	for _, tc := range tests {
		_, err := p.Execute(ctx, tc.input)
		if err == nil {
			t.Errorf("Execute(%q) error = nil, want %q", tc.input, tc.want)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("Execute(%q) error = %q, want it to contain %q", tc.input, err.Error(), tc.want)
		}
	}
}

func TestHandlers_AttachReplyDisplay(t *testing.T) {
	p, ctx, _ := newHarness(t)

	img := filepath.Join(t.TempDir(), "dog.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0600))

	res := run(t, p, ctx, `/attach "`+img+`"`)
	assert.Equal(t, "Attached dog.png (1 pending).", res.Output)
	assert.Equal(t, "a picture", ctx.State.PendingAttachments()[0].Description)
	assert.Equal(t, "Dropped 1 attachment(s).", run(t, p, ctx, "/detach").Output)

	res = run(t, p, ctx, "/reply 1")
	assert.True(t, strings.HasPrefix(res.Output, "Replying to: "))
	assert.Equal(t, app.DefaultGreeting, ctx.State.ReplyTo())

	assert.Equal(t, "Theme: light", run(t, p, ctx, "/theme").Output)
	assert.Equal(t, "Sidebar hidden.", run(t, p, ctx, "/sidebar").Output)
	assert.Equal(t, "Nothing to cancel.", run(t, p, ctx, "/cancel").Output)

	help := run(t, p, ctx, "/help").Output
	for _, name := range []string{"/load <N>", "/export <N> [txt|md|json|html] [dir]", "/quit"} {
		assert.Contains(t, help, name)
	}

	quit := run(t, p, ctx, "/q")
	assert.True(t, quit.Quit)
}
