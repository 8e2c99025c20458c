// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatrelay/internal/api"
	"github.com/jeranaias/chatrelay/internal/app"
	"github.com/jeranaias/chatrelay/internal/commands"
	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/stream"
	"github.com/jeranaias/chatrelay/internal/ui/chat"
	"github.com/jeranaias/chatrelay/internal/ui/styles"
)

// HistoryFile is the line chat input history, kept in the config directory.
const HistoryFile = "chat_history"

// healthTimeout bounds the relay check made before a chat starts.
const healthTimeout = 3 * time.Second

func newChatCmd(opts *globalOptions) *cobra.Command {
	var relayURL string
	var plain bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat through the relay",
		Long: `Start an interactive chat. The full-screen interface is used by default;
--plain switches to a line-mode chat with input history.

Type /help in either mode for the slash commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.start(cmd.Context(), plain)
			if err != nil {
				return err
			}
			defer rt.Close()

			theme := ""
			if !plain {
				theme = styles.DetectTheme()
			}
			state, client, err := rt.newState(relayURL, theme)
			if err != nil {
				return err
			}
			warnIfRelayDown(cmd.Context(), opts, client)

			if plain || !isTerminal(opts.stdout) {
				return runLineChat(cmd.Context(), opts, state)
			}
			return chat.Run(cmd.Context(), state, chat.RunOptions{
				Options: chat.Options{Logger: rt.logger},
				Watch:   rt.cfg.Archive.Watch,
			})
		},
	}

	cmd.Flags().StringVar(&relayURL, "relay", "", "relay URL (default from config)")
	cmd.Flags().BoolVar(&plain, "plain", false, "line-mode chat instead of the full-screen interface")
	return cmd
}

// warnIfRelayDown prints a warning when the relay does not answer /health.
func warnIfRelayDown(ctx context.Context, opts *globalOptions, client *api.Client) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if _, err := client.Health(ctx); err != nil {
		fmt.Fprintf(opts.stderr, "%s relay at %s is not answering (%v). Start it with: chatrelay serve\n",
			WarningStyle.Render("[WARN]"), client.BaseURL(), err)
	}
}

// =============================================================================
// LINE EDITOR
// =============================================================================

// lineEditor provides input history and line editing for the line chat.
type lineEditor struct {
	line        *liner.State
	historyFile string
}

// newLineEditor creates a lineEditor with history loaded and Tab completion
// of slash commands.
func newLineEditor(complete func(string) []string) *lineEditor {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(complete)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	e := &lineEditor{line: line, historyFile: filepath.Join(dir, HistoryFile)}
	e.loadHistory()
	return e
}

func (e *lineEditor) loadHistory() {
	if f, err := os.Open(e.historyFile); err == nil {
		e.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line, adding non-empty input to the history.
func (e *lineEditor) ReadInput(prompt string) (string, error) {
	input, err := e.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		e.line.AppendHistory(input)
	}
	return input, nil
}

// saveHistory persists the history with owner-only permissions.
func (e *lineEditor) saveHistory() {
	if err := os.MkdirAll(filepath.Dir(e.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(e.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	e.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (e *lineEditor) Close() {
	e.saveHistory()
	e.line.Close()
}

// =============================================================================
// LINE CHAT
// =============================================================================

// lineChat is the line-mode chat loop over an app.State.
type lineChat struct {
	out    io.Writer
	errOut io.Writer
	state  *app.State
	parser *commands.Parser
	cctx   *commands.Context
}

func newLineChat(ctx context.Context, opts *globalOptions, state *app.State, registry *commands.Registry) *lineChat {
	return &lineChat{
		out:    opts.stdout,
		errOut: opts.stderr,
		state:  state,
		parser: commands.NewParser(registry),
		cctx:   commands.NewContext(ctx, state, registry),
	}
}

func runLineChat(ctx context.Context, opts *globalOptions, state *app.State) error {
	// Ctrl+C during a reply stops the reply, not the chat.
	ctx = context.WithoutCancel(ctx)

	registry := commands.NewRegistry()
	completer := commands.NewCompleter(registry)
	completer.SessionsFn = state.Archive().List
	completer.MessagesFn = state.Conversation().Len

	lc := newLineChat(ctx, opts, state, registry)
	editor := newLineEditor(completer.CompleteLine)
	defer editor.Close()

	lc.printWelcome()
	for {
		input, err := editor.ReadInput("you> ")
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or a closed terminal.
			fmt.Fprintln(lc.out)
			return nil
		}
		if lc.handleLine(ctx, input) {
			return nil
		}
	}
}

func (lc *lineChat) printWelcome() {
	fmt.Fprintf(lc.out, "%s %s\n", TitleStyle.Render("chatrelay"), DimStyle.Render("line mode, /help for commands, Ctrl+D to quit"))
	fmt.Fprintf(lc.out, "%s %s\n\n", AssistantStyle.Render("Assistant:"), lc.state.Greeting())
}

// handleLine runs one line of input and reports whether the chat should
// end.
func (lc *lineChat) handleLine(ctx context.Context, input string) bool {
	input = strings.TrimSpace(input)
	if input == "" && len(lc.state.PendingAttachments()) == 0 {
		return false
	}

	if commands.IsCommand(input) {
		res, err := lc.parser.Execute(lc.cctx, input)
		if err != nil {
			DisplayError(lc.errOut, err)
			return false
		}
		if res.Output != "" {
			fmt.Fprintln(lc.out, res.Output)
		}
		return res.Quit
	}

	if err := lc.send(ctx, input); err != nil {
		fmt.Fprintln(lc.out)
		switch {
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(lc.errOut, WarningStyle.Render("[Stopped]"))
		default:
			DisplayError(lc.errOut, err)
		}
		return false
	}
	fmt.Fprintln(lc.out)
	return false
}

// send streams one reply to the output. SIGINT cancels only this reply.
func (lc *lineChat) send(ctx context.Context, text string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	return lc.state.Send(ctx, text, func(ev app.Event) {
		switch ev.Kind {
		case stream.EventStart:
			fmt.Fprint(lc.out, AssistantStyle.Render("Assistant:")+" ")
		case stream.EventFragment:
			fmt.Fprint(lc.out, ev.Text)
		}
	})
}
