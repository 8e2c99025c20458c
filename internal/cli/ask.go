// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatrelay/internal/app"
	apperrors "github.com/jeranaias/chatrelay/internal/errors"
	"github.com/jeranaias/chatrelay/internal/model"
	"github.com/jeranaias/chatrelay/internal/stream"
	"github.com/jeranaias/chatrelay/internal/ui/styles"
)

// MaxPromptFileSize caps a prompt read from --file or stdin.
const MaxPromptFileSize = 1 << 20

type askOptions struct {
	relayURL string
	images   []string
	file     string
	raw      bool
}

func newAskCmd(opts *globalOptions) *cobra.Command {
	var ao askOptions

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Ask a single question and stream the reply",
		Long: `Send one message through the relay and stream the reply to stdout.

On a terminal the finished reply is rendered again as markdown.
An interrupted reply exits with status 2.

Examples:
  chatrelay ask "What is the capital of France?"
  chatrelay ask "What is in this picture?" --image cat.png
  chatrelay ask -f prompt.md
  cat notes.txt | chatrelay ask "Summarize:"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(opts.stdin, args, ao.file)
			if err != nil {
				return err
			}
			if prompt == "" && len(ao.images) == 0 {
				return &UsageError{Field: "prompt", Reason: "give a prompt, --file, stdin or --image"}
			}
			return runAsk(cmd.Context(), opts, ao, prompt)
		},
	}

	cmd.Flags().StringVar(&ao.relayURL, "relay", "", "relay URL (default from config)")
	cmd.Flags().StringArrayVarP(&ao.images, "image", "i", nil, "attach an image (repeatable)")
	cmd.Flags().StringVarP(&ao.file, "file", "f", "", "read the prompt from a file")
	cmd.Flags().BoolVar(&ao.raw, "raw", false, "never re-render the reply as markdown")
	return cmd
}

// readPrompt joins the arguments with the contents of --file or piped
// stdin, in that order. Each part is trimmed and empty parts are dropped.
func readPrompt(stdin io.Reader, args []string, file string) (string, error) {
	var parts []string
	add := func(part string) {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	add(strings.Join(args, " "))

	switch {
	case file != "":
		data, err := readLimited(file)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file: %w", err)
		}
		add(data)
	case hasPipedInput(stdin):
		data, err := io.ReadAll(io.LimitReader(stdin, MaxPromptFileSize))
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		add(string(data))
	}
	return strings.Join(parts, "\n\n"), nil
}

func readLimited(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxPromptFileSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > MaxPromptFileSize {
		return "", fmt.Errorf("%s is larger than %d bytes", path, MaxPromptFileSize)
	}
	return string(data), nil
}

func runAsk(ctx context.Context, opts *globalOptions, ao askOptions, prompt string) error {
	rt, err := opts.start(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	state, _, err := rt.newState(ao.relayURL, "")
	if err != nil {
		return err
	}

	for _, path := range ao.images {
		att, err := state.Attach(ctx, path)
		if err != nil {
			return err
		}
		if att.DescribeErr != nil {
			fmt.Fprintf(opts.stderr, "%s could not describe %s: %v\n",
				WarningStyle.Render("[WARN]"), att.Attachment.Name, att.DescribeErr)
		}
	}

	err = state.Send(ctx, prompt, func(ev app.Event) {
		if ev.Kind == stream.EventFragment {
			fmt.Fprint(opts.stdout, ev.Text)
		}
	})
	fmt.Fprintln(opts.stdout)

	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrStreamInterrupted), errors.Is(err, context.Canceled):
		return fmt.Errorf("response interrupted: %w", err)
	default:
		return err
	}

	if ao.raw || !isTerminal(opts.stdout) {
		return nil
	}
	reply := lastReply(state.Conversation().Messages())
	if reply == "" {
		return nil
	}
	width := terminalWidth(opts.stdout)
	if rendered, ok := renderMarkdown(reply, width); ok {
		fmt.Fprintln(opts.stdout, RenderSeparator(width-4))
		fmt.Fprint(opts.stdout, rendered)
	}
	return nil
}

// lastReply returns the text of the final assistant message.
func lastReply(msgs []model.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			return msgs[i].Text()
		}
	}
	return ""
}

// renderMarkdown renders content with glamour in the style matching the
// terminal background.
func renderMarkdown(content string, width int) (string, bool) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(styles.DetectTheme()),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return "", false
	}
	out, err := r.Render(content)
	if err != nil {
		return "", false
	}
	return out, true
}
