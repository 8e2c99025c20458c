// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jeranaias/chatrelay/internal/storage"
	"github.com/jeranaias/chatrelay/internal/util"
)

// =============================================================================
// GENERAL
// =============================================================================

func handleHelp(ctx *Context, args []string) (Result, error) {
	if ctx.Registry == nil {
		return Result{}, fmt.Errorf("help unavailable")
	}
	groups := ctx.Registry.ByCategory()

	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, category := range categoryOrder {
		cmds := groups[category]
		if len(cmds) == 0 {
			continue
		}
		sb.WriteString("\n" + category + "\n")
		for _, cmd := range cmds {
			usage := cmd.Usage
			if usage == "" {
				usage = cmd.Name
			}
			line := fmt.Sprintf("  %-40s %s", usage, cmd.Description)
			if len(cmd.Aliases) > 0 {
				line += " (" + strings.Join(cmd.Aliases, ", ") + ")"
			}
			sb.WriteString(line + "\n")
		}
	}
	return Result{Output: strings.TrimRight(sb.String(), "\n")}, nil
}

func handleQuit(ctx *Context, args []string) (Result, error) {
	ctx.State.Cancel()
	return Result{Output: "Goodbye.", Quit: true}, nil
}

// =============================================================================
// CONVERSATION
// =============================================================================

func handleNew(ctx *Context, args []string) (Result, error) {
	ctx.State.NewConversation()
	return Result{Output: "Started a new conversation."}, nil
}

func handleReply(ctx *Context, args []string) (Result, error) {
	i, err := parseIndex(args[0], "message")
	if err != nil {
		return Result{}, err
	}
	quoted, err := ctx.State.SetReplyTo(i)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: fmt.Sprintf("Replying to: %q", util.TruncateRunes(util.CollapseWhitespace(quoted), 80))}, nil
}

func handleCancel(ctx *Context, args []string) (Result, error) {
	if !ctx.State.Cancel() {
		return Result{Output: "Nothing to cancel."}, nil
	}
	return Result{Output: "Cancelled."}, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

func handleSave(ctx *Context, args []string) (Result, error) {
	idx, err := ctx.State.SaveCurrent()
	if err != nil {
		return Result{}, fmt.Errorf("save failed: %w", err)
	}
	title := ""
	if sess, err := ctx.State.Archive().Session(idx); err == nil {
		title = sess.Title
	}
	return Result{Output: fmt.Sprintf("Saved as session %d: %s", idx+1, title)}, nil
}

func handleSessions(ctx *Context, args []string) (Result, error) {
	list := ctx.State.Archive().List()
	if len(list) == 0 {
		return Result{Output: "No saved sessions."}, nil
	}
	var sb strings.Builder
	sb.WriteString("Saved sessions:")
	for _, s := range list {
		sb.WriteString(fmt.Sprintf("\n  %d. %s (%d messages)", s.Index+1, s.Title, s.Messages))
	}
	return Result{Output: sb.String()}, nil
}

func handleLoad(ctx *Context, args []string) (Result, error) {
	i, err := parseIndex(args[0], "session")
	if err != nil {
		return Result{}, err
	}
	if err := ctx.State.LoadSession(i); err != nil {
		return Result{}, sessionError(err, args[0])
	}
	return Result{Output: fmt.Sprintf("Loaded session %d.", i+1)}, nil
}

func handleRename(ctx *Context, args []string) (Result, error) {
	i, err := parseIndex(args[0], "session")
	if err != nil {
		return Result{}, err
	}
	title := strings.Join(args[1:], " ")
	if err := ctx.State.RenameSession(i, title); err != nil {
		return Result{}, sessionError(err, args[0])
	}
	return Result{Output: fmt.Sprintf("Renamed session %d.", i+1)}, nil
}

func handleDelete(ctx *Context, args []string) (Result, error) {
	i, err := parseIndex(args[0], "session")
	if err != nil {
		return Result{}, err
	}
	if err := ctx.State.DeleteSession(i); err != nil {
		return Result{}, sessionError(err, args[0])
	}
	return Result{Output: fmt.Sprintf("Deleted session %d.", i+1)}, nil
}

func handleExport(ctx *Context, args []string) (Result, error) {
	i, err := parseIndex(args[0], "session")
	if err != nil {
		return Result{}, err
	}
	format := "txt"
	if len(args) > 1 {
		format = strings.ToLower(args[1])
	}
	dir := ctx.ExportDir
	if len(args) > 2 {
		dir = args[2]
	}
	path, err := ctx.State.ExportSession(i, format, dir)
	if err != nil {
		return Result{}, sessionError(err, args[0])
	}
	return Result{Output: "Exported to " + path}, nil
}

func handleCopy(ctx *Context, args []string) (Result, error) {
	i, err := parseIndex(args[0], "session")
	if err != nil {
		return Result{}, err
	}
	if err := ctx.State.CopySession(i); err != nil {
		return Result{}, sessionError(err, args[0])
	}
	return Result{Output: fmt.Sprintf("Copied session %d to the clipboard.", i+1)}, nil
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

func handleAttach(ctx *Context, args []string) (Result, error) {
	res, err := ctx.State.Attach(ctx.Ctx, strings.Join(args, " "))
	if err != nil {
		return Result{}, err
	}
	n := len(ctx.State.PendingAttachments())
	out := fmt.Sprintf("Attached %s (%d pending).", res.Attachment.Name, n)
	if res.DescribeErr != nil {
		out += " Image description unavailable: " + res.DescribeErr.Error()
	}
	return Result{Output: out}, nil
}

func handleDetach(ctx *Context, args []string) (Result, error) {
	n := len(ctx.State.PendingAttachments())
	ctx.State.ClearAttachments()
	return Result{Output: fmt.Sprintf("Dropped %d attachment(s).", n)}, nil
}

// =============================================================================
// DISPLAY
// =============================================================================

func handleTheme(ctx *Context, args []string) (Result, error) {
	theme, err := ctx.State.ToggleTheme()
	out := "Theme: " + theme
	if err != nil {
		out += " (not saved: " + err.Error() + ")"
	}
	return Result{Output: out}, nil
}

func handleSidebar(ctx *Context, args []string) (Result, error) {
	visible, err := ctx.State.ToggleSidebar()
	out := "Sidebar hidden."
	if visible {
		out = "Sidebar shown."
	}
	if err != nil {
		out += " (not saved: " + err.Error() + ")"
	}
	return Result{Output: out}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// parseIndex converts a 1-based user number into a 0-based index.
func parseIndex(arg, what string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s number %q", what, arg)
	}
	return n - 1, nil
}

// sessionError rewords errors that refer to a session index.
func sessionError(err error, arg string) error {
	if errors.Is(err, storage.ErrSessionNotFound) {
		return fmt.Errorf("no session %s (see /sessions): %w", arg, err)
	}
	return err
}
