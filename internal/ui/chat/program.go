// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatrelay/internal/app"
	"github.com/jeranaias/chatrelay/internal/storage"
)

// RunOptions configures Run.
type RunOptions struct {
	Options
	// Watch reloads the archive when another process rewrites it.
	Watch bool
}

// Run starts the full-screen chat and blocks until the user quits or ctx
// is cancelled.
func Run(ctx context.Context, state *app.State, opts RunOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := New(ctx, state, opts.Options)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	m.SetSender(p)

	if opts.Watch {
		err := state.Archive().Watch(ctx, func() {
			p.Send(ArchiveChangedMsg{})
		})
		if err != nil && !errors.Is(err, storage.ErrWatchUnsupported) {
			m.logger.Warn("ARCHIVE_WATCH_FAILED", "error", err)
		}
	}

	_, err := p.Run()
	// Stop a reply still streaming when the program exits.
	state.Cancel()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("chat UI: %w", err)
	}
	return nil
}
