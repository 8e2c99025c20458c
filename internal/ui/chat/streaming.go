// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/time/rate"

	"github.com/jeranaias/chatrelay/internal/app"
	apperrors "github.com/jeranaias/chatrelay/internal/errors"
)

// RenderInterval caps how often the transcript is re-rendered while a reply
// streams in. Markdown rendering is too costly to repeat per fragment.
const RenderInterval = 50 * time.Millisecond

func newRenderThrottle() *rate.Sometimes {
	return &rate.Sometimes{Interval: RenderInterval}
}

// sendCmd runs app.State.Send on a command goroutine. Applied stream events
// are posted back through the sender as StreamEventMsg, and the result
// arrives as StreamDoneMsg.
func (m Model) sendCmd(text string) tea.Cmd {
	ctx := m.ctx
	state := m.state
	sender := m.sender
	return func() tea.Msg {
		err := state.Send(ctx, text, func(ev app.Event) {
			sender.send(StreamEventMsg{Event: ev})
		})
		return StreamDoneMsg{Err: err}
	}
}

// handleStreamEvent refreshes the transcript at most once per RenderInterval.
func (m Model) handleStreamEvent(msg StreamEventMsg) (tea.Model, tea.Cmd) {
	m.throttle.Do(func() {
		m.refreshViewport()
	})
	return m, nil
}

// handleStreamDone freezes the reply and reports how the send ended.
func (m Model) handleStreamDone(msg StreamDoneMsg) (tea.Model, tea.Cmd) {
	m.streaming = false
	m.refreshViewport()

	switch {
	case msg.Err == nil:
		m.setStatus("")
	case errors.Is(msg.Err, context.Canceled):
		m.setStatus("Response stopped.")
	default:
		m.setError(describeSendError(msg.Err))
	}
	return m, nil
}

// describeSendError turns a send failure into a one-line status.
func describeSendError(err error) string {
	var ue *apperrors.UpstreamError
	switch {
	case errors.Is(err, apperrors.ErrStreamInterrupted):
		return "Response interrupted: " + err.Error()
	case errors.As(err, &ue):
		return "Relay error: " + ue.Error()
	case errors.Is(err, app.ErrEmptyMessage):
		return "Nothing to send."
	default:
		return "Send failed: " + err.Error()
	}
}
