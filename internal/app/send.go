// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"io"
	"strings"

	apperrors "github.com/jeranaias/chatrelay/internal/errors"
	"github.com/jeranaias/chatrelay/internal/model"
	"github.com/jeranaias/chatrelay/internal/stream"
)

// =============================================================================
// SEND PIPELINE
// =============================================================================

// Event is delivered to a Send observer: once when the reply starts and then
// for every fragment that was applied to the conversation.
type Event = stream.Event

// ErrEmptyMessage is returned by Send when there is neither text nor an
// attachment to send.
var ErrEmptyMessage = errors.New("message is empty")

// replyPrefix introduces a quoted message.
const replyPrefix = "Replying to:\n"

// SendOption configures one Send call.
type SendOption func(*sendOptions)

type sendOptions struct {
	replyTo    string
	hasReplyTo bool
}

// WithReplyTo quotes text at the top of the user message. It takes
// precedence over a quote set with SetReplyTo.
func WithReplyTo(quoted string) SendOption {
	return func(o *sendOptions) {
		o.replyTo = quoted
		o.hasReplyTo = true
	}
}

// InFlight reports whether a Send is running.
func (s *State) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Cancel stops the running Send, if any, and reports whether there was one.
// The partial reply stays in the conversation marked incomplete.
func (s *State) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Send appends a user message built from text and the pending attachments,
// streams the reply into the conversation and blocks until it ends.
//
// observer, if not nil, runs on the calling goroutine for every applied
// event. Errors:
//   - model.ErrInFlight or ErrEmptyMessage: nothing was appended
//   - an *errors.UpstreamError: the user message is kept, no reply is added
//   - an *errors.StreamInterruptedError or context.Canceled: the reply is
//     kept with its partial text and marked incomplete
func (s *State) Send(ctx context.Context, text string, observer func(Event), opts ...SendOption) error {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	if s.cancel != nil || s.conv.InFlight() {
		s.mu.Unlock()
		return model.ErrInFlight
	}
	text = strings.TrimSpace(text)
	attachments := s.pending
	if text == "" && len(attachments) == 0 {
		s.mu.Unlock()
		return ErrEmptyMessage
	}
	quoted := s.replyTo
	if o.hasReplyTo {
		quoted = o.replyTo
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.pending = nil
	s.replyTo = ""
	s.dirty = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	if quoted != "" {
		text = replyPrefix + "\"" + quoted + "\"\n\n" + text
	}

	gen := s.conv.Generation()
	if err := s.conv.Append(model.NewUserMessage(text, attachments...)); err != nil {
		return err
	}

	var (
		id    string
		stale bool
	)
	history := requestHistory(s.conv.Messages())
	open := func(ctx context.Context) (io.ReadCloser, error) {
		return s.relay.Chat(ctx, history)
	}
	res, err := s.consumer.Open(ctx, open, func(ev stream.Event) {
		switch ev.Kind {
		case stream.EventStart:
			var beginErr error
			if id, beginErr = s.conv.BeginAssistant(gen); beginErr != nil {
				stale = true
				s.logger.Info("STREAM_STALE", "error", beginErr)
				return
			}
		case stream.EventFragment:
			if stale || !s.conv.AppendFragment(gen, id, ev.Text) {
				return
			}
		}
		if observer != nil {
			observer(ev)
		}
	})

	if !res.Opened {
		switch {
		case ctx.Err() != nil:
			s.finishEmpty(gen)
			s.logger.Info("STREAM_CANCELLED", "phase", "connect")
			return context.Canceled
		case errors.Is(err, apperrors.ErrStreamInterrupted):
			s.finishEmpty(gen)
			s.logger.Warn("STREAM_INTERRUPTED", "phase", "connect", "error", err)
			return err
		}
		s.logger.Warn("RELAY_REQUEST_FAILED", "error", err)
		return err
	}

	switch {
	case stale:
	case err == nil:
		if id != "" {
			s.conv.Finish(gen, id, model.StatusComplete)
		}
	case id != "":
		s.conv.Finish(gen, id, model.StatusIncomplete)
	default:
		s.finishEmpty(gen)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.logger.Info("STREAM_CANCELLED", "fragments", res.Fragments, "bytes", res.Bytes)
		} else {
			s.logger.Warn("STREAM_INTERRUPTED", "fragments", res.Fragments, "bytes", res.Bytes, "error", err)
		}
		return err
	}
	s.logger.Debug("STREAM_COMPLETE", "fragments", res.Fragments, "bytes", res.Bytes)
	return nil
}

// finishEmpty records a reply that was interrupted before any byte arrived.
func (s *State) finishEmpty(gen uint64) {
	id, err := s.conv.BeginAssistant(gen)
	if err != nil {
		return
	}
	s.conv.Finish(gen, id, model.StatusIncomplete)
}

// requestHistory selects the messages sent upstream. The greeting and any
// other assistant text before the first user message is local only, as are
// empty replies.
func requestHistory(msgs []model.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	seenUser := false
	for _, m := range msgs {
		if m.Role == model.RoleUser {
			seenUser = true
		}
		if !seenUser || m.IsEmpty() {
			continue
		}
		if m.Status == model.StatusIncomplete && m.Text() == model.NoResponseText {
			continue
		}
		out = append(out, m)
	}
	return out
}
