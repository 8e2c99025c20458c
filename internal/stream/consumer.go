// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	apperrors "github.com/jeranaias/chatrelay/internal/errors"
)

// DefaultChunkSize is the read buffer size.
const DefaultChunkSize = 4096

var (
	// ErrIdleTimeout is the cause when no bytes arrived within the idle timeout.
	ErrIdleTimeout = errors.New("no data received within idle timeout")

	// ErrMaxDuration is the cause when the stream outlived its maximum duration.
	ErrMaxDuration = errors.New("stream exceeded maximum duration")
)

// =============================================================================
// EVENTS
// =============================================================================

// EventKind distinguishes stream events.
type EventKind int

const (
	// EventStart is emitted once, on the first decoded byte.
	EventStart EventKind = iota
	// EventFragment carries decoded text.
	EventFragment
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventFragment:
		return "fragment"
	default:
		return "unknown"
	}
}

// Event is one notification from the consumer.
type Event struct {
	Kind EventKind
	Text string
}

// Result summarizes a consumed stream.
type Result struct {
	Fragments int
	Bytes     int64
	Started   bool
	Text      string
	// Opened is set by Open once the body was obtained.
	Opened bool
}

// =============================================================================
// CONSUMER
// =============================================================================

// Options configures a Consumer. Zero durations disable the guard.
type Options struct {
	MaxDuration time.Duration
	IdleTimeout time.Duration
	ChunkSize   int
}

// Consumer reads relayed reply bodies.
type Consumer struct {
	opts Options
}

// NewConsumer creates a consumer.
func NewConsumer(opts Options) *Consumer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Consumer{opts: opts}
}

// Consume reads body until it ends, calling emit for every event on the
// calling goroutine. If body is an io.Closer it is closed when a guard fires
// or ctx is cancelled, which unblocks a pending Read.
func (c *Consumer) Consume(ctx context.Context, body io.Reader, emit func(Event)) (Result, error) {
	g := c.startGuard(ctx)
	defer g.stop()
	return c.read(ctx, g, body, emit)
}

// Open calls open and consumes the body it returns. The guards start before
// open is called, so a relay that holds back its response headers is
// interrupted the same way as one that stalls mid-stream. Open returns as
// soon as a guard fires, even if open ignores its context; a body that
// arrives later is closed.
//
// An error from open is returned unchanged unless a guard fired, in which
// case it is a *errors.StreamInterruptedError, or ctx was cancelled.
// Result.Opened reports whether open returned a body.
func (c *Consumer) Open(ctx context.Context, open func(context.Context) (io.ReadCloser, error), emit func(Event)) (Result, error) {
	g := c.startGuard(ctx)
	defer g.stop()

	type opened struct {
		body io.ReadCloser
		err  error
	}
	ch := make(chan opened, 1)
	go func() {
		body, err := open(g.ctx)
		ch <- opened{body, err}
	}()

	var o opened
	select {
	case o = <-ch:
	case <-g.ctx.Done():
		go func() {
			if late := <-ch; late.body != nil {
				late.body.Close()
			}
		}()
		o.err = g.ctx.Err()
	}
	if o.err == nil && o.body == nil {
		o.err = errors.New("stream: open returned no body")
	}
	if o.err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if g.ctx.Err() != nil {
			return Result{}, apperrors.NewStreamInterrupted(context.Cause(g.ctx), "")
		}
		return Result{}, o.err
	}
	defer o.body.Close()
	g.touch()
	res, err := c.read(ctx, g, o.body, emit)
	res.Opened = true
	return res, err
}

// guard bounds one stream with the max-duration and idle timers.
type guard struct {
	ctx         context.Context
	cancel      context.CancelCauseFunc
	timers      []*time.Timer
	idle        *time.Timer
	idleTimeout time.Duration
}

func (c *Consumer) startGuard(ctx context.Context) *guard {
	g := &guard{idleTimeout: c.opts.IdleTimeout}
	g.ctx, g.cancel = context.WithCancelCause(ctx)
	if c.opts.MaxDuration > 0 {
		g.timers = append(g.timers, time.AfterFunc(c.opts.MaxDuration, func() { g.cancel(ErrMaxDuration) }))
	}
	if c.opts.IdleTimeout > 0 {
		g.idle = time.AfterFunc(c.opts.IdleTimeout, func() { g.cancel(ErrIdleTimeout) })
		g.timers = append(g.timers, g.idle)
	}
	return g
}

// touch restarts the idle timer.
func (g *guard) touch() {
	if g.idle != nil {
		g.idle.Reset(g.idleTimeout)
	}
}

func (g *guard) stop() {
	for _, t := range g.timers {
		t.Stop()
	}
	g.cancel(nil)
}

func (c *Consumer) read(ctx context.Context, g *guard, body io.Reader, emit func(Event)) (Result, error) {
	var res Result
	var text strings.Builder

	if closer, ok := body.(io.Closer); ok {
		stop := context.AfterFunc(g.ctx, func() { closer.Close() })
		defer stop()
	}

	reader := transform.NewReader(body, unicode.UTF8.NewDecoder())
	buf := make([]byte, c.opts.ChunkSize)

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if g.ctx.Err() != nil {
				// Bytes read after a guard fired are discarded.
				break
			}
			g.touch()
			if !res.Started {
				res.Started = true
				emit(Event{Kind: EventStart})
			}
			chunk := string(buf[:n])
			text.WriteString(chunk)
			res.Fragments++
			res.Bytes += int64(n)
			emit(Event{Kind: EventFragment, Text: chunk})
		}
		if err == nil {
			continue
		}
		if err == io.EOF && g.ctx.Err() == nil {
			res.Text = text.String()
			return res, nil
		}
		return c.finish(ctx, g.ctx, &res, &text, err)
	}
	return c.finish(ctx, g.ctx, &res, &text, context.Cause(g.ctx))
}

// finish classifies a stream that did not reach a clean EOF.
func (c *Consumer) finish(ctx, guardCtx context.Context, res *Result, text *strings.Builder, readErr error) (Result, error) {
	res.Text = text.String()
	if ctx.Err() != nil {
		return *res, ctx.Err()
	}
	cause := readErr
	if guardCtx.Err() != nil {
		cause = context.Cause(guardCtx)
	}
	if cause == io.EOF {
		cause = io.ErrUnexpectedEOF
	}
	return *res, apperrors.NewStreamInterrupted(cause, res.Text)
}
