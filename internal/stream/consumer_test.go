// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jeranaias/chatrelay/internal/errors"
)

// recorder collects emitted events.
type recorder struct {
	events []Event
}

func (r *recorder) emit(ev Event) { r.events = append(r.events, ev) }

func (r *recorder) text() string {
	var sb strings.Builder
	for _, ev := range r.events {
		sb.WriteString(ev.Text)
	}
	return sb.String()
}

func TestConsume_CleanEOF(t *testing.T) {
	var rec recorder
	res, err := NewConsumer(Options{}).Consume(context.Background(), strings.NewReader("Hello!"), rec.emit)
	require.NoError(t, err)

	require.NotEmpty(t, rec.events)
	assert.Equal(t, EventStart, rec.events[0].Kind)
	assert.Equal(t, "Hello!", rec.text())
	assert.True(t, res.Started)
	assert.Equal(t, int64(6), res.Bytes)
	assert.Equal(t, "Hello!", res.Text)

	starts := 0
	for _, ev := range rec.events {
		if ev.Kind == EventStart {
			starts++
		}
	}
	assert.Equal(t, 1, starts, "EventStart must be emitted exactly once")
}

func TestConsume_EmptyBody(t *testing.T) {
	var rec recorder
	res, err := NewConsumer(Options{}).Consume(context.Background(), strings.NewReader(""), rec.emit)
	require.NoError(t, err)
	assert.Empty(t, rec.events)
	assert.False(t, res.Started)
}

func TestConsume_SplitMultiByteRunes(t *testing.T) {
	input := "café 😀 naïve 日本語"
	var rec recorder
	_, err := NewConsumer(Options{}).Consume(context.Background(), iotest.OneByteReader(strings.NewReader(input)), rec.emit)
	require.NoError(t, err)

	assert.Equal(t, input, rec.text())
	for _, ev := range rec.events {
		if ev.Kind == EventFragment && !utf8.ValidString(ev.Text) {
			t.Errorf("fragment %q is not valid UTF-8", ev.Text)
		}
	}
}

func TestConsume_SmallChunks(t *testing.T) {
	input := strings.Repeat("ü", 100)
	var rec recorder
	res, err := NewConsumer(Options{ChunkSize: 3}).Consume(context.Background(), strings.NewReader(input), rec.emit)
	require.NoError(t, err)
	assert.Equal(t, input, rec.text())
	assert.Greater(t, res.Fragments, 1)
}

func TestConsume_UnexpectedEOF(t *testing.T) {
	body := io.MultiReader(strings.NewReader("Hel"), iotest.ErrReader(io.ErrUnexpectedEOF))
	var rec recorder
	res, err := NewConsumer(Options{}).Consume(context.Background(), body, rec.emit)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStreamInterrupted)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "Hel", res.Text)

	var si *apperrors.StreamInterruptedError
	require.True(t, errors.As(err, &si))
	assert.Equal(t, "Hel", si.Partial)
}

func TestConsume_IdleTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte("a"))
		// then stall
	}()

	var rec recorder
	start := time.Now()
	_, err := NewConsumer(Options{IdleTimeout: 50 * time.Millisecond}).Consume(context.Background(), pr, rec.emit)

	assert.ErrorIs(t, err, apperrors.ErrStreamInterrupted)
	assert.ErrorIs(t, err, ErrIdleTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, "a", rec.text())
}

func TestConsume_MaxDuration(t *testing.T) {
	pr, pw := io.Pipe()
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if _, err := pw.Write([]byte("x")); err != nil {
					return
				}
			}
		}
	}()

	_, err := NewConsumer(Options{MaxDuration: 60 * time.Millisecond, IdleTimeout: time.Second}).
		Consume(context.Background(), pr, func(Event) {})
	assert.ErrorIs(t, err, ErrMaxDuration)
	assert.ErrorIs(t, err, apperrors.ErrStreamInterrupted)
}

func TestConsume_CallerCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		pw.Write([]byte("par"))
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	var rec recorder
	res, err := NewConsumer(Options{}).Consume(ctx, pr, rec.emit)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, apperrors.ErrStreamInterrupted)
	assert.Equal(t, "par", res.Text)
}

func TestEventKind_String(t *testing.T) {
	if EventStart.String() != "start" || EventFragment.String() != "fragment" {
		t.Errorf("unexpected names: %s, %s", EventStart, EventFragment)
	}
}

func TestOpen_GuardsCoverConnect(t *testing.T) {
	stalled := func(ctx context.Context) (io.ReadCloser, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	var rec recorder
	start := time.Now()
	_, err := NewConsumer(Options{IdleTimeout: 30 * time.Millisecond}).Open(context.Background(), stalled, rec.emit)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, apperrors.ErrStreamInterrupted)
	assert.ErrorIs(t, err, ErrIdleTimeout)
	assert.Empty(t, rec.events)
}

func TestOpen_PassesThroughOpenErrors(t *testing.T) {
	refused := errors.New("relay unreachable")
	_, err := NewConsumer(Options{IdleTimeout: time.Second}).Open(context.Background(),
		func(context.Context) (io.ReadCloser, error) { return nil, refused }, func(Event) {})
	assert.ErrorIs(t, err, refused)
	assert.NotErrorIs(t, err, apperrors.ErrStreamInterrupted)
}

func TestOpen_CallerCancelDuringConnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := NewConsumer(Options{IdleTimeout: time.Minute}).Open(ctx, func(ctx context.Context) (io.ReadCloser, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, func(Event) {})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, apperrors.ErrStreamInterrupted)
}

func TestOpen_ConsumesBody(t *testing.T) {
	var rec recorder
	res, err := NewConsumer(Options{IdleTimeout: time.Second}).Open(context.Background(),
		func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("héllo")), nil
		}, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, "héllo", res.Text)
	assert.Equal(t, "héllo", rec.text())
	assert.True(t, res.Opened)
}

func TestOpen_OpenIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	closed := make(chan struct{})
	stuck := func(context.Context) (io.ReadCloser, error) {
		<-release
		return closeNotifier{Reader: strings.NewReader("late"), closed: closed}, nil
	}

	start := time.Now()
	res, err := NewConsumer(Options{MaxDuration: 30 * time.Millisecond}).Open(context.Background(), stuck, func(Event) {})
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, ErrMaxDuration)
	assert.False(t, res.Opened)

	// A body that arrives after the guard fired is released.
	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("late body was not closed")
	}
}

type closeNotifier struct {
	io.Reader
	closed chan struct{}
}

func (c closeNotifier) Close() error {
	close(c.closed)
	return nil
}
