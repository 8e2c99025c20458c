// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/tidwall/gjson"

	apperrors "github.com/jeranaias/chatrelay/internal/errors"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxChunkSize is the maximum allowed size for a single SSE line (64KB).
const MaxChunkSize = 64 * 1024

var doneMarker = []byte("[DONE]")

// errLineTooLong is returned when an SSE line exceeds MaxChunkSize.
var errLineTooLong = errors.New("SSE line exceeds maximum size")

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReaderSize(r, 4096),
	}
}

// ReadEvent reads the next SSE event from the stream.
// Returns the event type, data, and any error.
// The event type is empty for chat-completion responses.
// Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for {
		line, err := s.readLine()
		if err != nil {
			if err == io.EOF && len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line ends the event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
		// id:, retry: and ":" comments are ignored
	}
}

// readLine reads one line, bounded by MaxChunkSize.
func (s *SSEReader) readLine() ([]byte, error) {
	var line []byte
	for {
		frag, err := s.reader.ReadSlice('\n')
		line = append(line, frag...)
		if len(line) > MaxChunkSize {
			return nil, errLineTooLong
		}
		switch err {
		case nil:
			return line, nil
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			if len(line) > 0 {
				return line, nil
			}
			return nil, io.EOF
		default:
			return nil, err
		}
	}
}

// =============================================================================
// FRAGMENT STREAM
// =============================================================================

// FragmentStream is a lazy, pull-based sequence of text fragments from a
// streaming completion. It is not safe for concurrent use, except Close.
type FragmentStream struct {
	body      io.ReadCloser
	reader    *SSEReader
	done      bool
	count     int
	closeOnce sync.Once
}

func newFragmentStream(body io.ReadCloser) *FragmentStream {
	return &FragmentStream{
		body:   body,
		reader: NewSSEReader(body),
	}
}

// Next returns the next non-empty fragment in arrival order.
//
// It returns io.EOF after [DONE], a finish_reason or the end of the body.
// A read failure returns an error matching errors.ErrStreamInterrupted.
// An in-band error event returns an *errors.UpstreamError.
func (s *FragmentStream) Next() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}

		_, data, err := s.reader.ReadEvent()
		if err != nil {
			s.done = true
			if err == io.EOF {
				return "", io.EOF
			}
			return "", apperrors.NewStreamInterrupted(err, "")
		}

		if bytes.Equal(data, doneMarker) {
			s.done = true
			return "", io.EOF
		}
		if !gjson.ValidBytes(data) {
			// Skip malformed chunks
			continue
		}

		if e := gjson.GetBytes(data, "error"); e.Exists() {
			s.done = true
			msg := e.Get("message").String()
			if msg == "" {
				msg = e.String()
			}
			return "", apperrors.NewUpstreamError(int(e.Get("code").Int()), e.Get("code").String(), msg)
		}

		content := gjson.GetBytes(data, "choices.0.delta.content").String()
		if gjson.GetBytes(data, "choices.0.finish_reason").String() != "" {
			s.done = true
		}
		if content == "" {
			continue
		}
		s.count++
		return content, nil
	}
}

// Count returns the number of fragments returned so far.
func (s *FragmentStream) Count() int {
	return s.count
}

// Close releases the upstream response body.
func (s *FragmentStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}
