// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// SENTINELS
// =============================================================================

var (
	// ErrUpstream matches every UpstreamError.
	ErrUpstream = errors.New("upstream request failed")

	// ErrStreamInterrupted matches every StreamInterruptedError.
	ErrStreamInterrupted = errors.New("stream interrupted")

	// ErrStorage matches every StorageError.
	ErrStorage = errors.New("storage failure")

	// ErrNotConfigured indicates the upstream API key is not set.
	ErrNotConfigured = errors.New("upstream API key not configured")

	// ErrAuthFailed indicates the upstream rejected the credentials.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates the upstream throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the configured model does not exist upstream.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the upstream account has no credits left.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// =============================================================================
// UPSTREAM ERROR
// =============================================================================

// UpstreamError reports that a completion request could not be established.
// It is always returned before any fragment has been produced.
type UpstreamError struct {
	// Status is the HTTP status returned by the upstream (0 for transport errors).
	Status int
	// Code is the provider error code, when one was supplied.
	Code string
	// Message is the human readable reason.
	Message string
	// Err is the underlying cause or one of the sentinel errors above.
	Err error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Status > 0 && e.Code != "":
		return fmt.Sprintf("upstream error [%s] (HTTP %d): %s", e.Code, e.Status, msg)
	case e.Status > 0:
		return fmt.Sprintf("upstream error (HTTP %d): %s", e.Status, msg)
	default:
		return fmt.Sprintf("upstream error: %s", msg)
	}
}

// Unwrap returns the underlying cause.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is matches ErrUpstream and any other UpstreamError.
func (e *UpstreamError) Is(target error) bool {
	if target == ErrUpstream {
		return true
	}
	_, ok := target.(*UpstreamError)
	return ok
}

// NewUpstreamError creates an UpstreamError from an HTTP status and the
// provider's error payload. Well-known statuses are mapped onto sentinels.
func NewUpstreamError(status int, code, message string) *UpstreamError {
	return &UpstreamError{
		Status:  status,
		Code:    code,
		Message: message,
		Err:     sentinelForStatus(status),
	}
}

// WrapUpstream wraps a transport or encoding error as an UpstreamError.
func WrapUpstream(err error) *UpstreamError {
	return &UpstreamError{Err: err}
}

func sentinelForStatus(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusPaymentRequired:
		return ErrInsufficientCredits
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return nil
	}
}

// =============================================================================
// STREAM INTERRUPTED
// =============================================================================

// StreamInterruptedError reports a stream that ended without its natural
// terminator: connection loss, a stalled upstream or the max-duration guard.
type StreamInterruptedError struct {
	// Cause is what ended the stream.
	Cause error
	// Partial is the text received before the interruption.
	Partial string
}

func (e *StreamInterruptedError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream interrupted after %d bytes: %v", len(e.Partial), e.Cause)
	}
	return fmt.Sprintf("stream interrupted: %v", e.Cause)
}

// Unwrap returns the cause.
func (e *StreamInterruptedError) Unwrap() error {
	return e.Cause
}

// Is matches ErrStreamInterrupted.
func (e *StreamInterruptedError) Is(target error) bool {
	return target == ErrStreamInterrupted
}

// NewStreamInterrupted creates a StreamInterruptedError.
func NewStreamInterrupted(cause error, partial string) *StreamInterruptedError {
	return &StreamInterruptedError{Cause: cause, Partial: partial}
}

// =============================================================================
// STORAGE ERROR
// =============================================================================

// StorageError reports a failed read or write of persisted client state.
// In-memory state stays authoritative when this is returned from a mutation.
type StorageError struct {
	Op  string // "load", "persist", "migrate", ...
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is matches ErrStorage.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// NewStorageError creates a StorageError.
func NewStorageError(op, key string, err error) *StorageError {
	return &StorageError{Op: op, Key: key, Err: err}
}

// =============================================================================
// HELPERS
// =============================================================================

// StatusFor returns the relay HTTP status for an error returned by the
// completion client before any fragment was written.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}
