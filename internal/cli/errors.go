// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/chatrelay/internal/config"
	apperrors "github.com/jeranaias/chatrelay/internal/errors"
	"github.com/jeranaias/chatrelay/internal/storage"
)

// =============================================================================
// EXIT CODES - Specific codes for different error categories
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitInterrupted indicates a reply stream that ended early, either cut
	// off by the relay or stopped with Ctrl+C
	ExitInterrupted = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates the upstream rejected the API key
	ExitAuthError = 4
	// ExitNetworkError indicates the relay or upstream failed
	ExitNetworkError = 5
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 64
)

// =============================================================================
// ERROR TYPES FOR STRUCTURED ERROR HANDLING
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "sessions", "config")
	Action  string // Action being performed (e.g., "rename", "init")
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Command, e.Action, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// UsageError is an invalid flag or argument value.
type UsageError struct {
	Field  string
	Value  string
	Reason string
}

func (e *UsageError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s", e.Field, e.Value, e.Reason)
}

// NewCommandError creates a new command error.
func NewCommandError(command, action string, err error) error {
	return &CommandError{Command: command, Action: action, Err: err}
}

// =============================================================================
// ERROR DISPLAY AND EXIT CODES
// =============================================================================

// DisplayError writes err to w in a consistent format.
func DisplayError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

// GetExitCode determines the appropriate exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usageErr *UsageError
	var validateErrs config.ValidateErrors
	switch {
	case errors.Is(err, apperrors.ErrStreamInterrupted), errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.As(err, &usageErr):
		return ExitUsageError
	case errors.As(err, &validateErrs):
		return ExitConfigError
	case errors.Is(err, apperrors.ErrNotConfigured), errors.Is(err, apperrors.ErrAuthFailed):
		return ExitAuthError
	case errors.Is(err, apperrors.ErrUpstream):
		return ExitNetworkError
	case errors.Is(err, storage.ErrSessionNotFound):
		return ExitNotFoundError
	}
	return ExitGeneralError
}
