// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors defines the error taxonomy shared by the relay and its clients.
//
// Import it under an alias to keep the standard library name free:
//
//	import apperrors "github.com/jeranaias/chatrelay/internal/errors"
//
// # Key Types
//
//   - UpstreamError: the completion request could not be established
//   - StreamInterruptedError: a stream ended before its natural end
//   - StorageError: the archive could not be read or written
//
// # Usage
//
//	if errors.Is(err, apperrors.ErrUpstream) {
//	    // nothing was streamed, the user message stays as sent
//	}
//
//	var se *apperrors.StreamInterruptedError
//	if errors.As(err, &se) {
//	    log.Printf("kept %d partial bytes", len(se.Partial))
//	}
//
// No type in this package implies a retry. Recovery is always left to the user.
package errors
