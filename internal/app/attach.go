// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/chatrelay/internal/model"
)

// =============================================================================
// ATTACHMENTS
// =============================================================================

// MaxAttachmentBytes matches the relay's in-memory image limit.
const MaxAttachmentBytes = 10 << 20

var (
	// ErrTooManyAttachments is returned when the pending list is full.
	ErrTooManyAttachments = errors.New("too many attachments")

	// ErrNotImage is returned for files that do not sniff as an image.
	ErrNotImage = errors.New("file is not an image")
)

// Attached is the result of Attach. DescribeErr records a failed image
// description; the attachment is kept without one.
type Attached struct {
	Attachment  *model.Attachment
	DescribeErr error
}

// Attach reads the image at path, asks the relay to describe it and adds it
// to the pending attachments of the next message.
func (s *State) Attach(ctx context.Context, path string) (Attached, error) {
	s.mu.Lock()
	full := len(s.pending) >= s.maxAttachments
	s.mu.Unlock()
	if full {
		return Attached{}, fmt.Errorf("%w: at most %d per message", ErrTooManyAttachments, s.maxAttachments)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Attached{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	if info.IsDir() {
		return Attached{}, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxAttachmentBytes {
		return Attached{}, fmt.Errorf("attachment %s is larger than %d MB", filepath.Base(path), MaxAttachmentBytes>>20)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Attached{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return Attached{}, fmt.Errorf("%w: %s is %s", ErrNotImage, filepath.Base(path), mime)
	}

	att := model.NewAttachment(filepath.Base(path), mime, data)
	res := Attached{Attachment: att}

	desc, err := s.relay.DescribeImage(ctx, att.Name, data)
	if err != nil {
		s.logger.Warn("IMAGE_DESCRIBE_FAILED", "name", att.Name, "error", err)
		res.DescribeErr = err
	} else {
		att.Description = strings.TrimSpace(desc)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= s.maxAttachments {
		return Attached{}, fmt.Errorf("%w: at most %d per message", ErrTooManyAttachments, s.maxAttachments)
	}
	s.pending = append(s.pending, att)
	return res, nil
}

// PendingAttachments returns the attachments of the next message.
func (s *State) PendingAttachments() []*model.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Attachment, len(s.pending))
	copy(out, s.pending)
	return out
}

// ClearAttachments drops the pending attachments.
func (s *State) ClearAttachments() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}
