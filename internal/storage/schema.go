// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jeranaias/chatrelay/internal/model"
)

// =============================================================================
// SCHEMA
// =============================================================================

// SchemaVersion is the version written by this build.
const SchemaVersion = 2

// document is the persisted archive.
type document struct {
	Version  int       `json:"version"`
	Sessions []Session `json:"sessions"`
}

// migration upgrades a raw document from version N to N+1.
type migration func(raw []byte, now time.Time) ([]byte, error)

// migrations is indexed by the source version.
var migrations = map[int]migration{
	1: migrateV1ToV2,
}

// detectVersion returns the schema version of raw. A bare array is the
// legacy, version-less form.
func detectVersion(raw []byte) (int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return SchemaVersion, nil
	}
	if !gjson.ValidBytes(trimmed) {
		return 0, fmt.Errorf("archive is not valid JSON")
	}
	if trimmed[0] == '[' {
		return 1, nil
	}
	v := gjson.GetBytes(trimmed, "version")
	if !v.Exists() || v.Type != gjson.Number {
		return 0, fmt.Errorf("archive has no schema version")
	}
	return int(v.Int()), nil
}

// decodeDocument parses raw, migrating it to SchemaVersion when needed.
// It reports whether a migration ran.
func decodeDocument(raw []byte, now time.Time) (document, bool, error) {
	version, err := detectVersion(raw)
	if err != nil {
		return document{}, false, err
	}
	if version > SchemaVersion {
		return document{}, false, fmt.Errorf("archive schema version %d is newer than supported version %d", version, SchemaVersion)
	}
	if version < 1 {
		return document{}, false, fmt.Errorf("invalid archive schema version %d", version)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return document{Version: SchemaVersion}, false, nil
	}

	migrated := false
	for version < SchemaVersion {
		step, ok := migrations[version]
		if !ok {
			return document{}, false, fmt.Errorf("no migration from schema version %d", version)
		}
		if raw, err = step(raw, now); err != nil {
			return document{}, false, fmt.Errorf("migrate v%d to v%d: %w", version, version+1, err)
		}
		version++
		migrated = true
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return document{}, false, fmt.Errorf("failed to parse archive: %w", err)
	}
	for i := range doc.Sessions {
		doc.Sessions[i].Messages = freeze(doc.Sessions[i].Messages)
	}
	return doc, migrated, nil
}

// encodeDocument serializes the archive in the current schema.
func encodeDocument(sessions []Session) ([]byte, error) {
	if sessions == nil {
		sessions = []Session{}
	}
	return json.MarshalIndent(document{Version: SchemaVersion, Sessions: sessions}, "", "  ")
}

// freeze marks stray streaming messages as incomplete.
func freeze(msgs []model.Message) []model.Message {
	for i := range msgs {
		if msgs[i].Status == "" {
			msgs[i].Status = model.StatusComplete
		}
		if msgs[i].Status == model.StatusStreaming {
			msgs[i].Status = model.StatusIncomplete
		}
	}
	return msgs
}

// =============================================================================
// V1 -> V2
// =============================================================================

type legacySession struct {
	Title    string          `json:"title"`
	Messages []legacyMessage `json:"messages"`
}

type legacyMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// markdownImage matches ![label](url).
var markdownImage = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)\)`)

// dataURIMime extracts the media type of a data URI.
var dataURIMime = regexp.MustCompile(`^data:([^;,]+)[;,]`)

func migrateV1ToV2(raw []byte, now time.Time) ([]byte, error) {
	var legacy []legacySession
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(legacy))
	for _, ls := range legacy {
		s := Session{
			Title:     ls.Title,
			CreatedAt: now,
			UpdatedAt: now,
			Messages:  make([]model.Message, 0, len(ls.Messages)),
		}
		for _, lm := range ls.Messages {
			id := lm.ID
			if id == "" {
				id = model.NewID()
			}
			s.Messages = append(s.Messages, model.Message{
				ID:        id,
				Role:      model.Role(lm.Role),
				Parts:     splitLegacyContent(lm.Content),
				Status:    model.StatusComplete,
				Timestamp: now,
			})
		}
		if s.Title == "" {
			s.Title = deriveTitle(s.Messages)
		}
		sessions = append(sessions, s)
	}
	return json.Marshal(document{Version: 2, Sessions: sessions})
}

// splitLegacyContent moves embedded markdown image tags into attachment
// parts. The remaining text, if any, becomes the leading text part.
func splitLegacyContent(content string) []model.Part {
	matches := markdownImage.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		if content == "" {
			return nil
		}
		return []model.Part{model.TextPart(content)}
	}

	var parts []model.Part
	if text := strings.TrimSpace(markdownImage.ReplaceAllString(content, "")); text != "" {
		parts = append(parts, model.TextPart(text))
	}
	for _, m := range matches {
		att := &model.Attachment{Name: m[1], DataURI: m[2]}
		if mm := dataURIMime.FindStringSubmatch(m[2]); mm != nil {
			att.MIMEType = mm[1]
		}
		parts = append(parts, model.AttachmentPart(att))
	}
	return parts
}
