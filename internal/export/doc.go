// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders archived sessions as files.
//
// # Key Types
//
//   - Exporter: the rendering interface, also accepted by storage.Archive.Export
//   - TextExporter: the plain "ROLE: content" transcript
//   - MarkdownExporter, JSONExporter, HTMLExporter: richer renderings
//   - Options: metadata, timestamps and HTML theme
//
// # Supported Formats
//
//   - txt: blocks joined by a blank line, no trailing newline
//   - md: frontmatter, heading and one section per message
//   - json: the session in archive schema form
//   - html: standalone page with chroma-highlighted code blocks
//
// # Usage
//
//	exp, err := export.ForFormat("md", nil)
//	if err != nil {
//	    return err
//	}
//	path, err := export.ExportToFile(&session, exp, "./exports")
package export
