// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the chatrelay packages.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe file writing (temp file, fsync, rename)
//   - IsTempFile: reports whether a path is an AtomicWriteFile temp file
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - CollapseWhitespace: folds runs of whitespace into single spaces
//   - SanitizeFilename: turns a title into a portable file name
//
// # Usage
//
//	// Persist the archive document without ever exposing a partial file
//	err := util.AtomicWriteFile(path, data, 0600)
//
//	// Derive a short display label
//	label := util.TruncateRunes(util.CollapseWhitespace(text), 30)
package util
