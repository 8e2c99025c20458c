// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the client-side session archive.
//
// Saved conversations are kept as one versioned JSON document under a fixed
// key in a small key/value backend. Every mutation rewrites the whole
// document atomically, so a crash never leaves a half-written archive.
//
// # Key Types
//
//   - Archive: ordered list of saved sessions with save, rename, delete and export
//   - Session: deep copy of a conversation taken at save time
//   - KV: key/value backend interface
//   - FileKV: one JSON file per key, written with an atomic rename
//   - SQLiteKV: single-table SQLite backend
//
// # Schema
//
// The document carries a "version" field. Older documents are migrated in
// memory when loaded and written back on the next mutation. Version 1 was a
// bare JSON array whose message content embedded markdown image tags.
//
// # Usage
//
//	kv, _ := storage.NewFileKV(dataDir)
//	archive, err := storage.Open(kv)
//	idx, err := archive.Save(conv.Snapshot())
//	for _, s := range archive.List() {
//	    fmt.Println(s.Index+1, s.Title)
//	}
package storage
