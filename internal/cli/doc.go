// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the chatrelay command tree.
//
// Every command is a cobra.Command built from a shared set of global
// options, so the tree can be driven against any reader and writers in
// tests. Commands that talk to the relay or the archive start a runtime
// first: effective config, the rotating log file and telemetry.
//
// # Key Types
//
//   - globalOptions: --config, --debug and the process streams
//   - runtime: Effective config, logger and resources to release
//   - UsageError, CommandError: Structured errors mapped to exit codes
//
// # Usage
//
//	func main() {
//	    os.Exit(cli.Execute())
//	}
//
// # Commands Overview
//
//   - serve: Run the streaming relay
//   - chat: Full-screen chat, or line mode with --plain
//   - ask: One-shot question streamed to stdout
//   - sessions: list, show, rename, delete and export saved conversations
//   - config: show, init, path, get, set and keys
//   - status: Relay health and archive summary
package cli
