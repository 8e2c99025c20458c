// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands provides the slash command system shared by the TUI and
// the line REPL.
//
// # Key Types
//
//   - Registry: all commands keyed by name and alias
//   - Parser: splits input (quotes respected) and dispatches to handlers
//   - Context: the application state handlers act on
//   - Result: output text and the quit flag for the front end
//   - Completer: tab completion for names, session numbers and paths
//
// # Usage
//
//	registry := commands.NewRegistry()
//	parser := commands.NewParser(registry)
//	res, err := parser.Execute(commands.NewContext(ctx, state, registry), "/load 2")
//
// Session and message numbers are 1-based for users.
package commands
