// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the full-screen chat interface.
//
// The model renders the conversation held by an app.State, streams replies
// through the relay on a command goroutine and posts each applied event
// back into the program. Slash commands run through the commands package.
//
// # Key Types
//
//   - Model: Bubble Tea model for the chat view
//   - KeyMap: Keyboard bindings
//   - StreamEventMsg, StreamDoneMsg: Streaming progress and outcome
//   - Sender: Anything that can post messages into the program
//
// # Usage
//
//	err := chat.Run(ctx, state, chat.RunOptions{Watch: true})
package chat
