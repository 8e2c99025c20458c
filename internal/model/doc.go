// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the live conversation that the chat clients render and
// the message shape that the archive persists.
//
// # Key Types
//
//   - Message: one message with a role, structured parts and a status
//   - Part: a text fragment or an image attachment
//   - Conversation: the ordered message list with the single in-flight rule
//
// # Streaming
//
// An assistant reply is assembled in place. The caller records the
// conversation generation before sending, then:
//
//	id, err := conv.BeginAssistant(gen)   // on the first byte
//	conv.AppendFragment(gen, id, "Hi")    // per fragment, in arrival order
//	conv.Finish(gen, id, model.StatusComplete)
//
// ReplaceAll and Clear advance the generation, so fragments that belong to a
// stream started before a session load are dropped instead of applied.
//
// # Usage
//
//	conv := model.NewConversation(model.NewAssistantText("Hello!"))
//	if err := conv.Append(model.NewUserMessage("Hi there")); err != nil {
//	    // model.ErrInFlight: a reply is still streaming
//	}
package model
