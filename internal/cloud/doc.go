// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the upstream completion client used by the relay.
//
// Both supported providers, OpenAI and OpenRouter, speak the OpenAI
// chat-completions protocol with Server-Sent Events streaming. Responses are
// exposed as a lazy sequence of text fragments.
//
// # Key Types
//
//   - Client: HTTP client for the completion API
//   - Options: provider, credentials and model selection
//   - Message: chat message with optional image attachments
//   - FragmentStream: pull-based reader over a streaming response
//   - SSEReader: Server-Sent Events parser
//
// # Usage
//
//	client := cloud.NewClient(cloud.Options{Provider: cloud.ProviderOpenAI, APIKey: key})
//	stream, err := client.Complete(ctx, []cloud.Message{{Role: "user", Content: "Hello"}})
//	if err != nil {
//	    // *errors.UpstreamError, nothing was produced
//	}
//	defer stream.Close()
//	for {
//	    frag, err := stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
//
// # Security
//
// API keys are never logged. All requests use TLS 1.2 or later.
package cloud
