// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the client side of the stream relay.
//
// # Key Types
//
//   - Client: posts conversations to /chat and images to /image
//
// # Usage
//
//	client := api.NewClient("http://127.0.0.1:8787")
//	body, err := client.Chat(ctx, conv.Messages())
//	if err != nil {
//	    // *errors.UpstreamError carrying the relay status
//	}
//	defer body.Close()
package api
