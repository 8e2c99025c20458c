// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream consumes a relayed reply body incrementally.
//
// Bytes are decoded as UTF-8 with decoder state kept across reads, so a
// multi-byte character split between two network chunks is emitted whole.
// Every decoded chunk becomes one fragment event, in arrival order.
//
// # Key Types
//
//   - Consumer: reads a body and emits events
//   - Event: EventStart (first byte) or EventFragment
//   - Result: fragment and byte counts plus the assembled text
//
// # Termination
//
// A body that reaches EOF ends cleanly. An unexpected EOF, a read error or
// an expired guard ends with an error matching errors.ErrStreamInterrupted.
// Cancellation of the caller's context returns context.Canceled.
//
// Consumer.Open also covers the request: the guards start before the body
// is requested, so a relay that never sends headers is interrupted too.
//
// # Usage
//
//	c := stream.NewConsumer(stream.Options{IdleTimeout: 60 * time.Second})
//	res, err := c.Consume(ctx, body, func(ev stream.Event) {
//	    if ev.Kind == stream.EventFragment {
//	        fmt.Print(ev.Text)
//	    }
//	})
package stream
