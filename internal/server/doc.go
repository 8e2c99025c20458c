// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP stream relay.
//
// The relay accepts a conversation from a client, opens one streaming
// completion upstream and re-emits the fragments as a plain UTF-8 byte
// stream, flushing after every fragment.
//
// # Endpoints
//
//   - POST /chat   - stream a reply as text/plain
//   - POST /image  - describe an uploaded image (multipart field "image")
//   - GET  /health - health check and upstream status
//
// # Stream Termination
//
// A reply that ends normally closes the chunked body with its terminator.
// A reply that fails after the first byte aborts the connection with
// http.ErrAbortHandler, so clients observe an unexpected EOF instead of a
// truncated but seemingly complete body. Failures before the first byte are
// reported as a JSON {"error": "..."} body with a non-2xx status.
//
// # Middleware
//
//   - Recovery with stack logging (re-panics http.ErrAbortHandler)
//   - Security headers
//   - CORS for the configured origins
//   - Request logging through slog
//   - OpenTelemetry spans and request metrics
//
// # Usage
//
//	srv := server.New(server.Config{Port: 8787}, cloud.NewClient(opts))
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
