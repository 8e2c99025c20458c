// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry sets up structured logging, tracing and metrics for
// chatrelay.
//
// Logs are JSON records in a size-rotated file. Traces and metrics use the
// OpenTelemetry SDK with stdout exporters pointed at rotated files next to
// the log, so nothing leaves the machine.
//
// # Key Functions
//
//   - InitLogger: slog JSON logger over a lumberjack file, optionally
//     mirrored to a console writer
//   - InitTelemetry: tracer and meter providers, or nothing when disabled
//   - ParseLevel: level names from config
//
// # Usage
//
//	logger, closeLog, err := telemetry.InitLogger(telemetry.LoggerOptions{
//	    File:  "/home/me/.chatrelay/logs/chatrelay.log",
//	    Level: "info",
//	})
//	if err != nil {
//	    return err
//	}
//	defer closeLog()
//
//	shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Options{Enabled: true, Dir: logDir})
//	if err != nil {
//	    return err
//	}
//	defer shutdown(context.Background())
package telemetry
