// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatrelay.
//
// Settings are read from a TOML file (JSON is accepted too), layered over
// built-in defaults, then overridden from the environment and validated.
//
// # Key Types
//
//   - Config: Main configuration structure with all sections
//   - ServerConfig: Stream relay listener and limits
//   - UpstreamConfig: Completion provider, key and models
//   - ClientConfig: Relay URL, stream guards and greeting for the chat front-ends
//   - ArchiveConfig: Session storage backend and data directory
//   - Duration: time.Duration that reads "90s" style strings
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CHATRELAY_*, OPENAI_API_KEY, OPENROUTER_API_KEY)
//   - ~/.chatrelay/config.toml, or the file given with --config
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access settings:
//
//	port := cfg.Server.Port
//	idle := cfg.Client.IdleTimeout.Duration
package config
