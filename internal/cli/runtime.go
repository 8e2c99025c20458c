// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/jeranaias/chatrelay/internal/api"
	"github.com/jeranaias/chatrelay/internal/app"
	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/server"
	"github.com/jeranaias/chatrelay/internal/storage"
	"github.com/jeranaias/chatrelay/internal/stream"
	"github.com/jeranaias/chatrelay/internal/telemetry"
)

// SQLiteFile is the database name used by the sqlite archive backend.
const SQLiteFile = "chatrelay.db"

// =============================================================================
// RUNTIME
// =============================================================================

// runtime is what a command needs after startup: the effective config, the
// file logger and everything to release on exit.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func() error
}

// loadConfig reads --config when given, otherwise the default location.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	if o.configPath != "" {
		return config.LoadFromPath(o.configPath)
	}
	return config.Load()
}

// start loads config and brings up logging and telemetry. console mirrors
// log records to stderr when --debug is set; the full-screen chat passes
// false so nothing is drawn over the UI.
func (o *globalOptions) start(ctx context.Context, console bool) (*runtime, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	logFile, err := cfg.LogFile()
	if err != nil {
		return nil, err
	}
	var consoleOut io.Writer
	if o.debug && console {
		consoleOut = o.stderr
	}
	logger, closeLog, err := telemetry.InitLogger(telemetry.LoggerOptions{
		File:    logFile,
		Level:   cfg.Logging.Level,
		Debug:   o.debug,
		Console: consoleOut,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start logging: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger, closers: []func() error{closeLog}}

	for _, key := range cfg.UnknownKeys() {
		logger.Warn("CONFIG_UNKNOWN_KEY", "key", key)
	}

	shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Options{
		Enabled: cfg.Telemetry.Enabled,
		Dir:     filepath.Dir(logFile),
		Version: server.Version,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to start telemetry: %w", err)
	}
	// Telemetry flushes before the log file closes.
	rt.closers = append([]func() error{func() error { return shutdown(context.Background()) }}, rt.closers...)
	return rt, nil
}

// Close releases resources in the order they were registered.
func (r *runtime) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// openArchive opens the configured archive backend. The store is closed by
// Close.
func (r *runtime) openArchive() (*storage.Archive, storage.KV, error) {
	dir, err := r.cfg.DataDir()
	if err != nil {
		return nil, nil, err
	}

	var kv storage.KV
	switch r.cfg.Archive.Backend {
	case "sqlite":
		kv, err = storage.NewSQLiteKV(filepath.Join(dir, SQLiteFile))
	default:
		kv, err = storage.NewFileKV(dir)
	}
	if err != nil {
		return nil, nil, err
	}
	r.closers = append([]func() error{kv.Close}, r.closers...)

	archive, err := storage.Open(kv, storage.WithLogger(r.logger))
	if err != nil {
		return nil, nil, err
	}
	return archive, kv, nil
}

// newState wires the application core to the relay at relayURL, or the
// configured relay when relayURL is empty.
func (r *runtime) newState(relayURL, defaultTheme string) (*app.State, *api.Client, error) {
	archive, kv, err := r.openArchive()
	if err != nil {
		return nil, nil, err
	}
	if relayURL == "" {
		relayURL = r.cfg.Client.RelayURL
	}
	client := api.NewClient(relayURL, api.WithTimeout(r.cfg.Upstream.Timeout.Duration))

	state, err := app.New(app.Deps{
		Archive: archive,
		Prefs:   kv,
		Relay:   client,
		Stream: stream.Options{
			MaxDuration: r.cfg.Client.MaxStreamDuration.Duration,
			IdleTimeout: r.cfg.Client.IdleTimeout.Duration,
		},
		Greeting:       r.cfg.Client.Greeting,
		DefaultTheme:   defaultTheme,
		MaxAttachments: r.cfg.Client.MaxAttachments,
		Logger:         r.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return state, client, nil
}
