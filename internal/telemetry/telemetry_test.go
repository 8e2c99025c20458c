// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
)

func restoreDefaults(t *testing.T) {
	t.Helper()
	prevLogger := slog.Default()
	prevTP := otel.GetTracerProvider()
	prevMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		slog.SetDefault(prevLogger)
		if otel.GetTracerProvider() != prevTP {
			otel.SetTracerProvider(prevTP)
		}
		if otel.GetMeterProvider() != prevMP {
			otel.SetMeterProvider(prevMP)
		}
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInitLogger_WritesJSONFile(t *testing.T) {
	restoreDefaults(t)
	path := filepath.Join(t.TempDir(), "logs", "chatrelay.log")

	logger, closeLog, err := InitLogger(LoggerOptions{File: path, Level: "info"})
	require.NoError(t, err)

	logger.Debug("HIDDEN")
	logger.Info("SERVER_START", "addr", "127.0.0.1:8787")
	slog.Warn("VIA_DEFAULT")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	first := gjson.Parse(lines[0])
	assert.Equal(t, "SERVER_START", first.Get("msg").String())
	assert.Equal(t, "127.0.0.1:8787", first.Get("addr").String())
	assert.Equal(t, ServiceName, first.Get("service").String())
	assert.Equal(t, "VIA_DEFAULT", gjson.Get(lines[1], "msg").String())
}

func TestInitLogger_DebugConsole(t *testing.T) {
	restoreDefaults(t)
	path := filepath.Join(t.TempDir(), "chatrelay.log")
	var console bytes.Buffer

	logger, closeLog, err := InitLogger(LoggerOptions{File: path, Level: "error", Debug: true, Console: &console})
	require.NoError(t, err)
	logger.With("component", "relay").Debug("STREAM_START", "fragments", 0)
	require.NoError(t, closeLog())

	assert.Contains(t, console.String(), "msg=STREAM_START")
	assert.Contains(t, console.String(), "component=relay")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "STREAM_START", gjson.GetBytes(data, "msg").String())
}

func TestInitLogger_Errors(t *testing.T) {
	restoreDefaults(t)
	if _, _, err := InitLogger(LoggerOptions{}); err == nil {
		t.Error("InitLogger() without a file error = nil, want error")
	}
	if _, _, err := InitLogger(LoggerOptions{File: filepath.Join(t.TempDir(), "x.log"), Level: "chatty"}); err == nil {
		t.Error("InitLogger() with a bad level error = nil, want error")
	}
}

func TestInitTelemetry_Disabled(t *testing.T) {
	restoreDefaults(t)
	before := otel.GetTracerProvider()
	dir := filepath.Join(t.TempDir(), "logs")

	shutdown, err := InitTelemetry(context.Background(), Options{Enabled: false, Dir: dir})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	assert.Equal(t, before, otel.GetTracerProvider())
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "disabled telemetry must not create files")
}

func TestInitTelemetry_ExportsToFiles(t *testing.T) {
	restoreDefaults(t)
	dir := t.TempDir()
	ctx := context.Background()

	shutdown, err := InitTelemetry(ctx, Options{Enabled: true, Dir: dir, Version: "test"})
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry_test").Start(ctx, "relay.chat")
	span.End()
	counter, err := otel.Meter("telemetry_test").Int64Counter("relay.requests")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	require.NoError(t, shutdown(ctx))

	traces, err := os.ReadFile(filepath.Join(dir, "traces.log"))
	require.NoError(t, err)
	assert.Equal(t, "relay.chat", gjson.GetBytes(traces, "Name").String())

	metrics, err := os.ReadFile(filepath.Join(dir, "metrics.log"))
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "relay.requests")
	assert.Contains(t, string(metrics), ServiceName)
}
