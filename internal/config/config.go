// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/chatrelay/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatrelay configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" json:"server"`
	Upstream  UpstreamConfig  `toml:"upstream" json:"upstream"`
	Client    ClientConfig    `toml:"client" json:"client"`
	Archive   ArchiveConfig   `toml:"archive" json:"archive"`
	Logging   LoggingConfig   `toml:"logging" json:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry" json:"telemetry"`

	// undecoded holds keys found in the file that match no field.
	undecoded []string
}

// ServerConfig configures the stream relay (`chatrelay serve`).
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`
	Port int    `toml:"port" json:"port"`
	// MaxStreamDuration bounds one relayed reply. 0 disables the guard.
	MaxStreamDuration Duration `toml:"max_stream_duration" json:"max_stream_duration"`
	MaxRequestBytes   int64    `toml:"max_request_bytes" json:"max_request_bytes"`
	// CORSOrigins lists browser origins allowed to call the relay.
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins"`
}

// UpstreamConfig selects and authenticates the completion provider.
type UpstreamConfig struct {
	// Provider is "openai" or "openrouter".
	Provider string `toml:"provider" json:"provider"`
	APIKey   string `toml:"api_key" json:"api_key"`
	// BaseURL overrides the provider's API root. Empty uses the default.
	BaseURL     string `toml:"base_url" json:"base_url"`
	Model       string `toml:"model" json:"model"`
	VisionModel string `toml:"vision_model" json:"vision_model"`
	ImagePrompt string `toml:"image_prompt" json:"image_prompt"`
	// SiteURL and SiteName are sent to OpenRouter for attribution.
	SiteURL  string   `toml:"site_url" json:"site_url"`
	SiteName string   `toml:"site_name" json:"site_name"`
	Timeout  Duration `toml:"timeout" json:"timeout"`
}

// ClientConfig configures the chat front-ends (TUI, REPL and ask).
type ClientConfig struct {
	RelayURL          string   `toml:"relay_url" json:"relay_url"`
	MaxStreamDuration Duration `toml:"max_stream_duration" json:"max_stream_duration"`
	// IdleTimeout ends a reply when no byte arrives for this long.
	IdleTimeout    Duration `toml:"idle_timeout" json:"idle_timeout"`
	Greeting       string   `toml:"greeting" json:"greeting"`
	MaxAttachments int      `toml:"max_attachments" json:"max_attachments"`
}

// ArchiveConfig selects where saved sessions live.
type ArchiveConfig struct {
	// Backend is "file" (one JSON document per key) or "sqlite".
	Backend string `toml:"backend" json:"backend"`
	// DataDir defaults to the config directory.
	DataDir string `toml:"data_dir" json:"data_dir"`
	// Watch reloads the archive when another process changes it.
	Watch bool `toml:"watch" json:"watch"`
}

// LoggingConfig configures the structured log file.
type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
	// File defaults to <data_dir>/logs/chatrelay.log.
	File string `toml:"file" json:"file"`
}

// TelemetryConfig toggles OpenTelemetry traces and metrics.
type TelemetryConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
}

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration written as a string ("90s", "5m") in config
// files.
type Duration struct {
	time.Duration
}

var (
	_ encoding.TextUnmarshaler = (*Duration)(nil)
	_ encoding.TextMarshaler   = Duration{}
)

// UnmarshalText parses a Go duration string. A bare integer is read as
// seconds.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		d.Duration = time.Duration(secs) * time.Second
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// MarshalText writes the duration in Go notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              "127.0.0.1",
			Port:              8787,
			MaxStreamDuration: Duration{5 * time.Minute},
			MaxRequestBytes:   25 * 1024 * 1024,
			CORSOrigins:       []string{"http://localhost:3000"},
		},
		Upstream: UpstreamConfig{
			Provider:    "openai",
			ImagePrompt: "Describe the image",
			SiteName:    "chatrelay",
			Timeout:     Duration{60 * time.Second},
		},
		Client: ClientConfig{
			RelayURL:          "http://127.0.0.1:8787",
			MaxStreamDuration: Duration{5 * time.Minute},
			IdleTimeout:       Duration{60 * time.Second},
			Greeting:          "Hello! I'm your virtual assistant. How can I help you today?",
			MaxAttachments:    3,
		},
		Archive: ArchiveConfig{
			Backend: "file",
			Watch:   true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the chatrelay configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatrelay"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataDir returns archive.data_dir, falling back to the config directory.
func (c *Config) DataDir() (string, error) {
	if c.Archive.DataDir != "" {
		return expandHome(c.Archive.DataDir)
	}
	return ConfigDir()
}

// LogFile returns logging.file, falling back to <data_dir>/logs/chatrelay.log.
func (c *Config) LogFile() (string, error) {
	if c.Logging.File != "" {
		return expandHome(c.Logging.File)
	}
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs", "chatrelay.log"), nil
}

// expandHome resolves a leading "~/" against the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// ensureSecurePermissions tightens a config file to 0600, since it may hold
// an API key.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ~/.chatrelay/config.toml when it exists, otherwise starts from
// the defaults. Environment overrides are applied last and the result is
// validated.
func Load() (*Config, error) {
	path, err := ConfigPathTOML()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr == nil {
		return LoadFromPath(path)
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file. Keys missing from
// the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	var keys []string
	for _, key := range md.Undecoded() {
		keys = append(keys, key.String())
	}
	cfg.undecoded = leafKeys(keys)
	return nil
}

// leafKeys drops every key that is the parent table of another key, so an
// unknown [table] with keys is reported once per key and an empty one once.
func leafKeys(keys []string) []string {
	var out []string
	for _, k := range keys {
		parent := false
		for _, other := range keys {
			if strings.HasPrefix(other, k+".") {
				parent = true
				break
			}
		}
		if !parent {
			out = append(out, k)
		}
	}
	return out
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// UnknownKeys returns keys from the loaded file that match no setting.
func (c *Config) UnknownKeys() []string {
	return append([]string(nil), c.undecoded...)
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to path with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# chatrelay configuration file\n")
	buf.WriteString("# Generated by chatrelay - edit with care\n")
	buf.WriteString("#\n")
	buf.WriteString("# Environment overrides: CHATRELAY_PROVIDER, OPENAI_API_KEY, OPENROUTER_API_KEY,\n")
	buf.WriteString("# CHATRELAY_MODEL, CHATRELAY_RELAY_URL, CHATRELAY_PORT, CHATRELAY_DATA_DIR\n\n")
	if err := cfg.EncodeTOML(&buf); err != nil {
		return err
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// EncodeTOML writes the configuration as TOML.
func (c *Config) EncodeTOML(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var (
	validProviders = map[string]bool{"openai": true, "openrouter": true}
	validBackends  = map[string]bool{"file": true, "sqlite": true}
	validLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate checks every setting and returns a ValidateErrors listing all
// problems, or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port %d out of range (1-65535)", c.Server.Port)
	}
	if c.Server.MaxStreamDuration.Duration < 0 {
		add("server.max_stream_duration", "must not be negative")
	}
	if c.Server.MaxRequestBytes <= 0 {
		add("server.max_request_bytes", "must be positive")
	}
	for _, origin := range c.Server.CORSOrigins {
		if origin == "*" {
			continue
		}
		if err := validateHTTPURL(origin); err != nil {
			add("server.cors_origins", "%q: %v", origin, err)
		}
	}

	// Upstream
	if !validProviders[c.Upstream.Provider] {
		add("upstream.provider", "invalid provider '%s', must be one of: openai, openrouter", c.Upstream.Provider)
	}
	if c.Upstream.BaseURL != "" {
		if err := validateHTTPURL(c.Upstream.BaseURL); err != nil {
			add("upstream.base_url", "%v", err)
		}
	}
	if c.Upstream.Timeout.Duration < 0 {
		add("upstream.timeout", "must not be negative")
	}

	// Client
	if err := validateHTTPURL(c.Client.RelayURL); err != nil {
		add("client.relay_url", "%v", err)
	}
	if c.Client.MaxStreamDuration.Duration < 0 {
		add("client.max_stream_duration", "must not be negative")
	}
	if c.Client.IdleTimeout.Duration < 0 {
		add("client.idle_timeout", "must not be negative")
	}
	if c.Client.MaxAttachments < 0 || c.Client.MaxAttachments > 10 {
		add("client.max_attachments", "%d out of range (0-10)", c.Client.MaxAttachments)
	}

	// Archive
	if !validBackends[c.Archive.Backend] {
		add("archive.backend", "invalid backend '%s', must be one of: file, sqlite", c.Archive.Backend)
	}

	// Logging
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("URL has no host")
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CHATRELAY_PROVIDER: overrides upstream.provider
//   - OPENAI_API_KEY: overrides upstream.api_key when the provider is openai
//   - OPENROUTER_API_KEY: overrides upstream.api_key when the provider is openrouter
//   - CHATRELAY_MODEL: overrides upstream.model
//   - CHATRELAY_RELAY_URL: overrides client.relay_url
//   - CHATRELAY_PORT: overrides server.port
//   - CHATRELAY_DATA_DIR: overrides archive.data_dir
func (c *Config) ApplyEnvOverrides() {
	if provider := os.Getenv("CHATRELAY_PROVIDER"); provider != "" {
		c.Upstream.Provider = strings.ToLower(provider)
	}

	switch c.Upstream.Provider {
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			c.Upstream.APIKey = key
		}
	case "openrouter":
		if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
			c.Upstream.APIKey = key
		}
	}

	if model := os.Getenv("CHATRELAY_MODEL"); model != "" {
		c.Upstream.Model = model
	}

	if relay := os.Getenv("CHATRELAY_RELAY_URL"); relay != "" {
		c.Client.RelayURL = relay
	}

	if port := os.Getenv("CHATRELAY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		} else {
			fmt.Fprintf(os.Stderr, "Warning: ignoring CHATRELAY_PORT=%q: not a number\n", port)
		}
	}

	if dir := os.Getenv("CHATRELAY_DATA_DIR"); dir != "" {
		c.Archive.DataDir = dir
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value by its TOML key (e.g. "server.port").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a configuration value by its TOML key. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct || field.Type() == reflect.TypeOf(Duration{}) {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// fieldByTag finds the exported field of struct v whose toml tag is name.
func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := strings.Split(sf.Tag.Get("toml"), ",")[0]
		if strings.EqualFold(tag, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		if u, ok := field.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(strVal))
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strings.ToLower(strVal))
			if err != nil {
				boolVal = strings.EqualFold(strVal, "yes")
			}
			field.SetBool(boolVal)
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, item := range strings.Split(strVal, ",") {
					if item = strings.TrimSpace(item); item != "" {
						items = append(items, item)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// AllKeys returns every configuration key in dot notation, sorted.
func AllKeys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		if !section.IsExported() {
			continue
		}
		prefix := section.Tag.Get("toml")
		st := section.Type
		for j := 0; j < st.NumField(); j++ {
			keys = append(keys, prefix+"."+st.Field(j).Tag.Get("toml"))
		}
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	clone.undecoded = append([]string(nil), c.undecoded...)
	return &clone
}

// Redacted returns a copy with secrets masked, safe to print or log.
func (c *Config) Redacted() *Config {
	safe := c.Clone()
	if safe.Upstream.APIKey != "" {
		safe.Upstream.APIKey = "[REDACTED]"
	}
	return safe
}

// String returns a redacted JSON representation for debugging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}
