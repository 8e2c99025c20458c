// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeranaias/chatrelay/internal/cloud"
	apperrors "github.com/jeranaias/chatrelay/internal/errors"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultPort is the default port for the HTTP server.
	DefaultPort = 8787

	// DefaultAddr binds the relay to the loopback interface.
	DefaultAddr = "127.0.0.1"

	// MaxMessageCount is the maximum number of messages in a request.
	MaxMessageCount = 500

	// MaxRequestBodySize is the default request body limit. Data-URI
	// images need room.
	MaxRequestBodySize = 25 * 1024 * 1024

	// MaxImageMemory is held in memory while parsing an image upload.
	MaxImageMemory = 10 * 1024 * 1024

	// DefaultMaxStreamDuration bounds a single relayed stream.
	DefaultMaxStreamDuration = 5 * time.Minute

	// Version is the server version.
	Version = "1.0.0"

	instrumentationName = "github.com/jeranaias/chatrelay/internal/server"
)

// validRoles defines the set of acceptable message roles.
var validRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
}

// ============================================================================
// TYPES
// ============================================================================

// Completer is the upstream the relay streams from. *cloud.Client
// implements it.
type Completer interface {
	Complete(ctx context.Context, messages []cloud.Message) (*cloud.FragmentStream, error)
	DescribeImage(ctx context.Context, mimeType string, data []byte) (string, error)
	IsConfigured() bool
	Provider() string
	Model() string
}

// Config holds the relay settings.
type Config struct {
	Addr              string
	Port              int
	MaxStreamDuration time.Duration
	MaxRequestBytes   int64
	CORSOrigins       []string
	Logger            *slog.Logger
}

// ChatMessage is one message of a /chat request.
type ChatMessage struct {
	Role        string             `json:"role"`
	Content     string             `json:"content"`
	Attachments []cloud.Attachment `json:"attachments,omitempty"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ImageResponse is the body of a successful POST /image.
type ImageResponse struct {
	Result string `json:"result"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Upstream string `json:"upstream"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// validateMessages checks count and roles.
func validateMessages(messages []ChatMessage) error {
	if len(messages) == 0 {
		return errors.New("messages must not be empty")
	}
	if len(messages) > MaxMessageCount {
		return fmt.Errorf("too many messages: %d exceeds the limit of %d", len(messages), MaxMessageCount)
	}
	for i, msg := range messages {
		if !validRoles[msg.Role] {
			return fmt.Errorf("invalid role '%s' at message %d: must be one of user, assistant, system", msg.Role, i)
		}
	}
	return nil
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP stream relay.
type Server struct {
	addr              string
	port              int
	maxStreamDuration time.Duration
	maxRequestBytes   int64
	cors              *CORSConfig

	upstream Completer
	router   *http.ServeMux
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *relayMetrics

	mu     sync.Mutex
	server *http.Server
}

// New creates a relay for upstream. Zero config values take defaults.
func New(cfg Config, upstream Completer) *Server {
	s := &Server{
		addr:              cfg.Addr,
		port:              cfg.Port,
		maxStreamDuration: cfg.MaxStreamDuration,
		maxRequestBytes:   cfg.MaxRequestBytes,
		cors:              DefaultCORSConfig(),
		upstream:          upstream,
		router:            http.NewServeMux(),
		logger:            cfg.Logger,
		tracer:            otel.Tracer(instrumentationName),
		metrics:           newRelayMetrics(otel.Meter(instrumentationName)),
	}
	if s.addr == "" {
		s.addr = DefaultAddr
	}
	if s.port == 0 {
		s.port = DefaultPort
	}
	if s.maxRequestBytes <= 0 {
		s.maxRequestBytes = MaxRequestBodySize
	}
	if len(cfg.CORSOrigins) > 0 {
		s.cors.AllowedOrigins = cfg.CORSOrigins
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.setupRoutes()
	return s
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Address returns the listen address.
func (s *Server) Address() string {
	return net.JoinHostPort(s.addr, fmt.Sprint(s.port))
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /chat", s.handleChat)
	s.router.HandleFunc("POST /image", s.handleImage)
	s.router.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		CORSMiddleware(s.cors),
		LoggingMiddleware(s.logger),
		TelemetryMiddleware(s.tracer, s.metrics.requests),
	)(s.router)
}

// ============================================================================
// CHAT HANDLER
// ============================================================================

// handleChat relays one streamed completion.
//
// The first fragment is pulled before the status is committed so that an
// upstream failure can still be reported as JSON.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxRequestBytes)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := validateMessages(req.Messages); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if s.maxStreamDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.maxStreamDuration)
		defer cancel()
	}

	start := time.Now()
	stream, err := s.upstream.Complete(ctx, toCloudMessages(req.Messages))
	if err != nil {
		s.upstreamFailure(w, r, err)
		return
	}
	defer stream.Close()

	first, err := stream.Next()
	if err != nil && err != io.EOF {
		s.upstreamFailure(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	fragments := 0
	defer func() {
		s.metrics.recordStream(r.Context(), fragments, time.Since(start))
		s.logger.Debug("STREAM_END", "relayed", fragments, "received", stream.Count(), "duration", time.Since(start))
	}()

	if err == io.EOF {
		return
	}

	frag := first
	for {
		if _, werr := io.WriteString(w, frag); werr != nil {
			s.logger.Info("STREAM_CLIENT_GONE", "fragments", fragments, "error", werr)
			return
		}
		if ferr := rc.Flush(); ferr != nil {
			s.logger.Info("STREAM_CLIENT_GONE", "fragments", fragments, "error", ferr)
			return
		}
		fragments++

		frag, err = stream.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.metrics.upstreamError(r.Context(), "mid_stream")
			s.logger.Warn("STREAM_ABORTED", "fragments", fragments, "received", stream.Count(), "error", err)
			panic(http.ErrAbortHandler)
		}
	}
}

// upstreamFailure reports a failure that happened before the first byte.
func (s *Server) upstreamFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.StatusFor(err)
	s.metrics.upstreamError(r.Context(), "connect")
	s.logger.Warn("UPSTREAM_FAILED", "status", status, "error", err)
	writeError(w, status, "failed to connect to upstream: "+err.Error())
}

func toCloudMessages(msgs []ChatMessage) []cloud.Message {
	out := make([]cloud.Message, len(msgs))
	for i, m := range msgs {
		out[i] = cloud.Message{Role: m.Role, Content: m.Content, Attachments: m.Attachments}
	}
	return out
}

// ============================================================================
// IMAGE HANDLER
// ============================================================================

// handleImage describes the image uploaded in the "image" form field.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxRequestBytes)
	if err := r.ParseMultipartForm(MaxImageMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No file")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	result, err := s.upstream.DescribeImage(r.Context(), mimeType, data)
	if err != nil {
		s.upstreamFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ImageResponse{Result: result})
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	upstream := "not_configured"
	if s.upstream.IsConfigured() {
		upstream = "configured"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  Version,
		Upstream: upstream,
		Provider: s.upstream.Provider(),
		Model:    s.upstream.Model(),
	})
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start listens and serves until Shutdown. It returns nil after a graceful
// shutdown.
func (s *Server) Start() error {
	addr := s.Address()

	s.mu.Lock()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams are bounded by maxStreamDuration, not WriteTimeout.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("SERVER_START", "addr", addr, "version", Version,
		"provider", s.upstream.Provider(), "model", s.upstream.Model())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info("SERVER_SHUTDOWN", "reason", "graceful")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
