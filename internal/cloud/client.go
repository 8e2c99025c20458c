// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/jeranaias/chatrelay/internal/errors"
	"github.com/jeranaias/chatrelay/internal/util"
)

// Provider names.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
)

// Configuration constants.
const (
	// DefaultOpenAIURL is the base URL for the OpenAI API.
	DefaultOpenAIURL = "https://api.openai.com/v1"

	// DefaultOpenRouterURL is the base URL for the OpenRouter API.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout bounds non-streaming requests such as image description.
	DefaultTimeout = 60 * time.Second

	// DefaultImagePrompt is sent with every image description request.
	DefaultImagePrompt = "Describe the image"

	// DefaultImageMaxTokens caps the image description length.
	DefaultImageMaxTokens = 300

	// NoResponse is returned by DescribeImage when the model produced no text.
	NoResponse = "No response"

	// MaxErrorBodySize bounds how much of an error response is read.
	MaxErrorBodySize = 64 * 1024

	// MaxResponseSize bounds a non-streaming response body.
	MaxResponseSize = 10 * 1024 * 1024
)

var (
	// sharedTransport pools connections for all upstream requests.
	sharedTransport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	// sharedStreamingClient has no timeout. Streams are bounded by the
	// request context.
	sharedStreamingClient = &http.Client{Transport: sharedTransport}
)

// providerDefaults holds per-provider base URL and models.
type providerDefaults struct {
	baseURL     string
	model       string
	visionModel string
}

var defaultsByProvider = map[string]providerDefaults{
	ProviderOpenAI:     {DefaultOpenAIURL, "gpt-4o-mini", "gpt-4o-mini"},
	ProviderOpenRouter: {DefaultOpenRouterURL, "openai/gpt-3.5-turbo", "openai/gpt-4o-mini"},
}

// DefaultModels returns the chat and vision model defaults for a provider.
func DefaultModels(provider string) (chat, vision string) {
	d, ok := defaultsByProvider[provider]
	if !ok {
		d = defaultsByProvider[ProviderOpenAI]
	}
	return d.model, d.visionModel
}

// ValidProvider reports whether provider is supported.
func ValidProvider(provider string) bool {
	_, ok := defaultsByProvider[provider]
	return ok
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a Client. Zero values fall back to provider defaults.
type Options struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	VisionModel string

	// SiteURL and SiteName are sent as OpenRouter attribution headers.
	SiteURL  string
	SiteName string

	// Timeout bounds non-streaming calls.
	Timeout time.Duration

	ImagePrompt    string
	ImageMaxTokens int

	Logger *slog.Logger
}

// =============================================================================
// MESSAGE TYPES
// =============================================================================

// Attachment is an inline image sent with a message.
type Attachment struct {
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mime_type"`
	DataURI  string `json:"data_uri"`
}

// Message is a chat message. Messages with attachments are encoded in the
// multi-part content form.
type Message struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// MarshalJSON encodes the message in the upstream wire form.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Attachments) == 0 {
		return json.Marshal(struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{m.Role, m.Content})
	}

	parts := make([]contentPart, 0, len(m.Attachments)+1)
	if m.Content != "" {
		parts = append(parts, contentPart{Type: "text", Text: m.Content})
	}
	for _, a := range m.Attachments {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: a.DataURI}})
	}
	return json.Marshal(struct {
		Role    string        `json:"role"`
		Content []contentPart `json:"content"`
	}{m.Role, parts})
}

// chatRequest is the body of a chat completion request.
type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client issues chat completion requests to the upstream provider.
// It is safe for concurrent use.
type Client struct {
	provider    string
	baseURL     string
	apiKey      string
	model       string
	visionModel string
	siteURL     string
	siteName    string

	imagePrompt    string
	imageMaxTokens int

	httpClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger
	tracer       trace.Tracer
}

// NewClient creates a client from opts.
func NewClient(opts Options) *Client {
	provider := opts.Provider
	if provider == "" {
		provider = ProviderOpenAI
	}
	d, ok := defaultsByProvider[provider]
	if !ok {
		d = defaultsByProvider[ProviderOpenAI]
	}

	c := &Client{
		provider:       provider,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		apiKey:         opts.APIKey,
		model:          opts.Model,
		visionModel:    opts.VisionModel,
		siteURL:        opts.SiteURL,
		siteName:       opts.SiteName,
		imagePrompt:    opts.ImagePrompt,
		imageMaxTokens: opts.ImageMaxTokens,
		streamClient:   sharedStreamingClient,
		logger:         opts.Logger,
		tracer:         otel.Tracer("github.com/jeranaias/chatrelay/internal/cloud"),
	}
	if c.baseURL == "" {
		c.baseURL = d.baseURL
	}
	if c.model == "" {
		c.model = d.model
	}
	if c.visionModel == "" {
		c.visionModel = d.visionModel
	}
	if c.imagePrompt == "" {
		c.imagePrompt = DefaultImagePrompt
	}
	if c.imageMaxTokens <= 0 {
		c.imageMaxTokens = DefaultImageMaxTokens
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.httpClient = &http.Client{Transport: sharedTransport, Timeout: timeout}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Provider returns the provider name.
func (c *Client) Provider() string { return c.provider }

// Model returns the chat model.
func (c *Client) Model() string { return c.model }

// IsConfigured reports whether an API key is set.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// =============================================================================
// COMPLETION
// =============================================================================

// Complete opens a streaming completion for messages and waits for the
// response headers. Every failure up to that point is an *errors.UpstreamError.
// Cancelling ctx aborts the upstream request at any time.
func (c *Client) Complete(ctx context.Context, messages []Message) (*FragmentStream, error) {
	ctx, span := c.tracer.Start(ctx, "upstream.complete",
		trace.WithAttributes(
			attribute.String("upstream.provider", c.provider),
			attribute.String("upstream.model", c.model),
			attribute.Int("upstream.messages", len(messages)),
		))
	defer span.End()

	if !c.IsConfigured() {
		err := &apperrors.UpstreamError{Message: "no API key for provider " + c.provider, Err: apperrors.ErrNotConfigured}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(messages) == 0 {
		return nil, &apperrors.UpstreamError{Message: "no messages to send", Err: apperrors.ErrUpstream}
	}

	req, err := c.newRequest(ctx, chatRequest{Model: c.model, Messages: messages, Stream: true})
	if err != nil {
		return nil, apperrors.WrapUpstream(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	c.logger.Debug("UPSTREAM_REQUEST", "provider", c.provider, "model", c.model, "messages", len(messages))

	resp, err := c.streamClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, apperrors.WrapUpstream(fmt.Errorf("request failed: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
		upErr := c.handleErrorResponse(resp.StatusCode, body)
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		span.SetStatus(codes.Error, upErr.Error())
		c.logger.Warn("UPSTREAM_ERROR", "status", resp.StatusCode, "code", upErr.Code)
		return nil, upErr
	}

	return newFragmentStream(resp.Body), nil
}

// DescribeImage asks the vision model to describe an image and returns the
// text, or NoResponse when the model returned nothing.
func (c *Client) DescribeImage(ctx context.Context, mimeType string, data []byte) (string, error) {
	ctx, span := c.tracer.Start(ctx, "upstream.describe_image",
		trace.WithAttributes(attribute.String("upstream.model", c.visionModel)))
	defer span.End()

	if !c.IsConfigured() {
		return "", &apperrors.UpstreamError{Message: "no API key for provider " + c.provider, Err: apperrors.ErrNotConfigured}
	}

	att := Attachment{MIMEType: mimeType, DataURI: dataURI(mimeType, data)}
	body := chatRequest{
		Model:     c.visionModel,
		Messages:  []Message{{Role: "user", Content: c.imagePrompt, Attachments: []Attachment{att}}},
		MaxTokens: c.imageMaxTokens,
	}
	req, err := c.newRequest(ctx, body)
	if err != nil {
		return "", apperrors.WrapUpstream(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return "", apperrors.WrapUpstream(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
		return "", c.handleErrorResponse(resp.StatusCode, errBody)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return "", apperrors.WrapUpstream(fmt.Errorf("failed to read response: %w", err))
	}
	text := strings.TrimSpace(gjson.GetBytes(respBody, "choices.0.message.content").String())
	if text == "" {
		return NoResponse, nil
	}
	return text, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) newRequest(ctx context.Context, body chatRequest) (*http.Request, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	return req, nil
}

// setHeaders sets the required headers for API requests.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "chatrelay/1.0")

	if c.provider == ProviderOpenRouter {
		if c.siteURL != "" {
			req.Header.Set("HTTP-Referer", c.siteURL)
		}
		if c.siteName != "" {
			req.Header.Set("X-Title", c.siteName)
		}
	}
}

// maxErrorMessageRunes bounds a non-JSON error body quoted in an error.
const maxErrorMessageRunes = 200

// handleErrorResponse converts a non-200 response into an UpstreamError.
// Both providers use {"error": {"message": ..., "code": ...}}.
func (c *Client) handleErrorResponse(statusCode int, body []byte) *apperrors.UpstreamError {
	msg := gjson.GetBytes(body, "error.message").String()
	code := gjson.GetBytes(body, "error.code").String()
	if msg == "" {
		msg = util.TruncateRunes(strings.TrimSpace(string(body)), maxErrorMessageRunes)
	}
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return apperrors.NewUpstreamError(statusCode, code, msg)
}

func dataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
