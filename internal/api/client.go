// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	apperrors "github.com/jeranaias/chatrelay/internal/errors"
	"github.com/jeranaias/chatrelay/internal/model"
)

// DefaultRelayURL is where `chatrelay serve` listens by default.
const DefaultRelayURL = "http://127.0.0.1:8787"

// maxErrorBody bounds how much of an error reply is read.
const maxErrorBody = 64 * 1024

// =============================================================================
// WIRE TYPES
// =============================================================================

type wireAttachment struct {
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mime_type"`
	DataURI  string `json:"data_uri"`
}

type wireMessage struct {
	Role        string           `json:"role"`
	Content     string           `json:"content"`
	Attachments []wireAttachment `json:"attachments,omitempty"`
}

type chatRequest struct {
	Messages []wireMessage `json:"messages"`
}

// Health is the relay health report.
type Health struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Upstream string `json:"upstream"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to a chatrelay server.
type Client struct {
	baseURL      string
	streamClient *http.Client
	httpClient   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for streaming requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.streamClient = hc }
}

// WithTimeout bounds non-streaming calls (image description, health).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient = &http.Client{Timeout: d} }
}

// NewClient creates a client for the relay at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultRelayURL
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		streamClient: &http.Client{},
		httpClient:   &http.Client{Timeout: 90 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the relay URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Chat posts messages to /chat and returns the unread response body.
// Any non-2xx reply or transport failure is an *errors.UpstreamError.
// The caller must close the body.
func (c *Client) Chat(ctx context.Context, messages []model.Message) (io.ReadCloser, error) {
	body, err := json.Marshal(chatRequest{Messages: toWire(messages)})
	if err != nil {
		return nil, apperrors.WrapUpstream(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.WrapUpstream(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.WrapUpstream(fmt.Errorf("relay unreachable: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp.Body, nil
}

// DescribeImage uploads an image to /image and returns the description.
func (c *Client) DescribeImage(ctx context.Context, name string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filepath.Base(name)))
	header.Set("Content-Type", http.DetectContentType(data))
	fw, err := mw.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("failed to write form part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/image", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.WrapUpstream(fmt.Errorf("relay unreachable: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", apperrors.WrapUpstream(fmt.Errorf("failed to read response: %w", err))
	}
	return gjson.GetBytes(respBody, "result").String(), nil
}

// Health fetches the relay health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.WrapUpstream(fmt.Errorf("relay unreachable: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to decode health: %w", err)
	}
	return &h, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// toWire converts messages to the /chat request form. Attachment-only
// messages keep an empty content string.
func toWire(messages []model.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Text()}
		for _, a := range m.Attachments() {
			wm.Attachments = append(wm.Attachments, wireAttachment{
				Name:     a.Name,
				MIMEType: a.MIMEType,
				DataURI:  a.DataURI,
			})
		}
		out = append(out, wm)
	}
	return out
}

// decodeError turns a non-2xx relay reply into an UpstreamError.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := gjson.GetBytes(body, "error").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return apperrors.NewUpstreamError(resp.StatusCode, "", msg)
}
