// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/custodire/aav3/services/deliberation/errs"
)

const (
	anthropicAPIVersion = "2023-06-01"
	anthropicBaseURL    = "https://api.anthropic.com/v1/messages"
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    []systemBlock      `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type systemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicClient talks to the Anthropic messages API over plain HTTP.
type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// AnthropicOption configures an AnthropicClient.
type AnthropicOption func(*AnthropicClient)

// WithAnthropicBaseURL points the client at an alternate endpoint (tests).
func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(c *AnthropicClient) { c.baseURL = url }
}

// NewAnthropicClient builds a client for the given model.
//
// The API key comes from ANTHROPIC_API_KEY or
// /run/secrets/anthropic_api_key; missing keys are errs.ErrLLMAuth.
func NewAnthropicClient(model string, opts ...AnthropicOption) (*AnthropicClient, error) {
	apiKey, err := loadAPIKey("ANTHROPIC_API_KEY", "/run/secrets/anthropic_api_key")
	if err != nil {
		return nil, err
	}
	c := &AnthropicClient{
		// Per-call deadlines come from the request context; no client-wide
		// timeout on top of them.
		httpClient: &http.Client{},
		apiKey:     apiKey,
		model:      model,
		baseURL:    anthropicBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	slog.Info("initializing Anthropic client", "model", model)
	return c, nil
}

// Model implements Client.
func (c *AnthropicClient) Model() string { return c.model }

// Call implements Client.
func (c *AnthropicClient) Call(ctx context.Context, req CallRequest) (string, error) {
	req = applyDefaults(req)

	callCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	body := anthropicRequest{
		Model:     c.model,
		Messages:  []anthropicMessage{{Role: "user", Content: req.UserPrompt}},
		MaxTokens: req.MaxTokens,
	}
	if req.SystemPrompt != "" {
		body.System = []systemBlock{{Type: "text", Text: req.SystemPrompt}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", errs.ErrLLMTransport, err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", errs.ErrLLMTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	slog.Debug("calling Anthropic", "model", c.model, "max_tokens", req.MaxTokens)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyCallError(callCtx, err, 0)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyCallError(callCtx, err, resp.StatusCode)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", errs.ErrLLMTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", classifyCallError(callCtx, fmt.Errorf("anthropic API %d: %s", resp.StatusCode, msg), resp.StatusCode)
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("%w: anthropic returned no text content", errs.ErrLLMTransport)
	}
	return out, nil
}
