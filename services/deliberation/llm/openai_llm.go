// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/custodire/aav3/services/deliberation/errs"
)

// OpenAIClient talks to the OpenAI chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*openai.ClientConfig)

// WithOpenAIBaseURL points the client at an alternate endpoint (tests,
// proxies).
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(cfg *openai.ClientConfig) { cfg.BaseURL = url }
}

// NewOpenAIClient builds a client for the given model.
//
// The API key comes from OPENAI_API_KEY or /run/secrets/openai_api_key.
// A missing key is errs.ErrLLMAuth and aborts the session before any agent
// is called.
func NewOpenAIClient(model string, opts ...OpenAIOption) (*OpenAIClient, error) {
	apiKey, err := loadAPIKey("OPENAI_API_KEY", "/run/secrets/openai_api_key")
	if err != nil {
		return nil, err
	}
	cfg := openai.DefaultConfig(apiKey)
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Info("initializing OpenAI client", "model", model)
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Model implements Client.
func (o *OpenAIClient) Model() string { return o.model }

// Call implements Client.
func (o *OpenAIClient) Call(ctx context.Context, req CallRequest) (string, error) {
	req = applyDefaults(req)

	callCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	slog.Debug("calling OpenAI", "model", o.model, "max_tokens", req.MaxTokens)
	resp, err := o.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		MaxCompletionTokens: req.MaxTokens,
	})
	if err != nil {
		status := 0
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			status = apiErr.HTTPStatusCode
		}
		return "", classifyCallError(callCtx, err, status)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: OpenAI returned no choices", errs.ErrLLMTransport)
	}
	slog.Debug("OpenAI response received", "finish_reason", resp.Choices[0].FinishReason)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
