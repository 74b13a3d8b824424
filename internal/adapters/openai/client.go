// Package openai generates experiment insights through any OpenAI-compatible
// chat completions endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	DefaultModel = "gpt-4o-mini"

	systemPrompt = "You are an experienced machine learning engineer reviewing experiment results."
)

// Config holds the endpoint settings. An empty BaseURL means api.openai.com.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client implements ports.InsightGenerator.
type Client struct {
	client *openai.Client
	model  string
	log    *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	return &Client{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		log:    log,
	}, nil
}

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	c.log.Debug("requesting insights", slog.String("model", c.model))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.New("chat completion returned no content")
	}

	c.log.Debug("insights received", slog.String("finish_reason", string(resp.Choices[0].FinishReason)))
	return resp.Choices[0].Message.Content, nil
}
