package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/config"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/domain"
)

// roleClient is one configured model endpoint.
type roleClient struct {
	client *openai.Client
	cfg    config.ModelConfig
}

// Client is the production gateway. Each role has its own endpoint,
// credential, timeout and generation parameters, configured once at
// startup and read-only afterwards.
type Client struct {
	roles map[domain.Role]roleClient
}

// NewClient builds a gateway from the per-role model configuration.
// All three providers the service supports expose OpenAI-compatible
// chat completion APIs, so one client type covers them.
func NewClient(models config.ModelsConfig) *Client {
	build := func(mc config.ModelConfig) roleClient {
		oc := openai.DefaultConfig(mc.APIKey)
		if mc.BaseURL != "" {
			oc.BaseURL = strings.TrimSuffix(mc.BaseURL, "/")
		}
		oc.HTTPClient = &http.Client{Timeout: mc.Timeout()}
		return roleClient{client: openai.NewClientWithConfig(oc), cfg: mc}
	}
	return &Client{
		roles: map[domain.Role]roleClient{
			domain.RoleVision:        build(models.Vision),
			domain.RoleDeepReasoning: build(models.Deep),
			domain.RoleQuickSummary:  build(models.Quick),
		},
	}
}

// Invoke performs a single chat completion for the request's role.
// A session-scoped override replaces the model and credential for this
// call only; it takes effect solely when it carries its own API key,
// so a bare model name falls back to the configured default.
func (c *Client) Invoke(ctx context.Context, req Request) (string, error) {
	rc, ok := c.roles[req.Role]
	if !ok {
		return "", fmt.Errorf("unknown model role %q", req.Role)
	}

	cfg := rc.cfg
	client := rc.client
	if ov := req.Override; ov != nil && ov.APIKey != "" {
		if ov.Model != "" {
			cfg.Model = ov.Model
		}
		oc := openai.DefaultConfig(ov.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
		}
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout()}
		client = openai.NewClientWithConfig(oc)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       cfg.Model,
		Messages:    buildMessages(req),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return "", mapError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", domain.ErrUpstreamMalformedResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func buildMessages(req Request) []openai.ChatCompletionMessage {
	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}

	if len(req.Image) > 0 {
		mime := req.ImageMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		url := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(req.Image))
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: url}},
			},
		})
		return msgs
	}

	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})
	return msgs
}

// mapError converts transport failures onto the upstream error taxonomy.
func mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrUpstreamTimeout
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &domain.UpstreamError{Status: apiErr.HTTPStatusCode, Detail: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &domain.UpstreamError{Status: reqErr.HTTPStatusCode, Detail: reqErr.Error()}
	}
	// net/http timeouts surface as url.Error with Timeout() true.
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return domain.ErrUpstreamTimeout
	}
	return &domain.UpstreamError{Status: 0, Detail: err.Error()}
}
