// Package openai provides an LLM provider backed by the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/moshi-chat/moshi/pkg/provider/llm"
	"github.com/moshi-chat/moshi/pkg/types"
)

// Ensure Provider implements the llm.Provider interface.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// settings collects SDK request options during construction.
type settings struct {
	reqOpts []option.RequestOption
}

// Option adds optional client configuration to New.
type Option func(*settings)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) {
		s.reqOpts = append(s.reqOpts, option.WithBaseURL(url))
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(s *settings) {
		s.reqOpts = append(s.reqOpts, option.WithOrganization(org))
	}
}

// WithTimeout sets a per-request HTTP timeout. Non-positive values are
// ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.reqOpts = append(s.reqOpts, option.WithHTTPClient(&http.Client{Timeout: d}))
		}
	}
}

// New constructs a new OpenAI LLM Provider.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	s := settings{reqOpts: []option.RequestOption{option.WithAPIKey(apiKey)}}
	for _, o := range opts {
		o(&s)
	}

	return &Provider{client: oai.NewClient(s.reqOpts...), model: model}, nil
}

// Complete implements llm.Provider. Stop sequences are enforced client-side:
// the reply is truncated at the first occurrence of any requested stop string.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	return &llm.CompletionResponse{
		Content: truncateAtStop(resp.Choices[0].Message.Content, req.Stop),
		Usage: types.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// buildParams converts a CompletionRequest into OpenAI SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	return params, nil
}

// truncateAtStop cuts content at the earliest occurrence of any stop sequence.
func truncateAtStop(content string, stops []string) string {
	cut := len(content)
	for _, s := range stops {
		if s == "" {
			continue
		}
		if i := strings.Index(content, s); i >= 0 && i < cut {
			cut = i
		}
	}
	return content[:cut]
}

// convertMessage converts a types.Message to an OpenAI SDK message param.
func convertMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case types.RoleUser:
		return oai.UserMessage(m.Content), nil
	case types.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}
