// Package grok adapts the xAI Grok chat-completions API to the engine's
// provider contract.
package grok

import (
	"context"
	"errors"
	"net/http"

	xaiapi "github.com/crowdthink/brainstorm/internal/api/xai"
	"github.com/crowdthink/brainstorm/internal/domain"
)

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, xaiapi.WithBaseURL(baseURL))
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, xaiapi.WithHTTPClient(httpClient))
	}
}

// Provider implements domain.Provider over the xAI Grok API.
type Provider struct {
	client     *xaiapi.Client
	clientOpts []xaiapi.ClientOption
}

// New creates a new Grok provider.
func New(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}
	p.client = xaiapi.NewClient(apiKey, p.clientOpts...)
	return p
}

func (p *Provider) Name() string {
	return "grok"
}

// Generate runs one completion. A nil onChunk selects blocking mode; in
// streaming mode the concatenated chunks equal the returned content.
func (p *Provider) Generate(ctx context.Context, history []domain.Message, opts domain.GenerateOptions, onChunk domain.ChunkFunc) (*domain.GenerateResult, error) {
	req := toAPIRequest(history, opts)

	if onChunk == nil {
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, classify(ctx, err)
		}
		return toResult(opts.Model, resp)
	}

	stream, err := p.client.StreamChatCompletion(ctx, req)
	if err != nil {
		return nil, classify(ctx, err)
	}

	var content string
	var usage *xaiapi.Usage
	modelID := opts.Model

	for result := range stream {
		if result.Err != nil {
			return nil, classify(ctx, result.Err)
		}

		chunk := result.Chunk
		if chunk.Model != "" {
			modelID = chunk.Model
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				content += choice.Delta.Content
				onChunk(choice.Delta.Content)
			}
		}
	}

	res := &domain.GenerateResult{Content: content, ModelID: modelID}
	if usage != nil {
		res.Usage = domain.TokenUsage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		}
	}
	return res, nil
}

// toAPIRequest renders history and options into a chat-completions request.
// Grok accepts no attachment kinds over this surface, so every attachment
// degrades to its textual placeholder on the final message.
func toAPIRequest(history []domain.Message, opts domain.GenerateOptions) *xaiapi.ChatCompletionRequest {
	messages := make([]xaiapi.ChatCompletionMessage, 0, len(history)+1)
	if opts.SystemPrompt != "" {
		messages = append(messages, xaiapi.ChatCompletionMessage{Role: "system", Content: opts.SystemPrompt})
	}
	for _, m := range history {
		messages = append(messages, xaiapi.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	if len(opts.Attachments) > 0 && len(messages) > 0 {
		last := &messages[len(messages)-1]
		for _, att := range opts.Attachments {
			last.Content += "\n" + att.Placeholder()
		}
	}

	req := &xaiapi.ChatCompletionRequest{
		Model:    opts.Model,
		Messages: messages,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = &opts.Temperature
	}
	return req
}

func toResult(requested string, resp *xaiapi.ChatCompletionResponse) (*domain.GenerateResult, error) {
	if len(resp.Choices) == 0 {
		return nil, domain.ErrMalformedResponse("grok returned no choices", resp.ID)
	}

	res := &domain.GenerateResult{
		Content: resp.Choices[0].Message.Content,
		ModelID: resp.Model,
	}
	if res.ModelID == "" {
		res.ModelID = requested
	}
	if resp.Usage != nil {
		res.Usage = domain.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return res, nil
}

// classify translates backend failures into the engine taxonomy. Raw
// transport errors never escape the adapter.
func classify(ctx context.Context, err error) *domain.EngineError {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrTimeout("grok call exceeded its deadline")
	}

	var apiErr *xaiapi.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.ErrInvalidCredentials(apiErr.Message)
		case http.StatusTooManyRequests:
			return domain.ErrRateLimited(apiErr.Message)
		}
		return domain.ErrServer(apiErr.Message)
	}

	var badBody *xaiapi.MalformedBodyError
	if errors.As(err, &badBody) {
		return domain.ErrMalformedResponse("grok returned an undecodable body", badBody.Raw)
	}

	return domain.ErrServer(err.Error())
}
