// Package anthropic adapts the Anthropic Messages API to the engine's
// provider contract.
package anthropic

import (
	"context"
	"errors"
	"net/http"

	anthropicapi "github.com/crowdthink/brainstorm/internal/api/anthropic"
	"github.com/crowdthink/brainstorm/internal/domain"
)

const defaultMaxTokens = 1024

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, anthropicapi.WithBaseURL(baseURL))
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, anthropicapi.WithHTTPClient(httpClient))
	}
}

// Provider implements domain.Provider over the Anthropic Messages API.
type Provider struct {
	client     *anthropicapi.Client
	clientOpts []anthropicapi.ClientOption
}

// New creates a new Anthropic provider.
func New(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}
	p.client = anthropicapi.NewClient(apiKey, p.clientOpts...)
	return p
}

func (p *Provider) Name() string {
	return "anthropic"
}

// Generate runs one completion. A nil onChunk selects blocking mode; in
// streaming mode the concatenated chunks equal the returned content.
func (p *Provider) Generate(ctx context.Context, history []domain.Message, opts domain.GenerateOptions, onChunk domain.ChunkFunc) (*domain.GenerateResult, error) {
	req := toAPIRequest(history, opts)

	if onChunk == nil {
		resp, err := p.client.CreateMessage(ctx, req)
		if err != nil {
			return nil, classify(ctx, err)
		}
		return toResult(resp), nil
	}

	stream, err := p.client.StreamMessage(ctx, req)
	if err != nil {
		return nil, classify(ctx, err)
	}

	var content string
	var inputTokens, outputTokens int
	modelID := opts.Model

	for result := range stream {
		if result.Err != nil {
			return nil, classify(ctx, result.Err)
		}

		switch result.EventType {
		case "message_start":
			event, err := result.ParseMessageStart()
			if err != nil {
				return nil, domain.ErrMalformedResponse("cannot parse message_start", string(result.Data))
			}
			inputTokens = event.Message.Usage.InputTokens
			if event.Message.Model != "" {
				modelID = event.Message.Model
			}

		case "content_block_delta":
			event, err := result.ParseContentBlockDelta()
			if err != nil {
				return nil, domain.ErrMalformedResponse("cannot parse content_block_delta", string(result.Data))
			}
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				content += event.Delta.Text
				onChunk(event.Delta.Text)
			}

		case "message_delta":
			event, err := result.ParseMessageDelta()
			if err != nil {
				return nil, domain.ErrMalformedResponse("cannot parse message_delta", string(result.Data))
			}
			if event.Usage != nil {
				outputTokens = event.Usage.OutputTokens
			}

		case "error":
			// The backend can fail mid-stream after partial output, e.g.
			// overloaded_error. The truncated content must not be reported
			// as a successful generation.
			apiErr, perr := anthropicapi.ParseErrorResponse(0, result.Data)
			if perr != nil || apiErr == nil {
				return nil, domain.ErrMalformedResponse("cannot parse error event", string(result.Data))
			}
			return nil, classify(ctx, apiErr)

		case "ping", "content_block_start", "content_block_stop", "message_stop":
			continue
		}
	}

	return &domain.GenerateResult{
		Content: content,
		ModelID: modelID,
		Usage: domain.TokenUsage{
			PromptTokens:     inputTokens,
			CompletionTokens: outputTokens,
			TotalTokens:      inputTokens + outputTokens,
		},
	}, nil
}

// toAPIRequest renders history and options into a Messages API request.
// Image attachments ride along as content parts on the final user message;
// document attachments degrade to a text part carrying their content.
func toAPIRequest(history []domain.Message, opts domain.GenerateOptions) *anthropicapi.MessagesRequest {
	messages := make([]anthropicapi.Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, anthropicapi.Message{
			Role:    m.Role,
			Content: anthropicapi.ContentBlock{{Type: "text", Text: m.Content}},
		})
	}

	if len(opts.Attachments) > 0 && len(messages) > 0 {
		last := &messages[len(messages)-1]
		for _, att := range opts.Attachments {
			switch att.Kind {
			case domain.AttachmentImage:
				last.Content = append(last.Content, anthropicapi.ContentPart{
					Type: "image",
					Source: &anthropicapi.ImageSource{
						Type:      "base64",
						MediaType: att.MediaType,
						Data:      att.Data,
					},
				})
			case domain.AttachmentDocument:
				last.Content = append(last.Content, anthropicapi.ContentPart{
					Type: "text",
					Text: "Attached document " + att.Name + ":\n" + att.Data,
				})
			default:
				last.Content = append(last.Content, anthropicapi.ContentPart{
					Type: "text",
					Text: att.Placeholder(),
				})
			}
		}
	}

	req := &anthropicapi.MessagesRequest{
		Model:     opts.Model,
		Messages:  messages,
		MaxTokens: defaultMaxTokens,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.SystemPrompt != "" {
		req.System = anthropicapi.SystemMessages{{Type: "text", Text: opts.SystemPrompt}}
	}
	if opts.Temperature > 0 {
		req.Temperature = &opts.Temperature
	}
	return req
}

func toResult(resp *anthropicapi.MessagesResponse) *domain.GenerateResult {
	var content string
	for _, c := range resp.Content {
		if c.Type == "text" {
			content += c.Text
		}
	}

	return &domain.GenerateResult{
		Content: content,
		ModelID: resp.Model,
		Usage: domain.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

// classify translates backend failures into the engine taxonomy. Raw
// transport errors never escape the adapter.
func classify(ctx context.Context, err error) *domain.EngineError {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrTimeout("anthropic call exceeded its deadline")
	}

	var apiErr *anthropicapi.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized,
			apiErr.StatusCode == http.StatusForbidden,
			apiErr.Type == "authentication_error",
			apiErr.Type == "permission_error":
			return domain.ErrInvalidCredentials(apiErr.Message)
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.Type == "rate_limit_error",
			apiErr.Type == "overloaded_error":
			return domain.ErrRateLimited(apiErr.Message)
		}
		return domain.ErrServer(apiErr.Message)
	}

	var badBody *anthropicapi.MalformedBodyError
	if errors.As(err, &badBody) {
		return domain.ErrMalformedResponse("anthropic returned an undecodable body", badBody.Raw)
	}

	return domain.ErrServer(err.Error())
}
