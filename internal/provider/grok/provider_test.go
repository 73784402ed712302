package grok

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xaiapi "github.com/crowdthink/brainstorm/internal/api/xai"
	"github.com/crowdthink/brainstorm/internal/domain"
)

func TestGenerate_Blocking(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected bearer auth, got %q", r.Header.Get("Authorization"))
		}

		var req xaiapi.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("system prompt should lead the messages: %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{
  "id": "cmpl-1",
  "object": "chat.completion",
  "model": "grok-3",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "Howdy!"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
}`)
	}))
	defer ts.Close()

	p := New("test-key", WithBaseURL(ts.URL))

	res, err := p.Generate(context.Background(),
		[]domain.Message{{Role: "user", Content: "[USER]: hi"}},
		domain.GenerateOptions{Model: "grok-3", SystemPrompt: "be spicy"},
		nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if res.Content != "Howdy!" {
		t.Errorf("unexpected content: %q", res.Content)
	}
	if res.Usage.TotalTokens != 12 {
		t.Errorf("unexpected usage: %+v", res.Usage)
	}
	if res.ModelID != "grok-3" {
		t.Errorf("unexpected model: %q", res.ModelID)
	}
}

func TestGenerate_Streaming(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req xaiapi.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("expected stream=true")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		chunks := []string{
			`{"id":"cmpl-1","object":"chat.completion.chunk","model":"grok-3","choices":[{"index":0,"delta":{"role":"assistant","content":"How"}}]}`,
			`{"id":"cmpl-1","object":"chat.completion.chunk","model":"grok-3","choices":[{"index":0,"delta":{"content":"dy!"}}]}`,
			`{"id":"cmpl-1","object":"chat.completion.chunk","model":"grok-3","choices":[],"usage":{"prompt_tokens":9,"completion_tokens":3,"total_tokens":12}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer ts.Close()

	p := New("test-key", WithBaseURL(ts.URL))

	var chunks []string
	res, err := p.Generate(context.Background(),
		[]domain.Message{{Role: "user", Content: "hi"}},
		domain.GenerateOptions{Model: "grok-3"},
		func(text string) { chunks = append(chunks, text) })
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if res.Content != "Howdy!" {
		t.Errorf("unexpected content: %q", res.Content)
	}
	if strings.Join(chunks, "") != res.Content {
		t.Errorf("chunk concatenation %q != final content %q", strings.Join(chunks, ""), res.Content)
	}
	if res.Usage.TotalTokens != 12 {
		t.Errorf("unexpected usage: %+v", res.Usage)
	}
}

func TestGenerate_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   domain.ErrorKind
	}{
		{"bad key", http.StatusUnauthorized, domain.ErrorKindInvalidCredentials},
		{"forbidden", http.StatusForbidden, domain.ErrorKindInvalidCredentials},
		{"throttled", http.StatusTooManyRequests, domain.ErrorKindRateLimited},
		{"upstream broke", http.StatusInternalServerError, domain.ErrorKindServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"nope","type":"invalid_request_error"}}`)
			}))
			defer ts.Close()

			p := New("test-key", WithBaseURL(ts.URL))
			_, err := p.Generate(context.Background(), []domain.Message{{Role: "user", Content: "hi"}}, domain.GenerateOptions{Model: "m"}, nil)
			if !domain.IsKind(err, tt.want) {
				t.Errorf("expected %s, got %v", tt.want, err)
			}
		})
	}
}

func TestGenerate_EmptyChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"id":"cmpl-1","object":"chat.completion","model":"grok-3","choices":[]}`)
	}))
	defer ts.Close()

	p := New("test-key", WithBaseURL(ts.URL))
	_, err := p.Generate(context.Background(), []domain.Message{{Role: "user", Content: "hi"}}, domain.GenerateOptions{Model: "m"}, nil)
	if !domain.IsKind(err, domain.ErrorKindMalformedResponse) {
		t.Errorf("expected malformed_response, got %v", err)
	}
}

func TestGenerate_MissingUsageNotEstimated(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"id":"cmpl-1","object":"chat.completion","model":"grok-3","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer ts.Close()

	p := New("test-key", WithBaseURL(ts.URL))
	res, err := p.Generate(context.Background(), []domain.Message{{Role: "user", Content: "hi"}}, domain.GenerateOptions{Model: "m"}, nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Usage.TotalTokens != 0 || res.UsageEstimated {
		t.Errorf("missing usage should report zeros without the estimated flag: %+v", res)
	}
}

func TestGenerate_AttachmentsDegradeToPlaceholders(t *testing.T) {
	var got xaiapi.ChatCompletionRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"id":"cmpl-1","object":"chat.completion","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer ts.Close()

	p := New("test-key", WithBaseURL(ts.URL))
	_, err := p.Generate(context.Background(),
		[]domain.Message{{Role: "user", Content: "look"}},
		domain.GenerateOptions{
			Model: "m",
			Attachments: []domain.Attachment{
				{Kind: domain.AttachmentImage, Name: "chart.png", MediaType: "image/png", Data: "aGk="},
			},
		},
		nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	last := got.Messages[len(got.Messages)-1]
	if !strings.Contains(last.Content, "chart.png") {
		t.Errorf("placeholder for unsupported attachment missing: %q", last.Content)
	}
	if strings.Contains(last.Content, "aGk=") {
		t.Errorf("raw attachment bytes should not be forwarded: %q", last.Content)
	}
}
