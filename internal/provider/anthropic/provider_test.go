package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	anthropicapi "github.com/crowdthink/brainstorm/internal/api/anthropic"
	"github.com/crowdthink/brainstorm/internal/domain"
)

func TestGenerate_Blocking(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("expected x-api-key header to be 'test-key', got %q", r.Header.Get("x-api-key"))
		}

		var req anthropicapi.MessagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.System) != 1 || req.System[0].Text != "be concise" {
			t.Errorf("system prompt not forwarded: %+v", req.System)
		}
		if req.MaxTokens != 256 {
			t.Errorf("expected max_tokens 256, got %d", req.MaxTokens)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{
  "id": "msg_123",
  "type": "message",
  "role": "assistant",
  "content": [{"type": "text", "text": "Hello!"}],
  "model": "claude-3-haiku-20240307",
  "stop_reason": "end_turn",
  "usage": {"input_tokens": 10, "output_tokens": 5}
}`)
	}))
	defer ts.Close()

	p := New("test-key", WithBaseURL(ts.URL))

	res, err := p.Generate(context.Background(),
		[]domain.Message{{Role: "user", Content: "[USER]: hi"}},
		domain.GenerateOptions{Model: "claude-3-haiku-20240307", SystemPrompt: "be concise", MaxTokens: 256},
		nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if res.Content != "Hello!" {
		t.Errorf("unexpected content: %q", res.Content)
	}
	if res.Usage.TotalTokens != 15 {
		t.Errorf("unexpected usage: %+v", res.Usage)
	}
	if res.ModelID != "claude-3-haiku-20240307" {
		t.Errorf("unexpected model: %q", res.ModelID)
	}
	if res.UsageEstimated {
		t.Error("usage is backend-reported, not estimated")
	}
}

func TestGenerate_Streaming(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		events := []string{
			`event: message_start
data: {"type":"message_start","message":{"id":"msg_1","role":"assistant","model":"claude-3-haiku-20240307","content":[],"usage":{"input_tokens":7,"output_tokens":0}}}`,
			`event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
			`event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo!"}}`,
			`event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":4}}`,
			`event: message_stop
data: {"type":"message_stop"}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "%s\n\n", e)
			flusher.Flush()
		}
	}))
	defer ts.Close()

	p := New("test-key", WithBaseURL(ts.URL))

	var chunks []string
	res, err := p.Generate(context.Background(),
		[]domain.Message{{Role: "user", Content: "hi"}},
		domain.GenerateOptions{Model: "claude-3-haiku-20240307"},
		func(text string) { chunks = append(chunks, text) })
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// streaming and blocking modes agree on final content
	if res.Content != "Hello!" {
		t.Errorf("unexpected content: %q", res.Content)
	}
	if strings.Join(chunks, "") != res.Content {
		t.Errorf("chunk concatenation %q != final content %q", strings.Join(chunks, ""), res.Content)
	}
	if res.Usage.PromptTokens != 7 || res.Usage.CompletionTokens != 4 {
		t.Errorf("unexpected usage: %+v", res.Usage)
	}
}

func TestGenerate_MidStreamErrorEvent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		events := []string{
			`event: message_start
data: {"type":"message_start","message":{"id":"msg_1","role":"assistant","model":"m","content":[],"usage":{"input_tokens":5,"output_tokens":0}}}`,
			`event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}`,
			`event: error
data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "%s\n\n", e)
			flusher.Flush()
		}
	}))
	defer ts.Close()

	p := New("test-key", WithBaseURL(ts.URL))
	_, err := p.Generate(context.Background(),
		[]domain.Message{{Role: "user", Content: "hi"}},
		domain.GenerateOptions{Model: "m"},
		func(string) {})

	// partial output followed by an error event is a failed generation
	if !domain.IsKind(err, domain.ErrorKindRateLimited) {
		t.Errorf("expected rate_limited from overloaded_error, got %v", err)
	}
}

func TestGenerate_AbandonedStreamReleasesReader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		// an undecodable delta makes the consumer return early while the
		// backend keeps streaming
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":\"broken\"}\n\n")
		flusher.Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			default:
				fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"x\"}}\n\n")
				flusher.Flush()
				time.Sleep(time.Millisecond)
			}
		}
	}))
	defer ts.Close()

	p := New("test-key", WithBaseURL(ts.URL))
	before := runtime.NumGoroutine()

	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		_, err := p.Generate(ctx, []domain.Message{{Role: "user", Content: "hi"}}, domain.GenerateOptions{Model: "m"}, func(string) {})
		cancel()
		if !domain.IsKind(err, domain.ErrorKindMalformedResponse) {
			t.Fatalf("expected malformed_response, got %v", err)
		}
	}

	// stream readers must wind down once their contexts are cancelled
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before+2 {
		if time.Now().After(deadline) {
			t.Fatalf("stream reader goroutines leaked: before=%d now=%d", before, runtime.NumGoroutine())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGenerate_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		errType string
		want    domain.ErrorKind
	}{
		{"bad key", http.StatusUnauthorized, "authentication_error", domain.ErrorKindInvalidCredentials},
		{"throttled", http.StatusTooManyRequests, "rate_limit_error", domain.ErrorKindRateLimited},
		{"overloaded", http.StatusServiceUnavailable, "overloaded_error", domain.ErrorKindRateLimited},
		{"upstream broke", http.StatusInternalServerError, "api_error", domain.ErrorKindServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprintf(w, `{"type":"error","error":{"type":%q,"message":"nope"}}`, tt.errType)
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

func TestGenerate_MalformedBodyPreservesRaw(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `this is not json`)
	}))
	defer ts.Close()

	p := New("test-key", WithBaseURL(ts.URL))
	_, err := p.Generate(context.Background(), []domain.Message{{Role: "user", Content: "hi"}}, domain.GenerateOptions{Model: "m"}, nil)

	engErr := domain.AsEngineError(err)
	if engErr.Kind != domain.ErrorKindMalformedResponse {
		t.Fatalf("expected malformed_response, got %v", err)
	}
	if !strings.Contains(engErr.Detail, "this is not json") {
		t.Errorf("raw body not preserved: %q", engErr.Detail)
	}
}

func TestGenerate_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client disconnect and
		// cancels the request context; otherwise Close hangs forever.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer ts.Close()

	p := New("test-key", WithBaseURL(ts.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Generate(ctx, []domain.Message{{Role: "user", Content: "hi"}}, domain.GenerateOptions{Model: "m"}, nil)
	if !domain.IsKind(err, domain.ErrorKindTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestGenerate_AttachmentsRideOnLastMessage(t *testing.T) {
	var got anthropicapi.MessagesRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":"ok"}],"model":"m","stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	defer ts.Close()

	p := New("test-key", WithBaseURL(ts.URL))
	_, err := p.Generate(context.Background(),
		[]domain.Message{{Role: "user", Content: "look at this"}},
		domain.GenerateOptions{
			Model: "m",
			Attachments: []domain.Attachment{
				{Kind: domain.AttachmentImage, Name: "chart.png", MediaType: "image/png", Data: "aGk="},
				{Kind: domain.AttachmentDocument, Name: "notes.txt", Data: "remember the deadline"},
			},
		},
		nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	last := got.Messages[len(got.Messages)-1]
	if len(last.Content) != 3 {
		t.Fatalf("expected text + image + document parts, got %d", len(last.Content))
	}
	if last.Content[1].Type != "image" || last.Content[1].Source == nil || last.Content[1].Source.Data != "aGk=" {
		t.Errorf("image attachment not forwarded: %+v", last.Content[1])
	}
	if last.Content[2].Type != "text" || !strings.Contains(last.Content[2].Text, "remember the deadline") {
		t.Errorf("document attachment not degraded to text: %+v", last.Content[2])
	}
}
