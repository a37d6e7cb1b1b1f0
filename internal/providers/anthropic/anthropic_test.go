package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"modelgate/internal/core"
	"modelgate/internal/providers"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(providers.Options{BaseURL: server.URL, HTTPClient: server.Client()})
}

func TestBuildRequestExtractsSystem(t *testing.T) {
	req := &core.ProviderRequest{
		Model: "claude-sonnet-4-5",
		Messages: []core.PromptMessage{
			{Role: core.RoleSystem, Parts: []core.Part{{Type: core.PartText, Text: "be brief"}}},
			{Role: core.RoleUser, Parts: []core.Part{{Type: core.PartText, Text: "hi"}}},
			{Role: core.RoleAssistant, Parts: []core.Part{{Type: core.PartText, Text: "hello"}}},
		},
	}

	wire := buildRequest(req, false)
	if wire.System != "be brief" {
		t.Errorf("system = %q", wire.System)
	}
	if len(wire.Messages) != 2 {
		t.Fatalf("messages = %d, want system hoisted out", len(wire.Messages))
	}
	if wire.Messages[0].Role != "user" || wire.Messages[1].Role != "assistant" {
		t.Errorf("roles = %s, %s", wire.Messages[0].Role, wire.Messages[1].Role)
	}
	if wire.MaxTokens != defaultMaxTokens {
		t.Errorf("max_tokens = %d", wire.MaxTokens)
	}
}

func TestToBlocksShapes(t *testing.T) {
	blocks := toBlocks([]core.Part{
		{Type: core.PartText, Text: "look at this"},
		{Type: core.PartImageURL, ImageURL: "data:image/png;base64,AAAA"},
		{Type: core.PartImageURL, ImageURL: "https://cdn.example.com/cat.png"},
		{Type: core.PartFile, FileName: "report.pdf", FileData: "UERG"},
	})
	if len(blocks) != 4 {
		t.Fatalf("blocks = %d", len(blocks))
	}

	img := blocks[1]
	if img.Type != "image" || img.Source.Type != "base64" || img.Source.MediaType != "image/png" || img.Source.Data != "AAAA" {
		t.Errorf("data URL block = %+v", img)
	}

	remote := blocks[2]
	if remote.Source.Type != "url" || remote.Source.URL != "https://cdn.example.com/cat.png" {
		t.Errorf("remote block = %+v", remote)
	}

	doc := blocks[3]
	if doc.Type != "document" || doc.Source.MediaType != "application/pdf" || doc.Source.Data != "UERG" {
		t.Errorf("document block = %+v", doc)
	}
}

func TestSendMessage(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if key := r.Header.Get("x-api-key"); key != "sk-ant-test" {
			t.Errorf("x-api-key = %q", key)
		}
		if v := r.Header.Get("anthropic-version"); v != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q", v)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "Hello "},
				{"type": "text", "text": "there"},
			},
		})
	})

	got, err := adapter.SendMessage(context.Background(), &core.ProviderRequest{
		Model: "claude-sonnet-4-5",
		Messages: []core.PromptMessage{
			{Role: core.RoleUser, Parts: []core.Part{{Type: core.PartText, Text: "hi"}}},
		},
		Credential: core.Credential{Key: "sk-ant-test"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got != "Hello there" {
		t.Errorf("content = %q", got)
	}
}

func TestStreamMessage(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"type":"message_start","message":{"id":"msg_1"}}`,
			`{"type":"content_block_start","index":0}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_stop"}`,
		}
		for _, f := range frames {
			_, _ = io.WriteString(w, "data: "+f+"\n\n")
		}
	})

	stream, err := adapter.StreamMessage(context.Background(), &core.ProviderRequest{
		Model: "claude-sonnet-4-5",
		Messages: []core.PromptMessage{
			{Role: core.RoleUser, Parts: []core.Part{{Type: core.PartText, Text: "hi"}}},
		},
		Credential: core.Credential{Key: "sk-ant-test"},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	var full string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		full += chunk
	}
	if full != "Hello" {
		t.Errorf("accumulated = %q", full)
	}
}

func TestStreamRateLimitError(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"Rate limited"}}`))
	})

	_, err := adapter.StreamMessage(context.Background(), &core.ProviderRequest{
		Model: "claude-sonnet-4-5",
		Messages: []core.PromptMessage{
			{Role: core.RoleUser, Parts: []core.Part{{Type: core.PartText, Text: "hi"}}},
		},
		Credential: core.Credential{Key: "sk-ant-test"},
	})

	var perr *core.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %T %v", err, err)
	}
	if !perr.Retryable {
		t.Error("rate limit should be retryable")
	}
	if perr.Message != "Rate limited" {
		t.Errorf("message = %q", perr.Message)
	}
}

func TestModels(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"claude-sonnet-4-5"},{"id":"claude-haiku-4-5"}]}`))
	})

	models, err := adapter.Models(context.Background(), core.Credential{Key: "sk-ant-test"})
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("models = %+v", models)
	}
	if models[0].Provider != "anthropic" {
		t.Errorf("provider = %s", models[0].Provider)
	}
}
