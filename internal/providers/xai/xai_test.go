package xai

import (
	"context"
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

func TestStreamMessage(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer xai-test" {
			t.Errorf("auth = %q", auth)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"choices":[{"delta":{"content":"grok says "}}]}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"choices":[{"delta":{"content":"hi"}}]}`+"\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	stream, err := adapter.StreamMessage(context.Background(), &core.ProviderRequest{
		Model: "grok-4",
		Messages: []core.PromptMessage{
			{Role: core.RoleUser, Parts: []core.Part{{Type: core.PartText, Text: "hi"}}},
		},
		Credential: core.Credential{Key: "xai-test"},
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
	if full != "grok says hi" {
		t.Errorf("accumulated = %q", full)
	}
}

func TestModels(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"grok-4"},{"id":"grok-2-vision-1212"},{"id":"grok-3-mini"}]}`))
	})

	models, err := adapter.Models(context.Background(), core.Credential{Key: "xai-test"})
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if len(models) != 3 {
		t.Fatalf("models = %+v", models)
	}
	if !models[0].HasCapability(core.CapabilityVision) {
		t.Error("grok-4 should have vision")
	}
	if !models[1].HasCapability(core.CapabilityVision) {
		t.Error("grok-2-vision should have vision")
	}
	if models[2].HasCapability(core.CapabilityVision) {
		t.Error("grok-3-mini should not have vision")
	}
}
