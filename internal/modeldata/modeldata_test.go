package modeldata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"modelgate/internal/core"
)

const registryJSON = `{
	"version": 1,
	"updated_at": "2026-08-01",
	"models": {
		"claude-sonnet-4-5": {
			"context_window": 200000,
			"input_price": 3,
			"output_price": 15,
			"capabilities": ["vision"]
		},
		"gpt-4o": {
			"context_window": 128000,
			"input_price": 2.5,
			"output_price": 10
		}
	}
}`

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(registryJSON))
	}))
	defer server.Close()

	list, err := Fetch(context.Background(), server.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(list.Models) != 2 {
		t.Fatalf("models = %d", len(list.Models))
	}
	if list.Models["claude-sonnet-4-5"].ContextWindow != 200000 {
		t.Errorf("entry = %+v", list.Models["claude-sonnet-4-5"])
	}
}

func TestFetchDisabled(t *testing.T) {
	list, err := Fetch(context.Background(), "", time.Second)
	if err != nil || list != nil {
		t.Errorf("empty URL: list=%v err=%v", list, err)
	}
}

func TestFetchUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := Fetch(context.Background(), server.URL, time.Second); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestEnrich(t *testing.T) {
	list, err := Parse([]byte(registryJSON))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	in := []core.Model{
		{ID: "claude-sonnet-4-5", Provider: "anthropic", Capabilities: []core.Capability{core.CapabilityText}},
		{ID: "gpt-4o", Provider: "openai", ContextWindow: 999},
		{ID: "unknown-model", Provider: "openai"},
	}
	out := list.Enrich(in)

	if out[0].ContextWindow != 200000 || out[0].InputPrice != 3 {
		t.Errorf("claude = %+v", out[0])
	}
	if !out[0].HasCapability(core.CapabilityVision) || !out[0].HasCapability(core.CapabilityText) {
		t.Errorf("claude capabilities = %v", out[0].Capabilities)
	}
	// Adapter-set values win over the registry.
	if out[1].ContextWindow != 999 {
		t.Errorf("gpt-4o context window = %d", out[1].ContextWindow)
	}
	if out[1].OutputPrice != 10 {
		t.Errorf("gpt-4o output price = %v", out[1].OutputPrice)
	}
	if out[2].ContextWindow != 0 {
		t.Errorf("unknown model mutated: %+v", out[2])
	}

	// Input slice untouched.
	if in[0].ContextWindow != 0 {
		t.Error("enrich mutated its input")
	}
}

func TestEnrichNilList(t *testing.T) {
	var list *List
	in := []core.Model{{ID: "gpt-4o"}}
	out := list.Enrich(in)
	if len(out) != 1 || out[0].ID != "gpt-4o" {
		t.Errorf("out = %+v", out)
	}
}
