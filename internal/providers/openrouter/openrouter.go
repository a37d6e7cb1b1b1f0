// Package openrouter provides the OpenRouter adapter. OpenRouter is an
// aggregator: model ids are vendor-prefixed ("anthropic/claude-sonnet-4-5")
// and a single key reaches many upstreams, which makes it the fallback route
// when no first-party key is configured.
package openrouter

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"modelgate/internal/core"
	"modelgate/internal/llmclient"
	"modelgate/internal/providers"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

func init() {
	// Self-register with the factory
	providers.Register("openrouter", func(opts providers.Options) core.Adapter {
		return New(opts)
	})
}

// Adapter implements core.Adapter for OpenRouter.
type Adapter struct {
	client *llmclient.Client
}

// New creates an OpenRouter adapter.
func New(opts providers.Options) *Adapter {
	cfg := llmclient.DefaultConfig("openrouter", defaultBaseURL)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &Adapter{client: llmclient.NewWithHTTPClient(opts.HTTPClient, cfg)}
}

// SetBaseURL allows configuring a custom base URL for the adapter.
func (a *Adapter) SetBaseURL(url string) {
	a.client.SetBaseURL(url)
}

func (a *Adapter) Name() string { return "openrouter" }

// Contract: OpenRouter fans out to many upstreams, so the gateway assumes
// the least capable input shape: inline data URLs only, no file channel.
func (a *Adapter) Contract() core.InputContract {
	return core.InputContract{Provider: "openrouter"}
}

func bearerAuth(cred core.Credential) llmclient.HeaderSetter {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+cred.Key)
	}
}

// SendMessage executes a single-shot chat completion.
func (a *Adapter) SendMessage(ctx context.Context, req *core.ProviderRequest) (string, error) {
	var resp providers.ChatResponse
	err := a.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body: providers.ChatRequest{
			Model:    req.Model,
			Messages: providers.ToWireMessages(req.Messages),
		},
		Headers: bearerAuth(req.Credential),
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Content(), nil
}

// StreamMessage starts a streaming chat completion.
func (a *Adapter) StreamMessage(ctx context.Context, req *core.ProviderRequest) (core.TextStream, error) {
	body, err := a.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body: providers.ChatRequest{
			Model:    req.Model,
			Messages: providers.ToWireMessages(req.Messages),
			Stream:   true,
		},
		Headers: bearerAuth(req.Credential),
	})
	if err != nil {
		return nil, err
	}
	return providers.NewChatTextStream(body), nil
}

// ValidateCredential checks a key. OpenRouter's model listing is public, so
// the authenticated key endpoint is used instead.
func (a *Adapter) ValidateCredential(ctx context.Context, key string) (bool, error) {
	err := a.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/key",
		Headers:  bearerAuth(core.Credential{Key: key}),
	}, nil)
	if err != nil {
		var perr *core.ProviderError
		if errors.As(err, &perr) && (perr.StatusCode == http.StatusUnauthorized || perr.StatusCode == http.StatusForbidden) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Models fetches the aggregated catalog. Ids keep their vendor prefix;
// that namespace is what callers must use to route through OpenRouter.
func (a *Adapter) Models(ctx context.Context, cred core.Credential) ([]core.Model, error) {
	var resp providers.ModelsResponse
	err := a.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models",
		Headers:  bearerAuth(cred),
	}, &resp)
	if err != nil {
		return nil, err
	}

	models := make([]core.Model, 0, len(resp.Data))
	for _, m := range resp.Data {
		caps := []core.Capability{core.CapabilityText, core.CapabilityStreaming}
		if vendor, _, ok := strings.Cut(m.ID, "/"); ok && (vendor == "openai" || vendor == "anthropic" || vendor == "google") {
			caps = append(caps, core.CapabilityVision)
		}
		models = append(models, core.Model{
			ID:           m.ID,
			Provider:     "openrouter",
			Capabilities: caps,
		})
	}
	return models, nil
}
