// Package gemini provides the Google Gemini adapter via Gemini's
// OpenAI-compatible endpoint.
package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"modelgate/internal/core"
	"modelgate/internal/llmclient"
	"modelgate/internal/providers"
)

// Gemini exposes an OpenAI-compatible surface under /openai.
const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

func init() {
	// Self-register with the factory
	providers.Register("gemini", func(opts providers.Options) core.Adapter {
		return New(opts)
	})
}

// Adapter implements core.Adapter for Gemini.
type Adapter struct {
	client *llmclient.Client
}

// New creates a Gemini adapter.
func New(opts providers.Options) *Adapter {
	cfg := llmclient.DefaultConfig("gemini", defaultBaseURL)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &Adapter{client: llmclient.NewWithHTTPClient(opts.HTTPClient, cfg)}
}

// SetBaseURL allows configuring a custom base URL for the adapter.
func (a *Adapter) SetBaseURL(url string) {
	a.client.SetBaseURL(url)
}

func (a *Adapter) Name() string { return "gemini" }

// Contract: the OpenAI-compatible endpoint takes inline data URLs only;
// remote references are not dereferenced. PDFs arrive as text.
func (a *Adapter) Contract() core.InputContract {
	return core.InputContract{Provider: "gemini"}
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

// ValidateCredential checks a key against the models endpoint.
func (a *Adapter) ValidateCredential(ctx context.Context, key string) (bool, error) {
	err := a.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models",
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

// Models fetches the catalog. Gemini returns ids namespaced as
// "models/<id>"; the prefix is stripped so callers address models by bare
// id.
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
		id := strings.TrimPrefix(m.ID, "models/")
		if !strings.HasPrefix(id, "gemini-") {
			continue
		}
		models = append(models, core.Model{
			ID:       id,
			Provider: "gemini",
			Capabilities: []core.Capability{
				core.CapabilityText,
				core.CapabilityStreaming,
				core.CapabilityVision,
			},
		})
	}
	return models, nil
}
