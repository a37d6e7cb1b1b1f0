// Package groq provides the Groq adapter via Groq's OpenAI-compatible
// endpoint.
package groq

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"modelgate/internal/core"
	"modelgate/internal/llmclient"
	"modelgate/internal/providers"
)

const defaultBaseURL = "https://api.groq.com/openai/v1"

func init() {
	// Self-register with the factory
	providers.Register("groq", func(opts providers.Options) core.Adapter {
		return New(opts)
	})
}

// Adapter implements core.Adapter for Groq.
type Adapter struct {
	client *llmclient.Client
}

// New creates a Groq adapter.
func New(opts providers.Options) *Adapter {
	cfg := llmclient.DefaultConfig("groq", defaultBaseURL)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &Adapter{client: llmclient.NewWithHTTPClient(opts.HTTPClient, cfg)}
}

// SetBaseURL allows configuring a custom base URL for the adapter.
func (a *Adapter) SetBaseURL(url string) {
	a.client.SetBaseURL(url)
}

func (a *Adapter) Name() string { return "groq" }

// Contract: inline data URLs only.
func (a *Adapter) Contract() core.InputContract {
	return core.InputContract{Provider: "groq"}
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

// Models fetches the catalog, skipping the hosted audio models.
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
		if strings.HasPrefix(m.ID, "whisper-") || strings.Contains(m.ID, "-tts") {
			continue
		}
		models = append(models, core.Model{
			ID:           m.ID,
			Provider:     "groq",
			Capabilities: []core.Capability{core.CapabilityText, core.CapabilityStreaming},
		})
	}
	return models, nil
}
