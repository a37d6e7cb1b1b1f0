// Package openai provides the OpenAI adapter: chat completions, model
// discovery, and streaming image generation.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"modelgate/internal/core"
	"modelgate/internal/llmclient"
	"modelgate/internal/providers"
)

const defaultBaseURL = "https://api.openai.com/v1"

func init() {
	// Self-register with the factory
	providers.Register("openai", func(opts providers.Options) core.Adapter {
		return New(opts)
	})
}

// Adapter implements core.Adapter and core.ImageAdapter for OpenAI.
type Adapter struct {
	client *llmclient.Client
}

// New creates an OpenAI adapter.
func New(opts providers.Options) *Adapter {
	cfg := llmclient.DefaultConfig("openai", defaultBaseURL)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &Adapter{client: llmclient.NewWithHTTPClient(opts.HTTPClient, cfg)}
}

// SetBaseURL allows configuring a custom base URL for the adapter.
func (a *Adapter) SetBaseURL(url string) {
	a.client.SetBaseURL(url)
}

func (a *Adapter) Name() string { return "openai" }

// Contract: OpenAI dereferences image URLs server-side, so uploaded
// attachments can be passed by reference. There is no separate document
// channel; PDFs arrive as text.
func (a *Adapter) Contract() core.InputContract {
	return core.InputContract{
		Provider:        "openai",
		RemoteImageURLs: true,
	}
}

// bearerAuth sets the Authorization header for a per-request credential.
func bearerAuth(cred core.Credential) llmclient.HeaderSetter {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+cred.Key)
		if requestID := core.GetRequestID(req.Context()); requestID != "" {
			req.Header.Set("X-Client-Request-Id", requestID)
		}
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

// ValidateCredential checks a key against the models endpoint. An auth
// failure means an invalid key, not an error.
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

// Models fetches the catalog. Non-conversational entries (embeddings, audio,
// image, moderation) are filtered out; capabilities are inferred from the
// model id.
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
		if !isChatModel(m.ID) {
			continue
		}
		models = append(models, core.Model{
			ID:           m.ID,
			Provider:     "openai",
			Capabilities: inferCapabilities(m.ID),
		})
	}
	return models, nil
}

// nonChatPrefixes mark models that cannot serve a chat completion.
var nonChatPrefixes = []string{
	"whisper", "tts", "dall-e", "gpt-image",
	"text-embedding", "omni-moderation",
	"davinci", "babbage",
}

func isChatModel(id string) bool {
	for _, prefix := range nonChatPrefixes {
		if strings.HasPrefix(id, prefix) {
			return false
		}
	}
	return true
}

func inferCapabilities(id string) []core.Capability {
	caps := []core.Capability{core.CapabilityText, core.CapabilityStreaming}
	if strings.HasPrefix(id, "gpt-4") || strings.HasPrefix(id, "gpt-5") || strings.Contains(id, "4o") {
		caps = append(caps, core.CapabilityVision)
	}
	if strings.HasPrefix(id, "o1") || strings.HasPrefix(id, "o3") || strings.HasPrefix(id, "o4") {
		caps = append(caps, core.CapabilityReasoning)
	}
	return caps
}
