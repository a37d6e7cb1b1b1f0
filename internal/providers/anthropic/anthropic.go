// Package anthropic provides the Anthropic adapter. The Messages API keeps
// the system prompt outside the message list and carries documents through a
// first-class content block, so conversion is where this adapter earns its
// keep.
package anthropic

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"modelgate/internal/core"
	"modelgate/internal/llmclient"
	"modelgate/internal/providers"
)

const (
	defaultBaseURL      = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 4096
)

func init() {
	// Self-register with the factory
	providers.Register("anthropic", func(opts providers.Options) core.Adapter {
		return New(opts)
	})
}

// Adapter implements core.Adapter for Anthropic.
type Adapter struct {
	client *llmclient.Client
}

// New creates an Anthropic adapter.
func New(opts providers.Options) *Adapter {
	cfg := llmclient.DefaultConfig("anthropic", defaultBaseURL)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &Adapter{client: llmclient.NewWithHTTPClient(opts.HTTPClient, cfg)}
}

// SetBaseURL allows configuring a custom base URL for the adapter.
func (a *Adapter) SetBaseURL(url string) {
	a.client.SetBaseURL(url)
}

func (a *Adapter) Name() string { return "anthropic" }

// Contract: Anthropic requires inline image bytes but accepts PDFs as
// document blocks.
func (a *Adapter) Contract() core.InputContract {
	return core.InputContract{
		Provider:    "anthropic",
		FileObjects: true,
	}
}

func apiAuth(cred core.Credential) llmclient.HeaderSetter {
	return func(req *http.Request) {
		req.Header.Set("x-api-key", cred.Key)
		req.Header.Set("anthropic-version", anthropicAPIVersion)
	}
}

// wire types for the Messages API

type messagesRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type   string      `json:"type"`
	Text   string      `json:"text,omitempty"`
	Source *wireSource `json:"source,omitempty"`
}

type wireSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// buildRequest converts transcoded messages to the Messages API shape.
// System messages are hoisted into the top-level system field; the message
// list carries only user and assistant turns.
func buildRequest(req *core.ProviderRequest, stream bool) *messagesRequest {
	out := &messagesRequest{
		Model:     req.Model,
		Messages:  make([]wireMessage, 0, len(req.Messages)),
		MaxTokens: defaultMaxTokens,
		Stream:    stream,
	}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == core.RoleSystem {
			system = append(system, msg.Text())
			continue
		}
		out.Messages = append(out.Messages, wireMessage{
			Role:    string(msg.Role),
			Content: toBlocks(msg.Parts),
		})
	}
	out.System = strings.Join(system, "\n\n")

	return out
}

func toBlocks(parts []core.Part) []wireBlock {
	blocks := make([]wireBlock, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case core.PartText:
			blocks = append(blocks, wireBlock{Type: "text", Text: p.Text})
		case core.PartImageURL:
			blocks = append(blocks, imageBlock(p.ImageURL))
		case core.PartFile:
			blocks = append(blocks, wireBlock{Type: "document", Source: &wireSource{
				Type:      "base64",
				MediaType: "application/pdf",
				Data:      p.FileData,
			}})
		}
	}
	return blocks
}

// imageBlock converts an image reference. Data URLs become inline base64
// sources; anything else is passed as a URL source.
func imageBlock(url string) wireBlock {
	if rest, ok := strings.CutPrefix(url, "data:"); ok {
		mediaType, data, found := strings.Cut(rest, ";base64,")
		if found {
			return wireBlock{Type: "image", Source: &wireSource{
				Type:      "base64",
				MediaType: mediaType,
				Data:      data,
			}}
		}
	}
	return wireBlock{Type: "image", Source: &wireSource{Type: "url", URL: url}}
}

// SendMessage executes a single-shot completion.
func (a *Adapter) SendMessage(ctx context.Context, req *core.ProviderRequest) (string, error) {
	var resp messagesResponse
	err := a.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     buildRequest(req, false),
		Headers:  apiAuth(req.Credential),
	}, &resp)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

// StreamMessage starts a streaming completion.
func (a *Adapter) StreamMessage(ctx context.Context, req *core.ProviderRequest) (core.TextStream, error) {
	body, err := a.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     buildRequest(req, true),
		Headers:  apiAuth(req.Credential),
	})
	if err != nil {
		return nil, err
	}
	return &textStream{scanner: llmclient.NewSSEScanner(body)}, nil
}

// textStream yields text deltas from the Messages API event stream. Only
// content_block_delta events carry text; message_stop ends the stream.
type textStream struct {
	scanner *llmclient.SSEScanner
}

func (s *textStream) Recv() (string, error) {
	for {
		data, err := s.scanner.Next()
		if err != nil {
			return "", err
		}

		switch gjson.GetBytes(data, "type").String() {
		case "content_block_delta":
			if text := gjson.GetBytes(data, "delta.text").String(); text != "" {
				return text, nil
			}
		case "message_stop":
			return "", io.EOF
		case "error":
			return "", core.NewProviderError("anthropic", gjson.GetBytes(data, "error.message").String(), nil)
		}
	}
}

func (s *textStream) Close() error {
	return s.scanner.Close()
}

// ValidateCredential checks a key against the models endpoint.
func (a *Adapter) ValidateCredential(ctx context.Context, key string) (bool, error) {
	err := a.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models",
		Headers:  apiAuth(core.Credential{Key: key}),
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

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Models fetches the catalog.
func (a *Adapter) Models(ctx context.Context, cred core.Credential) ([]core.Model, error) {
	var resp modelsResponse
	err := a.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models",
		Headers:  apiAuth(cred),
	}, &resp)
	if err != nil {
		return nil, err
	}

	models := make([]core.Model, 0, len(resp.Data))
	for _, m := range resp.Data {
		models = append(models, core.Model{
			ID:       m.ID,
			Provider: "anthropic",
			Capabilities: []core.Capability{
				core.CapabilityText,
				core.CapabilityStreaming,
				core.CapabilityVision,
			},
		})
	}
	return models, nil
}
