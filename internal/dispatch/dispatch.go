// Package dispatch routes a chat request to the adapter serving its model.
// It owns credential gating, the aggregator fallback remap, custom
// instruction merging, and the handoff into attachment transcoding.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"modelgate/internal/core"
	"modelgate/internal/credentials"
	"modelgate/internal/registry"
	"modelgate/internal/transcode"
)

const aggregatorProvider = "openrouter"

// vendorPrefixes maps a model id prefix to its vendor namespace on the
// aggregator. This is the single home of remap rules.
var vendorPrefixes = []struct {
	idPrefix string
	vendor   string
}{
	{"claude-", "anthropic"},
	{"gemini-", "google"},
	{"gpt-", "openai"},
	{"o1", "openai"},
	{"o3", "openai"},
	{"o4", "openai"},
}

// InstructionSource supplies per-user custom instructions. The storage layer
// satisfies it.
type InstructionSource interface {
	GetCustomInstructions(ctx context.Context, userID string) (string, error)
}

// Dispatcher is the caller-facing entry point for chat and image requests.
type Dispatcher struct {
	registry     *registry.Registry
	creds        *credentials.Resolver
	transcoder   *transcode.Transcoder
	instructions InstructionSource
	logger       *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithInstructionSource enables custom instruction merging.
func WithInstructionSource(src InstructionSource) Option {
	return func(d *Dispatcher) { d.instructions = src }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// New creates a Dispatcher.
func New(reg *registry.Registry, creds *credentials.Resolver, transcoder *transcode.Transcoder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:   reg,
		creds:      creds,
		transcoder: transcoder,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// route is a resolved dispatch target: the adapter to call, the model id in
// that adapter's namespace, and the credential to send.
type route struct {
	adapter core.Adapter
	modelID string
	cred    core.Credential
}

// resolve maps a model id to a route. When the first-party provider has no
// usable credential, the request falls back to the aggregator under the
// vendor-prefixed id, provided an aggregator key exists.
func (d *Dispatcher) resolve(ctx context.Context, modelID, userID string) (route, error) {
	model, adapter, err := d.registry.Lookup(ctx, modelID, userID)
	if errors.Is(err, registry.ErrModelNotFound) {
		// The first-party catalog may be empty (no key to discover
		// with), yet the aggregator lists the model under its vendor
		// namespace.
		if rt, ok := d.aggregatorRoute(ctx, modelID, userID); ok {
			return rt, nil
		}
		return route{}, err
	}
	if err != nil {
		return route{}, err
	}

	cred, credErr := d.creds.Resolve(ctx, model.Provider, userID)
	if credErr == nil {
		return route{adapter: adapter, modelID: modelID, cred: cred}, nil
	}
	if !errors.Is(credErr, credentials.ErrNoCredential) {
		return route{}, credErr
	}

	// No first-party key. Try the aggregator under the vendor namespace.
	if model.Provider != aggregatorProvider {
		if rt, ok := d.aggregatorRoute(ctx, modelID, userID); ok {
			return rt, nil
		}
	}

	return route{}, core.NewConfigurationError(model.Provider)
}

// aggregatorRoute builds the fallback route through the aggregator for a
// first-party model id, when the id has a known vendor and an aggregator
// key exists.
func (d *Dispatcher) aggregatorRoute(ctx context.Context, modelID, userID string) (route, bool) {
	vendor := vendorFor(modelID)
	if vendor == "" {
		return route{}, false
	}
	agg, ok := d.registry.Adapter(aggregatorProvider)
	if !ok {
		return route{}, false
	}
	cred, err := d.creds.Resolve(ctx, aggregatorProvider, userID)
	if err != nil {
		return route{}, false
	}

	remapped := vendor + "/" + modelID
	d.logger.Debug("remapped model to aggregator",
		"model", modelID, "remapped", remapped, "user_id", userID)
	return route{adapter: agg, modelID: remapped, cred: cred}, true
}

// vendorFor returns the aggregator vendor namespace for a model id, or ""
// when the id has no known first-party vendor.
func vendorFor(modelID string) string {
	for _, p := range vendorPrefixes {
		if strings.HasPrefix(modelID, p.idPrefix) {
			return p.vendor
		}
	}
	return ""
}

// prepare resolves the route and transcodes history into the provider's
// accepted shapes, with custom instructions merged into the leading system
// message.
func (d *Dispatcher) prepare(ctx context.Context, modelID string, msgs []core.ChatMessage, userID string) (route, *core.ProviderRequest, error) {
	rt, err := d.resolve(ctx, modelID, userID)
	if err != nil {
		return route{}, nil, err
	}

	msgs, err = d.mergeInstructions(ctx, msgs, userID)
	if err != nil {
		return route{}, nil, err
	}

	prompt := d.transcoder.Messages(ctx, msgs, rt.adapter.Contract())
	return rt, &core.ProviderRequest{
		Model:      rt.modelID,
		Messages:   prompt,
		Credential: rt.cred,
	}, nil
}

// mergeInstructions prepends the user's custom instructions. If the history
// already opens with a system message the instructions are folded into it,
// so the provider never sees two system turns.
func (d *Dispatcher) mergeInstructions(ctx context.Context, msgs []core.ChatMessage, userID string) ([]core.ChatMessage, error) {
	if d.instructions == nil || userID == "" {
		return msgs, nil
	}
	instructions, err := d.instructions.GetCustomInstructions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load custom instructions: %w", err)
	}
	if instructions == "" {
		return msgs, nil
	}

	if len(msgs) > 0 && msgs[0].Role == core.RoleSystem {
		merged := make([]core.ChatMessage, len(msgs))
		copy(merged, msgs)
		merged[0].Content = instructions + "\n\n" + merged[0].Content
		return merged, nil
	}

	out := make([]core.ChatMessage, 0, len(msgs)+1)
	out = append(out, core.ChatMessage{Role: core.RoleSystem, Content: instructions})
	out = append(out, msgs...)
	return out, nil
}

// Send executes a single-shot completion.
func (d *Dispatcher) Send(ctx context.Context, modelID string, msgs []core.ChatMessage, userID string) (string, error) {
	rt, req, err := d.prepare(ctx, modelID, msgs, userID)
	if err != nil {
		return "", err
	}
	return rt.adapter.SendMessage(ctx, req)
}

// Stream starts a streaming completion.
func (d *Dispatcher) Stream(ctx context.Context, modelID string, msgs []core.ChatMessage, userID string) (core.TextStream, error) {
	rt, req, err := d.prepare(ctx, modelID, msgs, userID)
	if err != nil {
		return nil, err
	}
	return rt.adapter.StreamMessage(ctx, req)
}

// GenerateImage starts a streaming image generation on the model's adapter.
func (d *Dispatcher) GenerateImage(ctx context.Context, modelID, prompt string, opts core.ImageOptions, userID string) (core.ImageStream, error) {
	rt, err := d.resolve(ctx, modelID, userID)
	if err != nil {
		return nil, err
	}
	imager, ok := rt.adapter.(core.ImageAdapter)
	if !ok {
		return nil, core.NewProviderError(rt.adapter.Name(),
			fmt.Sprintf("provider %s does not support image generation", rt.adapter.Name()), nil)
	}
	return imager.GenerateImage(ctx, prompt, opts, rt.cred)
}

// Models lists every known model with per-user availability.
func (d *Dispatcher) Models(ctx context.Context, userID string) []core.Model {
	return d.registry.Models(ctx, userID)
}
