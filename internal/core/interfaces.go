package core

import "context"

// Adapter is the contract every provider backend implements. Variants differ
// only in wire field names, accepted attachment shapes (declared via
// Contract), and streaming event framing. Every upstream failure is
// normalized to *ProviderError before it crosses this boundary.
type Adapter interface {
	// Name returns the provider name used in the registry and in errors.
	Name() string

	// Contract declares which attachment shapes this provider accepts.
	Contract() InputContract

	// SendMessage executes a single-shot completion.
	SendMessage(ctx context.Context, req *ProviderRequest) (string, error)

	// StreamMessage starts a streaming completion. The returned stream is
	// not restartable; issue a new call to retry.
	StreamMessage(ctx context.Context, req *ProviderRequest) (TextStream, error)

	// ValidateCredential performs a cheap, side-effect-minimal check of a
	// key. Used only for status reporting, never for production requests.
	ValidateCredential(ctx context.Context, key string) (bool, error)

	// Models fetches the provider's own catalog entries.
	Models(ctx context.Context, cred Credential) ([]Model, error)
}

// ImageAdapter is implemented by adapters that support image synthesis.
// Text-only adapters simply do not implement it.
type ImageAdapter interface {
	GenerateImage(ctx context.Context, prompt string, opts ImageOptions, cred Credential) (ImageStream, error)
}
