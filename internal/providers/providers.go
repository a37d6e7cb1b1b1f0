// Package providers hosts the provider adapter factory and the shared
// OpenAI-compatible wire helpers used by the adapters that speak that
// dialect.
package providers

import (
	"fmt"
	"net/http"
	"sort"

	"modelgate/internal/core"
)

// Options carries per-adapter construction settings.
type Options struct {
	// BaseURL overrides the adapter's default API endpoint. Used for
	// self-hosted gateways and test servers.
	BaseURL string

	// HTTPClient overrides the default pooled transport.
	HTTPClient *http.Client
}

// Builder creates an adapter instance. Adapters with image support also
// satisfy core.ImageAdapter; callers type-assert for it.
type Builder func(opts Options) core.Adapter

// registry holds all registered adapter builders.
var registry = make(map[string]Builder)

// Register allows adapter packages to register themselves.
// This should be called from init() functions in adapter packages.
func Register(name string, builder Builder) {
	registry[name] = builder
}

// Create instantiates an adapter by provider name.
func Create(name string, opts Options) (core.Adapter, error) {
	builder, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	return builder(opts), nil
}

// Registered returns all registered provider names, sorted.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
