// Package modeldata enriches discovered catalog entries with context windows
// and pricing from an external metadata registry. Discovery endpoints return
// ids only; everything else comes from here.
package modeldata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"modelgate/internal/core"
)

// maxBodySize caps the registry download.
const maxBodySize = 10 << 20

// List is the parsed metadata registry, keyed by bare model id.
type List struct {
	Version   int              `json:"version"`
	UpdatedAt string           `json:"updated_at"`
	Models    map[string]Entry `json:"models"`
}

// Entry holds the metadata for one model. Prices are per million tokens.
type Entry struct {
	ContextWindow int               `json:"context_window,omitempty"`
	InputPrice    float64           `json:"input_price,omitempty"`
	OutputPrice   float64           `json:"output_price,omitempty"`
	Capabilities  []core.Capability `json:"capabilities,omitempty"`
}

// Fetch downloads and parses the registry. An empty URL disables the feature
// and returns nil without error.
func Fetch(ctx context.Context, url string, timeout time.Duration) (*List, error) {
	if url == "" {
		return nil, nil
	}

	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching model metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(raw) > maxBodySize {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxBodySize)
	}

	return Parse(raw)
}

// Parse deserializes raw registry JSON.
func Parse(raw []byte) (*List, error) {
	var list List
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parsing model metadata: %w", err)
	}
	return &list, nil
}

// Enrich fills the metadata fields of each model from the registry. Values
// already set by the adapter win; registry capabilities are appended, never
// replaced. Models without a registry entry pass through unchanged.
func (l *List) Enrich(models []core.Model) []core.Model {
	if l == nil || len(l.Models) == 0 {
		return models
	}

	out := make([]core.Model, len(models))
	copy(out, models)
	for i := range out {
		entry, ok := l.Models[out[i].ID]
		if !ok {
			continue
		}
		if out[i].ContextWindow == 0 {
			out[i].ContextWindow = entry.ContextWindow
		}
		if out[i].InputPrice == 0 {
			out[i].InputPrice = entry.InputPrice
		}
		if out[i].OutputPrice == 0 {
			out[i].OutputPrice = entry.OutputPrice
		}
		for _, c := range entry.Capabilities {
			if !out[i].HasCapability(c) {
				out[i].Capabilities = append(out[i].Capabilities, c)
			}
		}
	}
	return out
}
