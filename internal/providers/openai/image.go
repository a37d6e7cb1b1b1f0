package openai

import (
	"context"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"modelgate/internal/core"
	"modelgate/internal/llmclient"
)

// imageRequest is the body for streaming image generation.
type imageRequest struct {
	Model         string `json:"model"`
	Prompt        string `json:"prompt"`
	Stream        bool   `json:"stream"`
	PartialImages int    `json:"partial_images,omitempty"`
	Size          string `json:"size,omitempty"`
	Quality       string `json:"quality,omitempty"`
}

const imageModel = "gpt-image-1"

// GenerateImage starts a streaming image generation. Partial events carry
// the full snapshot rendered so far; exactly one terminal event follows.
func (a *Adapter) GenerateImage(ctx context.Context, prompt string, opts core.ImageOptions, cred core.Credential) (core.ImageStream, error) {
	body, err := a.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/images/generations",
		Body: imageRequest{
			Model:         imageModel,
			Prompt:        prompt,
			Stream:        true,
			PartialImages: opts.PartialImages,
			Size:          opts.Size,
			Quality:       opts.Quality,
		},
		Headers: bearerAuth(cred),
	})
	if err != nil {
		return nil, err
	}
	return &imageStream{scanner: llmclient.NewSSEScanner(body)}, nil
}

// imageStream converts the image generation SSE frames into image events.
type imageStream struct {
	scanner  *llmclient.SSEScanner
	terminal bool
}

func (s *imageStream) Recv() (core.ImageEvent, error) {
	if s.terminal {
		return core.ImageEvent{}, io.EOF
	}

	for {
		data, err := s.scanner.Next()
		if err != nil {
			s.terminal = true
			if err == io.EOF {
				// Upstream ended without a completed frame: the image
				// never finished.
				return core.ImageEvent{
					Type: core.ImageFailed,
					Err:  core.NewProviderError("openai", "image stream ended before completion", nil),
				}, nil
			}
			return core.ImageEvent{
				Type: core.ImageFailed,
				Err:  core.ClassifyTransport("openai", err),
			}, nil
		}

		switch gjson.GetBytes(data, "type").String() {
		case "image_generation.partial_image":
			return core.ImageEvent{
				Type:  core.ImagePartial,
				Index: int(gjson.GetBytes(data, "partial_image_index").Int()),
				B64:   gjson.GetBytes(data, "b64_json").String(),
			}, nil

		case "image_generation.completed":
			s.terminal = true
			return core.ImageEvent{
				Type:          core.ImageComplete,
				B64:           gjson.GetBytes(data, "b64_json").String(),
				RevisedPrompt: gjson.GetBytes(data, "revised_prompt").String(),
			}, nil

		case "error":
			s.terminal = true
			return core.ImageEvent{
				Type: core.ImageFailed,
				Err:  core.NewProviderError("openai", gjson.GetBytes(data, "error.message").String(), nil),
			}, nil
		}
	}
}

func (s *imageStream) Close() error {
	return s.scanner.Close()
}
