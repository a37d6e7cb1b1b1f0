package providers

import (
	"io"

	"github.com/tidwall/gjson"

	"modelgate/internal/core"
	"modelgate/internal/llmclient"
)

// ChatMessage is one message in the OpenAI-compatible chat dialect. Content
// is either a plain string or a []ContentPart.
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one piece of multimodal message content.
type ContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *ImageURLPart `json:"image_url,omitempty"`
	File     *FilePart     `json:"file,omitempty"`
}

// ImageURLPart holds a remote URL or a data URL.
type ImageURLPart struct {
	URL string `json:"url"`
}

// FilePart holds a base64 document for providers with a file channel.
type FilePart struct {
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data"`
}

// ChatRequest is the OpenAI-compatible chat completion body.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// ChatResponse is the subset of a chat completion response the gateway
// reads.
type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Content returns the first choice's message content.
func (r *ChatResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// ModelsResponse is the OpenAI-compatible model listing.
type ModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ToWireMessages converts transcoded messages to the OpenAI-compatible
// shape. A message consisting of a single text part collapses to plain
// string content; anything multimodal becomes a part array.
func ToWireMessages(msgs []core.PromptMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		if len(msg.Parts) == 1 && msg.Parts[0].Type == core.PartText {
			out = append(out, ChatMessage{Role: string(msg.Role), Content: msg.Parts[0].Text})
			continue
		}

		parts := make([]ContentPart, 0, len(msg.Parts))
		for _, p := range msg.Parts {
			switch p.Type {
			case core.PartText:
				parts = append(parts, ContentPart{Type: "text", Text: p.Text})
			case core.PartImageURL:
				parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURLPart{URL: p.ImageURL}})
			case core.PartFile:
				parts = append(parts, ContentPart{Type: "file", File: &FilePart{
					Filename: p.FileName,
					FileData: p.FileData,
				}})
			}
		}
		out = append(out, ChatMessage{Role: string(msg.Role), Content: parts})
	}
	return out
}

// chatTextStream yields content deltas from an OpenAI-compatible SSE body.
type chatTextStream struct {
	scanner *llmclient.SSEScanner
}

// NewChatTextStream wraps a streaming chat completion body.
func NewChatTextStream(body io.ReadCloser) core.TextStream {
	return &chatTextStream{scanner: llmclient.NewSSEScanner(body)}
}

// Recv returns the next non-empty content delta. Chunks with no content
// (role announcements, finish reasons, usage frames) are skipped.
func (s *chatTextStream) Recv() (string, error) {
	for {
		data, err := s.scanner.Next()
		if err != nil {
			return "", err
		}
		delta := gjson.GetBytes(data, "choices.0.delta.content")
		if !delta.Exists() || delta.String() == "" {
			continue
		}
		return delta.String(), nil
	}
}

func (s *chatTextStream) Close() error {
	return s.scanner.Close()
}
