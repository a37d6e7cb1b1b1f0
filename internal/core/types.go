// Package core provides the shared types and interfaces for the gateway.
package core

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Capability describes something a model can do.
type Capability string

const (
	CapabilityText            Capability = "text"
	CapabilityVision          Capability = "vision"
	CapabilityCode            Capability = "code"
	CapabilityReasoning       Capability = "reasoning"
	CapabilityImageGeneration Capability = "image-generation"
	CapabilityStreaming       Capability = "streaming"
)

// Model describes one entry in the capability registry. Everything except
// Available is immutable for the process lifetime once loaded; Available is
// recomputed per request from credential state.
type Model struct {
	ID            string       `json:"id"`
	Provider      string       `json:"provider"`
	ContextWindow int          `json:"context_window,omitempty"`
	InputPrice    float64      `json:"input_price,omitempty"`
	OutputPrice   float64      `json:"output_price,omitempty"`
	Capabilities  []Capability `json:"capabilities,omitempty"`
	Available     bool         `json:"available"`
}

// HasCapability reports whether the model declares the given capability.
func (m Model) HasCapability(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// AttachmentKind classifies an attachment's logical content.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentText  AttachmentKind = "text"
	AttachmentPDF   AttachmentKind = "pdf"
)

// AttachmentStatus tracks whether an attachment's bytes are durably stored.
// It is set by the object store collaborator; the gateway only reads it.
type AttachmentStatus string

const (
	AttachmentPending  AttachmentStatus = "pending"
	AttachmentUploaded AttachmentStatus = "uploaded"
	AttachmentFailed   AttachmentStatus = "failed"
)

// Attachment is a generic attachment as produced by the caller. Exactly one
// of Base64, URL, or Text carries the payload handle.
type Attachment struct {
	ID       string           `json:"id"`
	Kind     AttachmentKind   `json:"kind"`
	MimeType string           `json:"mime_type"`
	Base64   string           `json:"base64,omitempty"`
	URL      string           `json:"url,omitempty"`
	Text     string           `json:"text,omitempty"`
	Status   AttachmentStatus `json:"status,omitempty"`
	Name     string           `json:"name,omitempty"`
	// CreatedAt is when the attachment record was created. Used to decide
	// when a pending upload should be treated as failed.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ChatMessage is one turn of conversation history. The gateway never mutates
// message history; attachment order is presentation order.
type ChatMessage struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// PartType identifies the wire shape of one transcoded message part.
type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
	PartFile     PartType = "file"
)

// Part is one transcoded piece of a message, ready for a provider's wire
// format. ImageURL holds either a remote URL or a data URL; FileData holds a
// base64 payload for providers with a first-class document channel.
type Part struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	FileName string   `json:"file_name,omitempty"`
	FileData string   `json:"file_data,omitempty"`
}

// PromptMessage is a message after attachment transcoding.
type PromptMessage struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Text concatenates the textual parts of the message.
func (m PromptMessage) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// CredentialSource records where a resolved key came from.
type CredentialSource string

const (
	CredentialUser    CredentialSource = "user"
	CredentialAccount CredentialSource = "account"
)

// Credential is a resolved API key for one provider.
type Credential struct {
	Key    string
	Source CredentialSource
}

// ImageOptions holds per-call options for image generation. PartialImages is
// advisory; an adapter may emit fewer partial events than requested.
type ImageOptions struct {
	Size          string `json:"size,omitempty"`
	Quality       string `json:"quality,omitempty"`
	PartialImages int    `json:"partial_images,omitempty"`
}

// ProviderRequest is the fully resolved request handed to an adapter. It is
// built fresh per call and never cached or persisted. Model is already in
// the provider's own namespace.
type ProviderRequest struct {
	Model      string
	Messages   []PromptMessage
	Credential Credential
	Image      *ImageOptions
}

// InputContract declares which attachment shapes a provider accepts. The
// transcoder keys its decision policy off this; adapters never branch on
// attachment shape themselves.
type InputContract struct {
	Provider string
	// RemoteImageURLs is true when the provider can dereference image URLs
	// itself. Aggregated paths generally cannot and require inline base64.
	RemoteImageURLs bool
	// FileObjects is true when the provider has a first-class document
	// channel for PDFs.
	FileObjects bool
}
