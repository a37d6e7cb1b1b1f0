// Package transcode converts generic attachments into the exact wire shape a
// specific provider accepts. It never fails a request over an attachment:
// anything that cannot be represented degrades to a textual placeholder.
package transcode

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"modelgate/internal/blobstore"
	"modelgate/internal/core"
)

// DefaultPendingTimeout is how long an attachment may sit in pending status
// before it is treated as failed. The byte source does not distinguish
// "still uploading" from "permanently lost", so the cutoff is explicit.
const DefaultPendingTimeout = 5 * time.Minute

// Transcoder shapes attachments for provider input contracts.
type Transcoder struct {
	blobs          blobstore.Store
	logger         *slog.Logger
	pendingTimeout time.Duration
	now            func() time.Time
}

// Option configures a Transcoder.
type Option func(*Transcoder)

// WithPendingTimeout overrides the pending-to-failed cutoff.
func WithPendingTimeout(d time.Duration) Option {
	return func(t *Transcoder) { t.pendingTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transcoder) { t.logger = l }
}

// withClock overrides the clock for tests.
func withClock(now func() time.Time) Option {
	return func(t *Transcoder) { t.now = now }
}

// New creates a Transcoder reading transient bytes from blobs.
func New(blobs blobstore.Store, opts ...Option) *Transcoder {
	t := &Transcoder{
		blobs:          blobs,
		logger:         slog.Default(),
		pendingTimeout: DefaultPendingTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Messages transcodes a whole history for the given contract. The input is
// never mutated; attachment order within each message is preserved.
func (t *Transcoder) Messages(ctx context.Context, msgs []core.ChatMessage, contract core.InputContract) []core.PromptMessage {
	out := make([]core.PromptMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, t.Message(ctx, msg, contract))
	}
	return out
}

// Message transcodes one message: its text content first, then each
// attachment in insertion order.
func (t *Transcoder) Message(ctx context.Context, msg core.ChatMessage, contract core.InputContract) core.PromptMessage {
	parts := make([]core.Part, 0, 1+len(msg.Attachments))
	if msg.Content != "" || len(msg.Attachments) == 0 {
		parts = append(parts, core.Part{Type: core.PartText, Text: msg.Content})
	}
	for _, att := range msg.Attachments {
		parts = append(parts, t.Attachment(ctx, att, contract))
	}
	return core.PromptMessage{Role: msg.Role, Parts: parts}
}

// Attachment produces the wire shape for one attachment. The result is
// always a representable part; attachment unavailability is downgraded to a
// placeholder, never an error.
func (t *Transcoder) Attachment(ctx context.Context, att core.Attachment, contract core.InputContract) core.Part {
	part := t.shape(ctx, att, contract)
	t.logger.Debug("attachment transcoded",
		"attachment_id", att.ID,
		"mime", att.MimeType,
		"kind", att.Kind,
		"shape", part.Type,
		"provider", contract.Provider,
	)
	return part
}

func (t *Transcoder) shape(ctx context.Context, att core.Attachment, contract core.InputContract) core.Part {
	if att.Status == core.AttachmentFailed {
		return t.placeholder(att, "upload failed")
	}

	switch {
	case att.Kind == core.AttachmentText || isTextualMime(att.MimeType):
		return t.textBlock(ctx, att)
	case att.Kind == core.AttachmentImage:
		return t.image(ctx, att, contract)
	case att.Kind == core.AttachmentPDF:
		return t.pdf(ctx, att, contract)
	default:
		return t.placeholder(att, "unsupported attachment kind")
	}
}

// image prefers a remote URL reference when the provider can dereference it
// and the bytes are durably committed; otherwise it builds an inline base64
// data URL from whatever bytes are reachable.
func (t *Transcoder) image(ctx context.Context, att core.Attachment, contract core.InputContract) core.Part {
	if contract.RemoteImageURLs && att.URL != "" && att.Status == core.AttachmentUploaded {
		return core.Part{Type: core.PartImageURL, ImageURL: att.URL}
	}

	if b64 := t.inlineBase64(ctx, att); b64 != "" {
		return core.Part{Type: core.PartImageURL, ImageURL: dataURL(att.MimeType, b64)}
	}

	// A provider that can follow URLs still gets the reference even while
	// the durable commit is outstanding; better than dropping the image.
	if contract.RemoteImageURLs && att.URL != "" {
		return core.Part{Type: core.PartImageURL, ImageURL: att.URL}
	}

	return t.placeholder(att, t.unavailableReason(att))
}

// pdf uses the provider's document channel when one exists, else a text
// reference so the model at least knows the document was attached.
func (t *Transcoder) pdf(ctx context.Context, att core.Attachment, contract core.InputContract) core.Part {
	if contract.FileObjects {
		if b64 := t.inlineBase64(ctx, att); b64 != "" {
			return core.Part{
				Type:     core.PartFile,
				FileName: fileName(att, "document.pdf"),
				FileData: b64,
			}
		}
		return t.placeholder(att, t.unavailableReason(att))
	}
	return core.Part{
		Type: core.PartText,
		Text: fmt.Sprintf("[PDF attachment %q: content not available on this provider]", fileName(att, att.ID)),
	}
}

// textBlock injects decoded text as a clearly delimited block. Never a
// binary blob: this is the path for providers with no file-upload channel.
func (t *Transcoder) textBlock(ctx context.Context, att core.Attachment) core.Part {
	text := att.Text
	if text == "" && att.Base64 != "" {
		if decoded, err := base64.StdEncoding.DecodeString(stripDataURL(att.Base64)); err == nil {
			text = string(decoded)
		}
	}
	if text == "" {
		if data, err := t.blobs.Get(ctx, att.ID); err == nil {
			text = string(data)
		}
	}
	if text == "" {
		return t.placeholder(att, t.unavailableReason(att))
	}
	return core.Part{
		Type: core.PartText,
		Text: fmt.Sprintf("[Attachment %s (%s)]\n```\n%s\n```", fileName(att, att.ID), att.MimeType, text),
	}
}

// inlineBase64 returns the attachment payload as raw base64, from the inline
// handle first, then from the transient byte store. Empty when unreachable.
func (t *Transcoder) inlineBase64(ctx context.Context, att core.Attachment) string {
	if att.Base64 != "" {
		return stripDataURL(att.Base64)
	}
	data, err := t.blobs.Get(ctx, att.ID)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

func (t *Transcoder) unavailableReason(att core.Attachment) string {
	if att.Status == core.AttachmentPending {
		if !att.CreatedAt.IsZero() && t.now().Sub(att.CreatedAt) > t.pendingTimeout {
			return "upload timed out"
		}
		return "upload still in progress"
	}
	return "bytes not retrievable"
}

func (t *Transcoder) placeholder(att core.Attachment, reason string) core.Part {
	return core.Part{
		Type: core.PartText,
		Text: fmt.Sprintf("[%s attachment %q unavailable: %s]", att.Kind, fileName(att, att.ID), reason),
	}
}

// textualMimes are injected inline as decoded text.
var textualMimes = map[string]bool{
	"application/json": true,
	"application/rtf":  true,
	"text/csv":         true,
	"text/markdown":    true,
	"text/plain":       true,
}

func isTextualMime(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return textualMimes[mime] || strings.HasPrefix(mime, "text/")
}

func dataURL(mime, b64 string) string {
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + b64
}

func stripDataURL(s string) string {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, "base64,"); i >= 0 {
			return s[i+len("base64,"):]
		}
	}
	return s
}

func fileName(att core.Attachment, fallback string) string {
	if att.Name != "" {
		return att.Name
	}
	return fallback
}
