package core

import "io"

// TextStream is a pull-based lazy sequence of text increments from a single
// upstream call. It terminates when the upstream completes or errors and is
// not restartable; cancellation is "stop pulling and Close".
type TextStream interface {
	// Recv returns the next text increment. io.EOF signals normal
	// completion; any other error is a *ProviderError.
	Recv() (string, error)

	// Close releases the underlying connection. Safe to call more than
	// once and safe to call concurrently with Recv.
	Close() error
}

// ImageEventType identifies one step of the image generation state machine:
// not-started -> partial(n) -> complete | failed.
type ImageEventType string

const (
	ImagePartial  ImageEventType = "partial"
	ImageComplete ImageEventType = "complete"
	ImageFailed   ImageEventType = "failed"
)

// ImageEvent is one event from an image generation stream. A partial event
// carries the latest full snapshot of the image so far, not a diff. A failed
// event is terminal and carries Err; no further events follow it.
type ImageEvent struct {
	Type          ImageEventType
	Index         int
	B64           string
	URL           string
	RevisedPrompt string
	Err           *ProviderError
}

// ImageStream is a pull-based sequence of image generation events. Exactly
// one terminal event (complete or failed) is emitted, then io.EOF.
type ImageStream interface {
	Recv() (ImageEvent, error)
	Close() error
}

// ImageResult is the folded outcome of a completed image generation.
type ImageResult struct {
	B64           string `json:"b64,omitempty"`
	URL           string `json:"url,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// sliceStream replays a fixed set of increments. Test doubles across the
// gateway stand it in for a live provider stream.
type sliceStream struct {
	chunks []string
	pos    int
	closed bool
}

// NewSliceStream returns a TextStream that yields the given increments in
// order, then io.EOF.
func NewSliceStream(chunks ...string) TextStream {
	return &sliceStream{chunks: chunks}
}

func (s *sliceStream) Recv() (string, error) {
	if s.closed || s.pos >= len(s.chunks) {
		return "", io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}
