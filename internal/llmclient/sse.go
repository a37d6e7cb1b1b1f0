package llmclient

import (
	"bufio"
	"bytes"
	"io"
)

// doneMarker is the OpenAI-style stream terminator.
var doneMarker = []byte("[DONE]")

// SSEScanner reads server-sent events from a response body and yields the
// data payload of each event. Event-type lines are skipped: all providers the
// gateway speaks to repeat the event type inside the JSON payload. A bare
// "[DONE]" marker terminates the scan as a normal end of stream.
//
// A bufio.Reader is used rather than bufio.Scanner: partial-image events
// carry whole base64 snapshots on a single data line, well past Scanner's
// default token limit.
type SSEScanner struct {
	reader *bufio.Reader
	body   io.ReadCloser
	closed bool
}

// NewSSEScanner wraps a streaming response body.
func NewSSEScanner(body io.ReadCloser) *SSEScanner {
	return &SSEScanner{
		reader: bufio.NewReader(body),
		body:   body,
	}
}

// Next returns the next event's data payload. io.EOF signals the end of the
// stream (either upstream EOF or the [DONE] marker).
func (s *SSEScanner) Next() ([]byte, error) {
	if s.closed {
		return nil, io.EOF
	}

	for {
		// ReadBytes hands back whatever it read alongside io.EOF, so a
		// final event without a trailing newline still gets delivered.
		line, readErr := s.reader.ReadBytes('\n')

		line = bytes.TrimSpace(line)
		if bytes.HasPrefix(line, []byte("data:")) {
			data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
			if bytes.Equal(data, doneMarker) {
				s.closed = true
				return nil, io.EOF
			}
			if len(data) > 0 {
				if readErr == io.EOF {
					s.closed = true
				}
				return data, nil
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				s.closed = true
				return nil, io.EOF
			}
			return nil, readErr
		}
	}
}

// Close closes the underlying body. Safe to call more than once.
func (s *SSEScanner) Close() error {
	s.closed = true
	return s.body.Close()
}
