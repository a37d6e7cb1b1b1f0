package core

import (
	"io"
	"testing"
)

func TestSliceStream(t *testing.T) {
	s := NewSliceStream("Hello", " ", "world")

	var got string
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got += chunk
	}
	if got != "Hello world" {
		t.Errorf("accumulated %q, want %q", got, "Hello world")
	}

	// After EOF it stays at EOF.
	if _, err := s.Recv(); err != io.EOF {
		t.Errorf("expected io.EOF after end, got %v", err)
	}
}

func TestSliceStreamClose(t *testing.T) {
	s := NewSliceStream("a", "b")
	if _, err := s.Recv(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.Recv(); err != io.EOF {
		t.Errorf("expected io.EOF after close, got %v", err)
	}
	// Close is safe to call twice.
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestModelHasCapability(t *testing.T) {
	m := Model{
		ID:           "gpt-image-1",
		Provider:     "openai",
		Capabilities: []Capability{CapabilityImageGeneration, CapabilityStreaming},
	}
	if !m.HasCapability(CapabilityImageGeneration) {
		t.Error("expected image-generation capability")
	}
	if m.HasCapability(CapabilityVision) {
		t.Error("did not expect vision capability")
	}
}

func TestPromptMessageText(t *testing.T) {
	m := PromptMessage{
		Role: RoleUser,
		Parts: []Part{
			{Type: PartText, Text: "look at this"},
			{Type: PartImageURL, ImageURL: "https://example.com/img.png"},
			{Type: PartText, Text: "please"},
		},
	}
	if got, want := m.Text(), "look at this\nplease"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}
