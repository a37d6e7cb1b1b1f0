package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// FSStore reads attachment bytes from a directory written by the upload
// collaborator, one file per attachment id.
type FSStore struct {
	dir string
}

// NewFSStore creates a filesystem-backed store rooted at dir.
func NewFSStore(dir string) *FSStore {
	return &FSStore{dir: dir}
}

// Get implements Store. A missing or unreadable file maps to ErrUnavailable;
// the distinction between "not yet committed" and "lost" is not observable
// at this boundary.
func (s *FSStore) Get(_ context.Context, attachmentID string) ([]byte, error) {
	// Attachment ids are opaque; refuse anything that could escape the root.
	if attachmentID == "" || strings.ContainsAny(attachmentID, `/\`) {
		return nil, ErrUnavailable
	}
	data, err := os.ReadFile(filepath.Join(s.dir, attachmentID))
	if err != nil {
		return nil, ErrUnavailable
	}
	return data, nil
}
