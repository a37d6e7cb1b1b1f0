// Package blobstore defines the gateway's read-only boundary with the object
// store that holds attachment bytes. The gateway never writes here; upload
// and commit are a collaborator's job.
package blobstore

import (
	"context"
	"errors"
)

// ErrUnavailable is the declared "bytes not retrievable" outcome. Callers
// must treat it as a normal, non-fatal condition and degrade gracefully.
var ErrUnavailable = errors.New("attachment bytes unavailable")

// Store retrieves raw attachment bytes by attachment id.
type Store interface {
	// Get returns the raw bytes for the attachment, or ErrUnavailable when
	// the bytes cannot be retrieved (not yet committed, expired, or lost).
	Get(ctx context.Context, attachmentID string) ([]byte, error)
}
