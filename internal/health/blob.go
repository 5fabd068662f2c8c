// Package health provides health check implementations for external
// dependencies.
package health

import (
	"context"

	"github.com/onnwee/podrollup/internal/blob"
)

// BlobChecker implements health checking for the blob store.
type BlobChecker struct {
	store blob.Store
}

// NewBlobChecker creates a new blob store health checker.
func NewBlobChecker(store blob.Store) *BlobChecker {
	return &BlobChecker{store: store}
}

// HealthCheck performs a cheap listing under a reserved prefix to confirm
// the store is reachable and credentials are valid.
func (b *BlobChecker) HealthCheck(ctx context.Context) error {
	_, err := b.store.List(ctx, "health-check/")
	return err
}
