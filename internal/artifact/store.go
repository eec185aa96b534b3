// Package artifact persists finished motion clips and exposes a stable URI
// for downstream consumers.
package artifact

import "context"

// Store writes one artifact object and returns the URI callers should record.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
