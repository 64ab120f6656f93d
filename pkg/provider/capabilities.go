package provider

import (
	"context"
	"io"
)

// Optional capability interfaces, detected by type assertion. The base
// Provider interface stays small; each consumer asserts exactly what it
// needs and fails with a clear error when the backend can't serve it.

// ObjectRanger reads a byte range of an object. The record store's
// slice reads are built on this; start and endInclusive follow HTTP
// Range semantics (both offsets inclusive).
type ObjectRanger interface {
	GetRange(ctx context.Context, key string, start, endInclusive int64) (body io.ReadCloser, contentLength int64, err error)
}

// ObjectGetter streams a whole object. The builder's shard scans and
// the record store's ".gzi" sidecar fetches use this.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)
}

// ObjectPutter creates or overwrites objects. Used by the compression
// lifecycle verbs and the preflight write probe.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error
}

// ObjectDeleter deletes objects. Used by the compression lifecycle
// verbs and the preflight write probe.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}
