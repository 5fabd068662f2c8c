// Package blob abstracts the flat key/value object store that holds all
// persistent state: raw show-daily files, derived summaries, and audience
// blobs.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrContentLengthMismatch is returned by PutStream when the body produced a
// different number of bytes than the caller declared.
var ErrContentLengthMismatch = errors.New("stream body does not match declared content length")

// Object is a fully-read value together with the ETag observed at read time.
type Object struct {
	Body []byte
	ETag string
}

// StreamObject is a streaming value together with the ETag observed at read
// time. The caller must close Body.
type StreamObject struct {
	Body io.ReadCloser
	ETag string
}

// Store is the only persistence primitive in the system.
//
// Get-style methods report a missing key as found=false with a nil error;
// every other failure is an error. List returns the complete set of keys
// matching the prefix in ascending order.
type Store interface {
	List(ctx context.Context, keyPrefix string) ([]string, error)

	Get(ctx context.Context, key string) (body []byte, found bool, err error)
	GetMeta(ctx context.Context, key string) (obj *Object, found bool, err error)
	GetStream(ctx context.Context, key string) (body io.ReadCloser, found bool, err error)
	GetStreamMeta(ctx context.Context, key string) (obj *StreamObject, found bool, err error)

	Put(ctx context.Context, key string, body []byte) (etag string, err error)

	// PutStream writes a body whose exact byte count is declared up front.
	// The write fails with ErrContentLengthMismatch if the body is shorter
	// or longer than contentLength.
	PutStream(ctx context.Context, key string, body io.Reader, contentLength int64) (etag string, err error)

	// IsRetryable reports whether err is a transient storage fault
	// (timeout, 5xx, connection reset) worth retrying, as opposed to a
	// durable one (auth, not-found, precondition).
	IsRetryable(err error) bool
}
