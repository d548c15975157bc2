package domain

import (
	"context"
	"io"
)

// ObjectStore keeps archive objects under time-ordered keys.
type ObjectStore interface {
	// Put stores body at key. multipart streams it in parts.
	Put(ctx context.Context, key string, body []byte, multipart bool) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Latest returns the lexically greatest key under prefix, or ErrNotFound.
	Latest(ctx context.Context, prefix string) (string, error)
}
