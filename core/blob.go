package core

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrBlobNotFound = errors.New("blob not found")

type (
	// BlobInfo describes a stored blob. Metadata is diagnostic only and
	// backends are free to drop it.
	BlobInfo struct {
		ID          string
		Name        string
		ContentType string
		Size        int64
		CreatedAt   time.Time // UTC
		UpdatedAt   time.Time // UTC
		Metadata    map[string]string
	}

	// BlobStore is durable binary storage with store-assigned identifiers.
	// Blobs are immutable: Put always creates a new blob, even for
	// byte-identical content.
	BlobStore interface {
		// Put persists the content read from r and returns its BlobInfo.
		Put(ctx context.Context, r io.Reader, name, contentType string, metadata map[string]string) (BlobInfo, error)
		// Open returns the blob content and its info; ErrBlobNotFound when absent.
		Open(ctx context.Context, id string) (io.ReadCloser, BlobInfo, error)
		// Delete removes the blob content and any internal chunking structures;
		// ErrBlobNotFound when absent.
		Delete(ctx context.Context, id string) error
		// Walk calls fn for every blob in the store; it stops on the first
		// error returned by fn and propagates it.
		Walk(ctx context.Context, fn func(BlobInfo) error) error
	}
)

// LastTouched returns the later of CreatedAt and UpdatedAt; copy operations
// may skew either one.
func (bi BlobInfo) LastTouched() time.Time {
	if bi.UpdatedAt.After(bi.CreatedAt) {
		return bi.UpdatedAt
	}
	return bi.CreatedAt
}
