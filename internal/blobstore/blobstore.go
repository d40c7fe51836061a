package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a blob does not exist
var ErrNotFound = errors.New("blob not found")

// Blob is an open download stream
type Blob struct {
	Body io.ReadCloser
	// ContentMD5 is the server-reported content hash; nil when the server has none
	ContentMD5 []byte
	// Size is the content length, -1 when unknown
	Size int64
}

// Store reads export blobs by container-relative path
type Store interface {
	Download(ctx context.Context, path string) (*Blob, error)
}
