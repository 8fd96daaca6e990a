package ports

import (
	"context"
	"io"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// localfs and s3 echo the object key back.
	// gdrive returns the Drive fileId, which is what Get/Delete/PublicURL expect.
	ObjectKey string
	Size      int64
}

// StorageProvider is the durable storage collaborator: uploaded sources are
// fetched from it and transformed outputs and manifests are published to it.
// PutObject must be safe to repeat for the same key.
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, objectKey string) error

	// PublicURL must resolve right after a successful PutObject.
	PublicURL(ctx context.Context, objectKey string) (string, error)
}
