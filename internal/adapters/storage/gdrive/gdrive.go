package gdrive

import (
	"context"
	"fmt"
	"io"
	"sync"

	"clipmill/internal/ports"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// Client implements ports.StorageProvider backed by Google Drive.
// ObjectKey is the Drive fileId for retrieval/deletion; uploads use the
// requested key as the Drive file Name. Re-uploading the same key updates the
// existing file instead of creating a duplicate.
type Client struct {
	srv      *drive.Service
	folderID string

	mu    sync.Mutex
	byKey map[string]string // object key -> fileId for uploads made by this process
}

func NewClient(srv *drive.Service, folderID string) *Client {
	return &Client{srv: srv, folderID: folderID, byKey: make(map[string]string)}
}

func (c *Client) Provider() string { return "gdrive" }

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, fmt.Errorf("object_key is required")
	}

	var opts []googleapi.MediaOption
	if in.ContentType != "" {
		opts = append(opts, googleapi.ContentType(in.ContentType))
	}

	c.mu.Lock()
	existing := c.byKey[in.ObjectKey]
	c.mu.Unlock()

	var (
		f   *drive.File
		err error
	)
	if existing != "" {
		f, err = c.srv.Files.Update(existing, &drive.File{}).
			Media(in.Reader, opts...).
			SupportsAllDrives(true).
			Context(ctx).
			Do()
	} else {
		file := &drive.File{Name: in.ObjectKey}
		if c.folderID != "" {
			file.Parents = []string{c.folderID}
		}
		f, err = c.srv.Files.Create(file).
			Media(in.Reader, opts...).
			SupportsAllDrives(true).
			Context(ctx).
			Do()
	}
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("gdrive upload failed: %w", err)
	}

	c.mu.Lock()
	c.byKey[in.ObjectKey] = f.Id
	c.mu.Unlock()

	return ports.PutObjectOutput{ObjectKey: f.Id, Size: in.Size}, nil
}

func (c *Client) GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
	resp, err := c.srv.Files.Get(objectKey).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, "", 0, err
	}

	return resp.Body, resp.Header.Get("Content-Type"), resp.ContentLength, nil
}

func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	return c.srv.Files.Delete(objectKey).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
}

// PublicURL grants "anyone with the link" read access and returns the
// direct download link. Granting the permission twice is harmless.
func (c *Client) PublicURL(ctx context.Context, objectKey string) (string, error) {
	_, err := c.srv.Permissions.Create(objectKey, &drive.Permission{
		Type: "anyone",
		Role: "reader",
	}).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gdrive share failed: %w", err)
	}

	f, err := c.srv.Files.Get(objectKey).
		Fields("webContentLink", "webViewLink").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("gdrive link lookup failed: %w", err)
	}
	if f.WebContentLink != "" {
		return f.WebContentLink, nil
	}
	return f.WebViewLink, nil
}
