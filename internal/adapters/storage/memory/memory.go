// Package memory is a process-local StorageProvider. Objects are lost on
// exit; it backs tests and throwaway local runs.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"clipmill/internal/ports"
)

type object struct {
	data        []byte
	contentType string
}

type Store struct {
	publicBase string

	mu      sync.RWMutex
	objects map[string]object
	puts    int
}

func New(publicBase string) *Store {
	if publicBase == "" {
		publicBase = "memory://"
	}
	return &Store{
		publicBase: strings.TrimRight(publicBase, "/"),
		objects:    make(map[string]object),
	}
}

func (s *Store) Provider() string { return "memory" }

func (s *Store) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if strings.TrimSpace(in.ObjectKey) == "" {
		return ports.PutObjectOutput{}, fmt.Errorf("object_key is required")
	}
	data, err := io.ReadAll(in.Reader)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}

	s.mu.Lock()
	s.objects[in.ObjectKey] = object{data: data, contentType: in.ContentType}
	s.puts++
	s.mu.Unlock()

	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: int64(len(data))}, nil
}

func (s *Store) GetObject(ctx context.Context, objectKey string) (io.ReadCloser, string, int64, error) {
	s.mu.RLock()
	obj, ok := s.objects[objectKey]
	s.mu.RUnlock()
	if !ok {
		return nil, "", 0, fmt.Errorf("%s: %w", objectKey, os.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.contentType, int64(len(obj.data)), nil
}

func (s *Store) DeleteObject(ctx context.Context, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[objectKey]; !ok {
		return fmt.Errorf("%s: %w", objectKey, os.ErrNotExist)
	}
	delete(s.objects, objectKey)
	return nil
}

func (s *Store) PublicURL(ctx context.Context, objectKey string) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[objectKey]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%s: %w", objectKey, os.ErrNotExist)
	}
	return s.publicBase + "/" + (&url.URL{Path: objectKey}).EscapedPath(), nil
}

// Keys lists stored keys with the given prefix.
func (s *Store) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

// Puts counts PutObject calls, including overwrites.
func (s *Store) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
