// Package storage keeps ticket attachment files in object storage.
package storage

import (
	"context"
	"errors"
	"sync"
)

// ErrObjectNotFound is returned by Get when no object has the key.
var ErrObjectNotFound = errors.New("object not found")

// Object is a stored file.
type Object struct {
	Body               []byte
	ContentType        string
	ContentDisposition string
}

// ObjectStore puts, gets and deletes files by key. Deleting a missing key
// is not an error.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (etag string, err error)
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

// MemoryStore is an in-process ObjectStore used in development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

func (s *MemoryStore) Put(_ context.Context, key string, body []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{
		Body:               append([]byte(nil), body...),
		ContentType:        contentType,
		ContentDisposition: contentDisposition(key),
	}
	return etagOf(body), nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return &obj, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
