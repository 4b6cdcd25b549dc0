package docstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Document is one stored entry in a MemoryStore.
type Document struct {
	ID         string
	Collection string
	Doc        any
}

// MemoryStore is an in-process Store for tests and development. Safe for
// concurrent use.
type MemoryStore struct {
	mu   sync.Mutex
	docs []Document

	// AppendErr, if non-nil, is returned from Append. Lets tests exercise
	// persistence-failure paths.
	AppendErr error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements [Store].
func (s *MemoryStore) Append(_ context.Context, collection string, doc any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return "", s.AppendErr
	}
	id := uuid.NewString()
	s.docs = append(s.docs, Document{ID: id, Collection: collection, Doc: doc})
	return id, nil
}

// Ping implements [Store]. Always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// All returns a snapshot of every stored document, in insertion order.
func (s *MemoryStore) All() []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Document, len(s.docs))
	copy(out, s.docs)
	return out
}

// InCollection returns the stored documents for one collection.
func (s *MemoryStore) InCollection(collection string) []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Document
	for _, d := range s.docs {
		if d.Collection == collection {
			out = append(out, d)
		}
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)
