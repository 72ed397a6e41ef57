package draft

import (
	"context"
	"sync"

	"github.com/goliatone/go-formstate/pkg/form"
)

// MemoryStore keeps drafts in process memory. Useful for tests and for
// single-session recovery across remounts.
type MemoryStore struct {
	mu     sync.RWMutex
	drafts map[string]form.Values
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drafts: make(map[string]form.Values)}
}

func (s *MemoryStore) Load(_ context.Context, formID, contextKey string) (form.Values, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values, ok := s.drafts[draftKey(formID, contextKey)]
	if !ok {
		return nil, ErrNotFound
	}
	return values.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, formID, contextKey string, values form.Values) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[draftKey(formID, contextKey)] = values.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, formID, contextKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, draftKey(formID, contextKey))
	return nil
}

func draftKey(formID, contextKey string) string {
	return formID + "\x00" + contextKey
}
