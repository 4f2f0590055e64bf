package storage

import (
	"context"
	"sync"

	"github.com/nugget/lime-node/internal/lime"
)

// identityBucket is the ordered map<id, envelope> for one identity: order
// records insertion sequence since Go maps do not preserve it, and entries
// holds the envelopes themselves.
type identityBucket struct {
	mu      sync.Mutex
	order   []string
	entries map[string]lime.AnyEnvelope
}

func newIdentityBucket() *identityBucket {
	return &identityBucket{entries: make(map[string]lime.AnyEnvelope)}
}

// MemoryStore is the default EnvelopeStorage backend: an in-memory mapping
// from identity to an ordered map of id to envelope, with a lock per
// identity so unrelated recipients never contend with each other.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*identityBucket
}

// NewMemoryStore constructs an empty in-memory envelope store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*identityBucket)}
}

func (s *MemoryStore) bucketFor(identity lime.Identity) *identityBucket {
	key := identity.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = newIdentityBucket()
		s.buckets[key] = b
	}
	return b
}

// Store appends envelope to identity's bucket, generating an id if the
// envelope did not carry one.
func (s *MemoryStore) Store(ctx context.Context, identity lime.Identity, envelope lime.AnyEnvelope) (string, error) {
	id := envelopeID(envelope)
	if id == "" {
		id = newEnvelopeID()
	}

	b := s.bucketFor(identity)
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.entries[id]; !exists {
		b.order = append(b.order, id)
	}
	b.entries[id] = envelope

	return id, nil
}

// GetIDs returns a snapshot of identity's stored ids, in insertion order.
func (s *MemoryStore) GetIDs(ctx context.Context, identity lime.Identity) ([]string, error) {
	b := s.bucketFor(identity)
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, len(b.order))
	copy(ids, b.order)
	return ids, nil
}

// Get returns the envelope stored under identity/id.
func (s *MemoryStore) Get(ctx context.Context, identity lime.Identity, id string) (lime.AnyEnvelope, error) {
	b := s.bucketFor(identity)
	b.mu.Lock()
	defer b.mu.Unlock()

	envelope, ok := b.entries[id]
	if !ok {
		return nil, lime.ErrStorage
	}
	return envelope, nil
}

// Delete removes the envelope stored under identity/id.
func (s *MemoryStore) Delete(ctx context.Context, identity lime.Identity, id string) (bool, error) {
	b := s.bucketFor(identity)
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[id]; !ok {
		return false, nil
	}
	delete(b.entries, id)
	for i, existing := range b.order {
		if existing == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error { return nil }
