package cert

import "sync"

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	identity *Identity
	ca       *CA
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Identity returns the stored identity.
func (s *MemoryStore) Identity() (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil, ErrCertNotFound
	}
	return s.identity, nil
}

// SetIdentity replaces the stored identity.
func (s *MemoryStore) SetIdentity(id *Identity) error {
	if id == nil || id.Certificate == nil || id.PrivateKey == nil {
		return ErrInvalidCert
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
	return nil
}

// CA returns the stored trust anchor.
func (s *MemoryStore) CA() (*CA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ca == nil {
		return nil, ErrCertNotFound
	}
	return s.ca, nil
}

// SetCA replaces the stored trust anchor.
func (s *MemoryStore) SetCA(ca *CA) error {
	if ca == nil || ca.Certificate == nil {
		return ErrInvalidCert
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ca = ca
	return nil
}

// Save is a no-op.
func (s *MemoryStore) Save() error { return nil }

// Load is a no-op.
func (s *MemoryStore) Load() error { return nil }

var _ Store = (*MemoryStore)(nil)
