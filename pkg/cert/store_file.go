package cert

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// File name constants for certificate storage.
const (
	identityCertFile = "identity.pem"
	identityKeyFile  = "identity.key"
	caCertFile       = "ca.pem"
	caKeyFile        = "ca.key"
)

// FileStore keeps an identity and a CA as PEM files in a directory.
// The CA key is optional; without it the CA only serves as a trust anchor.
type FileStore struct {
	mu      sync.RWMutex
	baseDir string

	identity *Identity
	ca       *CA
}

// NewFileStore creates a file-based store rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

// Identity returns the loaded identity.
func (s *FileStore) Identity() (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil, ErrCertNotFound
	}
	return s.identity, nil
}

// SetIdentity replaces the identity. Call Save to persist it.
func (s *FileStore) SetIdentity(id *Identity) error {
	if id == nil || id.Certificate == nil || id.PrivateKey == nil {
		return ErrInvalidCert
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
	return nil
}

// CA returns the loaded trust anchor.
func (s *FileStore) CA() (*CA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ca == nil {
		return nil, ErrCertNotFound
	}
	return s.ca, nil
}

// SetCA replaces the trust anchor. Call Save to persist it.
func (s *FileStore) SetCA(ca *CA) error {
	if ca == nil || ca.Certificate == nil {
		return ErrInvalidCert
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ca = ca
	return nil
}

// Save writes the identity and CA to disk.
func (s *FileStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return err
	}

	if s.identity != nil {
		if err := s.writeIdentity(identityCertFile, identityKeyFile, s.identity); err != nil {
			return err
		}
	}
	if s.ca != nil {
		if err := s.writeIdentity(caCertFile, caKeyFile, &s.ca.Identity); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) writeIdentity(certName, keyName string, id *Identity) error {
	data := EncodeCertPEM(id.Certificate)
	for _, c := range id.Chain {
		data = append(data, EncodeCertPEM(c)...)
	}
	if err := os.WriteFile(filepath.Join(s.baseDir, certName), data, 0644); err != nil {
		return err
	}
	if id.PrivateKey == nil {
		return nil
	}
	return WriteKeyFile(filepath.Join(s.baseDir, keyName), id.PrivateKey)
}

// Load reads the identity and CA from disk. Missing files leave the
// corresponding entry empty.
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.readIdentity(identityCertFile, identityKeyFile, true)
	if err != nil {
		return err
	}
	s.identity = id

	caID, err := s.readIdentity(caCertFile, caKeyFile, false)
	if err != nil {
		return err
	}
	if caID != nil {
		s.ca = &CA{Identity: *caID}
	}
	return nil
}

func (s *FileStore) readIdentity(certName, keyName string, keyRequired bool) (*Identity, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, certName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	certs, err := DecodeCertsPEM(data)
	if err != nil {
		return nil, err
	}

	id := &Identity{Certificate: certs[0], Chain: certs[1:]}
	key, err := ReadKeyFile(filepath.Join(s.baseDir, keyName))
	switch {
	case err == nil:
		id.PrivateKey = key
	case errors.Is(err, os.ErrNotExist) && !keyRequired:
	default:
		return nil, err
	}
	return id, nil
}

var _ Store = (*FileStore)(nil)
