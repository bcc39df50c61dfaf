package cert

import "errors"

// Store errors.
var (
	ErrCertNotFound = errors.New("certificate not found")
	ErrInvalidCert  = errors.New("invalid certificate")
)

// Store persists the identity an endpoint presents during the TLS upgrade
// and the authority it trusts for peers.
// Implementations must be safe for concurrent access.
type Store interface {
	// Identity returns the stored identity, or ErrCertNotFound.
	Identity() (*Identity, error)

	// SetIdentity replaces the stored identity.
	SetIdentity(id *Identity) error

	// CA returns the stored trust anchor, or ErrCertNotFound.
	CA() (*CA, error)

	// SetCA replaces the stored trust anchor.
	SetCA(ca *CA) error

	// Save persists the store to its backing storage.
	// For in-memory stores, this is a no-op.
	Save() error

	// Load reads the store from its backing storage.
	Load() error
}

// LoadOrGenerate returns the stored identity, generating and saving a
// self-signed one from opts when the store has none.
func LoadOrGenerate(s Store, opts Options) (*Identity, error) {
	id, err := s.Identity()
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrCertNotFound) {
		return nil, err
	}

	id, err = GenerateSelfSigned(opts)
	if err != nil {
		return nil, err
	}
	if err := s.SetIdentity(id); err != nil {
		return nil, err
	}
	if err := s.Save(); err != nil {
		return nil, err
	}
	return id, nil
}
