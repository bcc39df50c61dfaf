package cert

import (
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"time"
)

// Certificate validity periods.
const (
	// CAValidity is the validity period for generated CA certificates.
	CAValidity = 10 * 365 * 24 * time.Hour

	// LeafValidity is the validity period for generated leaf certificates.
	LeafValidity = 365 * 24 * time.Hour

	// clockSkew backdates NotBefore so freshly generated certificates are
	// valid on peers whose clocks run slightly behind.
	clockSkew = 5 * time.Minute
)

// KeyPair holds an ECDSA P-256 key pair.
type KeyPair struct {
	PrivateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
}

// Identity is a certificate together with its private key and any
// intermediate certificates presented alongside it.
type Identity struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
	Chain       []*x509.Certificate
}

// TLSCertificate converts the identity for use in a tls.Config.
func (id *Identity) TLSCertificate() tls.Certificate {
	raw := [][]byte{id.Certificate.Raw}
	for _, c := range id.Chain {
		raw = append(raw, c.Raw)
	}
	return tls.Certificate{
		Certificate: raw,
		PrivateKey:  id.PrivateKey,
		Leaf:        id.Certificate,
	}
}

// Pool returns a pool trusting only this identity's certificate.
func (id *Identity) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(id.Certificate)
	return pool
}

// ExpiresAt returns when the certificate expires.
func (id *Identity) ExpiresAt() time.Time {
	return id.Certificate.NotAfter
}

// IsExpired reports whether the certificate has expired.
func (id *Identity) IsExpired() bool {
	return time.Now().After(id.Certificate.NotAfter)
}

// Options describes a certificate to generate.
type Options struct {
	// CommonName is the subject common name.
	CommonName string

	// Organization is the subject organization.
	Organization string

	// DNSNames and IPAddresses are the subject alternative names.
	DNSNames    []string
	IPAddresses []string

	// NotBefore defaults to now minus a small skew.
	NotBefore time.Time

	// Validity defaults to LeafValidity (CAValidity for a CA).
	Validity time.Duration

	// Client adds the client-auth extended key usage.
	Client bool
}
