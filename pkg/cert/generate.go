package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// Generation errors.
var (
	ErrInvalidIP    = errors.New("invalid IP address")
	ErrNoCommonName = errors.New("common name is required")
)

// GenerateKeyPair generates a new ECDSA P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &KeyPair{PrivateKey: priv, PublicKey: &priv.PublicKey}, nil
}

// ComputeSKI computes the subject key identifier of a public key.
func ComputeSKI(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	sum := sha1.Sum(der)
	return sum[:], nil
}

// GenerateSelfSigned creates a leaf certificate signed by its own key.
// Peers that do not trust it explicitly report DEPTH_ZERO_SELF_SIGNED_CERT.
func GenerateSelfSigned(opts Options) (*Identity, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	tmpl, err := leafTemplate(opts, kp)
	if err != nil {
		return nil, err
	}
	return sign(tmpl, tmpl, kp.PublicKey, kp.PrivateKey, kp.PrivateKey)
}

// CA is a certificate authority able to issue leaf certificates.
type CA struct {
	Identity
}

// GenerateCA creates a self-signed CA.
func GenerateCA(opts Options) (*CA, error) {
	if opts.CommonName == "" {
		return nil, ErrNoCommonName
	}
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}
	ski, err := ComputeSKI(kp.PublicKey)
	if err != nil {
		return nil, err
	}

	notBefore, notAfter := validity(opts, CAValidity)
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject(opts),
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          ski,
	}

	id, err := sign(tmpl, tmpl, kp.PublicKey, kp.PrivateKey, kp.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &CA{Identity: *id}, nil
}

// Issue creates a leaf certificate signed by the CA.
func (ca *CA) Issue(opts Options) (*Identity, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	tmpl, err := leafTemplate(opts, kp)
	if err != nil {
		return nil, err
	}
	tmpl.AuthorityKeyId = ca.Certificate.SubjectKeyId
	return sign(tmpl, ca.Certificate, kp.PublicKey, kp.PrivateKey, ca.PrivateKey)
}

func leafTemplate(opts Options, kp *KeyPair) (*x509.Certificate, error) {
	if opts.CommonName == "" {
		return nil, ErrNoCommonName
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}
	ski, err := ComputeSKI(kp.PublicKey)
	if err != nil {
		return nil, err
	}

	usages := []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	if opts.Client {
		usages = append(usages, x509.ExtKeyUsageClientAuth)
	}

	notBefore, notAfter := validity(opts, LeafValidity)
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject(opts),
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           usages,
		BasicConstraintsValid: true,
		SubjectKeyId:          ski,
		DNSNames:              opts.DNSNames,
	}
	for _, s := range opts.IPAddresses {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidIP, s)
		}
		tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
	}
	return tmpl, nil
}

func sign(tmpl, parent *x509.Certificate, pub *ecdsa.PublicKey, priv, signer *ecdsa.PrivateKey) (*Identity, error) {
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return &Identity{Certificate: c, PrivateKey: priv}, nil
}

func subject(opts Options) pkix.Name {
	name := pkix.Name{CommonName: opts.CommonName}
	if opts.Organization != "" {
		name.Organization = []string{opts.Organization}
	}
	return name
}

func validity(opts Options, def time.Duration) (time.Time, time.Time) {
	notBefore := opts.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now().Add(-clockSkew)
	}
	d := opts.Validity
	if d == 0 {
		d = def
	}
	return notBefore, notBefore.Add(d)
}

func serialNumber() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	return serial, nil
}
