package discovery

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"strings"
)

// Fingerprint returns the first 64 bits of SHA-256 over the certificate
// DER, hex encoded.
func Fingerprint(cert *x509.Certificate) string {
	return FingerprintDER(cert.Raw)
}

// FingerprintDER returns the fingerprint of raw certificate DER bytes.
func FingerprintDER(der []byte) string {
	hash := sha256.Sum256(der)
	return hex.EncodeToString(hash[:8])
}

// ValidateFingerprint reports whether fp is a well-formed fingerprint.
func ValidateFingerprint(fp string) bool {
	if len(fp) != FingerprintLength {
		return false
	}
	_, err := hex.DecodeString(fp)
	return err == nil && strings.ToLower(fp) == fp
}

// MatchCertificate reports whether cert has fingerprint fp.
func MatchCertificate(cert *x509.Certificate, fp string) bool {
	if cert == nil || !ValidateFingerprint(fp) {
		return false
	}
	return Fingerprint(cert) == fp
}
