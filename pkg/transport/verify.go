package transport

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Authorization failure reason codes.
const (
	CodeSelfSigned         = "DEPTH_ZERO_SELF_SIGNED_CERT"
	CodeSelfSignedInChain  = "SELF_SIGNED_CERT_IN_CHAIN"
	CodeUnableToVerifyLeaf = "UNABLE_TO_VERIFY_LEAF_SIGNATURE"
	CodeUnableToGetIssuer  = "UNABLE_TO_GET_ISSUER_CERT_LOCALLY"
	CodeExpired            = "CERT_HAS_EXPIRED"
	CodeNotYetValid        = "CERT_NOT_YET_VALID"
	CodeAltNameInvalid     = "ERR_TLS_CERT_ALTNAME_INVALID"
	CodeInvalidPurpose     = "INVALID_PURPOSE"
	CodeNoPeerCertificate  = "NO_PEER_CERTIFICATE"
	CodeVerifyFailed       = "CERT_VERIFY_FAILED"
)

// AuthorizationError explains why a peer certificate did not verify.
type AuthorizationError struct {
	Code string
	Err  error
}

func (e *AuthorizationError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// Cipher describes the negotiated cipher suite.
type Cipher struct {
	// Name and StandardName hold the IANA suite name.
	Name         string
	StandardName string

	// Version is the protocol version, e.g. "TLSv1.3".
	Version string
}

// Result is the outcome of a completed handshake.
type Result struct {
	Authorized         bool
	AuthorizationError error
	PeerCertificate    *x509.Certificate
	PeerCertificates   []*x509.Certificate
	Cipher             Cipher

	// NegotiatedProtocol is the ALPN protocol, if any.
	NegotiatedProtocol string
}

// newResult builds the handshake outcome from the session state.
func newResult(state tls.ConnectionState, s *Settings) Result {
	r := Result{
		PeerCertificates:   state.PeerCertificates,
		Cipher:             cipherOf(state),
		NegotiatedProtocol: state.NegotiatedProtocol,
	}
	if len(state.PeerCertificates) > 0 {
		r.PeerCertificate = state.PeerCertificates[0]
	}
	r.Authorized, r.AuthorizationError = authorize(state.PeerCertificates, s)
	return r
}

func cipherOf(state tls.ConnectionState) Cipher {
	name := tls.CipherSuiteName(state.CipherSuite)
	return Cipher{
		Name:         name,
		StandardName: name,
		Version:      versionLabel(state.Version),
	}
}

func versionLabel(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLSv1"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS13:
		return "TLSv1.3"
	default:
		return tls.VersionName(v)
	}
}

// authorize verifies the peer chain against the configured roots. A
// server that did not request a certificate reports unauthorized without
// a reason.
func authorize(certs []*x509.Certificate, s *Settings) (bool, error) {
	if s.Server && !s.RequestCert {
		return false, nil
	}
	if len(certs) == 0 {
		return false, &AuthorizationError{Code: CodeNoPeerCertificate}
	}

	leaf := certs[0]
	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}

	usage := x509.ExtKeyUsageServerAuth
	if s.Server {
		usage = x509.ExtKeyUsageClientAuth
	}
	opts := x509.VerifyOptions{
		Roots:         s.Roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{usage},
	}
	if _, err := leaf.Verify(opts); err != nil {
		return false, classify(err, certs)
	}

	if !s.Server && s.ServerName != "" {
		if err := leaf.VerifyHostname(s.ServerName); err != nil {
			return false, &AuthorizationError{Code: CodeAltNameInvalid, Err: err}
		}
	}
	return true, nil
}

func classify(err error, certs []*x509.Certificate) error {
	var (
		invalid   x509.CertificateInvalidError
		unknown   x509.UnknownAuthorityError
		hostname  x509.HostnameError
		rootsErr  x509.SystemRootsError
		code      = CodeVerifyFailed
		leaf      = certs[0]
		lastInSet = certs[len(certs)-1]
	)

	switch {
	case errors.As(err, &invalid):
		switch invalid.Reason {
		case x509.Expired:
			code = CodeExpired
			if c := invalid.Cert; c != nil && time.Now().Before(c.NotBefore) {
				code = CodeNotYetValid
			}
		case x509.IncompatibleUsage:
			code = CodeInvalidPurpose
		}
	case errors.As(err, &hostname):
		code = CodeAltNameInvalid
	case errors.As(err, &unknown), errors.As(err, &rootsErr):
		switch {
		case len(certs) == 1 && selfSigned(leaf):
			code = CodeSelfSigned
		case len(certs) > 1 && selfSigned(lastInSet):
			code = CodeSelfSignedInChain
		case len(certs) == 1:
			code = CodeUnableToVerifyLeaf
		default:
			code = CodeUnableToGetIssuer
		}
	}

	return &AuthorizationError{Code: code, Err: err}
}

// selfSigned reports whether c is signed by its own key.
func selfSigned(c *x509.Certificate) bool {
	if !bytes.Equal(c.RawIssuer, c.RawSubject) {
		return false
	}
	return c.CheckSignature(c.SignatureAlgorithm, c.RawTBSCertificate, c.Signature) == nil
}
