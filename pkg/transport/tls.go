package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"
	"time"
)

// Secure protocol method names. The "_server" and "_client" forms of each
// (for example "TLSv1_2_server_method") are accepted as well.
const (
	ProtocolSSLv23 = "SSLv23_method"
	ProtocolTLS    = "TLS_method"
	ProtocolTLSv1  = "TLSv1_method"
	ProtocolTLSv11 = "TLSv1_1_method"
	ProtocolTLSv12 = "TLSv1_2_method"
	ProtocolTLSv13 = "TLSv1_3_method"
)

// SecureOptions is a bitmask of disabled protocol versions.
type SecureOptions uint32

// Protocol version switches. SSLv2 and SSLv3 are recorded for
// compatibility; they are never negotiated.
const (
	NoSSLv2 SecureOptions = 1 << iota
	NoSSLv3
	NoTLSv1
	NoTLSv1_1
	NoTLSv1_2
	NoTLSv1_3
)

// DefaultClientSecureOptions disables the legacy SSL protocols.
const DefaultClientSecureOptions = NoSSLv2 | NoSSLv3

// Has reports whether every bit of o is set.
func (s SecureOptions) Has(o SecureOptions) bool {
	return s&o == o
}

// String lists the set switches.
func (s SecureOptions) String() string {
	names := []struct {
		bit  SecureOptions
		name string
	}{
		{NoSSLv2, "NO_SSLv2"},
		{NoSSLv3, "NO_SSLv3"},
		{NoTLSv1, "NO_TLSv1"},
		{NoTLSv1_1, "NO_TLSv1_1"},
		{NoTLSv1_2, "NO_TLSv1_2"},
		{NoTLSv1_3, "NO_TLSv1_3"},
	}
	var parts []string
	for _, n := range names {
		if s.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// TLSConfig is the upgrade configuration supplied by the application.
// Unset fields take side-specific defaults.
type TLSConfig struct {
	// SecureProtocol pins the negotiation method. Empty means the TLS
	// library default on the server and ProtocolSSLv23 on the client.
	SecureProtocol string

	// SecureOptions disables individual protocol versions.
	SecureOptions SecureOptions

	// RequestCert asks the peer for a certificate.
	RequestCert *bool

	// RejectUnauthorized aborts the session when the peer certificate does
	// not verify. When false the failure is reported in the result.
	RejectUnauthorized *bool

	// Certificates is this endpoint's key material. A server needs one.
	Certificates []tls.Certificate

	// CA verifies peer certificates. Nil selects the system roots.
	CA *x509.CertPool

	// ServerName is the name the client expects in the server
	// certificate. It defaults to the dialled host.
	ServerName string

	// NextProtos lists ALPN protocols in preference order.
	NextProtos []string

	// CipherSuites restricts TLS 1.0-1.2 cipher suites.
	CipherSuites []uint16

	// HandshakeTimeout bounds the handshake. Zero means no limit.
	HandshakeTimeout time.Duration
}

// Settings is a resolved upgrade configuration for one side.
type Settings struct {
	// Config is handed to crypto/tls. Peer verification is done by the
	// transport, so it always skips the library's own verification.
	Config *tls.Config

	Server             bool
	Protocol           string
	Options            SecureOptions
	RequestCert        bool
	RejectUnauthorized bool
	Roots              *x509.CertPool
	ServerName         string
	HandshakeTimeout   time.Duration
}

// Bool returns a pointer to v, for the optional TLSConfig flags.
func Bool(v bool) *bool { return &v }

// NewServerSettings resolves cfg for the accepting side.
func NewServerSettings(cfg *TLSConfig) (*Settings, error) {
	if cfg == nil {
		cfg = &TLSConfig{}
	}
	if len(cfg.Certificates) == 0 {
		return nil, ErrNoCertificate
	}

	minV, maxV, err := versionRange(cfg.SecureProtocol, cfg.SecureOptions)
	if err != nil {
		return nil, err
	}

	s := &Settings{
		Server:             true,
		Protocol:           cfg.SecureProtocol,
		Options:            cfg.SecureOptions,
		RequestCert:        deref(cfg.RequestCert, false),
		RejectUnauthorized: deref(cfg.RejectUnauthorized, false),
		Roots:              cfg.CA,
		HandshakeTimeout:   cfg.HandshakeTimeout,
	}

	tlsConfig := &tls.Config{
		MinVersion:   minV,
		MaxVersion:   maxV,
		Certificates: cfg.Certificates,
		NextProtos:   cfg.NextProtos,
		CipherSuites: cfg.CipherSuites,
		ClientAuth:   tls.NoClientCert,
	}
	if s.RequestCert {
		tlsConfig.ClientAuth = tls.RequestClientCert
	}
	s.Config = tlsConfig

	return s, nil
}

// NewClientSettings resolves cfg for the connecting side. host is the
// dialled host and becomes the expected server name when none is set.
func NewClientSettings(cfg *TLSConfig, host string) (*Settings, error) {
	if cfg == nil {
		cfg = &TLSConfig{}
	}

	protocol := cfg.SecureProtocol
	if protocol == "" {
		protocol = ProtocolSSLv23
	}
	// The legacy SSL protocols stay disabled whatever the caller adds.
	options := cfg.SecureOptions | DefaultClientSecureOptions

	minV, maxV, err := versionRange(protocol, options)
	if err != nil {
		return nil, err
	}

	serverName := cfg.ServerName
	if serverName == "" {
		serverName = host
	}

	s := &Settings{
		Protocol:           protocol,
		Options:            options,
		RequestCert:        deref(cfg.RequestCert, true),
		RejectUnauthorized: deref(cfg.RejectUnauthorized, false),
		Roots:              cfg.CA,
		ServerName:         serverName,
		HandshakeTimeout:   cfg.HandshakeTimeout,
	}

	s.Config = &tls.Config{
		MinVersion:         minV,
		MaxVersion:         maxV,
		Certificates:       cfg.Certificates,
		NextProtos:         cfg.NextProtos,
		CipherSuites:       cfg.CipherSuites,
		ServerName:         serverName,
		InsecureSkipVerify: true,
	}

	return s, nil
}

func deref(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// versionRange maps a method name and option mask to the TLS version
// bounds crypto/tls understands. Disabled versions inside the range narrow
// it from either end; a hole in the middle keeps the outer bounds.
func versionRange(protocol string, options SecureOptions) (uint16, uint16, error) {
	var lo, hi uint16

	switch normalizeProtocol(protocol) {
	case "":
		// Library default.
	case ProtocolSSLv23, ProtocolTLS:
		lo, hi = tls.VersionTLS10, tls.VersionTLS13
	case ProtocolTLSv1:
		lo, hi = tls.VersionTLS10, tls.VersionTLS10
	case ProtocolTLSv11:
		lo, hi = tls.VersionTLS11, tls.VersionTLS11
	case ProtocolTLSv12:
		lo, hi = tls.VersionTLS12, tls.VersionTLS12
	case ProtocolTLSv13:
		lo, hi = tls.VersionTLS13, tls.VersionTLS13
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownSecureProtocol, protocol)
	}

	disabled := map[uint16]bool{
		tls.VersionTLS10: options.Has(NoTLSv1),
		tls.VersionTLS11: options.Has(NoTLSv1_1),
		tls.VersionTLS12: options.Has(NoTLSv1_2),
		tls.VersionTLS13: options.Has(NoTLSv1_3),
	}
	if lo == 0 {
		if !disabled[tls.VersionTLS10] && !disabled[tls.VersionTLS11] &&
			!disabled[tls.VersionTLS12] && !disabled[tls.VersionTLS13] {
			return 0, 0, nil
		}
		lo, hi = tls.VersionTLS12, tls.VersionTLS13
	}

	for lo <= hi && disabled[lo] {
		lo++
	}
	for hi >= lo && disabled[hi] {
		hi--
	}
	if lo > hi {
		return 0, 0, ErrNoProtocolVersion
	}
	return lo, hi, nil
}

func normalizeProtocol(protocol string) string {
	p := strings.Replace(protocol, "_server_method", "_method", 1)
	return strings.Replace(p, "_client_method", "_method", 1)
}
