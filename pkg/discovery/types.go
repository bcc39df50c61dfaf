package discovery

import (
	"errors"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of STARTTLS servers.
	ServiceType = "_starttls._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the port advertised when none is given.
	DefaultPort = 2525

	// TXTVersion is the TXT record format version.
	TXTVersion = "1"

	// DefaultVerb is the upgrade command advertised when none is given.
	DefaultVerb = "STARTTLS"
)

// TXT record keys.
const (
	TXTKeyVersion     = "v"    // Record format version
	TXTKeyVerb        = "verb" // Upgrade command
	TXTKeyServerName  = "sn"   // TLS server name (optional)
	TXTKeyFingerprint = "fp"   // Certificate fingerprint (optional)
)

// Limits and timing.
const (
	// MaxInstanceNameLen is the DNS label limit for instance names.
	MaxInstanceNameLen = 63

	// FingerprintLength is the hex length of a certificate fingerprint.
	FingerprintLength = 16

	// BrowseTimeout is the default time a Find waits for an answer.
	BrowseTimeout = 10 * time.Second
)

// ServerInfo is what a server advertises.
type ServerInfo struct {
	// InstanceName identifies the server on the network.
	InstanceName string

	// Port the server listens on (default: DefaultPort).
	Port uint16

	// Verb is the upgrade command (default: DefaultVerb).
	Verb string

	// ServerName is the name in the server certificate.
	ServerName string

	// Fingerprint identifies the server certificate.
	Fingerprint string
}

// Service is a server found while browsing.
type Service struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	Version     string
	Verb        string
	ServerName  string
	Fingerprint string
}

// Address returns the first advertised address, falling back to the host
// name.
func (s *Service) Address() string {
	if len(s.Addresses) > 0 {
		return s.Addresses[0]
	}
	return s.Host
}

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrInvalidFingerprint  = errors.New("invalid certificate fingerprint")
	ErrNotFound            = errors.New("service not found")
	ErrNotAdvertising      = errors.New("not advertising")
)
