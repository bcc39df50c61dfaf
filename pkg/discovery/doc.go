// Package discovery advertises and browses STARTTLS servers over
// mDNS/DNS-SD.
//
// Servers register the service type _starttls._tcp. The instance name is
// free-form (at most 63 bytes). TXT records carry:
//
//   - v: record format version (required)
//   - verb: the command that starts the upgrade, usually STARTTLS (required)
//   - sn: the TLS server name clients should expect (optional)
//   - fp: fingerprint of the server certificate (optional)
//
// The fingerprint is the first 64 bits of SHA-256 over the certificate
// DER, hex encoded. A client that finds a fingerprint can compare it with
// the certificate presented during the upgrade instead of relying on a CA.
package discovery
