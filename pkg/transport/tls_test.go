package transport

import (
	"crypto/tls"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionRange(t *testing.T) {
	tests := []struct {
		name     string
		protocol string
		options  SecureOptions
		min, max uint16
		err      error
	}{
		{"library default", "", 0, 0, 0, nil},
		{"SSLv23", ProtocolSSLv23, DefaultClientSecureOptions, tls.VersionTLS10, tls.VersionTLS13, nil},
		{"TLS method", ProtocolTLS, 0, tls.VersionTLS10, tls.VersionTLS13, nil},
		{"TLSv1 only", ProtocolTLSv1, 0, tls.VersionTLS10, tls.VersionTLS10, nil},
		{"TLSv1_2 server form", "TLSv1_2_server_method", 0, tls.VersionTLS12, tls.VersionTLS12, nil},
		{"TLSv1_3 client form", "TLSv1_3_client_method", 0, tls.VersionTLS13, tls.VersionTLS13, nil},
		{"SSLv23 without old TLS", ProtocolSSLv23, NoTLSv1 | NoTLSv1_1, tls.VersionTLS12, tls.VersionTLS13, nil},
		{"SSLv23 without 1.3", ProtocolSSLv23, NoTLSv1_3, tls.VersionTLS10, tls.VersionTLS12, nil},
		{"default without 1.2", "", NoTLSv1_2, tls.VersionTLS13, tls.VersionTLS13, nil},
		{"pinned and disabled", ProtocolTLSv12, NoTLSv1_2, 0, 0, ErrNoProtocolVersion},
		{"SSLv3 method", "SSLv3_method", 0, 0, 0, ErrUnknownSecureProtocol},
		{"garbage", "bogus", 0, 0, 0, ErrUnknownSecureProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi, err := versionRange(tt.protocol, tt.options)
			if tt.err != nil {
				assert.True(t, errors.Is(err, tt.err), "error = %v, want %v", err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.min, lo, "min version")
			assert.Equal(t, tt.max, hi, "max version")
		})
	}
}

func TestClientSettingsDefaults(t *testing.T) {
	s, err := NewClientSettings(nil, "mail.example.com")
	require.NoError(t, err)

	assert.False(t, s.Server)
	assert.Equal(t, ProtocolSSLv23, s.Protocol)
	assert.True(t, s.Options.Has(NoSSLv2|NoSSLv3))
	assert.True(t, s.RequestCert)
	assert.False(t, s.RejectUnauthorized)
	assert.Equal(t, "mail.example.com", s.ServerName)
	assert.Equal(t, "mail.example.com", s.Config.ServerName)
	assert.True(t, s.Config.InsecureSkipVerify)
	assert.Equal(t, uint16(tls.VersionTLS10), s.Config.MinVersion)
	assert.Equal(t, uint16(tls.VersionTLS13), s.Config.MaxVersion)
}

func TestClientSettingsOverrides(t *testing.T) {
	s, err := NewClientSettings(&TLSConfig{
		SecureProtocol:     ProtocolTLSv12,
		RequestCert:        Bool(false),
		RejectUnauthorized: Bool(true),
		ServerName:         "other",
		NextProtos:         []string{"smtp"},
	}, "host")
	require.NoError(t, err)

	assert.False(t, s.RequestCert)
	assert.True(t, s.RejectUnauthorized)
	assert.Equal(t, "other", s.ServerName)
	assert.Equal(t, []string{"smtp"}, s.Config.NextProtos)
	assert.Equal(t, uint16(tls.VersionTLS12), s.Config.MaxVersion)
}

func TestClientSettingsKeepLegacyOptions(t *testing.T) {
	s, err := NewClientSettings(&TLSConfig{SecureOptions: NoTLSv1}, "host")
	require.NoError(t, err)

	assert.Equal(t, NoSSLv2|NoSSLv3|NoTLSv1, s.Options)
	assert.Equal(t, uint16(tls.VersionTLS11), s.Config.MinVersion)
}

func TestServerSettings(t *testing.T) {
	_, err := NewServerSettings(&TLSConfig{})
	assert.ErrorIs(t, err, ErrNoCertificate)

	cert := tls.Certificate{Certificate: [][]byte{{1}}}

	s, err := NewServerSettings(&TLSConfig{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	assert.True(t, s.Server)
	assert.False(t, s.RequestCert)
	assert.False(t, s.RejectUnauthorized)
	assert.Equal(t, tls.NoClientCert, s.Config.ClientAuth)
	assert.False(t, s.Config.InsecureSkipVerify)

	s, err = NewServerSettings(&TLSConfig{Certificates: []tls.Certificate{cert}, RequestCert: Bool(true)})
	require.NoError(t, err)
	assert.Equal(t, tls.RequestClientCert, s.Config.ClientAuth)
}

func TestSecureOptionsString(t *testing.T) {
	assert.Equal(t, "none", SecureOptions(0).String())
	assert.Equal(t, "NO_SSLv2|NO_SSLv3", DefaultClientSecureOptions.String())
}
