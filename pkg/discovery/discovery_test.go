package discovery

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/starttls-go/pkg/cert"
)

func TestServerTXTRoundTrip(t *testing.T) {
	info := &ServerInfo{
		InstanceName: "lab-server",
		ServerName:   "lab.local",
		Fingerprint:  "0123456789abcdef",
	}

	strs := TXTRecordsToStrings(EncodeServerTXT(info))
	assert.Equal(t, []string{"fp=0123456789abcdef", "sn=lab.local", "v=1", "verb=STARTTLS"}, strs)

	var svc Service
	require.NoError(t, DecodeServerTXT(StringsToTXTRecords(strs), &svc))
	assert.Equal(t, TXTVersion, svc.Version)
	assert.Equal(t, DefaultVerb, svc.Verb)
	assert.Equal(t, "lab.local", svc.ServerName)
	assert.Equal(t, "0123456789abcdef", svc.Fingerprint)
}

func TestDecodeServerTXTErrors(t *testing.T) {
	tests := []struct {
		name string
		txt  TXTRecordMap
		want error
	}{
		{"missing version", TXTRecordMap{TXTKeyVerb: "STARTTLS"}, ErrMissingRequired},
		{"missing verb", TXTRecordMap{TXTKeyVersion: "1"}, ErrMissingRequired},
		{"empty verb", TXTRecordMap{TXTKeyVersion: "1", TXTKeyVerb: ""}, ErrMissingRequired},
		{"bad fingerprint", TXTRecordMap{TXTKeyVersion: "1", TXTKeyVerb: "STARTTLS", TXTKeyFingerprint: "xyz"}, ErrInvalidTXTRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var svc Service
			assert.ErrorIs(t, DecodeServerTXT(tt.txt, &svc), tt.want)
		})
	}
}

func TestStringsToTXTRecordsFlags(t *testing.T) {
	txt := StringsToTXTRecords([]string{"a=1", "flag", "", "b=x=y"})
	assert.Equal(t, TXTRecordMap{"a": "1", "flag": "", "b": "x=y"}, txt)
}

func TestValidateInstanceName(t *testing.T) {
	assert.NoError(t, ValidateInstanceName("server"))
	assert.ErrorIs(t, ValidateInstanceName(""), ErrInstanceNameTooLong)
	assert.ErrorIs(t, ValidateInstanceName(strings.Repeat("a", MaxInstanceNameLen+1)), ErrInstanceNameTooLong)
}

func TestFingerprint(t *testing.T) {
	id, err := cert.GenerateSelfSigned(cert.Options{CommonName: "localhost"})
	require.NoError(t, err)
	other, err := cert.GenerateSelfSigned(cert.Options{CommonName: "localhost"})
	require.NoError(t, err)

	fp := Fingerprint(id.Certificate)
	assert.Len(t, fp, FingerprintLength)
	assert.True(t, ValidateFingerprint(fp))
	assert.True(t, MatchCertificate(id.Certificate, fp))
	assert.False(t, MatchCertificate(other.Certificate, fp))
	assert.False(t, MatchCertificate(nil, fp))

	assert.False(t, ValidateFingerprint("0123456789ABCDEF"))
	assert.False(t, ValidateFingerprint("0123"))
}

func TestNewService(t *testing.T) {
	svc := newService("lab", "lab.local.", 2525,
		[]string{"v=1", "verb=STARTTLS", "sn=lab.local"},
		[]string{"192.0.2.1"},
	)
	require.NotNil(t, svc)
	assert.Equal(t, uint16(2525), svc.Port)
	assert.Equal(t, "192.0.2.1", svc.Address())

	assert.Nil(t, newService("other", "h", 1, []string{"foo=bar"}, nil))

	noAddr := &Service{Host: "lab.local."}
	assert.Equal(t, "lab.local.", noAddr.Address())
}

func TestAddressMerging(t *testing.T) {
	addrs := mergeAddresses([]string{"192.0.2.1"}, []string{"192.0.2.1", "fe80::1"})
	assert.Equal(t, []string{"192.0.2.1", "fe80::1"}, addrs)

	addrs = removeAddresses(addrs, []string{"192.0.2.1"})
	assert.Equal(t, []string{"fe80::1"}, addrs)
}

func TestFilterBrowseResults(t *testing.T) {
	in := make(chan *Service, 2)
	in <- &Service{InstanceName: "a", Verb: "STARTTLS"}
	in <- &Service{InstanceName: "b", Verb: "STLS"}
	close(in)

	var got []string
	for svc := range FilterBrowseResults(in, FilterByVerb("STARTTLS")) {
		got = append(got, svc.InstanceName)
	}
	assert.Equal(t, []string{"a"}, got)
}

func TestAdvertiserUpdateWithoutAdvertise(t *testing.T) {
	a := NewMDNSAdvertiser(AdvertiserConfig{})
	assert.ErrorIs(t, a.Update(&ServerInfo{InstanceName: "x"}), ErrNotAdvertising)
	assert.NoError(t, a.Stop())

	err := a.Advertise(context.Background(), &ServerInfo{})
	assert.ErrorIs(t, err, ErrInstanceNameTooLong)
}

func TestBrowserFindStopped(t *testing.T) {
	b := NewMDNSBrowser(BrowserConfig{BrowseTimeout: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Find(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	b.Stop()
}
