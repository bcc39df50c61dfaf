package discovery

import (
	"context"
	"time"
)

// Advertiser announces a server on the local network.
type Advertiser interface {
	// Advertise starts announcing info, replacing any previous
	// announcement.
	Advertise(ctx context.Context, info *ServerInfo) error

	// Update replaces the TXT records of the running announcement.
	Update(info *ServerInfo) error

	// Stop withdraws the announcement.
	Stop() error
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL for the mDNS records. Zero keeps the library default.
	TTL time.Duration
}
