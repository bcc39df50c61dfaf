package discovery

import (
	"context"
	"time"
)

// Browser finds STARTTLS servers on the local network.
type Browser interface {
	// Browse streams servers as they appear. Addresses seen on several
	// interfaces are merged into one Service. The channel is closed when
	// ctx is done.
	Browse(ctx context.Context) (<-chan *Service, error)

	// Find returns the server called instance, or ErrNotFound once the
	// browse timeout passes.
	Find(ctx context.Context, instance string) (*Service, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds Find.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
	}
}

// FilterFunc selects browse results.
type FilterFunc func(*Service) bool

// FilterByVerb keeps servers that upgrade with verb.
func FilterByVerb(verb string) FilterFunc {
	return func(s *Service) bool {
		return s.Verb == verb
	}
}

// FilterBrowseResults forwards the services accepted by filter.
func FilterBrowseResults(in <-chan *Service, filter FilterFunc) <-chan *Service {
	out := make(chan *Service)
	go func() {
		defer close(out)
		for svc := range in {
			if filter(svc) {
				out <- svc
			}
		}
	}()
	return out
}
