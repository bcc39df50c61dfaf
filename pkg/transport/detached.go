package transport

import "sync"

// Detached is the placeholder a stream holds between two transports.
// Writes never fail and never emit anything: they are dropped, or kept
// for the next transport when created with NewBufferedDetached.
type Detached struct {
	mu      sync.Mutex
	buffer  bool
	pending [][]byte
}

// NewDetached returns a placeholder that discards writes.
func NewDetached() *Detached {
	return &Detached{}
}

// NewBufferedDetached returns a placeholder that keeps writes until Take.
func NewBufferedDetached() *Detached {
	return &Detached{buffer: true}
}

// Kind returns KindDetached.
func (d *Detached) Kind() Kind { return KindDetached }

// Write accepts data without sending it and always returns false.
func (d *Detached) Write(data []byte) bool {
	if !d.buffer || len(data) == 0 {
		return false
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	d.mu.Lock()
	d.pending = append(d.pending, buf)
	d.mu.Unlock()
	return false
}

// Buffering reports whether writes are kept.
func (d *Detached) Buffering() bool { return d.buffer }

// Take returns and clears the kept writes.
func (d *Detached) Take() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	pending := d.pending
	d.pending = nil
	return pending
}
