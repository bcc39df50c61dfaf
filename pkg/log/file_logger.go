package log

import (
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger writes protocol events as a CBOR sequence.
// It is safe for concurrent use from multiple goroutines.
type FileLogger struct {
	w       io.Writer
	closer  io.Closer
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
	count   int
}

// NewFileLogger creates a FileLogger that appends to the file at path,
// creating it with permissions 0644 if needed.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	l := NewWriterLogger(f)
	l.closer = f
	return l, nil
}

// NewWriterLogger creates a FileLogger over any writer. Close does not
// close w.
func NewWriterLogger(w io.Writer) *FileLogger {
	return &FileLogger{
		w:       w,
		encoder: NewEncoder(w),
	}
}

// Log writes an event.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	// Capture must not disrupt the stream.
	if err := l.encoder.Encode(event); err == nil {
		l.count++
	}
}

// Count returns the number of events written.
func (l *FileLogger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close closes the log file. It is safe to call Close multiple times.
// After Close is called, subsequent Log calls are silently ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Compile-time interface satisfaction check.
var _ Logger = (*FileLogger)(nil)
