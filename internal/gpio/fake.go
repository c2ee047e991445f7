package gpio

import "sync"

// FakeWriter is a test double that records every output write.
type FakeWriter struct {
	mu sync.Mutex

	// Writes contains every write in order.
	Writes []Write

	// levels holds the latest asserted state per pin.
	levels map[int]bool

	// WriteError, if set, will be returned by Write.
	WriteError error

	// Closed tracks if Close was called.
	Closed bool
}

// Write is a single recorded output change.
type Write struct {
	Pin      int
	Asserted bool
}

// NewFakeWriter creates an empty FakeWriter.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{levels: make(map[int]bool)}
}

// Write records the output change.
func (f *FakeWriter) Write(pin int, asserted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.WriteError != nil {
		return f.WriteError
	}
	f.Writes = append(f.Writes, Write{Pin: pin, Asserted: asserted})
	f.levels[pin] = asserted
	return nil
}

// Asserted reports the latest state written to pin.
func (f *FakeWriter) Asserted(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[pin]
}

// AnyAsserted reports whether any pin is currently asserted.
func (f *FakeWriter) AnyAsserted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, on := range f.levels {
		if on {
			return true
		}
	}
	return false
}

// Close de-asserts every known pin and marks the writer as closed.
func (f *FakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pin := range f.levels {
		f.levels[pin] = false
	}
	f.Closed = true
	return nil
}

// Reset clears recorded writes and levels.
func (f *FakeWriter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Writes = nil
	f.levels = make(map[int]bool)
	f.Closed = false
	f.WriteError = nil
}
