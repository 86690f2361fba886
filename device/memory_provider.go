package device

import "sync"

// MemoryProvider is an in-memory Provider, used as the default test backend
// for this module the way the teacher's testhelper package backs filesystem
// tests with a fully in-memory file.
type MemoryProvider struct {
	mu       sync.Mutex
	data     []byte
	readOnly bool
	closed   bool
}

var _ Provider = (*MemoryProvider)(nil)

// NewMemoryProvider returns a MemoryProvider pre-sized to size bytes, all
// zero.
func NewMemoryProvider(size int64) *MemoryProvider {
	return &MemoryProvider{data: make([]byte, size)}
}

// NewMemoryProviderFromBytes wraps an existing byte slice directly, without
// copying, so a test can inspect the backing buffer after operations.
func NewMemoryProviderFromBytes(b []byte) *MemoryProvider {
	return &MemoryProvider{data: b}
}

func (p *MemoryProvider) ReadAt(b []byte, off int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrNotSuitable
	}
	if off < 0 || off >= int64(len(p.data)) {
		return 0, nil
	}
	n := copy(b, p.data[off:])
	return n, nil
}

func (p *MemoryProvider) WriteAt(b []byte, off int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrNotSuitable
	}
	if p.readOnly {
		return 0, ErrIncorrectOpenMode
	}
	end := off + int64(len(b))
	if end > int64(len(p.data)) {
		grown := make([]byte, end)
		copy(grown, p.data)
		p.data = grown
	}
	n := copy(p.data[off:end], b)
	return n, nil
}

func (p *MemoryProvider) DiscardAt(off, length int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrNotSuitable
	}
	if p.readOnly {
		return ErrIncorrectOpenMode
	}
	end := off + length
	if off < 0 || end > int64(len(p.data)) {
		return nil
	}
	for i := off; i < end; i++ {
		p.data[i] = 0
	}
	return nil
}

func (p *MemoryProvider) Flush() error {
	return nil
}

func (p *MemoryProvider) Size() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.data)), nil
}

func (p *MemoryProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Bytes returns the current backing buffer, for test assertions.
func (p *MemoryProvider) Bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data
}
