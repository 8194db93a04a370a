package device

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/deploymenttheory/go-blockinject/internal/interfaces"
)

// memChunk is the allocation unit of a MemDevice.
const memChunk = 4096

// MemDevice is a sparse in-memory backing device. Chunks that were never
// written read as zeros.
type MemDevice struct {
	mu     sync.RWMutex
	name   string
	size   int64
	chunks map[int64][]byte

	reads        atomic.Uint64
	writes       atomic.Uint64
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

var _ interfaces.BlockDevice = (*MemDevice)(nil)

// NewMemDevice returns an empty device of size bytes.
func NewMemDevice(name string, size int64) *MemDevice {
	return &MemDevice{name: name, size: size, chunks: make(map[int64][]byte)}
}

func (m *MemDevice) span(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= m.size {
		return 0, io.EOF
	}
	n := len(p)
	if rest := m.size - off; int64(n) > rest {
		n = int(rest)
	}
	return n, nil
}

// ReadAt implements io.ReaderAt.
func (m *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	n, err := m.span(p, off)
	if err != nil {
		return 0, err
	}
	m.mu.RLock()
	for done := 0; done < n; {
		pos := off + int64(done)
		idx, within := pos/memChunk, int(pos%memChunk)
		step := min(memChunk-within, n-done)
		if c, ok := m.chunks[idx]; ok {
			copy(p[done:done+step], c[within:])
		} else {
			clear(p[done : done+step])
		}
		done += step
	}
	m.mu.RUnlock()

	m.reads.Add(1)
	m.bytesRead.Add(uint64(n))
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt.
func (m *MemDevice) WriteAt(p []byte, off int64) (int, error) {
	n, err := m.span(p, off)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	for done := 0; done < n; {
		pos := off + int64(done)
		idx, within := pos/memChunk, int(pos%memChunk)
		step := min(memChunk-within, n-done)
		c, ok := m.chunks[idx]
		if !ok {
			c = make([]byte, memChunk)
			m.chunks[idx] = c
		}
		copy(c[within:], p[done:done+step])
		done += step
	}
	m.mu.Unlock()

	m.writes.Add(1)
	m.bytesWritten.Add(uint64(n))
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Size returns the device size in bytes.
func (m *MemDevice) Size() int64 {
	return m.size
}

// Sync is a no-op.
func (m *MemDevice) Sync() error {
	return nil
}

// IsReadOnly always reports false.
func (m *MemDevice) IsReadOnly() bool {
	return false
}

// DevicePath returns the name the device was created with.
func (m *MemDevice) DevicePath() string {
	return m.name
}

// DeviceType returns TypeMemory.
func (m *MemDevice) DeviceType() string {
	return TypeMemory
}

// Stats returns the I/O counters.
func (m *MemDevice) Stats() interfaces.BlockDeviceStats {
	return interfaces.BlockDeviceStats{
		Reads:        m.reads.Load(),
		Writes:       m.writes.Load(),
		BytesRead:    m.bytesRead.Load(),
		BytesWritten: m.bytesWritten.Load(),
	}
}

// Close is a no-op.
func (m *MemDevice) Close() error {
	return nil
}

// WriteTo streams the whole device to w, zeros included.
func (m *MemDevice) WriteTo(w io.Writer) (int64, error) {
	return io.Copy(w, io.NewSectionReader(m, 0, m.size))
}
