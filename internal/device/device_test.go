package device

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-blockinject/internal/types"
)

func TestMemDeviceSparseReadWrite(t *testing.T) {
	m := NewMemDevice("mem", 3*memChunk)

	buf := make([]byte, 16)
	n, err := m.ReadAt(buf, 100)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, make([]byte, 16), buf)

	// Straddles the first chunk boundary.
	payload := bytes.Repeat([]byte{0xAB}, 64)
	_, err = m.WriteAt(payload, memChunk-32)
	require.NoError(t, err)

	got := make([]byte, 64)
	_, err = m.ReadAt(got, memChunk-32)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Len(t, m.chunks, 2)

	stats := m.Stats()
	assert.Equal(t, uint64(2), stats.Reads)
	assert.Equal(t, uint64(1), stats.Writes)
	assert.Equal(t, uint64(64), stats.BytesWritten)
}

func TestMemDeviceBounds(t *testing.T) {
	m := NewMemDevice("mem", 1000)

	buf := make([]byte, 100)
	n, err := m.ReadAt(buf, 950)
	assert.Equal(t, 50, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = m.ReadAt(buf, 1000)
	assert.ErrorIs(t, err, io.EOF)

	n, err = m.WriteAt(buf, 990)
	assert.Equal(t, 10, n)
	assert.ErrorIs(t, err, io.ErrShortWrite)

	_, err = m.ReadAt(buf, -1)
	assert.Error(t, err)
}

func TestMemDeviceWriteTo(t *testing.T) {
	m := NewMemDevice("mem", 2*memChunk)
	_, err := m.WriteAt([]byte("tail"), 2*memChunk-4)
	require.NoError(t, err)

	var out bytes.Buffer
	n, err := m.WriteTo(&out)
	require.NoError(t, err)
	assert.Equal(t, int64(2*memChunk), n)
	assert.Equal(t, []byte("tail"), out.Bytes()[2*memChunk-4:])
}

func writeImage(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "volume.img")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestOpenImage(t *testing.T) {
	path := writeImage(t, 8192)

	dev, err := Open(path, Options{Offset: 4096})
	require.NoError(t, err)
	defer dev.Close()

	assert.Equal(t, TypeImage, dev.DeviceType())
	assert.Equal(t, path, dev.DevicePath())
	assert.Equal(t, int64(4096), dev.Size())
	assert.False(t, dev.IsReadOnly())

	buf := make([]byte, 4)
	_, err = dev.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3}, buf)

	_, err = dev.WriteAt([]byte{9, 9}, 2)
	require.NoError(t, err)
	require.NoError(t, dev.Sync())

	_, err = dev.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 9, 9}, buf)

	stats := dev.Stats()
	assert.Equal(t, uint64(2), stats.Reads)
	assert.Equal(t, uint64(1), stats.Writes)
}

func TestOpenReadOnlyRejectsWrites(t *testing.T) {
	dev, err := Open(writeImage(t, 1024), Options{ReadOnly: true})
	require.NoError(t, err)
	defer dev.Close()

	_, err = dev.WriteAt([]byte{1}, 0)
	assert.ErrorIs(t, err, types.ErrDevice)
}

func TestOpenLockIsExclusive(t *testing.T) {
	path := writeImage(t, 1024)

	first, err := Open(path, Options{Lock: true})
	require.NoError(t, err)

	_, err = Open(path, Options{Lock: true})
	assert.ErrorIs(t, err, types.ErrDevice)

	require.NoError(t, first.Close())

	second, err := Open(path, Options{Lock: true})
	require.NoError(t, err)
	assert.NoError(t, second.Close())
}

func TestOpenErrors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		opts    Options
		wantErr error
	}{
		{
			name:    "empty path",
			path:    func(*testing.T) string { return "" },
			wantErr: types.ErrConfiguration,
		},
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") },
			wantErr: types.ErrDevice,
		},
		{
			name:    "directory",
			path:    func(t *testing.T) string { return t.TempDir() },
			opts:    Options{ReadOnly: true},
			wantErr: types.ErrConfiguration,
		},
		{
			name:    "offset past end",
			path:    func(t *testing.T) string { return writeImage(t, 512) },
			opts:    Options{Offset: 1024},
			wantErr: types.ErrConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.path(t), tt.opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}
