// File: internal/interfaces/block_device.go
package interfaces

import (
	"io"
)

// BlockDeviceReader provides positioned reads from the backing device
type BlockDeviceReader interface {
	io.ReaderAt

	// Size returns the device size in bytes
	Size() int64
}

// BlockDeviceWriter provides positioned writes to the backing device
type BlockDeviceWriter interface {
	io.WriterAt

	// Sync commits pending writes to stable storage
	Sync() error

	// IsReadOnly checks if the device was opened without write access
	IsReadOnly() bool
}

// BlockDeviceInfo describes where a device came from
type BlockDeviceInfo interface {
	// DevicePath returns the path the device was opened from
	DevicePath() string

	// DeviceType returns "block" for a block special file or "image" for a regular file
	DeviceType() string
}

// BlockDevice is the backing store a volume session interposes on
type BlockDevice interface {
	BlockDeviceReader
	BlockDeviceWriter
	BlockDeviceInfo
	io.Closer
}

// BlockDeviceStats contains I/O counters of a device
type BlockDeviceStats struct {
	// Number of ReadAt calls served
	Reads uint64

	// Number of WriteAt calls served
	Writes uint64

	// Total bytes read
	BytesRead uint64

	// Total bytes written
	BytesWritten uint64
}
