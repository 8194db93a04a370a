package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"github.com/deploymenttheory/go-blockinject/internal/interfaces"
	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// Device types reported by DeviceType.
const (
	TypeBlock  = "block"
	TypeImage  = "image"
	TypeMemory = "memory"
)

// Options controls how a backing device is opened.
type Options struct {
	// ReadOnly opens the device without write access
	ReadOnly bool

	// Offset is the byte offset of the volume inside the device
	Offset int64

	// Lock takes an exclusive advisory lock on the path for the lifetime
	// of the device
	Lock bool
}

// FileDevice is a backing device on a block special file or an image file.
type FileDevice struct {
	path     string
	file     *os.File
	lock     *flock.Flock
	size     int64
	offset   int64
	readOnly bool
	kind     string

	reads        atomic.Uint64
	writes       atomic.Uint64
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

var _ interfaces.BlockDevice = (*FileDevice)(nil)

// Open opens the device at path. Failures release whatever was acquired.
func Open(path string, opts Options) (dev *FileDevice, err error) {
	if path == "" {
		return nil, types.NewConfigError("", "no device path given")
	}
	if opts.Offset < 0 {
		return nil, types.NewConfigError(path, "negative offset %d", opts.Offset)
	}

	d := &FileDevice{path: path, offset: opts.Offset, readOnly: opts.ReadOnly}

	if opts.Lock {
		d.lock = flock.New(path)
		var locked bool
		locked, err = d.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to lock %s: %v", types.ErrDevice, path, err)
		}
		if !locked {
			return nil, fmt.Errorf("%w: %s is locked by another process", types.ErrDevice, path)
		}
		defer func() {
			if err != nil {
				d.lock.Unlock()
			}
		}()
	}

	flag := os.O_RDWR
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open device: %v", types.ErrDevice, err)
	}
	d.file = file
	defer func() {
		if err != nil {
			file.Close()
		}
	}()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to stat device: %v", types.ErrDevice, err)
	}

	switch {
	case stat.Mode()&os.ModeDevice != 0:
		d.kind = TypeBlock
		d.size, err = blockDeviceSize(file)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to size %s: %v", types.ErrDevice, path, err)
		}
	case stat.Mode().IsRegular():
		d.kind = TypeImage
		d.size = stat.Size()
	default:
		return nil, types.NewConfigError(path, "not a block device or regular file")
	}

	if d.offset > d.size {
		return nil, types.NewConfigError(path, "offset %d beyond device size %d", d.offset, d.size)
	}
	return d, nil
}

// ReadAt implements io.ReaderAt relative to the volume offset.
func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	n, err := d.file.ReadAt(p, d.offset+off)
	d.reads.Add(1)
	d.bytesRead.Add(uint64(n))
	return n, err
}

// WriteAt implements io.WriterAt relative to the volume offset.
func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	if d.readOnly {
		return 0, fmt.Errorf("%w: %s is read-only", types.ErrDevice, d.path)
	}
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	n, err := d.file.WriteAt(p, d.offset+off)
	d.writes.Add(1)
	d.bytesWritten.Add(uint64(n))
	return n, err
}

// Size returns the volume size in bytes.
func (d *FileDevice) Size() int64 {
	return d.size - d.offset
}

// Sync commits pending writes.
func (d *FileDevice) Sync() error {
	if d.readOnly {
		return nil
	}
	return d.file.Sync()
}

// IsReadOnly reports whether the device was opened without write access.
func (d *FileDevice) IsReadOnly() bool {
	return d.readOnly
}

// DevicePath returns the path the device was opened from.
func (d *FileDevice) DevicePath() string {
	return d.path
}

// DeviceType returns TypeBlock or TypeImage.
func (d *FileDevice) DeviceType() string {
	return d.kind
}

// Stats returns the I/O counters.
func (d *FileDevice) Stats() interfaces.BlockDeviceStats {
	return interfaces.BlockDeviceStats{
		Reads:        d.reads.Load(),
		Writes:       d.writes.Load(),
		BytesRead:    d.bytesRead.Load(),
		BytesWritten: d.bytesWritten.Load(),
	}
}

// Close releases the file and the lock.
func (d *FileDevice) Close() error {
	var errs []error
	if d.file != nil {
		errs = append(errs, d.file.Close())
		d.file = nil
	}
	if d.lock != nil {
		errs = append(errs, d.lock.Unlock())
	}
	return errors.Join(errs...)
}

// Section returns a reader over n bytes of the volume starting at off.
func (d *FileDevice) Section(off, n int64) *io.SectionReader {
	return io.NewSectionReader(d, off, n)
}
