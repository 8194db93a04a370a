//go:build !linux

package device

import (
	"io"
	"os"
)

// blockDeviceSize seeks to the end of a block special file.
func blockDeviceSize(f *os.File) (int64, error) {
	return f.Seek(0, io.SeekEnd)
}
