//go:build linux

package device

import (
	"os"

	"golang.org/x/sys/unix"
)

// blockDeviceSize asks the kernel for the size of a block special file.
func blockDeviceSize(f *os.File) (int64, error) {
	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, err
	}
	return int64(size), nil
}
