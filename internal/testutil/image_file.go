// Package testutil holds helpers shared by the fixture image builders.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-blockinject/internal/device"
)

// WriteImage saves dev to a file in a per-test directory, preceded by
// prefix zero bytes, and returns its path.
func WriteImage(tb testing.TB, dev *device.MemDevice, prefix int64) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), dev.DevicePath()+".img")
	f, err := os.Create(path)
	require.NoError(tb, err)
	defer f.Close()

	if prefix > 0 {
		_, err = f.Write(make([]byte, prefix))
		require.NoError(tb, err)
	}
	_, err = dev.WriteTo(f)
	require.NoError(tb, err)
	require.NoError(tb, f.Sync())
	return path
}
