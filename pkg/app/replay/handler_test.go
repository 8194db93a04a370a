package replay

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-blockinject/internal/testutil"
	"github.com/deploymenttheory/go-blockinject/internal/testutil/ext4image"
	"github.com/deploymenttheory/go-blockinject/internal/testutil/f2fsimage"
	"github.com/deploymenttheory/go-blockinject/internal/types"
	"github.com/deploymenttheory/go-blockinject/pkg/app"
)

func testContext() *app.Context {
	logger, _ := test.NewNullLogger()
	ctx := app.NewContext()
	ctx.Logger = logrus.NewEntry(logger)
	return ctx
}

func readBlock(t *testing.T, path string, prefix, block int64) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	off := prefix + block*4096
	return data[off : off+4096]
}

func TestHandleWriteZeroFill(t *testing.T) {
	src := testutil.WriteImage(t, f2fsimage.Build(t), 0)
	out := filepath.Join(t.TempDir(), "out.img")

	resp, err := Handle(testContext(), &Request{
		ImagePath: src,
		OutPath:   out,
		Specs:     []string{"Cb144"},
		Op:        types.OpWrite,
		Blocks:    app.BlockList{f2fsimage.FileDataBlock, f2fsimage.DirDataBlock},
		Messages:  []string{"start"},
		Workers:   2,
	})
	require.NoError(t, err)

	assert.Equal(t, Summary{Accesses: 2, Corrupted: 1}, resp.Summary)
	assert.Equal(t, AccessResult{Block: f2fsimage.FileDataBlock, Op: "write", Area: "main", Outcome: OutcomeCorrupted, Changed: 4096}, resp.Results[0])
	assert.Equal(t, make([]byte, 4096), readBlock(t, out, 0, f2fsimage.FileDataBlock))
	assert.Equal(t, readBlock(t, src, 0, f2fsimage.DirDataBlock), readBlock(t, out, 0, f2fsimage.DirDataBlock))
}

func TestHandleWriteCorruptsInodeField(t *testing.T) {
	const prefix = 8 * types.SectorSize
	src := testutil.WriteImage(t, ext4image.Build(t), prefix)
	out := filepath.Join(t.TempDir(), "out.img")
	block := ext4image.InodeBlock(5)

	resp, err := Handle(testContext(), &Request{
		ImagePath:   src,
		OutPath:     out,
		FS:          types.FSExt4,
		StartSector: 8,
		Specs:       []string{"Wi5[i_mode]"},
		Op:          types.OpWrite,
		Blocks:      app.BlockList{block},
		Enabled:     true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, AccessResult{Block: block, Op: "write", Area: "inode-table", Outcome: OutcomeCorrupted, Changed: 2}, resp.Results[0])

	srcData, err := os.ReadFile(src)
	require.NoError(t, err)
	outData, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, len(srcData), len(outData))
	assert.Equal(t, srcData[:prefix], outData[:prefix])

	off := prefix + int(block)*ext4image.BlockSize + int(ext4image.InodeOffset(5))
	assert.Equal(t, srcData[:off], outData[:off])
	assert.Equal(t, srcData[off+2:], outData[off+2:])
	assert.NotEqual(t, srcData[off:off+2], outData[off:off+2])
}

func TestHandleReadFailures(t *testing.T) {
	src := testutil.WriteImage(t, f2fsimage.Build(t), 0)

	resp, err := Handle(testContext(), &Request{
		ImagePath: src,
		OutPath:   filepath.Join(t.TempDir(), "out.img"),
		Specs:     []string{"Rcp16", "Cb1000"},
		Op:        types.OpRead,
		Blocks:    app.BlockList{f2fsimage.CpBlkaddr, f2fsimage.FileDataBlock, 1000},
		Enabled:   true,
		Workers:   1,
	})
	require.NoError(t, err)

	outcomes := map[uint64]string{}
	for _, r := range resp.Results {
		outcomes[r.Block] = r.Outcome
	}
	assert.Equal(t, map[uint64]string{
		f2fsimage.CpBlkaddr:     OutcomeFailed,
		f2fsimage.FileDataBlock: OutcomePass,
		1000:                    OutcomePass,
	}, outcomes)
	assert.Equal(t, 1, resp.Summary.Failed)
}

func TestHandleInterrupted(t *testing.T) {
	src := testutil.WriteImage(t, f2fsimage.Build(t), 0)

	tests := []struct {
		name    string
		timeout time.Duration
		cancel  bool
	}{
		{name: "deadline passed", timeout: time.Nanosecond},
		{name: "cancelled", cancel: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "out.img")
			ctx, cancel := testContext().WithCancel()
			defer cancel()
			if tt.cancel {
				cancel()
			}

			_, err := Handle(ctx, &Request{
				ImagePath: src,
				OutPath:   out,
				Specs:     []string{"Cb144"},
				Op:        types.OpWrite,
				Blocks:    app.BlockList{f2fsimage.FileDataBlock},
				Enabled:   true,
				Timeout:   tt.timeout,
			})
			var ce *app.CommonError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, app.ErrCodeTimeout, ce.Code)
			_, err = os.Stat(out)
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestHandleUsesDefaultTimeout(t *testing.T) {
	src := testutil.WriteImage(t, f2fsimage.Build(t), 0)
	ctx := testContext()
	ctx.DefaultTimeout = time.Nanosecond

	_, err := Handle(ctx, &Request{
		ImagePath: src,
		OutPath:   filepath.Join(t.TempDir(), "out.img"),
		Op:        types.OpRead,
		Blocks:    app.BlockList{f2fsimage.FileDataBlock},
	})
	var ce *app.CommonError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, app.ErrCodeTimeout, ce.Code)
	assert.NoError(t, ctx.Err(), "the caller's context is left alone")
}

func TestHandleValidation(t *testing.T) {
	src := testutil.WriteImage(t, f2fsimage.Build(t), 0)
	out := filepath.Join(t.TempDir(), "out.img")

	tests := []struct {
		name string
		req  *Request
		code string
	}{
		{"no image", &Request{OutPath: out, Op: types.OpRead, Blocks: app.BlockList{1}}, app.ErrCodeInvalidInput},
		{"no output", &Request{ImagePath: src, Op: types.OpRead, Blocks: app.BlockList{1}}, app.ErrCodeInvalidInput},
		{"overwrite source", &Request{ImagePath: src, OutPath: src, Op: types.OpRead, Blocks: app.BlockList{1}}, app.ErrCodeInvalidInput},
		{"no blocks", &Request{ImagePath: src, OutPath: out, Op: types.OpRead}, app.ErrCodeInvalidInput},
		{"no op", &Request{ImagePath: src, OutPath: out, Blocks: app.BlockList{1}}, app.ErrCodeInvalidInput},
		{"bad spec", &Request{ImagePath: src, OutPath: out, Op: types.OpRead, Blocks: app.BlockList{1}, Specs: []string{"Cq1"}}, app.ErrCodeSession},
		{"bad message", &Request{ImagePath: src, OutPath: out, Op: types.OpRead, Blocks: app.BlockList{1}, Messages: []string{"go"}}, app.ErrCodeInvalidInput},
		{"missing image", &Request{ImagePath: src + ".missing", OutPath: out, Op: types.OpRead, Blocks: app.BlockList{1}}, app.ErrCodeDeviceAccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Handle(testContext(), tt.req)
			var ce *app.CommonError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.code, ce.Code)
		})
	}
	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err), "failed replays write nothing")
}

func TestParseOp(t *testing.T) {
	op, err := ParseOp("read")
	require.NoError(t, err)
	assert.Equal(t, types.OpRead, op)

	op, err = ParseOp("W")
	require.NoError(t, err)
	assert.Equal(t, types.OpWrite, op)

	_, err = ParseOp("both")
	assert.Error(t, err)
}

func TestFormatOutput(t *testing.T) {
	resp := &Response{
		Out: "out.img",
		Results: []AccessResult{
			{Block: 1234, Op: "write", Area: "main", Outcome: OutcomeCorrupted, Changed: 4096},
		},
		Summary: Summary{Accesses: 1, Corrupted: 1},
	}

	var buf bytes.Buffer
	require.NoError(t, FormatOutput(&buf, resp, "table"))
	assert.Contains(t, buf.String(), "1234   write  main  corrupted  4096")
	assert.Contains(t, buf.String(), "1 access(es): 1 corrupted, 0 failed; wrote out.img")

	buf.Reset()
	require.NoError(t, FormatOutput(&buf, resp, "json"))
	assert.Contains(t, buf.String(), `"changed_bytes": 4096`)

	assert.Error(t, FormatOutput(&buf, resp, "csv"))
	assert.Equal(t, "1 of 1 access(es) affected", FormatSummary(resp))
	assert.Equal(t, "No access was affected", FormatSummary(&Response{}))
}
