package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

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

func TestHandle(t *testing.T) {
	f2fsPath := testutil.WriteImage(t, f2fsimage.Build(t), 0)
	ext4Path := testutil.WriteImage(t, ext4image.Build(t), 0)

	tests := []struct {
		name     string
		request  *Request
		wantErr  bool
		validate func(*testing.T, *Response)
	}{
		{
			name: "f2fs partial context",
			request: &Request{
				ImagePath: f2fsPath,
				Blocks:    app.BlockList{0, f2fsimage.CpBlkaddr, f2fsimage.SitBlkaddr, f2fsimage.NatBlkaddr, f2fsimage.SsaBlkaddr, 1234},
			},
			validate: func(t *testing.T, resp *Response) {
				assert.Equal(t, "f2fs", resp.FS)
				assert.False(t, resp.Full)
				var areas []string
				for _, b := range resp.Blocks {
					areas = append(areas, b.Area)
				}
				assert.Equal(t, []string{"superblock", "cp", "sit", "nat", "ssa", "main"}, areas)
				assert.Contains(t, resp.Blocks[5].Keys, "block:1234")
			},
		},
		{
			name: "f2fs mounted context",
			request: &Request{
				ImagePath: f2fsPath,
				FS:        types.FSF2FS,
				Blocks:    app.BlockList{f2fsimage.FileInodeBlock, f2fsimage.DirDataBlock},
				Mounted:   true,
			},
			validate: func(t *testing.T, resp *Response) {
				assert.True(t, resp.Full)
				require.Len(t, resp.Blocks, 2)
				assert.Equal(t, "inode", resp.Blocks[0].Area)
				assert.Contains(t, resp.Blocks[0].Keys, "inode:4")
				assert.Equal(t, "data", resp.Blocks[1].Area)
				assert.Contains(t, resp.Blocks[1].Detail, "owned by inode 5")
			},
		},
		{
			name: "ext4",
			request: &Request{
				ImagePath: ext4Path,
				FS:        types.FSExt4,
				Blocks:    app.BlockList{0, ext4image.InodeTable0},
			},
			validate: func(t *testing.T, resp *Response) {
				assert.Equal(t, "ext4", resp.FS)
				assert.True(t, resp.Full)
				assert.Equal(t, "superblock", resp.Blocks[0].Area)
			},
		},
		{name: "no image", request: &Request{Blocks: app.BlockList{1}}, wantErr: true},
		{name: "no blocks", request: &Request{ImagePath: f2fsPath}, wantErr: true},
		{name: "wrong filesystem", request: &Request{ImagePath: f2fsPath, FS: types.FSExt4, Blocks: app.BlockList{1}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Handle(testContext(), tt.request)
			if tt.wantErr {
				var ce *app.CommonError
				require.ErrorAs(t, err, &ce)
				return
			}
			require.NoError(t, err)
			tt.validate(t, resp)
		})
	}
}

func TestHandleCancelled(t *testing.T) {
	ctx := testContext()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	ctx.Context = cancelled

	_, err := Handle(ctx, &Request{
		ImagePath: testutil.WriteImage(t, f2fsimage.Build(t), 0),
		Blocks:    app.BlockList{1},
	})
	var ce *app.CommonError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, app.ErrCodeTimeout, ce.Code)
}

func TestFormatOutput(t *testing.T) {
	resp := &Response{
		Image: "vol.img",
		FS:    "f2fs",
		Blocks: []BlockResult{
			{Block: 16, Area: "cp", Detail: "pack 1 block 0", Keys: []string{"block:16", "cp:16"}},
			{Block: 9000, Area: "main", Device: "1:/dev/sdb+10"},
		},
	}

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, FormatOutput(&buf, resp, "table"))
		out := buf.String()
		assert.Contains(t, out, "pack 1 block 0")
		assert.Contains(t, out, "block:16 cp:16")
		assert.Contains(t, out, "dev 1:/dev/sdb+10")
		assert.True(t, strings.HasSuffix(out, "vol.img: f2fs, partial context, 2 block(s)\n"))
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, FormatOutput(&buf, resp, "json"))
		var got Response
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, resp.Blocks, got.Blocks)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, FormatOutput(&buf, resp, "yaml"))
		var got Response
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, uint64(9000), got.Blocks[1].Block)
	})

	t.Run("unsupported", func(t *testing.T) {
		assert.Error(t, FormatOutput(&bytes.Buffer{}, resp, "xml"))
	})
}
