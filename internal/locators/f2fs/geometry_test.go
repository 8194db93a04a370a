package f2fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-blockinject/internal/types"
)

func TestGeometryBoundaries(t *testing.T) {
	g := newGeometry(&types.F2FSSuperblock{
		LogBlocksPerSeg:  9,
		SegmentCountCkpt: 4,
		SegmentCountSit:  2,
		SegmentCountNat:  2,
		SegmentCountSsa:  1,
		SegmentCountMain: 10,
		CpBlkaddr:        200,
		SitBlkaddr:       200 + 4<<9,
		NatBlkaddr:       200 + 6<<9,
		SsaBlkaddr:       200 + 8<<9,
		MainBlkaddr:      200 + 9<<9,
	})

	tests := []struct {
		block uint64
		want  string
	}{
		{199, AreaSuperblock},
		{200, AreaCheckpoint},
		{200 + 2047, AreaCheckpoint},
		{200 + 2048, AreaSIT},
		{200 + 3071, AreaSIT},
		{200 + 3072, AreaNAT},
		{200 + 4095, AreaNAT},
		{200 + 4096, AreaSSA},
		{200 + 4607, AreaSSA},
		{200 + 4608, AreaMain},
		{200 + 4608 + 10<<9 - 1, AreaMain},
		{200 + 4608 + 10<<9, AreaBeyond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, g.area(tt.block), "block %d", tt.block)
	}

	assert.Equal(t, uint32(0), g.segno(200+4608))
	assert.Equal(t, uint32(3), g.segno(200+4608+3*512+7))
	assert.Equal(t, uint64(200+4608+2*512+5), g.segmentBlock(2, 5))
}

func fixtureGeometry() *geometry {
	return newGeometry(&types.F2FSSuperblock{
		LogBlocksPerSeg:  4,
		SegmentCountCkpt: 2,
		SegmentCountSit:  2,
		SegmentCountNat:  2,
		SegmentCountSsa:  1,
		SegmentCountMain: 80,
		Segment0Blkaddr:  16,
		CpBlkaddr:        16,
		SitBlkaddr:       48,
		NatBlkaddr:       80,
		SsaBlkaddr:       112,
		MainBlkaddr:      128,
	})
}

func TestGeometryTableCopies(t *testing.T) {
	g := fixtureGeometry()

	tests := []struct {
		name   string
		got    uint64
		expect uint64
	}{
		{"sit first copy", g.sitAddr(1, []byte{0x00}), 49},
		{"sit second copy", g.sitAddr(1, []byte{0x40}), 65},
		{"sit bit of another block", g.sitAddr(0, []byte{0x40}), 48},
		{"nat first copy", g.natAddr(4, []byte{0x00}), 80},
		{"nat second copy", g.natAddr(4, []byte{0x80}), 96},
		{"nat later block", g.natAddr(3*types.F2FSNatEntryPerBlock+1, []byte{0x00}), 83},
		{"nat later block second copy", g.natAddr(3*types.F2FSNatEntryPerBlock+1, []byte{0x10}), 99},
		{"nat second segment pair", g.natAddr(17*types.F2FSNatEntryPerBlock, []byte{0x00, 0x00, 0x00}), 113},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, tt.got)
		})
	}
}

func TestGeometryDescribe(t *testing.T) {
	g := fixtureGeometry()

	assert.Equal(t, "pack 1 block 0", g.describe(AreaCheckpoint, 16))
	assert.Equal(t, "pack 2 block 3", g.describe(AreaCheckpoint, 35))
	assert.Equal(t, "copy 1 block 1", g.describe(AreaSIT, 49))
	assert.Equal(t, "copy 2 block 0", g.describe(AreaSIT, 64))
	assert.Equal(t, "copy 1 block 2", g.describe(AreaNAT, 82))
	assert.Equal(t, "copy 2 block 2", g.describe(AreaNAT, 98))
	assert.Equal(t, "summary of segment 5", g.describe(AreaSSA, 117))
	assert.Equal(t, "segment 1", g.describe(AreaMain, 150))
	assert.Empty(t, g.describe(AreaSuperblock, 0))
}

func TestTargetDevice(t *testing.T) {
	t.Run("single device", func(t *testing.T) {
		g := fixtureGeometry()
		got, ok := g.TargetDevice(1000)
		require.True(t, ok)
		assert.Equal(t, DeviceTarget{Index: 0, Block: 1000}, got)
	})

	t.Run("multi device", func(t *testing.T) {
		sb := &types.F2FSSuperblock{
			LogBlocksPerSeg: 4,
			Segment0Blkaddr: 16,
			Devices: []types.F2FSDevice{
				{Path: "/dev/sda", TotalSegments: 10},
				{Path: "/dev/sdb", TotalSegments: 20},
			},
		}
		g := newGeometry(sb)

		tests := []struct {
			block uint64
			want  DeviceTarget
			ok    bool
		}{
			{0, DeviceTarget{Index: 0, Path: "/dev/sda", Block: 0}, true},
			{175, DeviceTarget{Index: 0, Path: "/dev/sda", Block: 175}, true},
			{176, DeviceTarget{Index: 1, Path: "/dev/sdb", Block: 0}, true},
			{495, DeviceTarget{Index: 1, Path: "/dev/sdb", Block: 319}, true},
			{496, DeviceTarget{}, false},
		}
		for _, tt := range tests {
			got, ok := g.TargetDevice(tt.block)
			assert.Equal(t, tt.ok, ok, "block %d", tt.block)
			assert.Equal(t, tt.want, got, "block %d", tt.block)
		}
	})
}
