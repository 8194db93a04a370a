package ext4

import (
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// ErrExtentDepth is returned for extent trees with interior nodes.
var ErrExtentDepth = errors.New("extent tree depth > 0 not supported")

// ParseExtentHeader decodes an extent header.
func ParseExtentHeader(data []byte) (types.Ext4ExtentHeader, error) {
	if len(data) < types.Ext4ExtentHeaderSize {
		return types.Ext4ExtentHeader{}, fmt.Errorf("data too small for extent header: %d bytes", len(data))
	}
	h := types.Ext4ExtentHeader{
		Magic:      le.Uint16(data[0:2]),
		Entries:    le.Uint16(data[2:4]),
		Max:        le.Uint16(data[4:6]),
		Depth:      le.Uint16(data[6:8]),
		Generation: le.Uint32(data[8:12]),
	}
	if h.Magic != types.Ext4ExtentMagic {
		return h, fmt.Errorf("invalid extent magic: got 0x%04X, want 0x%04X", h.Magic, types.Ext4ExtentMagic)
	}
	return h, nil
}

// ParseExtentRoot decodes the leaf extents of an extent root. Only trees of
// depth 0 are supported.
func ParseExtentRoot(data []byte) ([]types.Ext4Extent, error) {
	h, err := ParseExtentHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Depth != 0 {
		return nil, fmt.Errorf("%w: depth %d", ErrExtentDepth, h.Depth)
	}

	need := types.Ext4ExtentHeaderSize + int(h.Entries)*types.Ext4ExtentSize
	if need > len(data) {
		return nil, fmt.Errorf("extent root claims %d entries, only room for %d",
			h.Entries, (len(data)-types.Ext4ExtentHeaderSize)/types.Ext4ExtentSize)
	}

	extents := make([]types.Ext4Extent, 0, h.Entries)
	for i := 0; i < int(h.Entries); i++ {
		off := types.Ext4ExtentHeaderSize + i*types.Ext4ExtentSize
		e := data[off : off+types.Ext4ExtentSize]

		length := le.Uint16(e[4:6])
		uninit := false
		if length > types.Ext4InitMaxLen {
			length -= types.Ext4InitMaxLen
			uninit = true
		}
		extents = append(extents, types.Ext4Extent{
			FirstBlock:    le.Uint32(e[0:4]),
			Length:        length,
			Start:         uint64(le.Uint16(e[6:8]))<<32 | uint64(le.Uint32(e[8:12])),
			Uninitialized: uninit,
		})
	}
	return extents, nil
}

// MapLogical returns the physical block backing logical block n.
func MapLogical(extents []types.Ext4Extent, n uint32) (uint64, bool) {
	for _, e := range extents {
		if e.Contains(n) {
			return e.Start + uint64(n-e.FirstBlock), true
		}
	}
	return 0, false
}

// PhysicalBlocks lists every physical block the extents cover, in logical order.
func PhysicalBlocks(extents []types.Ext4Extent) []uint64 {
	var out []uint64
	for _, e := range extents {
		for i := uint64(0); i < uint64(e.Length); i++ {
			out = append(out, e.Start+i)
		}
	}
	return out
}
