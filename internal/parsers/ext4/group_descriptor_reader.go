package ext4

import (
	"fmt"

	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// GroupDescriptorReader holds the decoded group descriptor table.
type GroupDescriptorReader struct {
	descriptors []types.Ext4GroupDesc
	descSize    uint32
}

// NewGroupDescriptorReader decodes count descriptors of descSize bytes each.
func NewGroupDescriptorReader(data []byte, count uint64, descSize uint32) (*GroupDescriptorReader, error) {
	if descSize < types.Ext4DescSize {
		return nil, fmt.Errorf("invalid group descriptor size: %d", descSize)
	}
	need := count * uint64(descSize)
	if uint64(len(data)) < need {
		return nil, fmt.Errorf("data too small for %d group descriptors: %d bytes, need %d", count, len(data), need)
	}

	descs := make([]types.Ext4GroupDesc, count)
	for i := uint64(0); i < count; i++ {
		off := i * uint64(descSize)
		descs[i] = parseGroupDescriptor(data[off:off+uint64(descSize)], descSize)
	}

	return &GroupDescriptorReader{descriptors: descs, descSize: descSize}, nil
}

// parseGroupDescriptor decodes one descriptor, merging the high halves when present.
func parseGroupDescriptor(data []byte, descSize uint32) types.Ext4GroupDesc {
	gd := types.Ext4GroupDesc{
		BlockBitmap:     uint64(le.Uint32(data[0x00:0x04])),
		InodeBitmap:     uint64(le.Uint32(data[0x04:0x08])),
		InodeTable:      uint64(le.Uint32(data[0x08:0x0C])),
		FreeBlocksCount: uint32(le.Uint16(data[0x0C:0x0E])),
		FreeInodesCount: uint32(le.Uint16(data[0x0E:0x10])),
		UsedDirsCount:   uint32(le.Uint16(data[0x10:0x12])),
		Flags:           le.Uint16(data[0x12:0x14]),
		ItableUnused:    uint32(le.Uint16(data[0x1C:0x1E])),
		Checksum:        le.Uint16(data[0x1E:0x20]),
	}

	if descSize >= types.Ext4MinDescSize64 {
		gd.BlockBitmap |= uint64(le.Uint32(data[0x20:0x24])) << 32
		gd.InodeBitmap |= uint64(le.Uint32(data[0x24:0x28])) << 32
		gd.InodeTable |= uint64(le.Uint32(data[0x28:0x2C])) << 32
		gd.FreeBlocksCount |= uint32(le.Uint16(data[0x2C:0x2E])) << 16
		gd.FreeInodesCount |= uint32(le.Uint16(data[0x2E:0x30])) << 16
		gd.UsedDirsCount |= uint32(le.Uint16(data[0x30:0x32])) << 16
		gd.ItableUnused |= uint32(le.Uint16(data[0x32:0x34])) << 16
	}

	return gd
}

// Count returns the number of descriptors.
func (r *GroupDescriptorReader) Count() int {
	return len(r.descriptors)
}

// DescriptorSize returns the on-disk size of one descriptor.
func (r *GroupDescriptorReader) DescriptorSize() uint32 {
	return r.descSize
}

// Group returns the descriptor of group g.
func (r *GroupDescriptorReader) Group(g uint64) (types.Ext4GroupDesc, error) {
	if g >= uint64(len(r.descriptors)) {
		return types.Ext4GroupDesc{}, fmt.Errorf("group %d out of range (%d groups)", g, len(r.descriptors))
	}
	return r.descriptors[g], nil
}

// Descriptors returns every descriptor.
func (r *GroupDescriptorReader) Descriptors() []types.Ext4GroupDesc {
	return r.descriptors
}
