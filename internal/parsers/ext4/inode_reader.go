package ext4

import (
	"fmt"

	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// InodeReader wraps a decoded inode record.
type InodeReader struct {
	inode *types.Ext4Inode
}

// NewInodeReader decodes the inode record of inode number from data.
func NewInodeReader(data []byte, number uint32) (*InodeReader, error) {
	if len(data) < types.Ext4GoodOldInodeSize {
		return nil, fmt.Errorf("data too small for ext4 inode: %d bytes", len(data))
	}

	inode := &types.Ext4Inode{
		Number:     number,
		Mode:       le.Uint16(data[0x00:0x02]),
		UID:        le.Uint16(data[0x02:0x04]),
		Size:       uint64(le.Uint32(data[0x04:0x08])) | uint64(le.Uint32(data[0x6C:0x70]))<<32,
		LinksCount: le.Uint16(data[0x1A:0x1C]),
		Flags:      le.Uint32(data[0x20:0x24]),
		Generation: le.Uint32(data[0x64:0x68]),
	}
	copy(inode.Block[:], data[types.Ext4InodeBlockOffset:types.Ext4InodeBlockOffset+types.Ext4InodeBlockSize])

	return &InodeReader{inode: inode}, nil
}

// Inode returns the decoded structure.
func (r *InodeReader) Inode() *types.Ext4Inode {
	return r.inode
}

// IsDir reports whether the inode is a directory.
func (r *InodeReader) IsDir() bool {
	return r.inode.IsDir()
}

// Extents decodes the extent tree root held in i_block.
func (r *InodeReader) Extents() ([]types.Ext4Extent, error) {
	if !r.inode.UsesExtents() {
		return nil, fmt.Errorf("inode %d does not use extents", r.inode.Number)
	}
	return ParseExtentRoot(r.inode.Block[:])
}

// InodeLocation is where an inode record lives on disk.
type InodeLocation struct {
	Group  uint64
	Index  uint64
	Block  uint64
	Offset uint32
}

// LocateInode computes the block and byte offset of inode number ino.
func LocateInode(sb *types.Ext4Superblock, gdt *GroupDescriptorReader, ino uint32) (InodeLocation, error) {
	if ino == 0 || ino > sb.InodesCount {
		return InodeLocation{}, fmt.Errorf("inode %d out of range (1..%d)", ino, sb.InodesCount)
	}

	group := uint64(ino-1) / uint64(sb.InodesPerGroup)
	index := uint64(ino-1) % uint64(sb.InodesPerGroup)
	gd, err := gdt.Group(group)
	if err != nil {
		return InodeLocation{}, fmt.Errorf("failed to locate inode %d: %w", ino, err)
	}

	recSize := uint64(sb.InodeRecordSize())
	bs := uint64(sb.BlockSize())
	byteOff := index * recSize

	return InodeLocation{
		Group:  group,
		Index:  index,
		Block:  gd.InodeTable + byteOff/bs,
		Offset: uint32(byteOff % bs),
	}, nil
}
