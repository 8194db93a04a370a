// Package ext4 decodes the block-group filesystem structures the locator
// needs: superblock, group descriptors, inodes, extent roots and directory
// records.
package ext4

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/deploymenttheory/go-blockinject/internal/types"
)

var le = binary.LittleEndian

// SuperblockReader wraps a decoded superblock.
type SuperblockReader struct {
	superblock *types.Ext4Superblock
	data       []byte
}

// NewSuperblockReader decodes a 1024-byte superblock.
func NewSuperblockReader(data []byte) (*SuperblockReader, error) {
	if len(data) < types.Ext4SuperblockSize {
		return nil, fmt.Errorf("data too small for ext4 superblock: %d bytes", len(data))
	}

	sb, err := parseSuperblock(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ext4 superblock: %w", err)
	}

	if sb.Magic != types.Ext4Magic {
		return nil, fmt.Errorf("invalid ext4 superblock magic: got 0x%04X, want 0x%04X", sb.Magic, types.Ext4Magic)
	}
	if sb.LogBlockSize > 6 {
		return nil, fmt.Errorf("invalid ext4 block size shift: %d", sb.LogBlockSize)
	}
	if sb.BlocksPerGroup == 0 || sb.InodesPerGroup == 0 {
		return nil, fmt.Errorf("invalid ext4 group geometry: %d blocks, %d inodes per group", sb.BlocksPerGroup, sb.InodesPerGroup)
	}

	return &SuperblockReader{
		superblock: sb,
		data:       data[:types.Ext4SuperblockSize],
	}, nil
}

// ReadSuperblock reads and decodes the primary superblock from a device.
func ReadSuperblock(r io.ReaderAt) (*SuperblockReader, error) {
	buf := make([]byte, types.Ext4SuperblockSize)
	if _, err := r.ReadAt(buf, types.Ext4SuperblockOffset); err != nil {
		return nil, fmt.Errorf("failed to read ext4 superblock: %w", err)
	}
	return NewSuperblockReader(buf)
}

// parseSuperblock parses raw bytes into an Ext4Superblock structure
func parseSuperblock(data []byte) (*types.Ext4Superblock, error) {
	if len(data) < types.Ext4SuperblockSize {
		return nil, fmt.Errorf("insufficient data for ext4 superblock")
	}

	sb := &types.Ext4Superblock{}
	sb.InodesCount = le.Uint32(data[0x00:0x04])
	sb.BlocksCount = uint64(le.Uint32(data[0x04:0x08]))
	sb.FreeBlocksCount = uint64(le.Uint32(data[0x0C:0x10]))
	sb.FreeInodesCount = le.Uint32(data[0x10:0x14])
	sb.FirstDataBlock = le.Uint32(data[0x14:0x18])
	sb.LogBlockSize = le.Uint32(data[0x18:0x1C])
	sb.BlocksPerGroup = le.Uint32(data[0x20:0x24])
	sb.InodesPerGroup = le.Uint32(data[0x28:0x2C])
	sb.Magic = le.Uint16(data[0x38:0x3A])
	sb.State = le.Uint16(data[0x3A:0x3C])
	sb.RevLevel = le.Uint32(data[0x4C:0x50])
	sb.FirstIno = le.Uint32(data[0x54:0x58])
	sb.InodeSize = le.Uint16(data[0x58:0x5A])
	sb.FeatureCompat = le.Uint32(data[0x5C:0x60])
	sb.FeatureIncompat = le.Uint32(data[0x60:0x64])
	sb.FeatureRoCompat = le.Uint32(data[0x64:0x68])
	copy(sb.UUID[:], data[0x68:0x78])
	sb.VolumeName = string(bytes.TrimRight(data[0x78:0x88], "\x00"))
	sb.JournalInum = le.Uint32(data[0xE0:0xE4])
	sb.DescSize = le.Uint16(data[0xFE:0x100])

	// 64-bit block counts
	if sb.FeatureIncompat&types.Ext4FeatureIncompat64Bit != 0 {
		sb.BlocksCount |= uint64(le.Uint32(data[0x150:0x154])) << 32
		sb.FreeBlocksCount |= uint64(le.Uint32(data[0x158:0x15C])) << 32
	}

	return sb, nil
}

// Superblock returns the decoded structure.
func (r *SuperblockReader) Superblock() *types.Ext4Superblock {
	return r.superblock
}

// Raw returns the superblock bytes.
func (r *SuperblockReader) Raw() []byte {
	return r.data
}

// BlockSize returns the filesystem block size.
func (r *SuperblockReader) BlockSize() uint32 {
	return r.superblock.BlockSize()
}

// GroupCount returns the number of block groups.
func (r *SuperblockReader) GroupCount() uint64 {
	return r.superblock.GroupCount()
}

// UUID returns the volume UUID.
func (r *SuperblockReader) UUID() uuid.UUID {
	return uuid.UUID(r.superblock.UUID)
}

// VolumeName returns the volume label.
func (r *SuperblockReader) VolumeName() string {
	return r.superblock.VolumeName
}

// HasJournal reports whether the filesystem has an internal journal.
func (r *SuperblockReader) HasJournal() bool {
	return r.superblock.FeatureCompat&types.Ext4FeatureCompatHasJournal != 0 && r.superblock.JournalInum != 0
}
