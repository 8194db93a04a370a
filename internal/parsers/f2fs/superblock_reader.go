// Package f2fs decodes the log-structured flash filesystem structures the
// locator needs: superblock, checkpoint, SIT, NAT, summaries and node footers.
package f2fs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/deploymenttheory/go-blockinject/internal/types"
)

var le = binary.LittleEndian

// SuperblockReader wraps a decoded superblock.
type SuperblockReader struct {
	superblock *types.F2FSSuperblock
	data       []byte
}

// NewSuperblockReader decodes the superblock from the bytes at offset 1024
// of block 0.
func NewSuperblockReader(data []byte) (*SuperblockReader, error) {
	if len(data) < types.F2FSSuperblockSize {
		return nil, fmt.Errorf("data too small for f2fs superblock: %d bytes", len(data))
	}

	sb := parseSuperblock(data)
	if sb.Magic != types.F2FSMagic {
		return nil, fmt.Errorf("invalid f2fs superblock magic: got 0x%08X, want 0x%08X", sb.Magic, uint32(types.F2FSMagic))
	}
	if 1<<sb.LogBlocksize != types.F2FSBlockSize {
		return nil, fmt.Errorf("unsupported f2fs block size: %d", 1<<sb.LogBlocksize)
	}
	if sb.LogBlocksPerSeg == 0 || sb.LogBlocksPerSeg > 12 {
		return nil, fmt.Errorf("invalid f2fs log_blocks_per_seg: %d", sb.LogBlocksPerSeg)
	}

	return &SuperblockReader{superblock: sb, data: data[:types.F2FSSuperblockSize]}, nil
}

// ReadSuperblock reads and decodes the superblock from a device.
func ReadSuperblock(r io.ReaderAt) (*SuperblockReader, error) {
	buf := make([]byte, types.F2FSSuperblockSize)
	if _, err := r.ReadAt(buf, types.F2FSSuperOffset); err != nil {
		return nil, fmt.Errorf("failed to read f2fs superblock: %w", err)
	}
	return NewSuperblockReader(buf)
}

func parseSuperblock(data []byte) *types.F2FSSuperblock {
	u32 := func(off int) uint32 { return le.Uint32(data[off : off+4]) }

	sb := &types.F2FSSuperblock{
		Magic:            u32(types.F2FSSbMagic),
		LogBlocksize:     u32(types.F2FSSbLogBlocksize),
		LogBlocksPerSeg:  u32(types.F2FSSbLogBlocksPerSeg),
		SegsPerSec:       u32(types.F2FSSbSegsPerSec),
		BlockCount:       le.Uint64(data[types.F2FSSbBlockCount : types.F2FSSbBlockCount+8]),
		SegmentCount:     u32(types.F2FSSbSegmentCount),
		SegmentCountCkpt: u32(types.F2FSSbSegmentCountCkpt),
		SegmentCountSit:  u32(types.F2FSSbSegmentCountSit),
		SegmentCountNat:  u32(types.F2FSSbSegmentCountNat),
		SegmentCountSsa:  u32(types.F2FSSbSegmentCountSsa),
		SegmentCountMain: u32(types.F2FSSbSegmentCountMain),
		Segment0Blkaddr:  u32(types.F2FSSbSegment0Blkaddr),
		CpBlkaddr:        u32(types.F2FSSbCpBlkaddr),
		SitBlkaddr:       u32(types.F2FSSbSitBlkaddr),
		NatBlkaddr:       u32(types.F2FSSbNatBlkaddr),
		SsaBlkaddr:       u32(types.F2FSSbSsaBlkaddr),
		MainBlkaddr:      u32(types.F2FSSbMainBlkaddr),
		RootIno:          u32(types.F2FSSbRootIno),
		NodeIno:          u32(types.F2FSSbNodeIno),
		MetaIno:          u32(types.F2FSSbMetaIno),
		CpPayload:        u32(types.F2FSSbCpPayload),
		Feature:          u32(types.F2FSSbFeature),
	}
	copy(sb.UUID[:], data[types.F2FSSbUUID:types.F2FSSbUUID+16])
	sb.VolumeName = decodeVolumeName(data[types.F2FSSbVolumeName : types.F2FSSbVolumeName+2*types.F2FSVolumeNameLen])

	for i := 0; i < types.F2FSMaxDevices; i++ {
		off := types.F2FSSbDevs + i*types.F2FSDeviceEntrySize
		path := bytes.TrimRight(data[off:off+types.F2FSDevicePathLen], "\x00")
		if len(path) == 0 {
			break
		}
		sb.Devices = append(sb.Devices, types.F2FSDevice{
			Path:          string(path),
			TotalSegments: le.Uint32(data[off+types.F2FSDevicePathLen : off+types.F2FSDeviceEntrySize]),
		})
	}

	return sb
}

// decodeVolumeName decodes the NUL-terminated UTF-16LE label.
func decodeVolumeName(raw []byte) string {
	units := make([]uint16, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		u := le.Uint16(raw[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// Superblock returns the decoded structure.
func (r *SuperblockReader) Superblock() *types.F2FSSuperblock {
	return r.superblock
}

// UUID returns the volume UUID.
func (r *SuperblockReader) UUID() uuid.UUID {
	return uuid.UUID(r.superblock.UUID)
}

// VolumeName returns the volume label.
func (r *SuperblockReader) VolumeName() string {
	return r.superblock.VolumeName
}

// BlocksPerSeg returns the number of blocks in a segment.
func (r *SuperblockReader) BlocksPerSeg() uint32 {
	return r.superblock.BlocksPerSeg()
}

// MultiDevice reports whether the volume spans several devices.
func (r *SuperblockReader) MultiDevice() bool {
	return len(r.superblock.Devices) > 0
}
