package f2fs

import (
	"fmt"

	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// ParseCheckpoint decodes the checkpoint header block of a pack.
func ParseCheckpoint(block []byte) (*types.F2FSCheckpoint, error) {
	if len(block) < types.F2FSBlockSize {
		return nil, fmt.Errorf("data too small for f2fs checkpoint: %d bytes", len(block))
	}

	cp := &types.F2FSCheckpoint{
		Version:              le.Uint64(block[types.F2FSCpCheckpointVer:]),
		Flags:                le.Uint32(block[types.F2FSCpCkptFlags:]),
		PackTotalBlockCount:  le.Uint32(block[types.F2FSCpPackTotalBlockCount:]),
		PackStartSum:         le.Uint32(block[types.F2FSCpPackStartSum:]),
		ValidNodeCount:       le.Uint32(block[types.F2FSCpValidNodeCount:]),
		ValidInodeCount:      le.Uint32(block[types.F2FSCpValidInodeCount:]),
		NextFreeNid:          le.Uint32(block[types.F2FSCpNextFreeNid:]),
		SitVerBitmapBytesize: le.Uint32(block[types.F2FSCpSitVerBitmapBytes:]),
		NatVerBitmapBytesize: le.Uint32(block[types.F2FSCpNatVerBitmapBytes:]),
	}
	for i := 0; i < types.F2FSMaxActiveLogs; i++ {
		cp.CurNodeSegno[i] = le.Uint32(block[types.F2FSCpCurNodeSegno+4*i:])
		cp.CurNodeBlkoff[i] = le.Uint16(block[types.F2FSCpCurNodeBlkoff+2*i:])
		cp.CurDataSegno[i] = le.Uint32(block[types.F2FSCpCurDataSegno+4*i:])
		cp.CurDataBlkoff[i] = le.Uint16(block[types.F2FSCpCurDataBlkoff+2*i:])
	}

	sitEnd := uint64(types.F2FSCpSitNatVersionBitmap) + uint64(cp.SitVerBitmapBytesize)
	natEnd := sitEnd + uint64(cp.NatVerBitmapBytesize)
	if natEnd > uint64(len(block)) {
		return nil, fmt.Errorf("checkpoint version bitmaps overflow the block: %d + %d bytes",
			cp.SitVerBitmapBytesize, cp.NatVerBitmapBytesize)
	}
	cp.SitBitmap = append([]byte(nil), block[types.F2FSCpSitNatVersionBitmap:sitEnd]...)
	cp.NatBitmap = append([]byte(nil), block[sitEnd:natEnd]...)

	return cp, nil
}

// PackFooterVersion returns the checkpoint version stored in the last block
// of a pack, which must match the header for the pack to be valid.
func PackFooterVersion(block []byte) uint64 {
	return le.Uint64(block[types.F2FSCpCheckpointVer:])
}

// TestBit reports whether bit nr of a version bitmap is set. Bits are
// numbered from the most significant bit of each byte.
func TestBit(bitmap []byte, nr uint32) bool {
	idx := nr >> 3
	if int(idx) >= len(bitmap) {
		return false
	}
	return bitmap[idx]&(1<<(7-(nr&7))) != 0
}
