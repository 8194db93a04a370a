package f2fs

import (
	"fmt"

	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// ParseSitEntry decodes one segment info entry.
func ParseSitEntry(data []byte) types.F2FSSitEntry {
	vblocks := le.Uint16(data[types.F2FSSitVBlocksOffset:])
	e := types.F2FSSitEntry{
		ValidBlocks: vblocks & types.F2FSSitVBlocksMask,
		Type:        uint8(vblocks >> types.F2FSSitVBlocksShift),
		Mtime:       le.Uint64(data[types.F2FSSitMtimeOffset:]),
	}
	copy(e.ValidMap[:], data[types.F2FSSitVMapOffset:types.F2FSSitVMapOffset+types.F2FSSitVBlockMapSize])
	return e
}

// ParseSitBlock decodes every entry of a SIT block.
func ParseSitBlock(block []byte) ([]types.F2FSSitEntry, error) {
	if len(block) < types.F2FSBlockSize {
		return nil, fmt.Errorf("data too small for SIT block: %d bytes", len(block))
	}
	out := make([]types.F2FSSitEntry, types.F2FSSitEntryPerBlock)
	for i := range out {
		out[i] = ParseSitEntry(block[i*types.F2FSSitEntrySize:])
	}
	return out, nil
}

// ParseNatEntry decodes one NAT entry.
func ParseNatEntry(data []byte, nid uint32) types.F2FSNatEntry {
	return types.F2FSNatEntry{
		Nid:       nid,
		Version:   data[types.F2FSNatVersionOffset],
		Ino:       le.Uint32(data[types.F2FSNatInoOffset:]),
		BlockAddr: le.Uint32(data[types.F2FSNatBlockAddrOffset:]),
	}
}

// ParseNatBlock decodes every entry of a NAT block whose first entry is
// startNid.
func ParseNatBlock(block []byte, startNid uint32) ([]types.F2FSNatEntry, error) {
	if len(block) < types.F2FSBlockSize {
		return nil, fmt.Errorf("data too small for NAT block: %d bytes", len(block))
	}
	out := make([]types.F2FSNatEntry, types.F2FSNatEntryPerBlock)
	for i := range out {
		out[i] = ParseNatEntry(block[i*types.F2FSNatEntrySize:], startNid+uint32(i))
	}
	return out, nil
}

// NodeFooter decodes the footer of a node block.
func NodeFooter(block []byte) types.F2FSNodeFooter {
	return types.F2FSNodeFooter{
		Nid:  le.Uint32(block[types.F2FSNodeFooterNid:]),
		Ino:  le.Uint32(block[types.F2FSNodeFooterIno:]),
		Flag: le.Uint32(block[types.F2FSNodeFooterFlag:]),
	}
}

// ParseInode decodes the attribution fields of an inode node block.
func ParseInode(block []byte) (*types.F2FSInode, error) {
	if len(block) < types.F2FSBlockSize {
		return nil, fmt.Errorf("data too small for f2fs inode: %d bytes", len(block))
	}
	footer := NodeFooter(block)
	if !footer.IsInode() {
		return nil, fmt.Errorf("node %d belongs to inode %d, not an inode block", footer.Nid, footer.Ino)
	}

	nameLen := le.Uint32(block[types.F2FSInodeNamelen:])
	if nameLen > types.F2FSNameLen {
		nameLen = types.F2FSNameLen
	}
	return &types.F2FSInode{
		Nid:    footer.Nid,
		Mode:   le.Uint16(block[types.F2FSInodeMode:]),
		Inline: block[types.F2FSInodeInline],
		Flags:  le.Uint32(block[types.F2FSInodeFlags:]),
		Name:   string(block[types.F2FSInodeName : types.F2FSInodeName+nameLen]),
	}, nil
}
