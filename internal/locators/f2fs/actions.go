package f2fs

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-blockinject/internal/helpers"
	"github.com/deploymenttheory/go-blockinject/internal/interfaces"
	"github.com/deploymenttheory/go-blockinject/internal/rules"
	"github.com/deploymenttheory/go-blockinject/internal/types"
)

func zeroBlock(acc *interfaces.BlockAccess, r *rules.Rule) (interfaces.Mutation, bool) {
	return helpers.ZeroBlock(acc, r)
}

func one(m interfaces.Mutation, ok bool) []interfaces.Mutation {
	if !ok {
		return nil
	}
	return []interfaces.Mutation{m}
}

// apply runs the corruption r selects on a block classified as bc.
func (l *Locator) apply(acc *interfaces.BlockAccess, bc blockClass, r *rules.Rule) ([]interfaces.Mutation, error) {
	switch r.Kind {
	case rules.KindSector:
		first := uint64(types.BlockAddr(acc.Block).FirstSector(types.F2FSBlockSize))
		off := uint32(r.Number-first) * types.SectorSize
		return one(helpers.ZeroRange(acc, r, off, types.SectorSize)), nil

	case rules.KindBlock, rules.KindDataBlock:
		return l.corruptData(acc, bc, r)

	case rules.KindCheckpoint, rules.KindSegmentSummaryArea, rules.KindDirectNode:
		return one(zeroBlock(acc, r)), nil

	case rules.KindSegmentInfoTable:
		span, ok := types.F2FSSitFields[r.Field]
		if !ok {
			return one(zeroBlock(acc, r)), nil
		}
		return one(helpers.ZeroStrided(acc, r, span.Offset, span.Size,
			types.F2FSSitEntrySize, types.F2FSSitEntryPerBlock)), nil

	case rules.KindNodeAddressTable:
		if natInodeMode(r) {
			return nullNatEntries(acc, r), nil
		}
		return one(zeroBlock(acc, r)), nil

	case rules.KindInode:
		if span, ok := types.F2FSInodeFields[r.Field]; ok {
			return one(helpers.ZeroRange(acc, r, span.Offset, span.Size)), nil
		}
		return one(zeroBlock(acc, r)), nil
	}
	return nil, nil
}

// corruptData clears the first dentry bitmap slots of a directory's data
// page, one per bitmap byte. Other pages are zeroed, or get one byte flipped
// under the flip action.
func (l *Locator) corruptData(acc *interfaces.BlockAccess, bc blockClass, r *rules.Rule) ([]interfaces.Mutation, error) {
	if r.Field == FieldFlip {
		m, ok, err := helpers.FlipRandomByte(acc, r)
		if err != nil {
			return nil, err
		}
		return one(m, ok), nil
	}
	if bc.area == AreaData && bc.inode != nil && bc.inode.IsDir() {
		return one(helpers.ClearBits(acc, r, 0, 0, types.F2FSSizeOfDentryBitmap)), nil
	}
	return one(zeroBlock(acc, r)), nil
}

// nullNatEntries zeroes the inode and block address of every entry in the
// NAT block that belongs to inode r.Number.
func nullNatEntries(acc *interfaces.BlockAccess, r *rules.Rule) []interfaces.Mutation {
	var out []interfaces.Mutation
	for i := uint32(0); i < types.F2FSNatEntryPerBlock; i++ {
		base := i * types.F2FSNatEntrySize
		ino := acc.Range(base+types.F2FSNatInoOffset, 4)
		if len(ino) < 4 {
			continue
		}
		if uint64(binary.LittleEndian.Uint32(ino)) != r.Number {
			continue
		}
		if m, ok := helpers.NullEntry(acc, r, base+types.F2FSNatInoOffset, types.F2FSNatEntrySize-types.F2FSNatInoOffset); ok {
			out = append(out, m)
		}
	}
	return out
}
