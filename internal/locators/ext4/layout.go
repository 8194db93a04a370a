package ext4

import (
	"fmt"
	"sort"

	"github.com/google/btree"

	parser "github.com/deploymenttheory/go-blockinject/internal/parsers/ext4"
	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// Area names reported by Classify.
const (
	AreaBoot        = "boot"
	AreaSuperblock  = "superblock"
	AreaGDT         = "gdt"
	AreaBlockBitmap = "block-bitmap"
	AreaInodeBitmap = "inode-bitmap"
	AreaInodeTable  = "inode-table"
	AreaJournal     = "journal"
	AreaData        = "data"
	AreaBeyond      = "beyond-end"
)

// itableRange is one group's inode table, indexed by its first block.
type itableRange struct {
	start  uint64
	blocks uint64
	group  uint64
}

func lessItable(a, b itableRange) bool {
	return a.start < b.start
}

type bitmapRef struct {
	area  string
	group uint64
}

// layout is the decoded geometry of a block-group filesystem. It is built
// once at bootstrap and read-only afterwards.
type layout struct {
	sb  *types.Ext4Superblock
	gdt *parser.GroupDescriptorReader

	blockSize      uint32
	firstDataBlock uint64
	blocksPerGroup uint64
	inodesPerGroup uint64
	inodeSize      uint32
	groups         uint64
	descSize       uint32
	gdtBlocks      uint64
	itableBlocks   uint64

	// sbGroups lists the groups carrying a superblock copy, ascending.
	sbGroups []uint64
	bitmaps  map[uint64]bitmapRef
	itables  *btree.BTreeG[itableRange]

	journal []types.Ext4Extent
}

// isSparseGroup reports whether group g carries a superblock backup under
// the sparse_super feature: 0, 1 and powers of 3, 5 and 7.
func isSparseGroup(g uint64) bool {
	if g <= 1 {
		return true
	}
	for _, base := range []uint64{3, 5, 7} {
		for n := base; n <= g; n *= base {
			if n == g {
				return true
			}
		}
	}
	return false
}

func newLayout(sb *types.Ext4Superblock, gdt *parser.GroupDescriptorReader) *layout {
	l := &layout{
		sb:             sb,
		gdt:            gdt,
		blockSize:      sb.BlockSize(),
		firstDataBlock: uint64(sb.FirstDataBlock),
		blocksPerGroup: uint64(sb.BlocksPerGroup),
		inodesPerGroup: uint64(sb.InodesPerGroup),
		inodeSize:      sb.InodeRecordSize(),
		groups:         sb.GroupCount(),
		descSize:       sb.DescriptorSize(),
		bitmaps:        make(map[uint64]bitmapRef),
		itables:        btree.NewG[itableRange](16, lessItable),
	}
	bs := uint64(l.blockSize)
	l.gdtBlocks = (l.groups*uint64(l.descSize) + bs - 1) / bs
	l.itableBlocks = (l.inodesPerGroup*uint64(l.inodeSize) + bs - 1) / bs

	for g := uint64(0); g < l.groups; g++ {
		if l.hasSuper(g) {
			l.sbGroups = append(l.sbGroups, g)
		}
	}
	for g, gd := range gdt.Descriptors() {
		l.bitmaps[gd.BlockBitmap] = bitmapRef{area: AreaBlockBitmap, group: uint64(g)}
		l.bitmaps[gd.InodeBitmap] = bitmapRef{area: AreaInodeBitmap, group: uint64(g)}
		if gd.InodeTable != 0 {
			l.itables.ReplaceOrInsert(itableRange{start: gd.InodeTable, blocks: l.itableBlocks, group: uint64(g)})
		}
	}
	return l
}

// hasSuper reports whether group g starts with a superblock copy.
func (l *layout) hasSuper(g uint64) bool {
	if !l.sb.SparseSuper() {
		return true
	}
	return isSparseGroup(g)
}

// superblockIndex is the 1-based position of group g among the groups
// carrying a superblock copy.
func (l *layout) superblockIndex(g uint64) uint64 {
	i := sort.Search(len(l.sbGroups), func(i int) bool { return l.sbGroups[i] >= g })
	return uint64(i) + 1
}

// copies returns the number of superblock copies.
func (l *layout) copies() uint64 {
	return uint64(len(l.sbGroups))
}

// groupStart returns the first block of group g.
func (l *layout) groupStart(g uint64) uint64 {
	return l.firstDataBlock + g*l.blocksPerGroup
}

// superblockOffset returns the byte offset of the superblock inside the
// first block of group g. Block 0 carries a 1024-byte boot preamble.
func (l *layout) superblockOffset(g uint64) uint32 {
	if g == 0 && l.blockSize > types.Ext4SuperblockOffset {
		return types.Ext4SuperblockOffset
	}
	return 0
}

// blockInfo is what one block holds.
type blockInfo struct {
	area  string
	group uint64

	// superblock and gdt
	sbIndex  uint64
	sbOffset uint32
	gdtBlock uint64

	// inode table
	firstIno uint64
	inodes   uint64

	// journal
	journalLogical uint32
}

// locate classifies block b by geometry alone.
func (l *layout) locate(b uint64) blockInfo {
	if b < l.firstDataBlock {
		return blockInfo{area: AreaBoot}
	}
	rel := b - l.firstDataBlock
	g := rel / l.blocksPerGroup
	if g >= l.groups {
		return blockInfo{area: AreaBeyond}
	}

	off := rel % l.blocksPerGroup
	if l.hasSuper(g) {
		switch {
		case off == 0:
			return blockInfo{area: AreaSuperblock, group: g, sbIndex: l.superblockIndex(g), sbOffset: l.superblockOffset(g)}
		case off <= l.gdtBlocks:
			return blockInfo{area: AreaGDT, group: g, sbIndex: l.superblockIndex(g), gdtBlock: off - 1}
		}
	}

	if ref, ok := l.bitmaps[b]; ok {
		return blockInfo{area: ref.area, group: ref.group}
	}

	var hit *itableRange
	l.itables.DescendLessOrEqual(itableRange{start: b}, func(it itableRange) bool {
		if b < it.start+it.blocks {
			hit = &it
		}
		return false
	})
	if hit != nil {
		perBlock := uint64(l.blockSize / l.inodeSize)
		first := hit.group*l.inodesPerGroup + (b-hit.start)*perBlock + 1
		return blockInfo{area: AreaInodeTable, group: hit.group, firstIno: first, inodes: perBlock}
	}

	for _, e := range l.journal {
		if b >= e.Start && b < e.Start+uint64(e.Length) {
			return blockInfo{area: AreaJournal, group: g, journalLogical: e.FirstBlock + uint32(b-e.Start)}
		}
	}

	return blockInfo{area: AreaData, group: g}
}

// describe renders a human readable detail line.
func (i blockInfo) describe() string {
	switch i.area {
	case AreaSuperblock:
		return fmt.Sprintf("copy %d in group %d at offset %d", i.sbIndex, i.group, i.sbOffset)
	case AreaGDT:
		return fmt.Sprintf("table block %d after superblock copy %d (group %d)", i.gdtBlock, i.sbIndex, i.group)
	case AreaBlockBitmap, AreaInodeBitmap:
		return fmt.Sprintf("group %d", i.group)
	case AreaInodeTable:
		return fmt.Sprintf("group %d inodes %d-%d", i.group, i.firstIno, i.firstIno+i.inodes-1)
	case AreaJournal:
		return fmt.Sprintf("journal block %d", i.journalLogical)
	case AreaData:
		return fmt.Sprintf("group %d", i.group)
	default:
		return ""
	}
}

// inodeOffset returns the byte offset of inode ino inside its table block.
func (l *layout) inodeOffset(ino uint64) uint32 {
	index := (ino - 1) % l.inodesPerGroup
	return uint32(index * uint64(l.inodeSize) % uint64(l.blockSize))
}
