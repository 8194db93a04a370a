// Package f2fsimage builds a small log-structured flash filesystem image in
// memory for locator and session tests.
//
// Layout (4 KiB blocks, 16 blocks per segment):
//
//	superblock 0 and 1, checkpoint 16..47, SIT 48..79, NAT 80..111, SSA 112..127
//	main area from 128, 80 segments
//	segment 0 (hot node): file inode 4 at 128, dir inode 5 at 129,
//	    direct node 6 of inode 4 at 130, root inode 3 at 131
//	segment 1 (hot data, write pointer 3): file data 144, dir dentries 145,
//	    root dentries 146
package f2fsimage

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-blockinject/internal/device"
	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// Fixture geometry.
const (
	BlockSize       = types.F2FSBlockSize
	LogBlocksPerSeg = 4
	BlocksPerSeg    = 1 << LogBlocksPerSeg

	CpBlkaddr   = 16
	SitBlkaddr  = 48
	NatBlkaddr  = 80
	SsaBlkaddr  = 112
	MainBlkaddr = 128

	SegmentCountCkpt = 2
	SegmentCountSit  = 2
	SegmentCountNat  = 2
	SegmentCountSsa  = 1
	SegmentCountMain = 80
	BlockCount       = MainBlkaddr + SegmentCountMain*BlocksPerSeg

	// Second copies of the checkpoint pack, SIT and NAT.
	CpPack2     = CpBlkaddr + BlocksPerSeg
	SitBlkaddr2 = SitBlkaddr + BlocksPerSeg
	NatBlkaddr2 = NatBlkaddr + BlocksPerSeg

	NodeSegno    = 0
	HotDataSegno = 1
	HotDataOff   = 3

	RootIno  = 3
	FileIno  = 4
	DirIno   = 5
	DnodeNid = 6

	FileInodeBlock = MainBlkaddr + 0
	DirInodeBlock  = MainBlkaddr + 1
	DnodeBlock     = MainBlkaddr + 2
	RootInodeBlock = MainBlkaddr + 3
	FileDataBlock  = MainBlkaddr + BlocksPerSeg
	DirDataBlock   = FileDataBlock + 1
	RootDataBlock  = FileDataBlock + 2

	// CurrentVersion is the checkpoint version of the live pack.
	CurrentVersion = 10

	// JournalSegno is the free segment the SIT journal reports as hot node.
	JournalSegno = 6
)

// Fill bytes of the fixture blocks.
const (
	FileFill  = 0x66
	DentFill  = 0x22
	DnodeFill = 0x11
	SsaFill   = 0x33
	Mtime     = 0x1122334455667788
)

// Options selects fixture variations.
type Options struct {
	// Compact packs data summaries into one checkpoint block.
	Compact bool
	// Unmount sets the clean unmount flag, adding node summaries to the pack.
	Unmount bool
	// SecondPack makes the second checkpoint pack the current one.
	SecondPack bool
	// TornSecond gives the second pack a newer header whose footer does not match.
	TornSecond bool
	// NatCopy2 and SitCopy2 move the valid table copies to the second half.
	NatCopy2 bool
	SitCopy2 bool
	// NatJournal keeps the entry of DnodeNid in the NAT journal only.
	NatJournal bool
	// SitJournal reports JournalSegno as a hot node segment through the journal.
	SitJournal bool
	// Devices fills the multi-device table.
	Devices []types.F2FSDevice
}

var le = binary.LittleEndian

type builder struct {
	tb   testing.TB
	dev  *device.MemDevice
	opts Options
}

// Build writes the default fixture image.
func Build(tb testing.TB) *device.MemDevice {
	tb.Helper()
	return BuildWith(tb, Options{})
}

// BuildWith writes a fixture image with the given variations.
func BuildWith(tb testing.TB, opts Options) *device.MemDevice {
	tb.Helper()
	dev := device.NewMemDevice("f2fs-fixture", BlockCount*BlockSize)
	b := &builder{tb: tb, dev: dev, opts: opts}

	sb := Superblock(opts.Devices...)
	b.write(types.F2FSSuperOffset, sb)
	b.write(BlockSize+types.F2FSSuperOffset, sb)

	switch {
	case opts.SecondPack:
		b.pack(CpBlkaddr, CurrentVersion-1, false, false)
		b.pack(CpPack2, CurrentVersion, true, false)
	case opts.TornSecond:
		b.pack(CpBlkaddr, CurrentVersion, true, false)
		b.pack(CpPack2, CurrentVersion+1, false, true)
	default:
		b.pack(CpBlkaddr, CurrentVersion, true, false)
		b.pack(CpPack2, CurrentVersion-1, false, false)
	}

	b.sit()
	b.nat()
	for i := 0; i < SegmentCountSsa*BlocksPerSeg; i++ {
		b.fill(SsaBlkaddr+int64(i), SsaFill)
	}

	b.inode(FileInodeBlock, FileIno, 0x81A4, types.F2FSInlineData, "file")
	b.inode(DirInodeBlock, DirIno, 0x41ED, 0, "dir")
	b.inode(RootInodeBlock, RootIno, 0x41ED, 0, "")
	b.node(DnodeBlock, DnodeNid, FileIno)

	b.fill(FileDataBlock, FileFill)
	b.dentries(DirDataBlock)
	b.dentries(RootDataBlock)
	return dev
}

// Superblock returns the encoded superblock bytes found at offset 1024.
func Superblock(devices ...types.F2FSDevice) []byte {
	sb := make([]byte, types.F2FSSuperblockSize)
	le.PutUint32(sb[types.F2FSSbMagic:], types.F2FSMagic)
	le.PutUint32(sb[types.F2FSSbLogBlocksize:], 12)
	le.PutUint32(sb[types.F2FSSbLogBlocksPerSeg:], LogBlocksPerSeg)
	le.PutUint32(sb[types.F2FSSbSegsPerSec:], 1)
	le.PutUint64(sb[types.F2FSSbBlockCount:], BlockCount)
	le.PutUint32(sb[types.F2FSSbSegmentCount:], (BlockCount-CpBlkaddr)/BlocksPerSeg)
	le.PutUint32(sb[types.F2FSSbSegmentCountCkpt:], SegmentCountCkpt)
	le.PutUint32(sb[types.F2FSSbSegmentCountSit:], SegmentCountSit)
	le.PutUint32(sb[types.F2FSSbSegmentCountNat:], SegmentCountNat)
	le.PutUint32(sb[types.F2FSSbSegmentCountSsa:], SegmentCountSsa)
	le.PutUint32(sb[types.F2FSSbSegmentCountMain:], SegmentCountMain)
	le.PutUint32(sb[types.F2FSSbSegment0Blkaddr:], CpBlkaddr)
	le.PutUint32(sb[types.F2FSSbCpBlkaddr:], CpBlkaddr)
	le.PutUint32(sb[types.F2FSSbSitBlkaddr:], SitBlkaddr)
	le.PutUint32(sb[types.F2FSSbNatBlkaddr:], NatBlkaddr)
	le.PutUint32(sb[types.F2FSSbSsaBlkaddr:], SsaBlkaddr)
	le.PutUint32(sb[types.F2FSSbMainBlkaddr:], MainBlkaddr)
	le.PutUint32(sb[types.F2FSSbRootIno:], RootIno)
	le.PutUint32(sb[types.F2FSSbNodeIno:], 1)
	le.PutUint32(sb[types.F2FSSbMetaIno:], 2)
	copy(sb[types.F2FSSbUUID:], []byte{0xf2, 0xf5, 0x20, 0x10, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	for i, r := range "fixture" {
		le.PutUint16(sb[types.F2FSSbVolumeName+2*i:], uint16(r))
	}
	for i, d := range devices {
		off := types.F2FSSbDevs + i*types.F2FSDeviceEntrySize
		copy(sb[off:], d.Path)
		le.PutUint32(sb[off+types.F2FSDevicePathLen:], d.TotalSegments)
	}
	return sb
}

// ReadBlock returns a copy of block n of dev.
func ReadBlock(tb testing.TB, dev *device.MemDevice, n uint64) []byte {
	tb.Helper()
	buf := make([]byte, BlockSize)
	_, err := dev.ReadAt(buf, int64(n)*BlockSize)
	require.NoError(tb, err)
	return buf
}

// PackBlocks returns the number of blocks in the checkpoint pack opts produce.
func PackBlocks(opts Options) uint32 {
	n := uint32(1 + 3 + 1)
	if opts.Compact {
		n = 1 + 1 + 1
	}
	if opts.Unmount {
		n += 3
	}
	return n
}

func (b *builder) write(off int64, data []byte) {
	b.tb.Helper()
	_, err := b.dev.WriteAt(data, off)
	require.NoError(b.tb, err)
}

func (b *builder) fill(block int64, v byte) {
	data := make([]byte, BlockSize)
	for i := range data {
		data[i] = v
	}
	b.write(block*BlockSize, data)
}

// pack writes a checkpoint pack. Stale packs record empty data logs; torn
// packs carry a footer version that differs from the header.
func (b *builder) pack(start int64, version uint64, live, torn bool) {
	total := PackBlocks(b.opts)
	flags := uint32(0)
	if b.opts.Compact {
		flags |= types.F2FSCpCompactSumFlag
	}
	if b.opts.Unmount {
		flags |= types.F2FSCpUmountFlag
	}

	var blkoff uint16
	if live {
		blkoff = HotDataOff
	}

	cp := make([]byte, BlockSize)
	le.PutUint64(cp[types.F2FSCpCheckpointVer:], version)
	nodeSegs := [3]uint32{NodeSegno, 4, 5}
	dataSegs := [3]uint32{HotDataSegno, 2, 3}
	for i := 0; i < 3; i++ {
		le.PutUint32(cp[types.F2FSCpCurNodeSegno+4*i:], nodeSegs[i])
		le.PutUint32(cp[types.F2FSCpCurDataSegno+4*i:], dataSegs[i])
	}
	le.PutUint16(cp[types.F2FSCpCurNodeBlkoff:], 4)
	le.PutUint16(cp[types.F2FSCpCurDataBlkoff:], blkoff)
	le.PutUint32(cp[types.F2FSCpCkptFlags:], flags)
	le.PutUint32(cp[types.F2FSCpPackTotalBlockCount:], total)
	le.PutUint32(cp[types.F2FSCpPackStartSum:], 1)
	le.PutUint32(cp[types.F2FSCpValidNodeCount:], 4)
	le.PutUint32(cp[types.F2FSCpValidInodeCount:], 3)
	le.PutUint32(cp[types.F2FSCpNextFreeNid:], 7)

	bitmapBytes := uint32(SegmentCountSit / 2 * BlocksPerSeg / 8)
	le.PutUint32(cp[types.F2FSCpSitVerBitmapBytes:], bitmapBytes)
	le.PutUint32(cp[types.F2FSCpNatVerBitmapBytes:], bitmapBytes)
	sitBitmap := cp[types.F2FSCpSitNatVersionBitmap:]
	natBitmap := cp[types.F2FSCpSitNatVersionBitmap+bitmapBytes:]
	if b.opts.SitCopy2 {
		sitBitmap[0] = 0xC0
	}
	if b.opts.NatCopy2 {
		natBitmap[0] = 0x80
	}
	b.write(start*BlockSize, cp)

	var entries []types.F2FSSummary
	if live {
		entries = []types.F2FSSummary{{Nid: DnodeNid}, {Nid: DirIno}, {Nid: RootIno}}
	}
	if b.opts.Compact {
		b.write((start+1)*BlockSize, b.compactSummaries(entries))
	} else {
		b.write((start+1)*BlockSize, b.summaryBlock(entries, b.natJournal(), nil))
		b.write((start+2)*BlockSize, b.summaryBlock(nil, nil, nil))
		b.write((start+3)*BlockSize, b.summaryBlock(nil, nil, b.sitJournal()))
	}

	footer := make([]byte, BlockSize)
	fv := version
	if torn {
		fv = version - 1
	}
	le.PutUint64(footer[types.F2FSCpCheckpointVer:], fv)
	b.write((start+int64(total)-1)*BlockSize, footer)
}

func (b *builder) natJournal() []byte {
	j := make([]byte, types.F2FSSumJournalSize)
	if !b.opts.NatJournal {
		return j
	}
	le.PutUint16(j[0:], 1)
	le.PutUint32(j[2:], DnodeNid)
	putNatEntry(j[6:], FileIno, DnodeBlock)
	return j
}

func (b *builder) sitJournal() []byte {
	j := make([]byte, types.F2FSSumJournalSize)
	if !b.opts.SitJournal {
		return j
	}
	le.PutUint16(j[0:], 1)
	le.PutUint32(j[2:], JournalSegno)
	putSitEntry(j[6:], types.F2FSCursegHotNode, 0)
	return j
}

func (b *builder) summaryBlock(entries []types.F2FSSummary, natJournal, sitJournal []byte) []byte {
	blk := make([]byte, BlockSize)
	for i, e := range entries {
		putSummary(blk[i*types.F2FSSummarySize:], e)
	}
	journal := blk[types.F2FSSumEntrySize:]
	if natJournal != nil {
		copy(journal, natJournal)
	}
	if sitJournal != nil {
		copy(journal, sitJournal)
	}
	blk[types.F2FSSumFooterOffset] = types.F2FSSumTypeData
	return blk
}

func (b *builder) compactSummaries(entries []types.F2FSSummary) []byte {
	blk := make([]byte, BlockSize)
	copy(blk, b.natJournal())
	copy(blk[types.F2FSSumJournalSize:], b.sitJournal())
	off := 2 * types.F2FSSumJournalSize
	for _, e := range entries {
		putSummary(blk[off:], e)
		off += types.F2FSSummarySize
	}
	return blk
}

// segmentType returns the type SIT records for a main segment.
func segmentType(segno uint32) (uint8, uint16) {
	switch segno {
	case NodeSegno:
		return types.F2FSCursegHotNode, 4
	case HotDataSegno:
		return types.F2FSCursegHotData, HotDataOff
	case 2:
		return types.F2FSCursegWarmData, 0
	case 3:
		return types.F2FSCursegColdData, 0
	case 4:
		return types.F2FSCursegWarmNode, 0
	case 5:
		return types.F2FSCursegColdNode, 0
	}
	return types.F2FSCursegHotData, 0
}

func (b *builder) sit() {
	base := int64(SitBlkaddr)
	if b.opts.SitCopy2 {
		base = SitBlkaddr2
	}
	blocks := (SegmentCountMain + types.F2FSSitEntryPerBlock - 1) / types.F2FSSitEntryPerBlock
	for i := 0; i < blocks; i++ {
		blk := make([]byte, BlockSize)
		for j := 0; j < types.F2FSSitEntryPerBlock; j++ {
			segno := uint32(i*types.F2FSSitEntryPerBlock + j)
			typ, valid := segmentType(segno)
			putSitEntry(blk[j*types.F2FSSitEntrySize:], typ, valid)
		}
		b.write((base+int64(i))*BlockSize, blk)
	}
}

func (b *builder) nat() {
	base := int64(NatBlkaddr)
	if b.opts.NatCopy2 {
		base = NatBlkaddr2
	}
	blk := make([]byte, BlockSize)
	put := func(nid, ino, addr uint32) {
		putNatEntry(blk[nid*types.F2FSNatEntrySize:], ino, addr)
	}
	put(RootIno, RootIno, RootInodeBlock)
	put(FileIno, FileIno, FileInodeBlock)
	put(DirIno, DirIno, DirInodeBlock)
	if !b.opts.NatJournal {
		put(DnodeNid, FileIno, DnodeBlock)
	}
	b.write(base*BlockSize, blk)
}

func (b *builder) inode(block int64, ino uint32, mode uint16, inline uint8, name string) {
	blk := make([]byte, BlockSize)
	le.PutUint16(blk[types.F2FSInodeMode:], mode)
	blk[types.F2FSInodeInline] = inline
	le.PutUint64(blk[types.F2FSInodeSize:], 12)
	le.PutUint64(blk[types.F2FSInodeAtime:], 1700000000)
	le.PutUint32(blk[types.F2FSInodeFlags:], 0x10)
	le.PutUint32(blk[types.F2FSInodeNamelen:], uint32(len(name)))
	copy(blk[types.F2FSInodeName:], name)
	le.PutUint32(blk[types.F2FSNodeFooterNid:], ino)
	le.PutUint32(blk[types.F2FSNodeFooterIno:], ino)
	b.write(block*BlockSize, blk)
}

func (b *builder) node(block int64, nid, ino uint32) {
	blk := make([]byte, BlockSize)
	for i := 0; i < types.F2FSNodeFooterOffset; i++ {
		blk[i] = DnodeFill
	}
	le.PutUint32(blk[types.F2FSNodeFooterNid:], nid)
	le.PutUint32(blk[types.F2FSNodeFooterIno:], ino)
	b.write(block*BlockSize, blk)
}

// dentries writes a dentry block with every bitmap slot in use.
func (b *builder) dentries(block int64) {
	blk := make([]byte, BlockSize)
	for i := range blk {
		blk[i] = DentFill
	}
	for i := 0; i < types.F2FSSizeOfDentryBitmap; i++ {
		blk[i] = 0xFF
	}
	b.write(block*BlockSize, blk)
}

func putSummary(dst []byte, e types.F2FSSummary) {
	le.PutUint32(dst[0:], e.Nid)
	dst[4] = e.Version
	le.PutUint16(dst[5:], e.OfsInNode)
}

func putNatEntry(dst []byte, ino, addr uint32) {
	dst[types.F2FSNatVersionOffset] = 0
	le.PutUint32(dst[types.F2FSNatInoOffset:], ino)
	le.PutUint32(dst[types.F2FSNatBlockAddrOffset:], addr)
}

func putSitEntry(dst []byte, typ uint8, valid uint16) {
	le.PutUint16(dst[types.F2FSSitVBlocksOffset:], uint16(typ)<<types.F2FSSitVBlocksShift|valid)
	for k := 0; k < types.F2FSSitVBlockMapSize; k++ {
		dst[types.F2FSSitVMapOffset+k] = 0xAA
	}
	le.PutUint64(dst[types.F2FSSitMtimeOffset:], Mtime)
}
