// Package ext4image builds a small block-group filesystem image in memory
// for locator and session tests.
//
// Layout (4 KiB blocks, 2 groups of 8192 blocks, 256-byte inodes):
//
//	group 0: superblock 0, gdt 1, block bitmap 2, inode bitmap 3, inode table 4..131
//	group 1: superblock 8192, gdt 8193, block bitmap 8194, inode bitmap 8195, inode table 8196..8323
//	root directory (ino 2) at block 200, /a (ino 12) at 201, /a/b (ino 13) at 202
//	/a/b/file (ino 14) data at 210, /hello (ino 15) data at 211
//	journal (ino 8) at 300..315
package ext4image

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-blockinject/internal/device"
	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// Fixture geometry.
const (
	BlockSize      = 4096
	BlocksCount    = 16384
	BlocksPerGroup = 8192
	InodesPerGroup = 2048
	InodesCount    = 2 * InodesPerGroup
	InodeSize      = 256
	Groups         = 2
	InodesPerBlock = BlockSize / InodeSize
	ItableBlocks   = InodesPerGroup * InodeSize / BlockSize

	GDTBlock         = 1
	BlockBitmap0     = 2
	InodeBitmap0     = 3
	InodeTable0      = 4
	BackupSuperblock = BlocksPerGroup
	BackupGDTBlock   = BlocksPerGroup + 1
	BlockBitmap1     = BlocksPerGroup + 2
	InodeBitmap1     = BlocksPerGroup + 3
	InodeTable1      = BlocksPerGroup + 4

	RootDirBlock = 200
	DirABlock    = 201
	DirBBlock    = 202
	FileBlock    = 210
	HelloBlock   = 211

	JournalIno    = 8
	JournalStart  = 300
	JournalBlocks = 16

	DirAIno  = 12
	DirBIno  = 13
	FileIno  = 14
	HelloIno = 15
)

// VolumeUUID is the fixture s_uuid.
var VolumeUUID = [16]byte{0xde, 0xad, 0xbe, 0xef, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

var le = binary.LittleEndian

type dirent struct {
	ino  uint32
	ft   uint8
	name string
}

// Build writes the fixture image onto a fresh memory device.
func Build(tb testing.TB) *device.MemDevice {
	tb.Helper()
	dev := device.NewMemDevice("ext4-fixture", BlocksCount*BlockSize)
	b := &builder{tb: tb, dev: dev}

	sb := superblock()
	b.write(types.Ext4SuperblockOffset, sb)
	b.write(BackupSuperblock*BlockSize, sb)

	gdt := descriptors()
	b.write(GDTBlock*BlockSize, gdt)
	b.write(BackupGDTBlock*BlockSize, gdt)

	b.bitmap(BlockBitmap0, 0x0F)
	b.bitmap(InodeBitmap0, 0xFF)
	b.bitmap(BlockBitmap1, 0x03)
	b.bitmap(InodeBitmap1, 0x00)

	b.inode(types.Ext4RootIno, types.Ext4ModeDir|0o755, BlockSize, RootDirBlock, 1)
	b.inode(JournalIno, types.Ext4ModeRegular|0o600, JournalBlocks*BlockSize, JournalStart, JournalBlocks)
	b.inode(DirAIno, types.Ext4ModeDir|0o755, BlockSize, DirABlock, 1)
	b.inode(DirBIno, types.Ext4ModeDir|0o755, BlockSize, DirBBlock, 1)
	b.inode(FileIno, types.Ext4ModeRegular|0o644, 12, FileBlock, 1)
	b.inode(HelloIno, types.Ext4ModeRegular|0o644, 6, HelloBlock, 1)

	b.dir(RootDirBlock,
		dirent{types.Ext4RootIno, types.Ext4FileTypeDir, "."},
		dirent{types.Ext4RootIno, types.Ext4FileTypeDir, ".."},
		dirent{11, types.Ext4FileTypeDir, "lost+found"},
		dirent{DirAIno, types.Ext4FileTypeDir, "a"},
		dirent{HelloIno, types.Ext4FileTypeRegular, "hello"},
	)
	b.dir(DirABlock,
		dirent{DirAIno, types.Ext4FileTypeDir, "."},
		dirent{types.Ext4RootIno, types.Ext4FileTypeDir, ".."},
		dirent{DirBIno, types.Ext4FileTypeDir, "b"},
	)
	b.dir(DirBBlock,
		dirent{DirBIno, types.Ext4FileTypeDir, "."},
		dirent{DirAIno, types.Ext4FileTypeDir, ".."},
		dirent{FileIno, types.Ext4FileTypeRegular, "file"},
	)

	b.write(FileBlock*BlockSize, []byte("file content"))
	b.write(HelloBlock*BlockSize, []byte("hello\n"))
	for i := 0; i < JournalBlocks; i++ {
		block := make([]byte, BlockSize)
		for j := range block {
			block[j] = byte(i + 1)
		}
		b.write(int64(JournalStart+i)*BlockSize, block)
	}
	return dev
}

// ReadBlock returns a copy of block n of dev.
func ReadBlock(tb testing.TB, dev *device.MemDevice, n uint64) []byte {
	tb.Helper()
	buf := make([]byte, BlockSize)
	_, err := dev.ReadAt(buf, int64(n)*BlockSize)
	require.NoError(tb, err)
	return buf
}

// InodeBlock returns the inode table block holding ino.
func InodeBlock(ino uint32) uint64 {
	index := uint64(ino-1) % InodesPerGroup
	table := uint64(InodeTable0)
	if (ino-1)/InodesPerGroup == 1 {
		table = InodeTable1
	}
	return table + index/InodesPerBlock
}

// InodeOffset returns the byte offset of ino inside its inode table block.
func InodeOffset(ino uint32) uint32 {
	return (ino - 1) % InodesPerGroup % InodesPerBlock * InodeSize
}

func superblock() []byte {
	sb := make([]byte, types.Ext4SuperblockSize)
	le.PutUint32(sb[0x00:], InodesCount)
	le.PutUint32(sb[0x04:], BlocksCount)
	le.PutUint32(sb[0x0C:], BlocksCount-400)
	le.PutUint32(sb[0x10:], InodesCount-16)
	le.PutUint32(sb[0x14:], 0)
	le.PutUint32(sb[0x18:], 2)
	le.PutUint32(sb[0x20:], BlocksPerGroup)
	le.PutUint32(sb[0x24:], BlocksPerGroup)
	le.PutUint32(sb[0x28:], InodesPerGroup)
	le.PutUint16(sb[0x38:], types.Ext4Magic)
	le.PutUint16(sb[0x3A:], 1)
	le.PutUint32(sb[0x4C:], 1)
	le.PutUint32(sb[0x54:], 11)
	le.PutUint16(sb[0x58:], InodeSize)
	le.PutUint32(sb[0x5C:], types.Ext4FeatureCompatHasJournal)
	le.PutUint32(sb[0x60:], types.Ext4FeatureIncompatFiletype|types.Ext4FeatureIncompatExtents)
	le.PutUint32(sb[0x64:], types.Ext4FeatureRoCompatSparseSuper)
	copy(sb[0x68:], VolumeUUID[:])
	copy(sb[0x78:], "fixture")
	le.PutUint32(sb[0xE0:], JournalIno)
	return sb
}

func descriptors() []byte {
	gdt := make([]byte, Groups*types.Ext4DescSize)
	put := func(g int, bbmap, ibmap, itable uint32, freeBlocks, freeInodes, dirs uint16) {
		d := gdt[g*types.Ext4DescSize:]
		le.PutUint32(d[0x00:], bbmap)
		le.PutUint32(d[0x04:], ibmap)
		le.PutUint32(d[0x08:], itable)
		le.PutUint16(d[0x0C:], freeBlocks)
		le.PutUint16(d[0x0E:], freeInodes)
		le.PutUint16(d[0x10:], dirs)
	}
	put(0, BlockBitmap0, InodeBitmap0, InodeTable0, 7800, 2032, 4)
	put(1, BlockBitmap1, InodeBitmap1, InodeTable1, 8060, 2048, 0)
	return gdt
}

type builder struct {
	tb  testing.TB
	dev *device.MemDevice
}

func (b *builder) write(off int64, data []byte) {
	b.tb.Helper()
	_, err := b.dev.WriteAt(data, off)
	require.NoError(b.tb, err)
}

func (b *builder) bitmap(block int64, fill byte) {
	data := make([]byte, BlockSize)
	for i := 0; i < 32; i++ {
		data[i] = fill
	}
	b.write(block*BlockSize, data)
}

// inode writes an extents inode whose data is one contiguous run.
func (b *builder) inode(ino uint32, mode uint16, size uint64, start uint32, length uint16) {
	rec := make([]byte, InodeSize)
	le.PutUint16(rec[0x00:], mode)
	le.PutUint32(rec[0x04:], uint32(size))
	le.PutUint32(rec[0x08:], 1700000000)
	le.PutUint16(rec[0x1A:], 1)
	le.PutUint32(rec[0x1C:], uint32(length)*BlockSize/512)
	le.PutUint32(rec[0x20:], types.Ext4InodeFlagExtents)
	le.PutUint32(rec[0x64:], ino*7)
	le.PutUint16(rec[0x80:], 32)

	root := rec[types.Ext4InodeBlockOffset:]
	le.PutUint16(root[0:], types.Ext4ExtentMagic)
	le.PutUint16(root[2:], 1)
	le.PutUint16(root[4:], 4)
	le.PutUint16(root[6:], 0)
	ext := root[types.Ext4ExtentHeaderSize:]
	le.PutUint32(ext[0:], 0)
	le.PutUint16(ext[4:], length)
	le.PutUint16(ext[6:], 0)
	le.PutUint32(ext[8:], start)

	off := int64(InodeBlock(ino))*BlockSize + int64(InodeOffset(ino))
	b.write(off, rec)
}

// dir writes linear directory records; the last one spans the block.
func (b *builder) dir(block int64, ents ...dirent) {
	data := make([]byte, BlockSize)
	off := 0
	for i, e := range ents {
		recLen := (types.Ext4DirentHeaderSize + len(e.name) + 3) &^ 3
		if i == len(ents)-1 {
			recLen = BlockSize - off
		}
		le.PutUint32(data[off:], e.ino)
		le.PutUint16(data[off+4:], uint16(recLen))
		data[off+6] = uint8(len(e.name))
		data[off+7] = e.ft
		copy(data[off+types.Ext4DirentHeaderSize:], e.name)
		off += recLen
	}
	b.write(block*BlockSize, data)
}
