package types

// Log-structured flash filesystem (f2fs) on-disk layout.
// Reference: include/linux/f2fs_fs.h, fs/f2fs/segment.h

const (
	// F2FSSuperOffset is the byte offset of the superblock inside block 0.
	F2FSSuperOffset = 1024
	// F2FSMagic is the superblock magic.
	F2FSMagic = 0xF2F52010
	// F2FSBlockSize is the only supported block size.
	F2FSBlockSize = 4096
	// F2FSMaxDevices is the length of the devs table.
	F2FSMaxDevices = 8
	// F2FSDevicePathLen is the size of a device path in the devs table.
	F2FSDevicePathLen = 64
	// F2FSDeviceEntrySize is path plus total_segments.
	F2FSDeviceEntrySize = F2FSDevicePathLen + 4
	// F2FSVolumeNameLen is the number of UTF-16 code units in volume_name.
	F2FSVolumeNameLen = 512
	// F2FSSuperblockSize is the number of bytes decoded from offset 1024.
	F2FSSuperblockSize = 2201 + F2FSMaxDevices*F2FSDeviceEntrySize

	// F2FSReservedNodeNum is the first nid that can be a regular inode.
	F2FSReservedNodeNum = 3
)

// Superblock field offsets relative to F2FSSuperOffset.
const (
	F2FSSbMagic            = 0
	F2FSSbLogBlocksize     = 16
	F2FSSbLogBlocksPerSeg  = 20
	F2FSSbSegsPerSec       = 24
	F2FSSbBlockCount       = 36
	F2FSSbSegmentCount     = 48
	F2FSSbSegmentCountCkpt = 52
	F2FSSbSegmentCountSit  = 56
	F2FSSbSegmentCountNat  = 60
	F2FSSbSegmentCountSsa  = 64
	F2FSSbSegmentCountMain = 68
	F2FSSbSegment0Blkaddr  = 72
	F2FSSbCpBlkaddr        = 76
	F2FSSbSitBlkaddr       = 80
	F2FSSbNatBlkaddr       = 84
	F2FSSbSsaBlkaddr       = 88
	F2FSSbMainBlkaddr      = 92
	F2FSSbRootIno          = 96
	F2FSSbNodeIno          = 100
	F2FSSbMetaIno          = 104
	F2FSSbUUID             = 108
	F2FSSbVolumeName       = 124
	F2FSSbExtensionCount   = 1148
	F2FSSbCpPayload        = 1664
	F2FSSbFeature          = 2180
	F2FSSbDevs             = 2201
)

// F2FSDevice is one entry of the multi-device table.
type F2FSDevice struct {
	Path          string
	TotalSegments uint32
}

// F2FSSuperblock holds the decoded superblock fields.
type F2FSSuperblock struct {
	Magic            uint32
	LogBlocksize     uint32
	LogBlocksPerSeg  uint32
	SegsPerSec       uint32
	BlockCount       uint64
	SegmentCount     uint32
	SegmentCountCkpt uint32
	SegmentCountSit  uint32
	SegmentCountNat  uint32
	SegmentCountSsa  uint32
	SegmentCountMain uint32
	Segment0Blkaddr  uint32
	CpBlkaddr        uint32
	SitBlkaddr       uint32
	NatBlkaddr       uint32
	SsaBlkaddr       uint32
	MainBlkaddr      uint32
	RootIno          uint32
	NodeIno          uint32
	MetaIno          uint32
	UUID             UUID
	VolumeName       string
	CpPayload        uint32
	Feature          uint32
	Devices          []F2FSDevice
}

// BlocksPerSeg returns 1 << log_blocks_per_seg.
func (sb *F2FSSuperblock) BlocksPerSeg() uint32 {
	return 1 << sb.LogBlocksPerSeg
}

// Checkpoint layout.
const (
	F2FSCpCheckpointVer       = 0
	F2FSCpCurNodeSegno        = 36
	F2FSCpCurNodeBlkoff       = 68
	F2FSCpCurDataSegno        = 84
	F2FSCpCurDataBlkoff       = 116
	F2FSCpCkptFlags           = 132
	F2FSCpPackTotalBlockCount = 136
	F2FSCpPackStartSum        = 140
	F2FSCpValidNodeCount      = 144
	F2FSCpValidInodeCount     = 148
	F2FSCpNextFreeNid         = 152
	F2FSCpSitVerBitmapBytes   = 156
	F2FSCpNatVerBitmapBytes   = 160
	F2FSCpSitNatVersionBitmap = 192

	// F2FSMaxActiveLogs is the length of the cur_*_segno arrays.
	F2FSMaxActiveLogs = 8
	// F2FSNrCursegDataType is the number of open data logs.
	F2FSNrCursegDataType = 3
	// F2FSNrCursegNodeType is the number of open node logs.
	F2FSNrCursegNodeType = 3
	// F2FSNrCursegType is data plus node logs.
	F2FSNrCursegType = F2FSNrCursegDataType + F2FSNrCursegNodeType

	F2FSCpUmountFlag     = 0x00000001
	F2FSCpOrphanFlag     = 0x00000002
	F2FSCpCompactSumFlag = 0x00000004
)

// F2FSCheckpoint holds the decoded checkpoint header.
type F2FSCheckpoint struct {
	Version              uint64
	CurNodeSegno         [F2FSMaxActiveLogs]uint32
	CurNodeBlkoff        [F2FSMaxActiveLogs]uint16
	CurDataSegno         [F2FSMaxActiveLogs]uint32
	CurDataBlkoff        [F2FSMaxActiveLogs]uint16
	Flags                uint32
	PackTotalBlockCount  uint32
	PackStartSum         uint32
	ValidNodeCount       uint32
	ValidInodeCount      uint32
	NextFreeNid          uint32
	SitVerBitmapBytesize uint32
	NatVerBitmapBytesize uint32
	SitBitmap            []byte
	NatBitmap            []byte
}

// Compact reports whether data summaries are packed into the checkpoint pack.
func (cp *F2FSCheckpoint) Compact() bool {
	return cp.Flags&F2FSCpCompactSumFlag != 0
}

// Unmounted reports whether node summaries were also written to the pack.
func (cp *F2FSCheckpoint) Unmounted() bool {
	return cp.Flags&F2FSCpUmountFlag != 0
}

// Segment information table.
const (
	F2FSSitVBlockMapSize = 64
	F2FSSitEntrySize     = 2 + F2FSSitVBlockMapSize + 8
	F2FSSitEntryPerBlock = F2FSBlockSize / F2FSSitEntrySize
	F2FSSitVBlocksShift  = 10
	F2FSSitVBlocksMask   = (1 << F2FSSitVBlocksShift) - 1

	// F2FSSitVBlocksOffset and friends locate fields inside one entry.
	F2FSSitVBlocksOffset = 0
	F2FSSitVMapOffset    = 2
	F2FSSitMtimeOffset   = 2 + F2FSSitVBlockMapSize
)

// Segment types stored in the upper vblocks bits.
const (
	F2FSCursegHotData  = 0
	F2FSCursegWarmData = 1
	F2FSCursegColdData = 2
	F2FSCursegHotNode  = 3
	F2FSCursegWarmNode = 4
	F2FSCursegColdNode = 5
)

// F2FSIsNodeSeg reports whether a segment type holds node blocks.
func F2FSIsNodeSeg(t uint8) bool {
	return t >= F2FSCursegHotNode && t <= F2FSCursegColdNode
}

// F2FSSitEntry is one decoded segment info entry.
type F2FSSitEntry struct {
	ValidBlocks uint16
	Type        uint8
	ValidMap    [F2FSSitVBlockMapSize]byte
	Mtime       uint64
}

// F2FSSitFields names the per-entry fields that can be corrupted.
var F2FSSitFields = map[string]FieldSpan{
	"vblocks": {F2FSSitVBlocksOffset, 2},
	"vmap":    {F2FSSitVMapOffset, F2FSSitVBlockMapSize},
	"mtime":   {F2FSSitMtimeOffset, 8},
}

// Node address table.
const (
	F2FSNatEntrySize     = 9
	F2FSNatEntryPerBlock = F2FSBlockSize / F2FSNatEntrySize

	F2FSNatVersionOffset   = 0
	F2FSNatInoOffset       = 1
	F2FSNatBlockAddrOffset = 5
)

// F2FSNatEntry is one decoded NAT entry.
type F2FSNatEntry struct {
	Nid       uint32
	Version   uint8
	Ino       uint32
	BlockAddr uint32
}

// Segment summary blocks.
const (
	F2FSSummarySize         = 7
	F2FSEntriesInSum        = 512
	F2FSSumEntrySize        = F2FSSummarySize * F2FSEntriesInSum
	F2FSSumFooterSize       = 5
	F2FSSumJournalSize      = F2FSBlockSize - F2FSSumFooterSize - F2FSSumEntrySize
	F2FSSumFooterOffset     = F2FSBlockSize - F2FSSumFooterSize
	F2FSNatJournalEntrySize = 4 + F2FSNatEntrySize
	F2FSSitJournalEntrySize = 4 + F2FSSitEntrySize
	F2FSSumTypeNode         = 1
	F2FSSumTypeData         = 0
)

// F2FSSummary is one summary entry.
type F2FSSummary struct {
	Nid       uint32
	Version   uint8
	OfsInNode uint16
}

// F2FSSitJournalEntry pairs a segment number with its updated entry.
type F2FSSitJournalEntry struct {
	Segno uint32
	Entry F2FSSitEntry
}

// F2FSSummaryBlock is a decoded summary block.
type F2FSSummaryBlock struct {
	Entries    []F2FSSummary
	NatJournal []F2FSNatEntry
	SitJournal []F2FSSitJournalEntry
	Type       uint8
}

// Node blocks.
const (
	F2FSNodeFooterSize   = 24
	F2FSNodeFooterOffset = F2FSBlockSize - F2FSNodeFooterSize
	F2FSNodeFooterNid    = F2FSNodeFooterOffset
	F2FSNodeFooterIno    = F2FSNodeFooterOffset + 4
	F2FSNodeFooterFlag   = F2FSNodeFooterOffset + 8

	F2FSInodeMode    = 0
	F2FSInodeInline  = 3
	F2FSInodeSize    = 16
	F2FSInodeAtime   = 32
	F2FSInodeFlags   = 80
	F2FSInodeNamelen = 88
	F2FSInodeName    = 92
	F2FSNameLen      = 255

	// F2FSInlineData is the i_inline bit for inline data.
	F2FSInlineData = 0x02
	// F2FSInlineDentry is the i_inline bit for inline dentries.
	F2FSInlineDentry = 0x08

	F2FSModeTypeMask = 0xF000
	F2FSModeDir      = 0x4000
)

// F2FSInodeFields names the inode fields that can be corrupted.
var F2FSInodeFields = map[string]FieldSpan{
	"mode":  {F2FSInodeMode, 2},
	"atime": {F2FSInodeAtime, 8},
	"flags": {F2FSInodeFlags, 4},
}

// F2FSNodeFooter is the node footer.
type F2FSNodeFooter struct {
	Nid  uint32
	Ino  uint32
	Flag uint32
}

// IsInode reports whether the node is an inode.
func (f F2FSNodeFooter) IsInode() bool {
	return f.Nid == f.Ino
}

// F2FSInode holds the decoded inode fields used for attribution.
type F2FSInode struct {
	Nid    uint32
	Mode   uint16
	Inline uint8
	Flags  uint32
	Name   string
}

// IsDir reports whether the inode is a directory.
func (i *F2FSInode) IsDir() bool {
	return i.Mode&F2FSModeTypeMask == F2FSModeDir
}

// HasInlineData reports whether the inode carries its data inline.
func (i *F2FSInode) HasInlineData() bool {
	return i.Inline&F2FSInlineData != 0
}

// Dentry blocks.
const (
	F2FSNrDentryInBlock    = 214
	F2FSSizeOfDentryBitmap = (F2FSNrDentryInBlock + 7) / 8
)
