package types

// Block-group filesystem (ext4) on-disk layout.
// Reference: fs/ext4/ext4.h, fs/ext4/ext4_extents.h

const (
	// Ext4SuperblockOffset is the byte offset of the primary superblock from the volume start.
	Ext4SuperblockOffset = 1024
	// Ext4SuperblockSize is the size of the superblock structure.
	Ext4SuperblockSize = 1024
	// Ext4Magic is s_magic.
	Ext4Magic = 0xEF53
	// Ext4MinBlockSize is 1024 << 0.
	Ext4MinBlockSize = 1024

	// Ext4RootIno is the root directory inode.
	Ext4RootIno = 2
	// Ext4JournalIno is the default journal inode.
	Ext4JournalIno = 8

	// Ext4GoodOldInodeSize is the inode record size of revision 0 filesystems.
	Ext4GoodOldInodeSize = 128
	// Ext4DescSize is the group descriptor size without the 64bit feature.
	Ext4DescSize = 32
	// Ext4MinDescSize64 is the smallest descriptor size with the 64bit feature.
	Ext4MinDescSize64 = 64

	// Ext4InodeBlockOffset is the offset of i_block inside an inode record.
	Ext4InodeBlockOffset = 0x28
	// Ext4InodeBlockSize is the size of i_block (the extent tree root).
	Ext4InodeBlockSize = 60

	// Ext4ExtentMagic is eh_magic.
	Ext4ExtentMagic = 0xF30A
	// Ext4ExtentHeaderSize is sizeof(struct ext4_extent_header).
	Ext4ExtentHeaderSize = 12
	// Ext4ExtentSize is sizeof(struct ext4_extent).
	Ext4ExtentSize = 12
	// Ext4InitMaxLen is the largest initialized extent length.
	Ext4InitMaxLen = 1 << 15

	// Ext4DirentHeaderSize is the fixed part of ext4_dir_entry_2.
	Ext4DirentHeaderSize = 8
	// Ext4NameLen is the longest directory entry name.
	Ext4NameLen = 255
)

// Feature flags.
const (
	Ext4FeatureCompatHasJournal = 0x0004
	Ext4FeatureCompatExtAttr    = 0x0008

	Ext4FeatureIncompatFiletype = 0x0002
	Ext4FeatureIncompatExtents  = 0x0040
	Ext4FeatureIncompat64Bit    = 0x0080
	Ext4FeatureIncompatMetaBG   = 0x0010

	Ext4FeatureRoCompatSparseSuper = 0x0001
)

// Inode mode and flag bits.
const (
	Ext4ModeTypeMask = 0xF000
	Ext4ModeDir      = 0x4000
	Ext4ModeRegular  = 0x8000

	// Ext4InodeFlagExtents is EXT4_EXTENTS_FL.
	Ext4InodeFlagExtents = 0x00080000
)

// Directory entry file types.
const (
	Ext4FileTypeUnknown = 0
	Ext4FileTypeRegular = 1
	Ext4FileTypeDir     = 2
)

// Ext4Superblock holds the decoded superblock fields the locator needs.
type Ext4Superblock struct {
	InodesCount     uint32
	BlocksCount     uint64
	FreeBlocksCount uint64
	FreeInodesCount uint32
	FirstDataBlock  uint32
	LogBlockSize    uint32
	BlocksPerGroup  uint32
	InodesPerGroup  uint32
	Magic           uint16
	State           uint16
	RevLevel        uint32
	FirstIno        uint32
	InodeSize       uint16
	FeatureCompat   uint32
	FeatureIncompat uint32
	FeatureRoCompat uint32
	UUID            UUID
	VolumeName      string
	JournalInum     uint32
	DescSize        uint16
}

// BlockSize returns 1024 << s_log_block_size.
func (sb *Ext4Superblock) BlockSize() uint32 {
	return Ext4MinBlockSize << sb.LogBlockSize
}

// GroupCount returns the number of block groups.
func (sb *Ext4Superblock) GroupCount() uint64 {
	if sb.BlocksPerGroup == 0 {
		return 0
	}
	usable := sb.BlocksCount - uint64(sb.FirstDataBlock)
	return (usable + uint64(sb.BlocksPerGroup) - 1) / uint64(sb.BlocksPerGroup)
}

// DescriptorSize returns the on-disk group descriptor size.
func (sb *Ext4Superblock) DescriptorSize() uint32 {
	if sb.FeatureIncompat&Ext4FeatureIncompat64Bit != 0 && sb.DescSize >= Ext4MinDescSize64 {
		return uint32(sb.DescSize)
	}
	return Ext4DescSize
}

// InodeRecordSize returns the inode record size.
func (sb *Ext4Superblock) InodeRecordSize() uint32 {
	if sb.RevLevel == 0 || sb.InodeSize == 0 {
		return Ext4GoodOldInodeSize
	}
	return uint32(sb.InodeSize)
}

// SparseSuper reports whether superblock backups are limited to sparse groups.
func (sb *Ext4Superblock) SparseSuper() bool {
	return sb.FeatureRoCompat&Ext4FeatureRoCompatSparseSuper != 0
}

// Ext4GroupDesc holds one decoded block group descriptor.
type Ext4GroupDesc struct {
	BlockBitmap     uint64
	InodeBitmap     uint64
	InodeTable      uint64
	FreeBlocksCount uint32
	FreeInodesCount uint32
	UsedDirsCount   uint32
	Flags           uint16
	ItableUnused    uint32
	Checksum        uint16
}

// Ext4Inode holds the decoded inode fields the locator needs.
type Ext4Inode struct {
	Number     uint32
	Mode       uint16
	UID        uint16
	Size       uint64
	LinksCount uint16
	Flags      uint32
	Block      [Ext4InodeBlockSize]byte
	Generation uint32
}

// IsDir reports whether the inode is a directory.
func (i *Ext4Inode) IsDir() bool {
	return i.Mode&Ext4ModeTypeMask == Ext4ModeDir
}

// UsesExtents reports whether i_block holds an extent tree.
func (i *Ext4Inode) UsesExtents() bool {
	return i.Flags&Ext4InodeFlagExtents != 0
}

// Ext4ExtentHeader is struct ext4_extent_header.
type Ext4ExtentHeader struct {
	Magic      uint16
	Entries    uint16
	Max        uint16
	Depth      uint16
	Generation uint32
}

// Ext4Extent is one leaf extent.
type Ext4Extent struct {
	// First logical block covered.
	FirstBlock uint32
	// Number of blocks covered.
	Length uint16
	// First physical block.
	Start uint64
	// Uninitialized extents read back as zeros.
	Uninitialized bool
}

// Contains reports whether logical block n is covered by the extent.
func (e Ext4Extent) Contains(n uint32) bool {
	return n >= e.FirstBlock && n < e.FirstBlock+uint32(e.Length)
}

// Ext4Dirent is ext4_dir_entry_2 plus its position.
type Ext4Dirent struct {
	Inode    uint32
	RecLen   uint16
	NameLen  uint8
	FileType uint8
	Name     string
	// Byte offset of the record inside its block.
	Offset uint32
}

// Ext4SuperblockFields maps superblock field names to offset and size.
var Ext4SuperblockFields = map[string]FieldSpan{
	"s_inodes_count":         {0x00, 4},
	"s_blocks_count":         {0x04, 4},
	"s_blocks_count_lo":      {0x04, 4},
	"s_r_blocks_count":       {0x08, 4},
	"s_r_blocks_count_lo":    {0x08, 4},
	"s_free_blocks_count":    {0x0C, 4},
	"s_free_blocks_count_lo": {0x0C, 4},
	"s_free_inodes_count":    {0x10, 4},
	"s_first_data_block":     {0x14, 4},
	"s_log_block_size":       {0x18, 4},
	"s_log_cluster_size":     {0x1C, 4},
	"s_blocks_per_group":     {0x20, 4},
	"s_clusters_per_group":   {0x24, 4},
	"s_inodes_per_group":     {0x28, 4},
	"s_mtime":                {0x2C, 4},
	"s_wtime":                {0x30, 4},
	"s_mnt_count":            {0x34, 2},
	"s_max_mnt_count":        {0x36, 2},
	"s_magic":                {0x38, 2},
	"s_state":                {0x3A, 2},
	"s_errors":               {0x3C, 2},
	"s_minor_rev_level":      {0x3E, 2},
	"s_lastcheck":            {0x40, 4},
	"s_checkinterval":        {0x44, 4},
	"s_creator_os":           {0x48, 4},
	"s_rev_level":            {0x4C, 4},
	"s_def_resuid":           {0x50, 2},
	"s_def_resgid":           {0x52, 2},
	"s_first_ino":            {0x54, 4},
	"s_inode_size":           {0x58, 2},
	"s_block_group_nr":       {0x5A, 2},
	"s_feature_compat":       {0x5C, 4},
	"s_feature_incompat":     {0x60, 4},
	"s_feature_ro_compat":    {0x64, 4},
	"s_uuid":                 {0x68, 16},
	"s_volume_name":          {0x78, 16},
	"s_last_mounted":         {0x88, 64},
	"s_reserved_gdt_blocks":  {0xCE, 2},
	"s_journal_uuid":         {0xD0, 16},
	"s_journal_inum":         {0xE0, 4},
	"s_journal_dev":          {0xE4, 4},
	"s_last_orphan":          {0xE8, 4},
	"s_hash_seed":            {0xEC, 16},
	"s_desc_size":            {0xFE, 2},
	"s_default_mount_opts":   {0x100, 4},
	"s_first_meta_bg":        {0x104, 4},
	"s_mkfs_time":            {0x108, 4},
	"s_jnl_blocks":           {0x10C, 68},
	"s_blocks_count_hi":      {0x150, 4},
	"s_min_extra_isize":      {0x15C, 2},
	"s_want_extra_isize":     {0x15E, 2},
	"s_flags":                {0x160, 4},
	"s_log_groups_per_flex":  {0x174, 1},
	"s_checksum_type":        {0x175, 1},
	"s_error_count":          {0x194, 4},
	"s_checksum_seed":        {0x270, 4},
	"s_checksum":             {0x3FC, 4},
}

// Ext4GroupDescFields maps group descriptor field names to offset and size.
var Ext4GroupDescFields = map[string]FieldSpan{
	"bg_block_bitmap":         {0x00, 4},
	"bg_block_bitmap_lo":      {0x00, 4},
	"bg_inode_bitmap":         {0x04, 4},
	"bg_inode_bitmap_lo":      {0x04, 4},
	"bg_inode_table":          {0x08, 4},
	"bg_inode_table_lo":       {0x08, 4},
	"bg_free_blocks_count":    {0x0C, 2},
	"bg_free_blocks_count_lo": {0x0C, 2},
	"bg_free_inodes_count":    {0x0E, 2},
	"bg_free_inodes_count_lo": {0x0E, 2},
	"bg_used_dirs_count":      {0x10, 2},
	"bg_used_dirs_count_lo":   {0x10, 2},
	"bg_flags":                {0x12, 2},
	"bg_exclude_bitmap_lo":    {0x14, 4},
	"bg_block_bitmap_csum_lo": {0x18, 2},
	"bg_inode_bitmap_csum_lo": {0x1A, 2},
	"bg_itable_unused":        {0x1C, 2},
	"bg_itable_unused_lo":     {0x1C, 2},
	"bg_checksum":             {0x1E, 2},
	"bg_block_bitmap_hi":      {0x20, 4},
	"bg_inode_bitmap_hi":      {0x24, 4},
	"bg_inode_table_hi":       {0x28, 4},
	"bg_free_blocks_count_hi": {0x2C, 2},
	"bg_free_inodes_count_hi": {0x2E, 2},
	"bg_used_dirs_count_hi":   {0x30, 2},
	"bg_itable_unused_hi":     {0x32, 2},
	"bg_exclude_bitmap_hi":    {0x34, 4},
	"bg_block_bitmap_csum_hi": {0x38, 2},
	"bg_inode_bitmap_csum_hi": {0x3A, 2},
}

// Ext4InodeFields maps inode field names to offset and size.
var Ext4InodeFields = map[string]FieldSpan{
	"i_mode":          {0x00, 2},
	"i_uid":           {0x02, 2},
	"i_size":          {0x04, 4},
	"i_size_lo":       {0x04, 4},
	"i_atime":         {0x08, 4},
	"i_ctime":         {0x0C, 4},
	"i_mtime":         {0x10, 4},
	"i_dtime":         {0x14, 4},
	"i_gid":           {0x18, 2},
	"i_links_count":   {0x1A, 2},
	"i_blocks":        {0x1C, 4},
	"i_blocks_lo":     {0x1C, 4},
	"i_flags":         {0x20, 4},
	"i_version":       {0x24, 4},
	"i_block":         {Ext4InodeBlockOffset, Ext4InodeBlockSize},
	"i_generation":    {0x64, 4},
	"i_file_acl":      {0x68, 4},
	"i_file_acl_lo":   {0x68, 4},
	"i_size_high":     {0x6C, 4},
	"i_blocks_high":   {0x74, 2},
	"i_file_acl_high": {0x76, 2},
	"i_uid_high":      {0x78, 2},
	"i_gid_high":      {0x7A, 2},
	"i_checksum_lo":   {0x7C, 2},
	"i_extra_isize":   {0x80, 2},
	"i_checksum_hi":   {0x82, 2},
	"i_ctime_extra":   {0x84, 4},
	"i_mtime_extra":   {0x88, 4},
	"i_atime_extra":   {0x8C, 4},
	"i_crtime":        {0x90, 4},
	"i_crtime_extra":  {0x94, 4},
	"i_version_hi":    {0x98, 4},
	"i_projid":        {0x9C, 4},
}

// Ext4DirentFields maps directory entry field names to offset and size.
// The name field is sized by name_len at resolution time.
var Ext4DirentFields = map[string]FieldSpan{
	"inode":     {0, 4},
	"rec_len":   {4, 2},
	"name_len":  {6, 1},
	"file_type": {7, 1},
	"name":      {8, 0},
}
