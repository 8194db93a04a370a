package ext4

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-blockinject/internal/device"
	"github.com/deploymenttheory/go-blockinject/internal/interfaces"
	"github.com/deploymenttheory/go-blockinject/internal/rules"
	"github.com/deploymenttheory/go-blockinject/internal/testutil/ext4image"
	"github.com/deploymenttheory/go-blockinject/internal/types"
)

type fixture struct {
	loc   *Locator
	store *rules.Store
	dev   *device.MemDevice
	hook  *test.Hook
}

func newFixture(t *testing.T, specs ...string) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	log := logrus.NewEntry(logger)

	dev := ext4image.Build(t)
	store := rules.NewStore(log)
	loc, err := New(dev, store, log)
	require.NoError(t, err)

	f := &fixture{loc: loc.(*Locator), store: store, dev: dev, hook: hook}
	f.add(t, specs...)
	return f
}

func (f *fixture) add(t *testing.T, specs ...string) []*rules.Rule {
	t.Helper()
	if len(specs) == 0 {
		return nil
	}
	parsed, err := grammar.Parse(specs)
	require.NoError(t, err)
	for _, r := range parsed {
		require.NoError(t, f.loc.Prepare(r))
		f.store.Add(r)
	}
	return parsed
}

func (f *fixture) access(t *testing.T, block uint64, op types.Op) *interfaces.BlockAccess {
	t.Helper()
	return &interfaces.BlockAccess{
		Block:     block,
		Op:        op,
		Data:      ext4image.ReadBlock(t, f.dev, block),
		BlockSize: ext4image.BlockSize,
	}
}

func (f *fixture) mutate(acc *interfaces.BlockAccess) ([]interfaces.Mutation, error) {
	out, err := f.loc.Mutate(acc)
	return out.Mutations, err
}

func (f *fixture) shouldFail(acc *interfaces.BlockAccess) *rules.Rule {
	return f.loc.ShouldFail(acc).Rule
}

// changed lists the offsets at which a and b differ.
func changed(a, b []byte) []int {
	var out []int
	for i := range a {
		if a[i] != b[i] {
			out = append(out, i)
		}
	}
	return out
}

func span(off, size int) []int {
	out := make([]int, size)
	for i := range out {
		out[i] = off + i
	}
	return out
}

func TestIsSparseGroup(t *testing.T) {
	for _, g := range []uint64{0, 1, 3, 5, 7, 9, 25, 27, 49, 125, 343} {
		assert.True(t, isSparseGroup(g), "group %d", g)
	}
	for _, g := range []uint64{2, 4, 6, 8, 10, 15, 21, 35, 50} {
		assert.False(t, isSparseGroup(g), "group %d", g)
	}
}

func TestNewBootstrap(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, types.FSExt4, f.loc.FS())
	assert.Equal(t, uint32(ext4image.BlockSize), f.loc.BlockSize())
	assert.True(t, f.loc.Full())
	assert.NoError(t, f.loc.Upgrade(context.Background()))
	assert.Same(t, grammar, f.loc.Grammar())

	sb := f.loc.Superblock()
	assert.Equal(t, uint32(ext4image.InodesCount), sb.InodesCount)
	assert.Equal(t, uint64(ext4image.Groups), f.loc.layout.groups)
	assert.Equal(t, uint64(2), f.loc.layout.copies())
	assert.Equal(t, uint64(1), f.loc.layout.gdtBlocks)
	assert.Equal(t, uint64(ext4image.ItableBlocks), f.loc.layout.itableBlocks)
	require.Len(t, f.loc.layout.journal, 1)
	assert.Equal(t, uint64(ext4image.JournalStart), f.loc.layout.journal[0].Start)
}

func TestNewRejectsNonExt4(t *testing.T) {
	logger, _ := test.NewNullLogger()
	dev := device.NewMemDevice("blank", 1<<20)

	_, err := New(dev, rules.NewStore(nil), logrus.NewEntry(logger))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "magic")
}

func TestClassify(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		block  uint64
		area   string
		detail string
	}{
		{0, AreaSuperblock, "copy 1 in group 0 at offset 1024"},
		{ext4image.GDTBlock, AreaGDT, "table block 0 after superblock copy 1 (group 0)"},
		{ext4image.BlockBitmap0, AreaBlockBitmap, "group 0"},
		{ext4image.InodeBitmap0, AreaInodeBitmap, "group 0"},
		{ext4image.InodeTable0, AreaInodeTable, "group 0 inodes 1-16"},
		{ext4image.InodeTable0 + ext4image.ItableBlocks - 1, AreaInodeTable, "group 0 inodes 2033-2048"},
		{ext4image.InodeTable0 + ext4image.ItableBlocks, AreaData, "group 0"},
		{ext4image.JournalStart + 5, AreaJournal, "journal block 5"},
		{ext4image.BackupSuperblock, AreaSuperblock, "copy 2 in group 1 at offset 0"},
		{ext4image.BackupGDTBlock, AreaGDT, "table block 0 after superblock copy 2 (group 1)"},
		{ext4image.BlockBitmap1, AreaBlockBitmap, "group 1"},
		{ext4image.InodeTable1, AreaInodeTable, "group 1 inodes 2049-2064"},
		{ext4image.BlocksCount + 1, AreaBeyond, ""},
	}

	for _, tt := range tests {
		t.Run(tt.area, func(t *testing.T) {
			c := f.loc.Classify(tt.block)
			assert.Equal(t, tt.block, c.Block)
			assert.Equal(t, tt.area, c.Area)
			assert.Equal(t, tt.detail, c.Detail)
			assert.True(t, c.Full)
		})
	}
}

func TestClassifyKeys(t *testing.T) {
	f := newFixture(t)

	c := f.loc.Classify(ext4image.InodeTable0)
	assert.Contains(t, c.Keys, rules.Key{Kind: rules.KindBlock, Number: ext4image.InodeTable0})
	assert.Contains(t, c.Keys, rules.Key{Kind: rules.KindSector, Number: ext4image.InodeTable0 * 8})
	assert.Contains(t, c.Keys, rules.Key{Kind: rules.KindSector, Number: ext4image.InodeTable0*8 + 7})
	assert.NotContains(t, c.Keys, rules.Key{Kind: rules.KindSector, Number: ext4image.InodeTable0*8 + 8})
	assert.Contains(t, c.Keys, rules.Key{Kind: rules.KindInode, Number: 1})
	assert.Contains(t, c.Keys, rules.Key{Kind: rules.KindExtentTable, Number: 16})
	assert.NotContains(t, c.Keys, rules.Key{Kind: rules.KindInode, Number: 17})

	c = f.loc.Classify(ext4image.BackupGDTBlock)
	assert.Contains(t, c.Keys, rules.Key{Kind: rules.KindGroupDescriptor, Number: 2})

	c = f.loc.Classify(ext4image.InodeBitmap1)
	assert.Contains(t, c.Keys, rules.Key{Kind: rules.KindInodeBitmap, Number: 1})
}

func TestPrepare(t *testing.T) {
	tests := []struct {
		name      string
		spec      []string
		wantErr   bool
		wantInert bool
	}{
		{name: "inode in range", spec: []string{"i12"}},
		{name: "inode zero", spec: []string{"i0"}, wantInert: true},
		{name: "inode past count", spec: []string{"i4097"}, wantInert: true},
		{name: "unknown inode field", spec: []string{"i12[i_bogus]"}, wantErr: true},
		{name: "known superblock field", spec: []string{"sb1[s_magic]"}},
		{name: "unknown superblock field", spec: []string{"sb[s_bogus]"}, wantErr: true},
		{name: "superblock copy past count", spec: []string{"sb3"}, wantInert: true},
		{name: "descriptor past group count", spec: []string{"gd1[3]"}, wantInert: true},
		{name: "unknown descriptor field", spec: []string{"gd1[1][bg_bogus]"}, wantErr: true},
		{name: "bitmap offset in range", spec: []string{"dbmap1[255]"}},
		{name: "bitmap offset out of range", spec: []string{"dbmap0[256]"}, wantErr: true},
		{name: "bitmap group past count", spec: []string{"ibmap2"}, wantInert: true},
		{name: "block flip", spec: []string{"Cb100[flip]"}},
		{name: "block unknown action", spec: []string{"b100[shred]"}, wantErr: true},
		{name: "indirect map not located", spec: []string{"idmap3"}, wantInert: true},
		{name: "extended attribute not located", spec: []string{"exattr"}, wantInert: true},
		{name: "journal block mapped", spec: []string{"j3"}},
		{name: "journal block past extent", spec: []string{"j16"}, wantInert: true},
		{name: "directory found", spec: []string{"dir", "/a/b/file", "inode"}},
		{name: "directory missing", spec: []string{"dir", "/a/missing", "inode"}, wantInert: true},
		{name: "directory through a file", spec: []string{"dir", "/hello/x", "inode"}, wantInert: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			parsed, err := grammar.Parse(tt.spec)
			require.NoError(t, err)
			require.Len(t, parsed, 1)
			r := parsed[0]

			err = f.loc.Prepare(r)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, types.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantInert, r.Inert(), r.InertReason())
		})
	}
}

func TestPrepareLogsInertRules(t *testing.T) {
	f := newFixture(t, "i0")

	var warned []*logrus.Entry
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = append(warned, e)
		}
	}
	require.Len(t, warned, 1)
	assert.Equal(t, "rule is inert", warned[0].Message)
	assert.Equal(t, "ext4-locator", warned[0].Data["component"])
	assert.Equal(t, "i0", warned[0].Data["rule"])
}

func TestPrepareDescriptorIndex(t *testing.T) {
	f := newFixture(t)

	parsed, err := grammar.Parse([]string{"gd0[2]", "gd1[10][4]"})
	require.NoError(t, err)
	require.NoError(t, f.loc.Prepare(parsed[0]))
	require.NoError(t, f.loc.Prepare(parsed[1]))

	assert.Equal(t, uint32(2), parsed[0].Index)
	assert.False(t, parsed[0].HasRange)
	assert.True(t, parsed[0].AnyNumber)

	assert.Equal(t, uint32(0), parsed[1].Index)
	assert.True(t, parsed[1].HasRange)
	assert.Equal(t, uint32(10), parsed[1].Offset)
	assert.Equal(t, uint32(4), parsed[1].Size)
}

func TestDirectoryResolution(t *testing.T) {
	f := newFixture(t, "dir", "/a/b/file", "inode")
	r := f.store.Rules()[0]

	res, ok := r.Resolution()
	require.True(t, ok)
	assert.Equal(t, uint64(ext4image.DirBBlock), res.Block)
	// ".", ".." then "file"
	assert.Equal(t, uint32(24), res.Offset)
	assert.Equal(t, uint32(4), res.Size)

	// Resolution runs once.
	require.NoError(t, f.loc.Prepare(r))
	again, ok := r.Resolution()
	require.True(t, ok)
	assert.Equal(t, res, again)
	assert.Equal(t, uint64(ext4image.DirBBlock), r.MatchNumber())
}

func TestMutateStructures(t *testing.T) {
	tests := []struct {
		name  string
		spec  []string
		block uint64
		op    types.Op
		want  []int
	}{
		{
			name:  "inode field",
			spec:  []string{"Wi12[i_mode]"},
			block: ext4image.InodeTable0,
			op:    types.OpWrite,
			want:  span(int(ext4image.InodeOffset(12)), 2),
		},
		{
			name:  "whole inode",
			spec:  []string{"i14"},
			block: ext4image.InodeTable0,
			op:    types.OpRead,
			want:  span(int(ext4image.InodeOffset(14)), ext4image.InodeSize),
		},
		{
			name:  "inode byte range",
			spec:  []string{"i15[4][4]"},
			block: ext4image.InodeTable0,
			op:    types.OpRead,
			want:  span(int(ext4image.InodeOffset(15))+4, 4),
		},
		{
			name:  "inode second group",
			spec:  []string{"i2050[i_mode]"},
			block: ext4image.InodeTable1,
			op:    types.OpRead,
			want:  span(ext4image.InodeSize, 2),
		},
		{
			name:  "extent root",
			spec:  []string{"etb8"},
			block: ext4image.InodeTable0,
			op:    types.OpRead,
			want:  span(int(ext4image.InodeOffset(8))+types.Ext4InodeBlockOffset, types.Ext4InodeBlockSize),
		},
		{
			name:  "primary superblock field",
			spec:  []string{"sb1[s_magic]"},
			block: 0,
			op:    types.OpRead,
			want:  span(types.Ext4SuperblockOffset+0x38, 2),
		},
		{
			name:  "any superblock copy",
			spec:  []string{"sb[s_magic]"},
			block: ext4image.BackupSuperblock,
			op:    types.OpRead,
			want:  span(0x38, 2),
		},
		{
			name:  "superblock single offset",
			spec:  []string{"sb2[16]"},
			block: ext4image.BackupSuperblock,
			op:    types.OpRead,
			want:  span(16, 1),
		},
		{
			name:  "whole descriptor table",
			spec:  []string{"gd1"},
			block: ext4image.GDTBlock,
			op:    types.OpRead,
			want:  span(0, ext4image.Groups*types.Ext4DescSize),
		},
		{
			name:  "descriptor field",
			spec:  []string{"gd2[2][bg_inode_table]"},
			block: ext4image.BackupGDTBlock,
			op:    types.OpRead,
			want:  span(types.Ext4DescSize+0x08, 4),
		},
		{
			name:  "descriptor raw range",
			spec:  []string{"gd0[30][4]"},
			block: ext4image.GDTBlock,
			op:    types.OpRead,
			want:  span(30, 4),
		},
		{
			name:  "data bitmap byte",
			spec:  []string{"dbmap1[5]"},
			block: ext4image.BlockBitmap1,
			op:    types.OpRead,
			want:  span(5, 1),
		},
		{
			name:  "inode bitmap first byte",
			spec:  []string{"ibmap0"},
			block: ext4image.InodeBitmap0,
			op:    types.OpRead,
			want:  span(0, 1),
		},
		{
			name:  "directory record field",
			spec:  []string{"dir", "/a/b/file", "name"},
			block: ext4image.DirBBlock,
			op:    types.OpRead,
			want:  span(24+types.Ext4DirentHeaderSize, 4),
		},
		{
			name:  "journal block",
			spec:  []string{"j3[100][8]"},
			block: ext4image.JournalStart + 3,
			op:    types.OpRead,
			want:  span(100, 8),
		},
		{
			name:  "oneshot block zeroes",
			spec:  []string{"Cb4"},
			block: ext4image.InodeTable0,
			op:    types.OpRead,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.spec...)
			acc := f.access(t, tt.block, tt.op)
			before := append([]byte(nil), acc.Data...)

			muts, err := f.mutate(acc)
			require.NoError(t, err)
			require.Len(t, muts, 1)
			assert.Equal(t, tt.block, muts[0].Block)

			if tt.want == nil {
				assert.Equal(t, make([]byte, ext4image.BlockSize), acc.Data)
				return
			}
			assert.Equal(t, tt.want, changed(before, acc.Data))
		})
	}
}

func TestMutateSectorZeroes(t *testing.T) {
	f := newFixture(t, "Cs1602")
	acc := f.access(t, ext4image.RootDirBlock, types.OpRead)
	before := append([]byte(nil), acc.Data...)

	muts, err := f.mutate(acc)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, "zero", muts[0].Action)
	assert.Equal(t, uint32(2*types.SectorSize), muts[0].Offset)
	assert.Equal(t, uint32(types.SectorSize), muts[0].Size)

	assert.Equal(t, make([]byte, types.SectorSize), acc.Data[1024:1536])
	assert.Equal(t, before[:1024], acc.Data[:1024])
	assert.Equal(t, before[1536:], acc.Data[1536:])
}

func TestMutateComplements(t *testing.T) {
	f := newFixture(t, "Ri12[i_mode]")
	acc := f.access(t, ext4image.InodeTable0, types.OpRead)
	off := ext4image.InodeOffset(12)
	mode := uint16(acc.Data[off]) | uint16(acc.Data[off+1])<<8

	muts, err := f.mutate(acc)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, "complement", muts[0].Action)
	assert.Equal(t, ^mode, uint16(acc.Data[off])|uint16(acc.Data[off+1])<<8)
}

func TestMutateRespectsOp(t *testing.T) {
	f := newFixture(t, "Wi12")

	muts, err := f.mutate(f.access(t, ext4image.InodeTable0, types.OpRead))
	require.NoError(t, err)
	assert.Empty(t, muts)

	muts, err = f.mutate(f.access(t, ext4image.InodeTable0, types.OpWrite))
	require.NoError(t, err)
	assert.Len(t, muts, 1)
}

func TestMutateCountdown(t *testing.T) {
	f := newFixture(t, "Ri12:2")

	var fired []bool
	for i := 0; i < 4; i++ {
		muts, err := f.mutate(f.access(t, ext4image.InodeTable0, types.OpRead))
		require.NoError(t, err)
		fired = append(fired, len(muts) > 0)
	}
	assert.Equal(t, []bool{false, false, true, true}, fired)
}

func TestMutatePartialAccess(t *testing.T) {
	f := newFixture(t, "i16")

	acc := f.access(t, ext4image.InodeTable0, types.OpRead)
	acc.Data = acc.Data[:2048]
	muts, err := f.mutate(acc)
	require.NoError(t, err)
	assert.Empty(t, muts)

	acc = f.access(t, ext4image.InodeTable0, types.OpRead)
	acc.Offset = 2048
	acc.Data = acc.Data[2048:]
	before := append([]byte(nil), acc.Data...)
	muts, err = f.mutate(acc)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, span(int(ext4image.InodeOffset(16))-2048, ext4image.InodeSize), changed(before, acc.Data))
}

func TestMutateFirstRuleWins(t *testing.T) {
	f := newFixture(t, "i12[i_mode]", "i12[i_uid]")
	acc := f.access(t, ext4image.InodeTable0, types.OpRead)
	before := append([]byte(nil), acc.Data...)

	muts, err := f.mutate(acc)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, "i12[i_mode]", muts[0].Rule.Raw)
	assert.Equal(t, span(int(ext4image.InodeOffset(12)), 2), changed(before, acc.Data))

	// Both rules were consulted.
	for _, r := range f.store.Rules() {
		assert.True(t, r.Activation.Fired(), r.Raw)
	}
}

func TestMutateFlip(t *testing.T) {
	f := newFixture(t, "Cb210[flip]")
	acc := f.access(t, ext4image.FileBlock, types.OpRead)
	before := append([]byte(nil), acc.Data...)

	muts, err := f.mutate(acc)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, "flip", muts[0].Action)

	diff := changed(before, acc.Data)
	require.Len(t, diff, 1)
	assert.Equal(t, int(muts[0].Offset), diff[0])
	assert.Equal(t, ^before[diff[0]], acc.Data[diff[0]])
}

func TestMutateFlipTwiceRestores(t *testing.T) {
	f := newFixture(t, "Cb210[flip]")
	full := f.access(t, ext4image.FileBlock, types.OpRead)
	orig := full.Data[100]

	acc := &interfaces.BlockAccess{
		Block:     ext4image.FileBlock,
		Op:        types.OpRead,
		Offset:    100,
		Data:      []byte{orig},
		BlockSize: ext4image.BlockSize,
	}
	for i, want := range []byte{^orig, orig} {
		muts, err := f.mutate(acc)
		require.NoError(t, err)
		require.Len(t, muts, 1)
		assert.Equal(t, "flip", muts[0].Action)
		assert.Equal(t, uint32(100), muts[0].Offset)
		assert.Equal(t, want, acc.Data[0], "flip %d", i+1)
	}
}

func TestMutateDecision(t *testing.T) {
	tests := []struct {
		name string
		spec []string
		want rules.Decision
	}{
		{name: "no rules", want: rules.NoMatch},
		{name: "other inode table block", spec: []string{"Ci500"}, want: rules.NoMatch},
		{name: "fail rules are not consulted", spec: []string{"b4:3"}, want: rules.NoMatch},
		{name: "counting down", spec: []string{"i12:3"}, want: rules.Armed},
		{name: "mixed counting down", spec: []string{"i12:3", "b4:3"}, want: rules.Armed},
		{name: "due", spec: []string{"i12"}, want: rules.Fire},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.spec...)
			out, err := f.loc.Mutate(f.access(t, ext4image.InodeTable0, types.OpRead))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Decision)
			assert.Equal(t, tt.want == rules.Fire, len(out.Mutations) > 0)
		})
	}
}

func TestShouldFailDecision(t *testing.T) {
	tests := []struct {
		name string
		spec []string
		want rules.Decision
	}{
		{name: "no rules", want: rules.NoMatch},
		{name: "structure rule", spec: []string{"i12:3"}, want: rules.NoMatch},
		{name: "counting down", spec: []string{"i12:3", "b4:3"}, want: rules.Armed},
		{name: "due", spec: []string{"s33"}, want: rules.Fire},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.spec...)
			out := f.loc.ShouldFail(f.access(t, ext4image.InodeTable0, types.OpRead))
			assert.Equal(t, tt.want, out.Decision)
			assert.Equal(t, tt.want == rules.Fire, out.Rule != nil)
		})
	}
}

func TestMutatePartialMissKeepsCountdown(t *testing.T) {
	tests := []struct {
		name   string
		offset uint32
		size   int
		want   uint64
	}{
		{name: "miss", offset: 0, size: 2048, want: 2},
		{name: "hit", offset: 2048, size: 2048, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "i16:2")
			acc := f.access(t, ext4image.InodeTable0, types.OpRead)
			acc.Offset = tt.offset
			acc.Data = acc.Data[tt.offset : int(tt.offset)+tt.size]

			out, err := f.loc.Mutate(acc)
			require.NoError(t, err)
			assert.Empty(t, out.Mutations)
			assert.Equal(t, tt.want, f.store.Rules()[0].Activation.Remaining())
		})
	}
}

func TestMutateLeavesFailRulesAlone(t *testing.T) {
	f := newFixture(t, "b4", "s33")

	muts, err := f.mutate(f.access(t, ext4image.InodeTable0, types.OpRead))
	require.NoError(t, err)
	assert.Empty(t, muts)
	for _, r := range f.store.Rules() {
		assert.False(t, r.Activation.Fired(), r.Raw)
	}
}

func TestShouldFail(t *testing.T) {
	tests := []struct {
		name  string
		spec  []string
		block uint64
		op    types.Op
		want  string
	}{
		{name: "block", spec: []string{"b4"}, block: ext4image.InodeTable0, op: types.OpRead, want: "b4"},
		{name: "sector inside block", spec: []string{"s35"}, block: ext4image.InodeTable0, op: types.OpWrite, want: "s35"},
		{name: "sector outside block", spec: []string{"s40"}, block: ext4image.InodeTable0, op: types.OpRead},
		{name: "wrong op", spec: []string{"Wb4"}, block: ext4image.InodeTable0, op: types.OpRead},
		{name: "oneshot mutates instead", spec: []string{"Cb4"}, block: ext4image.InodeTable0, op: types.OpRead},
		{name: "structure rules never fail", spec: []string{"i12"}, block: ext4image.InodeTable0, op: types.OpRead},
		{name: "first in store order", spec: []string{"s32", "b4"}, block: ext4image.InodeTable0, op: types.OpRead, want: "s32"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.spec...)
			r := f.shouldFail(f.access(t, tt.block, tt.op))
			if tt.want == "" {
				assert.Nil(t, r)
				return
			}
			require.NotNil(t, r)
			assert.Equal(t, tt.want, r.Raw)
		})
	}
}

func TestShouldFailCountdown(t *testing.T) {
	f := newFixture(t, "b4:1")

	assert.Nil(t, f.shouldFail(f.access(t, ext4image.InodeTable0, types.OpRead)))
	assert.NotNil(t, f.shouldFail(f.access(t, ext4image.InodeTable0, types.OpRead)))
}
