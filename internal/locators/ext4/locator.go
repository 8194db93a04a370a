// Package ext4 locates and corrupts block-group filesystem metadata:
// superblock copies, group descriptors, bitmaps, inodes, extent roots,
// journal blocks and directory records.
package ext4

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-blockinject/internal/helpers"
	"github.com/deploymenttheory/go-blockinject/internal/interfaces"
	parser "github.com/deploymenttheory/go-blockinject/internal/parsers/ext4"
	"github.com/deploymenttheory/go-blockinject/internal/rules"
	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// FieldFlip selects the random byte flip on Sector and Block rules.
const FieldFlip = "flip"

// maxBitmapOffset bounds the byte offset of bitmap rules.
const maxBitmapOffset = 255

var grammar = &rules.Grammar{
	FS: types.FSExt4,
	Prefixes: map[string]rules.Kind{
		"sb":     rules.KindSuperblock,
		"gd":     rules.KindGroupDescriptor,
		"dbmap":  rules.KindDataBitmap,
		"ibmap":  rules.KindInodeBitmap,
		"idmap":  rules.KindIndirectMap,
		"etb":    rules.KindExtentTable,
		"dir":    rules.KindDirectory,
		"exattr": rules.KindExtendedAttribute,
		"j":      rules.KindJournal,
		"b":      rules.KindBlock,
		"i":      rules.KindInode,
		"s":      rules.KindSector,
	},
	Wildcard: map[rules.Kind]bool{
		rules.KindSuperblock:      true,
		rules.KindGroupDescriptor: true,
	},
	NumberOptional: map[rules.Kind]bool{
		rules.KindDirectory:         true,
		rules.KindExtendedAttribute: true,
		rules.KindIndirectMap:       true,
	},
	ExtraTokens: map[rules.Kind]int{
		rules.KindDirectory: 2,
	},
}

// Grammar returns the ext4 corruption specification grammar.
func Grammar() *rules.Grammar {
	return grammar
}

// Locator is the ext4 metadata locator. The context it decodes at
// bootstrap answers every query, so it is always full.
type Locator struct {
	dev    interfaces.BlockDeviceReader
	store  *rules.Store
	log    *logrus.Entry
	sb     *parser.SuperblockReader
	layout *layout
	root   *parser.InodeReader
}

// New bootstraps an ext4 locator: superblock, group descriptor table, root
// inode and journal extents.
func New(dev interfaces.BlockDeviceReader, store *rules.Store, log *logrus.Entry) (interfaces.Locator, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	l := &Locator{
		dev:   dev,
		store: store,
		log:   log.WithField("component", "ext4-locator"),
	}

	sb, err := parser.ReadSuperblock(dev)
	if err != nil {
		return nil, fmt.Errorf("ext4 bootstrap: %w", err)
	}
	l.sb = sb
	super := sb.Superblock()

	if super.FeatureIncompat&types.Ext4FeatureIncompatMetaBG != 0 {
		l.log.Warn("meta_bg layout: group descriptors are located in the primary table only")
	}

	bs := uint64(super.BlockSize())
	groups := super.GroupCount()
	descSize := super.DescriptorSize()
	gdtBlocks := (groups*uint64(descSize) + bs - 1) / bs
	gdtStart := uint64(super.FirstDataBlock) + 1
	table := make([]byte, gdtBlocks*bs)
	if _, err := dev.ReadAt(table, int64(gdtStart*bs)); err != nil {
		return nil, fmt.Errorf("ext4 bootstrap: %w: failed to read group descriptors: %v", types.ErrDevice, err)
	}
	gdt, err := parser.NewGroupDescriptorReader(table, groups, descSize)
	if err != nil {
		return nil, fmt.Errorf("ext4 bootstrap: %w", err)
	}
	l.layout = newLayout(super, gdt)

	root, err := l.readInode(types.Ext4RootIno)
	if err != nil {
		return nil, fmt.Errorf("ext4 bootstrap: failed to read root inode: %w", err)
	}
	l.root = root

	if sb.HasJournal() {
		if err := l.loadJournal(super.JournalInum); err != nil {
			l.log.WithError(err).Warn("journal not located")
		}
	}

	l.log.WithFields(logrus.Fields{
		"uuid":       sb.UUID().String(),
		"block_size": bs,
		"groups":     groups,
		"copies":     l.layout.copies(),
	}).Debug("ext4 context loaded")

	return l, nil
}

func (l *Locator) loadJournal(ino uint32) error {
	inode, err := l.readInode(ino)
	if err != nil {
		return err
	}
	extents, err := inode.Extents()
	if err != nil {
		return err
	}
	l.layout.journal = extents
	return nil
}

// FS implements interfaces.Locator.
func (l *Locator) FS() types.FSKind {
	return types.FSExt4
}

// Grammar implements interfaces.Locator.
func (l *Locator) Grammar() *rules.Grammar {
	return grammar
}

// BlockSize implements interfaces.Locator.
func (l *Locator) BlockSize() uint32 {
	return l.layout.blockSize
}

// Full implements interfaces.Locator.
func (l *Locator) Full() bool {
	return true
}

// Upgrade implements interfaces.Locator. The bootstrap context is complete.
func (l *Locator) Upgrade(context.Context) error {
	return nil
}

// Superblock returns the decoded superblock.
func (l *Locator) Superblock() *types.Ext4Superblock {
	return l.layout.sb
}

// Prepare validates r against the filesystem and resolves directory and
// journal targets.
func (l *Locator) Prepare(r *rules.Rule) error {
	switch r.Kind {
	case rules.KindExtendedAttribute, rules.KindIndirectMap:
		l.inert(r, fmt.Sprintf("%s rules are recognised but not located", r.Kind))

	case rules.KindSector, rules.KindBlock:
		if r.Field != "" && r.Field != FieldFlip {
			return types.NewConfigError(r.Raw, "unknown action %q", r.Field)
		}

	case rules.KindSuperblock:
		if err := checkField(r, types.Ext4SuperblockFields); err != nil {
			return err
		}
		if !r.AnyNumber && r.Number > l.layout.copies() {
			l.inert(r, fmt.Sprintf("superblock copy %d of %d", r.Number, l.layout.copies()))
		}

	case rules.KindGroupDescriptor:
		// A single numeric bracket selects a descriptor, not a byte offset.
		if r.HasRange && r.Size == 0 {
			r.Index, r.Offset, r.HasRange = r.Offset, 0, false
		}
		if err := checkField(r, types.Ext4GroupDescFields); err != nil {
			return err
		}
		if uint64(r.Index) > l.layout.groups {
			l.inert(r, fmt.Sprintf("descriptor %d of %d", r.Index, l.layout.groups))
		} else if !r.AnyNumber && r.Number > l.layout.copies() {
			l.inert(r, fmt.Sprintf("superblock copy %d of %d", r.Number, l.layout.copies()))
		}

	case rules.KindDataBitmap, rules.KindInodeBitmap:
		if r.Offset > maxBitmapOffset {
			return types.NewConfigError(r.Raw, "bitmap offset %d out of range 0..%d", r.Offset, maxBitmapOffset)
		}
		if r.Number >= l.layout.groups {
			l.inert(r, fmt.Sprintf("group %d of %d", r.Number, l.layout.groups))
		}

	case rules.KindInode, rules.KindExtentTable:
		if r.Kind == rules.KindInode {
			if err := checkField(r, types.Ext4InodeFields); err != nil {
				return err
			}
		}
		if r.Number == 0 || r.Number > uint64(l.layout.sb.InodesCount) {
			l.inert(r, fmt.Sprintf("inode %d beyond s_inodes_count %d", r.Number, l.layout.sb.InodesCount))
		}

	case rules.KindDirectory:
		if _, err := r.Resolve(func() (rules.Resolved, error) { return l.resolveDirectory(r) }); err != nil {
			l.logInert(r, err)
		}

	case rules.KindJournal:
		if _, err := r.Resolve(func() (rules.Resolved, error) { return l.resolveJournal(r) }); err != nil {
			l.logInert(r, err)
		}

	default:
		return types.NewConfigError(r.Raw, "%s rules are not supported on ext4", r.Kind)
	}
	return nil
}

func checkField(r *rules.Rule, fields map[string]types.FieldSpan) error {
	if r.Field == "" {
		return nil
	}
	if _, ok := fields[r.Field]; !ok {
		return types.NewConfigError(r.Raw, "unknown %s field %q", r.Kind, r.Field)
	}
	return nil
}

func (l *Locator) inert(r *rules.Rule, reason string) {
	r.MarkInert(reason)
	l.logInert(r, errors.New(reason))
}

func (l *Locator) logInert(r *rules.Rule, err error) {
	l.log.WithFields(logrus.Fields{
		"rule":   r.Raw,
		"reason": err.Error(),
	}).Warn("rule is inert")
}

// failsIO reports whether r is served by the fail path: raw Sector and
// Block rules without the C or Z prefix.
func failsIO(r *rules.Rule) bool {
	return (r.Kind == rules.KindSector || r.Kind == rules.KindBlock) && r.Activation.Kind() == rules.Countdown
}

func mutates(r *rules.Rule) bool {
	return !failsIO(r)
}

// keys lists every (kind, number) block b can be matched under.
func (l *Locator) keys(b uint64, info blockInfo) []rules.Key {
	bs := l.layout.blockSize
	sectors := uint64(bs / types.SectorSize)
	first := uint64(types.BlockAddr(b).FirstSector(bs))

	keys := make([]rules.Key, 0, 4+sectors+2*info.inodes)
	keys = append(keys,
		rules.Key{Kind: rules.KindBlock, Number: b},
		rules.Key{Kind: rules.KindDirectory, Number: b},
		rules.Key{Kind: rules.KindJournal, Number: b},
	)
	for s := first; s < first+sectors; s++ {
		keys = append(keys, rules.Key{Kind: rules.KindSector, Number: s})
	}

	switch info.area {
	case AreaSuperblock:
		keys = append(keys, rules.Key{Kind: rules.KindSuperblock, Number: info.sbIndex})
	case AreaGDT:
		keys = append(keys, rules.Key{Kind: rules.KindGroupDescriptor, Number: info.sbIndex})
	case AreaBlockBitmap:
		keys = append(keys, rules.Key{Kind: rules.KindDataBitmap, Number: info.group})
	case AreaInodeBitmap:
		keys = append(keys, rules.Key{Kind: rules.KindInodeBitmap, Number: info.group})
	case AreaInodeTable:
		for ino := info.firstIno; ino < info.firstIno+info.inodes; ino++ {
			keys = append(keys,
				rules.Key{Kind: rules.KindInode, Number: ino},
				rules.Key{Kind: rules.KindExtentTable, Number: ino},
			)
		}
	}
	return keys
}

// Classify implements interfaces.Locator.
func (l *Locator) Classify(block uint64) interfaces.Classification {
	info := l.layout.locate(block)
	return interfaces.Classification{
		Block:  block,
		Area:   info.area,
		Detail: info.describe(),
		Full:   true,
		Keys:   l.keys(block, info),
	}
}

// Mutate implements interfaces.Locator. Only rules whose byte range reaches
// the transferred bytes are consulted; the first of them in store order that
// fires is applied.
func (l *Locator) Mutate(acc *interfaces.BlockAccess) (interfaces.Outcome, error) {
	info := l.layout.locate(acc.Block)
	reaches := func(r *rules.Rule) bool {
		return mutates(r) && l.reaches(acc, info, r)
	}
	ev := l.store.Evaluate(acc.Op, reaches, l.keys(acc.Block, info)...)
	out := interfaces.Outcome{Decision: ev.Decision()}
	for _, r := range ev.Fired {
		m, ok, err := l.apply(acc, info, r)
		if err != nil {
			return interfaces.Outcome{}, err
		}
		if !ok {
			continue
		}
		l.log.WithFields(logrus.Fields{
			"rule":   r.Raw,
			"block":  acc.Block,
			"op":     acc.Op.String(),
			"area":   info.area,
			"action": m.Action,
			"range":  types.FieldSpan{Offset: m.Offset, Size: m.Size}.String(),
		}).Info("corrupted block")
		out.Mutations = []interfaces.Mutation{m}
		out.Rule = r
		return out, nil
	}
	return out, nil
}

// reaches reports whether the bytes r selects overlap the transferred part
// of the block.
func (l *Locator) reaches(acc *interfaces.BlockAccess, info blockInfo, r *rules.Rule) bool {
	var off, size uint32
	switch r.Kind {
	case rules.KindSector:
		first := uint64(types.BlockAddr(acc.Block).FirstSector(l.layout.blockSize))
		off, size = uint32(r.Number-first)*types.SectorSize, types.SectorSize
	case rules.KindBlock:
		off, size = 0, l.layout.blockSize
	default:
		var ok bool
		if off, size, ok = l.byteRange(info, r); !ok {
			return false
		}
	}
	return len(acc.Range(off, size)) > 0
}

// ShouldFail implements interfaces.Locator.
func (l *Locator) ShouldFail(acc *interfaces.BlockAccess) interfaces.Outcome {
	bs := l.layout.blockSize
	sectors := uint64(bs / types.SectorSize)
	first := uint64(types.BlockAddr(acc.Block).FirstSector(bs))

	keys := make([]rules.Key, 0, 1+sectors)
	keys = append(keys, rules.Key{Kind: rules.KindBlock, Number: acc.Block})
	for s := first; s < first+sectors; s++ {
		keys = append(keys, rules.Key{Kind: rules.KindSector, Number: s})
	}

	ev := l.store.Evaluate(acc.Op, failsIO, keys...)
	out := interfaces.Outcome{Decision: ev.Decision(), Rule: ev.First()}
	if out.Rule != nil {
		l.log.WithFields(logrus.Fields{
			"rule":  out.Rule.Raw,
			"block": acc.Block,
			"op":    acc.Op.String(),
		}).Info("failing request")
	}
	return out
}

// apply mutates the byte range r selects inside the accessed block.
func (l *Locator) apply(acc *interfaces.BlockAccess, info blockInfo, r *rules.Rule) (interfaces.Mutation, bool, error) {
	switch r.Kind {
	case rules.KindSector:
		first := uint64(types.BlockAddr(acc.Block).FirstSector(l.layout.blockSize))
		off := uint32(r.Number-first) * types.SectorSize
		m, ok := helpers.ZeroRange(acc, r, off, types.SectorSize)
		return m, ok, nil

	case rules.KindBlock:
		if r.Field == FieldFlip {
			return helpers.FlipRandomByte(acc, r)
		}
		m, ok := helpers.ZeroBlock(acc, r)
		return m, ok, nil
	}

	off, size, ok := l.byteRange(info, r)
	if !ok || size == 0 {
		return interfaces.Mutation{}, false, nil
	}
	m, ok := helpers.ComplementRange(acc, r, off, size)
	return m, ok, nil
}

// byteRange computes the block-relative range rule r selects in a block
// described by info.
func (l *Locator) byteRange(info blockInfo, r *rules.Rule) (uint32, uint32, bool) {
	bs := l.layout.blockSize

	switch r.Kind {
	case rules.KindSuperblock:
		off, size := l.narrow(r, types.Ext4SuperblockFields, types.Ext4SuperblockSize)
		return info.sbOffset + off, size, true

	case rules.KindGroupDescriptor:
		return l.descriptorRange(info, r)

	case rules.KindDataBitmap, rules.KindInodeBitmap:
		return r.Offset, 1, true

	case rules.KindInode:
		base := l.layout.inodeOffset(r.Number)
		off, size := l.narrow(r, types.Ext4InodeFields, l.layout.inodeSize)
		return base + off, size, true

	case rules.KindExtentTable:
		base := l.layout.inodeOffset(r.Number) + types.Ext4InodeBlockOffset
		off, size := uint32(0), uint32(types.Ext4InodeBlockSize)
		if r.HasRange {
			off, size = clampRange(r.Offset, r.Size, types.Ext4InodeBlockSize)
		}
		return base + off, size, true

	case rules.KindDirectory, rules.KindJournal:
		res, ok := r.Resolution()
		if !ok {
			return 0, 0, false
		}
		off, size := clampRange(res.Offset, res.Size, bs)
		return off, size, true
	}
	return 0, 0, false
}

// narrow selects a named field, an explicit range, or the whole structure
// of length limit. A lone offset selects one byte.
func (l *Locator) narrow(r *rules.Rule, fields map[string]types.FieldSpan, limit uint32) (uint32, uint32) {
	if span, ok := fields[r.Field]; ok {
		return span.Offset, span.Size
	}
	if r.HasRange {
		size := r.Size
		if size == 0 {
			size = 1
		}
		return clampRange(r.Offset, size, limit)
	}
	return 0, limit
}

// descriptorRange maps a group descriptor rule onto one block of the table.
func (l *Locator) descriptorRange(info blockInfo, r *rules.Rule) (uint32, uint32, bool) {
	bs := uint64(l.layout.blockSize)
	desc := uint64(l.layout.descSize)
	table := l.layout.groups * desc

	var start, size uint64
	switch {
	case r.Index > 0:
		start = uint64(r.Index-1) * desc
		size = desc
		if span, ok := types.Ext4GroupDescFields[r.Field]; ok {
			start += uint64(span.Offset)
			size = uint64(span.Size)
		}
	case r.HasRange:
		start, size = uint64(r.Offset), uint64(r.Size)
		if start+size > table {
			size = table - min(start, table)
		}
	default:
		size = table
	}

	// Intersect with the part of the table stored in this block.
	blockStart := info.gdtBlock * bs
	blockEnd := blockStart + bs
	lo, hi := max(start, blockStart), min(start+size, blockEnd)
	if lo >= hi {
		return 0, 0, false
	}
	return uint32(lo - blockStart), uint32(hi - lo), true
}
