// Package f2fs locates and corrupts log-structured flash filesystem
// metadata: checkpoint packs, SIT, NAT and SSA blocks, inodes, node pages and
// data blocks.
//
// The locator starts from a partial context derived from the superblock,
// which classifies blocks by area. Once the filesystem is mounted it can be
// upgraded to a full context read from the current checkpoint pack, which
// also attributes main-area blocks to inodes, node pages and data pages.
package f2fs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-blockinject/internal/interfaces"
	parser "github.com/deploymenttheory/go-blockinject/internal/parsers/f2fs"
	"github.com/deploymenttheory/go-blockinject/internal/rules"
	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// FieldFlip selects the random byte flip on Block and data rules.
const FieldFlip = "flip"

var grammar = &rules.Grammar{
	FS: types.FSF2FS,
	Prefixes: map[string]rules.Kind{
		"cp":  rules.KindCheckpoint,
		"sit": rules.KindSegmentInfoTable,
		"nat": rules.KindNodeAddressTable,
		"ssa": rules.KindSegmentSummaryArea,
		"n":   rules.KindDirectNode,
		"d":   rules.KindDataBlock,
		"b":   rules.KindBlock,
		"i":   rules.KindInode,
		"s":   rules.KindSector,
	},
	NATModes: map[string]byte{
		"nat":  rules.NATModeBlock,
		"natb": rules.NATModeBlock,
		"nati": rules.NATModeInode,
	},
	Wildcard: map[rules.Kind]bool{
		rules.KindCheckpoint:         true,
		rules.KindSegmentInfoTable:   true,
		rules.KindNodeAddressTable:   true,
		rules.KindSegmentSummaryArea: true,
		rules.KindDirectNode:         true,
	},
}

// Grammar returns the f2fs corruption specification grammar.
func Grammar() *rules.Grammar {
	return grammar
}

// fsContext is either a partialContext or a fullContext.
type fsContext interface {
	layout() *geometry
}

type partialContext struct {
	geo *geometry
}

func (c *partialContext) layout() *geometry { return c.geo }

type fullContext struct {
	geo  *geometry
	live *liveState
}

func (c *fullContext) layout() *geometry { return c.geo }

// contextRef lets both context shapes share one atomic pointer.
type contextRef struct {
	fsContext
}

// Locator is the f2fs metadata locator.
type Locator struct {
	dev   interfaces.BlockDeviceReader
	store *rules.Store
	log   *logrus.Entry
	sb    *parser.SuperblockReader

	ctx       atomic.Pointer[contextRef]
	upgrading sync.Mutex
}

// New bootstraps an f2fs locator in partial context from the superblock.
func New(dev interfaces.BlockDeviceReader, store *rules.Store, log *logrus.Entry) (interfaces.Locator, error) {
	return NewLocator(dev, store, log)
}

// NewLocator is New returning the concrete type.
func NewLocator(dev interfaces.BlockDeviceReader, store *rules.Store, log *logrus.Entry) (*Locator, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	l := &Locator{
		dev:   dev,
		store: store,
		log:   log.WithField("component", "f2fs-locator"),
	}

	sb, err := parser.ReadSuperblock(dev)
	if err != nil {
		return nil, fmt.Errorf("f2fs bootstrap: %w", err)
	}
	l.sb = sb
	geo := newGeometry(sb.Superblock())
	l.ctx.Store(&contextRef{&partialContext{geo: geo}})

	l.log.WithFields(logrus.Fields{
		"uuid":     sb.UUID().String(),
		"volume":   sb.VolumeName(),
		"main":     geo.main.start,
		"segments": sb.Superblock().SegmentCountMain,
		"devices":  len(geo.devices),
	}).Debug("f2fs partial context loaded")

	return l, nil
}

func (l *Locator) context() fsContext {
	return l.ctx.Load().fsContext
}

func (l *Locator) geo() *geometry {
	return l.context().layout()
}

// FS implements interfaces.Locator.
func (l *Locator) FS() types.FSKind {
	return types.FSF2FS
}

// Grammar implements interfaces.Locator.
func (l *Locator) Grammar() *rules.Grammar {
	return grammar
}

// BlockSize implements interfaces.Locator.
func (l *Locator) BlockSize() uint32 {
	return types.F2FSBlockSize
}

// Superblock returns the decoded superblock.
func (l *Locator) Superblock() *types.F2FSSuperblock {
	return l.sb.Superblock()
}

// Full implements interfaces.Locator.
func (l *Locator) Full() bool {
	_, ok := l.context().(*fullContext)
	return ok
}

// TargetDevice maps block b to its member device.
func (l *Locator) TargetDevice(b uint64) (DeviceTarget, bool) {
	return l.geo().TargetDevice(b)
}

// Upgrade implements interfaces.Locator. Only one caller loads the full
// context; concurrent callers return immediately and keep seeing the
// partial one until the load is published.
func (l *Locator) Upgrade(ctx context.Context) error {
	if l.Full() {
		return nil
	}
	if !l.upgrading.TryLock() {
		return nil
	}
	defer l.upgrading.Unlock()
	if l.Full() {
		return nil
	}

	geo := l.geo()
	live, err := loadLive(ctx, l.dev, geo, l.log)
	if err != nil {
		return fmt.Errorf("f2fs upgrade: %w", err)
	}
	l.ctx.Store(&contextRef{&fullContext{geo: geo, live: live}})

	l.log.WithFields(logrus.Fields{
		"version": live.cp.Version,
		"pack":    live.packStart,
		"nodes":   len(live.nodes),
		"owners":  len(live.owners),
		"inodes":  len(live.inodes),
	}).Info("f2fs full context loaded")
	return nil
}

// Prepare validates r against the filesystem.
func (l *Locator) Prepare(r *rules.Rule) error {
	switch r.Kind {
	case rules.KindSector, rules.KindBlock, rules.KindDataBlock:
		if r.Field != "" && r.Field != FieldFlip {
			return types.NewConfigError(r.Raw, "unknown action %q", r.Field)
		}

	case rules.KindCheckpoint, rules.KindSegmentSummaryArea, rules.KindDirectNode:

	case rules.KindSegmentInfoTable:
		if _, ok := types.F2FSSitFields[r.Field]; r.Field != "" && !ok {
			l.log.WithFields(logrus.Fields{"rule": r.Raw, "field": r.Field}).
				Warn("unknown SIT field, the whole block will be zeroed")
		}

	case rules.KindNodeAddressTable:
		// Inode mode matches every NAT block and nulls the entries of inode Number.
		if r.NATMode == rules.NATModeInode && r.Number != 0 {
			r.AnyNumber = true
		}

	case rules.KindInode:
		if _, ok := types.F2FSInodeFields[r.Field]; r.Field != "" && !ok {
			l.log.WithFields(logrus.Fields{"rule": r.Raw, "field": r.Field}).
				Warn("unknown inode field, the whole page will be zeroed")
		}
		if r.Number < types.F2FSReservedNodeNum {
			l.inert(r, fmt.Sprintf("node %d is reserved", r.Number))
		}

	default:
		return types.NewConfigError(r.Raw, "%s rules are not supported on f2fs", r.Kind)
	}
	return nil
}

func (l *Locator) inert(r *rules.Rule, reason string) {
	r.MarkInert(reason)
	l.log.WithFields(logrus.Fields{
		"rule":   r.Raw,
		"reason": reason,
	}).Warn("rule is inert")
}

// failsIO reports whether r is served by the fail path: every rule without
// the C or Z prefix.
func failsIO(r *rules.Rule) bool {
	return r.Activation.Kind() == rules.Countdown
}

func mutates(r *rules.Rule) bool {
	return !failsIO(r)
}

func natInodeMode(r *rules.Rule) bool {
	return r.Kind == rules.KindNodeAddressTable && r.NATMode == rules.NATModeInode && r.Number != 0
}

// blockClass is what one block holds, as far as the current context knows.
type blockClass struct {
	area    string
	segno   uint32
	segType uint8
	full    bool

	// node pages
	nid uint32
	ino uint32

	// the inode page itself, or the owner of a data page
	inode *types.F2FSInode
}

// classify attributes b from the current context. page is the block content
// when the access carries the whole block; otherwise node pages are told
// apart by the node index loaded with the full context.
func (l *Locator) classify(b uint64, page []byte) blockClass {
	ctx := l.context()
	geo := ctx.layout()
	c, full := ctx.(*fullContext)
	bc := blockClass{area: geo.area(b), full: full}
	if bc.area != AreaMain {
		return bc
	}
	bc.segno = geo.segno(b)
	if !full {
		return bc
	}

	bc.segType, _ = c.live.segType(bc.segno)
	if !types.F2FSIsNodeSeg(bc.segType) {
		bc.area = AreaData
		if ino, inode, ok := c.live.owner(b); ok {
			bc.ino, bc.inode = ino, inode
		}
		return bc
	}

	bc.area = AreaNode
	if len(page) >= types.F2FSBlockSize {
		footer := parser.NodeFooter(page)
		bc.nid, bc.ino = footer.Nid, footer.Ino
		if footer.IsInode() && footer.Nid >= types.F2FSReservedNodeNum {
			bc.area = AreaInode
			if inode, err := parser.ParseInode(page); err == nil {
				bc.inode = inode
			}
		}
		return bc
	}

	ref, ok := c.live.node(b)
	if !ok {
		return bc
	}
	bc.nid, bc.ino = ref.nid, ref.ino
	if ref.nid == ref.ino && ref.nid >= types.F2FSReservedNodeNum {
		bc.area = AreaInode
		bc.inode = c.live.inodes[ref.ino]
	}
	return bc
}

// describe renders the detail line of a classified block.
func (l *Locator) describe(b uint64, bc blockClass) string {
	switch bc.area {
	case AreaInode:
		s := fmt.Sprintf("segment %d (%s) inode %d", bc.segno, segTypeName(bc.segType), bc.nid)
		if bc.inode != nil {
			if bc.inode.Name != "" {
				s += fmt.Sprintf(" %q", bc.inode.Name)
			}
			if bc.inode.HasInlineData() {
				s += " inline-data"
			}
		}
		return s
	case AreaNode:
		if bc.nid == 0 {
			return fmt.Sprintf("segment %d (%s)", bc.segno, segTypeName(bc.segType))
		}
		return fmt.Sprintf("segment %d (%s) node %d of inode %d", bc.segno, segTypeName(bc.segType), bc.nid, bc.ino)
	case AreaData:
		s := fmt.Sprintf("segment %d (%s)", bc.segno, segTypeName(bc.segType))
		if bc.ino != 0 {
			s += fmt.Sprintf(" owned by inode %d", bc.ino)
			if bc.inode != nil && bc.inode.IsDir() {
				s += " (directory)"
			}
		}
		return s
	}
	return l.geo().describe(bc.area, b)
}

// sectorKeys lists the Block key of b and the keys of its sectors.
func sectorKeys(b uint64) []rules.Key {
	sectors := uint64(types.F2FSBlockSize / types.SectorSize)
	first := uint64(types.BlockAddr(b).FirstSector(types.F2FSBlockSize))
	keys := make([]rules.Key, 0, 2+sectors)
	keys = append(keys, rules.Key{Kind: rules.KindBlock, Number: b})
	for s := first; s < first+sectors; s++ {
		keys = append(keys, rules.Key{Kind: rules.KindSector, Number: s})
	}
	return keys
}

// keys lists every (kind, number) block b can be matched under.
func keys(b uint64, bc blockClass) []rules.Key {
	keys := sectorKeys(b)
	switch bc.area {
	case AreaCheckpoint:
		keys = append(keys, rules.Key{Kind: rules.KindCheckpoint, Number: b})
	case AreaSIT:
		keys = append(keys, rules.Key{Kind: rules.KindSegmentInfoTable, Number: b})
	case AreaNAT:
		keys = append(keys, rules.Key{Kind: rules.KindNodeAddressTable, Number: b})
	case AreaSSA:
		keys = append(keys, rules.Key{Kind: rules.KindSegmentSummaryArea, Number: b})
	case AreaInode:
		keys = append(keys, rules.Key{Kind: rules.KindInode, Number: uint64(bc.nid)})
		if bc.inode != nil && bc.inode.HasInlineData() {
			keys = append(keys, rules.Key{Kind: rules.KindDataBlock, Number: b})
		}
	case AreaNode:
		keys = append(keys, rules.Key{Kind: rules.KindDirectNode, Number: b})
	case AreaData:
		keys = append(keys, rules.Key{Kind: rules.KindDataBlock, Number: b})
	}
	return keys
}

// Classify implements interfaces.Locator.
func (l *Locator) Classify(block uint64) interfaces.Classification {
	bc := l.classify(block, nil)
	return interfaces.Classification{
		Block:  block,
		Area:   bc.area,
		Detail: l.describe(block, bc),
		Full:   bc.full,
		Keys:   keys(block, bc),
	}
}

// page returns the access data when it holds the whole block.
func page(acc *interfaces.BlockAccess) []byte {
	if acc.Covers() {
		return acc.Data
	}
	return nil
}

// Mutate implements interfaces.Locator. With the global switch on, a rule
// addressing the block by number zeroes it outright. Otherwise the first
// fired rule in store order that reaches the transferred bytes is applied;
// NAT inode-mode rules are cumulative and never stop the scan.
func (l *Locator) Mutate(acc *interfaces.BlockAccess) (interfaces.Outcome, error) {
	bc := l.classify(acc.Block, page(acc))

	if l.store.GlobalCorrupt() {
		if m, ok := l.globalZero(acc); ok {
			l.logMutation(acc, bc, m)
			return interfaces.Outcome{Decision: rules.Fire, Mutations: []interfaces.Mutation{m}, Rule: m.Rule}, nil
		}
	}

	ev := l.store.Evaluate(acc.Op, mutates, keys(acc.Block, bc)...)
	out := interfaces.Outcome{Decision: ev.Decision()}
	done := false
	for _, r := range ev.Fired {
		cumulative := natInodeMode(r)
		if done && !cumulative {
			continue
		}
		ms, err := l.apply(acc, bc, r)
		if err != nil {
			return interfaces.Outcome{}, err
		}
		if len(ms) == 0 {
			continue
		}
		for _, m := range ms {
			l.logMutation(acc, bc, m)
		}
		out.Mutations = append(out.Mutations, ms...)
		if out.Rule == nil {
			out.Rule = r
		}
		if !cumulative {
			done = true
		}
	}
	return out, nil
}

// globalZero zeroes the block when any live rule names it by block number,
// whatever its activation.
func (l *Locator) globalZero(acc *interfaces.BlockAccess) (interfaces.Mutation, bool) {
	b := acc.Block
	candidates := l.store.Matching(acc.Op,
		rules.Key{Kind: rules.KindBlock, Number: b},
		rules.Key{Kind: rules.KindDataBlock, Number: b},
		rules.Key{Kind: rules.KindDirectNode, Number: b},
		rules.Key{Kind: rules.KindCheckpoint, Number: b},
		rules.Key{Kind: rules.KindSegmentInfoTable, Number: b},
		rules.Key{Kind: rules.KindNodeAddressTable, Number: b},
		rules.Key{Kind: rules.KindSegmentSummaryArea, Number: b},
	)
	for _, r := range candidates {
		if r.AnyNumber {
			continue
		}
		if m, ok := zeroBlock(acc, r); ok {
			return m, true
		}
	}
	return interfaces.Mutation{}, false
}

func (l *Locator) logMutation(acc *interfaces.BlockAccess, bc blockClass, m interfaces.Mutation) {
	l.log.WithFields(logrus.Fields{
		"rule":   m.Rule.Raw,
		"block":  acc.Block,
		"op":     acc.Op.String(),
		"area":   bc.area,
		"action": m.Action,
		"range":  types.FieldSpan{Offset: m.Offset, Size: m.Size}.String(),
	}).Info("corrupted block")
}

// ShouldFail implements interfaces.Locator.
func (l *Locator) ShouldFail(acc *interfaces.BlockAccess) interfaces.Outcome {
	bc := l.classify(acc.Block, page(acc))
	ev := l.store.Evaluate(acc.Op, failsIO, keys(acc.Block, bc)...)
	out := interfaces.Outcome{Decision: ev.Decision(), Rule: ev.First()}
	if out.Rule != nil {
		l.log.WithFields(logrus.Fields{
			"rule":  out.Rule.Raw,
			"block": acc.Block,
			"op":    acc.Op.String(),
			"area":  bc.area,
		}).Info("failing request")
	}
	return out
}
