package f2fs

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-blockinject/internal/interfaces"
	parser "github.com/deploymenttheory/go-blockinject/internal/parsers/f2fs"
	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// liveState is the mounted-state context: the current checkpoint, the type
// of every main segment, the node at every NAT-mapped address and the owners
// of the open data logs.
type liveState struct {
	cp        *types.F2FSCheckpoint
	packStart uint64
	segTypes  []uint8
	nodes     map[uint64]nodeRef
	owners    map[uint64]uint32
	inodes    map[uint32]*types.F2FSInode
}

// nodeRef names the node stored at one main-area address.
type nodeRef struct {
	nid, ino uint32
}

// node returns the node the NAT maps to address b.
func (s *liveState) node(b uint64) (nodeRef, bool) {
	ref, ok := s.nodes[b]
	return ref, ok
}

// segType returns the recorded type of main segment segno.
func (s *liveState) segType(segno uint32) (uint8, bool) {
	if int(segno) >= len(s.segTypes) {
		return 0, false
	}
	return s.segTypes[segno], true
}

// owner returns the inode owning data block b, if b sits in an open data log.
func (s *liveState) owner(b uint64) (uint32, *types.F2FSInode, bool) {
	ino, ok := s.owners[b]
	if !ok {
		return 0, nil, false
	}
	return ino, s.inodes[ino], true
}

// loader reads the live state from the device.
type loader struct {
	ctx context.Context
	dev interfaces.BlockDeviceReader
	geo *geometry
	log *logrus.Entry

	cp         *types.F2FSCheckpoint
	natJournal map[uint32]types.F2FSNatEntry
	natBlocks  map[uint64][]types.F2FSNatEntry
	resolved   map[uint32]types.F2FSNatEntry
}

// loadLive selects the current checkpoint pack and reads the SIT, the NAT
// entries and the open data log summaries it points at.
func loadLive(ctx context.Context, dev interfaces.BlockDeviceReader, geo *geometry, log *logrus.Entry) (*liveState, error) {
	ld := &loader{
		ctx:        ctx,
		dev:        dev,
		geo:        geo,
		log:        log,
		natJournal: make(map[uint32]types.F2FSNatEntry),
		natBlocks:  make(map[uint64][]types.F2FSNatEntry),
		resolved:   make(map[uint32]types.F2FSNatEntry),
	}

	cp, start, err := ld.selectPack()
	if err != nil {
		return nil, err
	}
	ld.cp = cp

	entries, natJournal, sitJournal, err := ld.summaries(start)
	if err != nil {
		return nil, fmt.Errorf("%w: checkpoint summaries: %v", types.ErrBootstrapIncomplete, err)
	}
	for _, e := range natJournal {
		ld.natJournal[e.Nid] = e
	}

	segTypes, err := ld.segmentTypes(sitJournal)
	if err != nil {
		return nil, err
	}

	state := &liveState{
		cp:        cp,
		packStart: start,
		segTypes:  segTypes,
		nodes:     make(map[uint64]nodeRef),
		owners:    make(map[uint64]uint32),
		inodes:    make(map[uint32]*types.F2FSInode),
	}
	if err := ld.indexNodes(state); err != nil {
		return nil, err
	}
	if err := ld.attribute(state, entries); err != nil {
		return nil, err
	}
	return state, nil
}

func (ld *loader) readBlock(b uint64) ([]byte, error) {
	if err := ld.ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, types.F2FSBlockSize)
	if _, err := ld.dev.ReadAt(buf, int64(b)*types.F2FSBlockSize); err != nil {
		return nil, fmt.Errorf("%w: failed to read block %d: %v", types.ErrDevice, b, err)
	}
	return buf, nil
}

// selectPack returns the valid checkpoint pack with the higher version. A
// pack is valid when its footer repeats the header version.
func (ld *loader) selectPack() (*types.F2FSCheckpoint, uint64, error) {
	var (
		best      *types.F2FSCheckpoint
		bestStart uint64
	)
	for i := uint64(0); i < 2; i++ {
		start := ld.geo.cp.start + i*ld.geo.blocksPerSeg
		cp, err := ld.readPack(start)
		if err != nil {
			if ld.ctx.Err() != nil {
				return nil, 0, err
			}
			ld.log.WithError(err).WithField("pack", start).Debug("checkpoint pack rejected")
			continue
		}
		if best == nil || cp.Version > best.Version {
			best, bestStart = cp, start
		}
	}
	if best == nil {
		return nil, 0, fmt.Errorf("%w: no valid checkpoint pack", types.ErrBootstrapIncomplete)
	}
	return best, bestStart, nil
}

func (ld *loader) readPack(start uint64) (*types.F2FSCheckpoint, error) {
	head, err := ld.readBlock(start)
	if err != nil {
		return nil, err
	}
	cp, err := parser.ParseCheckpoint(head)
	if err != nil {
		return nil, err
	}
	if cp.PackTotalBlockCount == 0 || uint64(cp.PackTotalBlockCount) > ld.geo.blocksPerSeg {
		return nil, fmt.Errorf("pack block count %d out of range", cp.PackTotalBlockCount)
	}
	if cp.PackStartSum == 0 || cp.PackStartSum >= cp.PackTotalBlockCount {
		return nil, fmt.Errorf("summary start %d outside pack of %d blocks", cp.PackStartSum, cp.PackTotalBlockCount)
	}
	tail, err := ld.readBlock(start + uint64(cp.PackTotalBlockCount) - 1)
	if err != nil {
		return nil, err
	}
	if v := parser.PackFooterVersion(tail); v != cp.Version {
		return nil, fmt.Errorf("torn pack: header version %d, footer version %d", cp.Version, v)
	}
	return cp, nil
}

// summaries returns the entries of the open data logs with the NAT and SIT
// journals, from compact or normal summary blocks.
func (ld *loader) summaries(start uint64) ([types.F2FSNrCursegDataType][]types.F2FSSummary, []types.F2FSNatEntry, []types.F2FSSitJournalEntry, error) {
	var entries [types.F2FSNrCursegDataType][]types.F2FSSummary
	cp := ld.cp

	var blkoff [types.F2FSNrCursegDataType]uint16
	for t := range blkoff {
		blkoff[t] = min(cp.CurDataBlkoff[t], uint16(ld.geo.blocksPerSeg), types.F2FSEntriesInSum)
	}

	if cp.Compact() {
		first := start + uint64(cp.PackStartSum)
		last := start + uint64(cp.PackTotalBlockCount) - 1
		var blocks [][]byte
		for b := first; b < last && len(blocks) < types.F2FSNrCursegDataType; b++ {
			blk, err := ld.readBlock(b)
			if err != nil {
				return entries, nil, nil, err
			}
			blocks = append(blocks, blk)
		}
		sums, err := parser.ParseCompactSummaries(blocks, blkoff)
		if err != nil {
			return entries, nil, nil, err
		}
		return sums.Entries, sums.NatJournal, sums.SitJournal, nil
	}

	base := uint64(types.F2FSNrCursegDataType)
	if cp.Unmounted() {
		base = types.F2FSNrCursegType
	}
	var (
		natJournal []types.F2FSNatEntry
		sitJournal []types.F2FSSitJournalEntry
	)
	for t := 0; t < types.F2FSNrCursegDataType; t++ {
		addr := start + uint64(cp.PackTotalBlockCount) - (base + 1) + uint64(t)
		blk, err := ld.readBlock(addr)
		if err != nil {
			return entries, nil, nil, err
		}
		sum, err := parser.ParseSummaryBlock(blk)
		if err != nil {
			return entries, nil, nil, err
		}
		entries[t] = sum.Entries[:blkoff[t]]
		switch t {
		case types.F2FSCursegHotData:
			natJournal = parser.ParseNatJournal(blk[types.F2FSSumEntrySize:])
		case types.F2FSCursegColdData:
			sitJournal = parser.ParseSitJournal(blk[types.F2FSSumEntrySize:])
		}
	}
	return entries, natJournal, sitJournal, nil
}

// segmentTypes reads the type of every main segment from the valid SIT
// copies, then applies the journal.
func (ld *loader) segmentTypes(journal []types.F2FSSitJournalEntry) ([]uint8, error) {
	n := ld.geo.sb.SegmentCountMain
	out := make([]uint8, n)
	for off := uint32(0); off*types.F2FSSitEntryPerBlock < n; off++ {
		blk, err := ld.readBlock(ld.geo.sitAddr(off, ld.cp.SitBitmap))
		if err != nil {
			return nil, err
		}
		sit, err := parser.ParseSitBlock(blk)
		if err != nil {
			return nil, err
		}
		for j, e := range sit {
			segno := off*types.F2FSSitEntryPerBlock + uint32(j)
			if segno >= n {
				break
			}
			out[segno] = e.Type
		}
	}
	for _, j := range journal {
		if j.Segno < n {
			out[j.Segno] = j.Entry.Type
		}
	}
	return out, nil
}

// natBlock returns the entries of the valid NAT block holding nid.
func (ld *loader) natBlock(nid uint32) ([]types.F2FSNatEntry, error) {
	addr := ld.geo.natAddr(nid, ld.cp.NatBitmap)
	if entries, ok := ld.natBlocks[addr]; ok {
		return entries, nil
	}
	blk, err := ld.readBlock(addr)
	if err != nil {
		return nil, err
	}
	first := nid / types.F2FSNatEntryPerBlock * types.F2FSNatEntryPerBlock
	entries, err := parser.ParseNatBlock(blk, first)
	if err != nil {
		return nil, err
	}
	ld.natBlocks[addr] = entries
	return entries, nil
}

// natEntry resolves nid through the journal, then the valid NAT copy.
func (ld *loader) natEntry(nid uint32) (types.F2FSNatEntry, error) {
	if e, ok := ld.resolved[nid]; ok {
		return e, nil
	}
	if e, ok := ld.natJournal[nid]; ok {
		ld.resolved[nid] = e
		return e, nil
	}
	entries, err := ld.natBlock(nid)
	if err != nil {
		return types.F2FSNatEntry{}, err
	}
	e := entries[nid%types.F2FSNatEntryPerBlock]
	ld.resolved[nid] = e
	return e, nil
}

// indexNodes maps every main-area address the NAT points at to its node, so
// node pages can be classified without reading them. Inodes are cached on
// the way.
func (ld *loader) indexNodes(state *liveState) error {
	blocks := uint32(ld.geo.sb.SegmentCountNat/2) << ld.geo.log
	for i := uint32(0); i < blocks; i++ {
		entries, err := ld.natBlock(i * types.F2FSNatEntryPerBlock)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if j, ok := ld.natJournal[e.Nid]; ok {
				e = j
			}
			if e.Nid < types.F2FSReservedNodeNum || e.Ino == 0 {
				continue
			}
			addr := uint64(e.BlockAddr)
			if !ld.geo.main.contains(addr) {
				continue
			}
			state.nodes[addr] = nodeRef{nid: e.Nid, ino: e.Ino}
			if e.Nid == e.Ino {
				if err := ld.cacheInode(state, e.Ino); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// attribute maps the written blocks of each open data log to the inode of
// the node that references them, and caches those inodes.
func (ld *loader) attribute(state *liveState, entries [types.F2FSNrCursegDataType][]types.F2FSSummary) error {
	for t := 0; t < types.F2FSNrCursegDataType; t++ {
		segno := ld.cp.CurDataSegno[t]
		if segno >= ld.geo.sb.SegmentCountMain {
			continue
		}
		for j, sum := range entries[t] {
			if sum.Nid == 0 {
				continue
			}
			ne, err := ld.natEntry(sum.Nid)
			if err != nil {
				return err
			}
			if ne.Ino == 0 {
				continue
			}
			state.owners[ld.geo.segmentBlock(segno, uint64(j))] = ne.Ino
			if err := ld.cacheInode(state, ne.Ino); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ld *loader) cacheInode(state *liveState, ino uint32) error {
	if _, ok := state.inodes[ino]; ok {
		return nil
	}
	ne, err := ld.natEntry(ino)
	if err != nil {
		return err
	}
	if !ld.geo.main.contains(uint64(ne.BlockAddr)) {
		ld.log.WithFields(logrus.Fields{"ino": ino, "addr": ne.BlockAddr}).Debug("inode address outside main area")
		return nil
	}
	blk, err := ld.readBlock(uint64(ne.BlockAddr))
	if err != nil {
		return err
	}
	inode, err := parser.ParseInode(blk)
	if err != nil {
		ld.log.WithError(err).WithField("ino", ino).Debug("owner inode not decoded")
		return nil
	}
	state.inodes[ino] = inode
	return nil
}
