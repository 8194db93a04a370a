package f2fs

import (
	"fmt"

	parser "github.com/deploymenttheory/go-blockinject/internal/parsers/f2fs"
	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// Area names reported by Classify.
const (
	AreaSuperblock = "superblock"
	AreaCheckpoint = "cp"
	AreaSIT        = "sit"
	AreaNAT        = "nat"
	AreaSSA        = "ssa"
	AreaMain       = "main"
	AreaInode      = "inode"
	AreaNode       = "node"
	AreaData       = "data"
	AreaBeyond     = "beyond-end"
)

var segTypeNames = [...]string{"hot-data", "warm-data", "cold-data", "hot-node", "warm-node", "cold-node"}

func segTypeName(t uint8) string {
	if int(t) < len(segTypeNames) {
		return segTypeNames[t]
	}
	return fmt.Sprintf("type-%d", t)
}

// span is a half-open block range.
type span struct {
	start, end uint64
}

func (s span) contains(b uint64) bool {
	return b >= s.start && b < s.end
}

// DeviceTarget names the member device a block lives on and the block's
// address on that device.
type DeviceTarget struct {
	Index int
	Path  string
	Block uint64
}

type deviceRange struct {
	path       string
	start, end uint64
}

// geometry is the area layout derived from the superblock. It is immutable.
type geometry struct {
	sb           *types.F2FSSuperblock
	log          uint32
	blocksPerSeg uint64

	cp, sit, nat, ssa, main span

	devices []deviceRange
}

func newGeometry(sb *types.F2FSSuperblock) *geometry {
	g := &geometry{
		sb:           sb,
		log:          sb.LogBlocksPerSeg,
		blocksPerSeg: uint64(sb.BlocksPerSeg()),
	}
	area := func(addr, segments uint32) span {
		start := uint64(addr)
		return span{start: start, end: start + uint64(segments)<<g.log}
	}
	g.cp = area(sb.CpBlkaddr, sb.SegmentCountCkpt)
	g.sit = area(sb.SitBlkaddr, sb.SegmentCountSit)
	g.nat = area(sb.NatBlkaddr, sb.SegmentCountNat)
	g.ssa = area(sb.SsaBlkaddr, sb.SegmentCountSsa)
	g.main = area(sb.MainBlkaddr, sb.SegmentCountMain)

	var start uint64
	for i, d := range sb.Devices {
		end := start + uint64(d.TotalSegments)<<g.log
		if i == 0 {
			end += uint64(sb.Segment0Blkaddr)
		}
		g.devices = append(g.devices, deviceRange{path: d.Path, start: start, end: end})
		start = end
	}
	return g
}

// area classifies b by the superblock boundaries alone.
func (g *geometry) area(b uint64) string {
	switch {
	case b < g.cp.start:
		return AreaSuperblock
	case g.cp.contains(b):
		return AreaCheckpoint
	case g.sit.contains(b):
		return AreaSIT
	case g.nat.contains(b):
		return AreaNAT
	case g.ssa.contains(b):
		return AreaSSA
	case g.main.contains(b):
		return AreaMain
	}
	return AreaBeyond
}

// segno returns the main-area segment holding b.
func (g *geometry) segno(b uint64) uint32 {
	return uint32((b - g.main.start) >> g.log)
}

// segmentBlock returns the address of block off of main segment segno.
func (g *geometry) segmentBlock(segno uint32, off uint64) uint64 {
	return g.main.start + uint64(segno)<<g.log + off
}

// sitAddr returns the valid copy of SIT block off, chosen by the
// checkpoint's SIT version bitmap.
func (g *geometry) sitAddr(off uint32, bitmap []byte) uint64 {
	addr := g.sit.start + uint64(off)
	if parser.TestBit(bitmap, off) {
		addr += uint64(g.sb.SegmentCountSit/2) << g.log
	}
	return addr
}

// natAddr returns the valid copy of the NAT block holding nid. Each pair of
// segments holds both copies of one segment's worth of NAT blocks.
func (g *geometry) natAddr(nid uint32, bitmap []byte) uint64 {
	blockOff := uint64(nid / types.F2FSNatEntryPerBlock)
	segOff := blockOff >> g.log
	addr := g.nat.start + (segOff << g.log << 1) + (blockOff & (g.blocksPerSeg - 1))
	if parser.TestBit(bitmap, uint32(blockOff)) {
		addr += g.blocksPerSeg
	}
	return addr
}

// describe renders the detail line of a metadata area block.
func (g *geometry) describe(area string, b uint64) string {
	switch area {
	case AreaCheckpoint:
		return fmt.Sprintf("pack %d block %d", (b-g.cp.start)/g.blocksPerSeg+1, (b-g.cp.start)%g.blocksPerSeg)
	case AreaSIT:
		half := (g.sit.end - g.sit.start) / 2
		return fmt.Sprintf("copy %d block %d", (b-g.sit.start)/half+1, (b-g.sit.start)%half)
	case AreaNAT:
		rel := b - g.nat.start
		copyNo := (rel>>g.log)%2 + 1
		blockOff := (rel>>g.log>>1)<<g.log + rel&(g.blocksPerSeg-1)
		return fmt.Sprintf("copy %d block %d", copyNo, blockOff)
	case AreaSSA:
		return fmt.Sprintf("summary of segment %d", b-g.ssa.start)
	case AreaMain:
		return fmt.Sprintf("segment %d", g.segno(b))
	}
	return ""
}

// TargetDevice maps b to the member device of a multi-device volume. A
// single-device volume maps every block to itself on device 0.
func (g *geometry) TargetDevice(b uint64) (DeviceTarget, bool) {
	if len(g.devices) == 0 {
		return DeviceTarget{Block: b}, true
	}
	for i, d := range g.devices {
		if b >= d.start && b < d.end {
			return DeviceTarget{Index: i, Path: d.path, Block: b - d.start}, true
		}
	}
	return DeviceTarget{}, false
}
