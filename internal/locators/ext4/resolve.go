package ext4

import (
	"fmt"
	"strings"

	parser "github.com/deploymenttheory/go-blockinject/internal/parsers/ext4"
	"github.com/deploymenttheory/go-blockinject/internal/rules"
	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// readBlock reads one filesystem block from the device.
func (l *Locator) readBlock(b uint64) ([]byte, error) {
	bs := int64(l.layout.blockSize)
	buf := make([]byte, bs)
	if _, err := l.dev.ReadAt(buf, int64(b)*bs); err != nil {
		return nil, fmt.Errorf("%w: failed to read block %d: %v", types.ErrDevice, b, err)
	}
	return buf, nil
}

// readInode reads and decodes inode ino.
func (l *Locator) readInode(ino uint32) (*parser.InodeReader, error) {
	loc, err := parser.LocateInode(l.layout.sb, l.layout.gdt, ino)
	if err != nil {
		return nil, err
	}
	block, err := l.readBlock(loc.Block)
	if err != nil {
		return nil, err
	}
	end := loc.Offset + l.layout.inodeSize
	if end > uint32(len(block)) {
		end = uint32(len(block))
	}
	return parser.NewInodeReader(block[loc.Offset:end], ino)
}

// inodeBlocks lists the physical blocks of an inode's data, bounded by its size.
func (l *Locator) inodeBlocks(inode *parser.InodeReader) ([]uint64, error) {
	extents, err := inode.Extents()
	if err != nil {
		return nil, err
	}
	blocks := parser.PhysicalBlocks(extents)
	bs := uint64(l.layout.blockSize)
	if limit := (inode.Inode().Size + bs - 1) / bs; uint64(len(blocks)) > limit {
		blocks = blocks[:limit]
	}
	return blocks, nil
}

func resolutionMiss(r *rules.Rule, format string, args ...any) error {
	return &types.ResolutionError{Rule: r.Raw, Reason: fmt.Sprintf(format, args...)}
}

// resolveDirectory walks r.Path from the root directory and returns the
// location of the final record, narrowed to r.Field.
func (l *Locator) resolveDirectory(r *rules.Rule) (rules.Resolved, error) {
	parts := strings.FieldsFunc(r.Path, func(c rune) bool { return c == '/' })
	if len(parts) == 0 {
		return rules.Resolved{}, resolutionMiss(r, "path %q names no entry", r.Path)
	}

	dir := l.root
	for i, name := range parts {
		block, ent, err := l.lookup(dir, name)
		if err != nil {
			return rules.Resolved{}, resolutionMiss(r, "%s: %v", strings.Join(parts[:i+1], "/"), err)
		}

		if i == len(parts)-1 {
			span := parser.DirentField(ent, r.Field)
			return rules.Resolved{Block: block, Offset: span.Offset, Size: span.Size}, nil
		}

		if ent.FileType != types.Ext4FileTypeDir && ent.FileType != types.Ext4FileTypeUnknown {
			return rules.Resolved{}, resolutionMiss(r, "%s is not a directory", name)
		}
		child, err := l.readInode(ent.Inode)
		if err != nil {
			return rules.Resolved{}, resolutionMiss(r, "inode %d: %v", ent.Inode, err)
		}
		if !child.IsDir() {
			return rules.Resolved{}, resolutionMiss(r, "%s is not a directory", name)
		}
		dir = child
	}
	return rules.Resolved{}, resolutionMiss(r, "unreachable")
}

// lookup scans the linear records of directory dir for name.
func (l *Locator) lookup(dir *parser.InodeReader, name string) (uint64, types.Ext4Dirent, error) {
	blocks, err := l.inodeBlocks(dir)
	if err != nil {
		return 0, types.Ext4Dirent{}, err
	}
	for _, b := range blocks {
		data, err := l.readBlock(b)
		if err != nil {
			return 0, types.Ext4Dirent{}, err
		}
		ent, ok, err := parser.FindDirent(data, name)
		if ok {
			return b, ent, nil
		}
		if err != nil {
			l.log.WithError(err).WithField("block", b).Warn("stopped scanning corrupt directory block")
		}
	}
	return 0, types.Ext4Dirent{}, fmt.Errorf("no such entry")
}

// resolveJournal maps logical journal block r.Number to its physical block.
func (l *Locator) resolveJournal(r *rules.Rule) (rules.Resolved, error) {
	if len(l.layout.journal) == 0 {
		return rules.Resolved{}, resolutionMiss(r, "filesystem has no located journal")
	}
	phys, ok := parser.MapLogical(l.layout.journal, uint32(r.Number))
	if !ok {
		return rules.Resolved{}, resolutionMiss(r, "journal block %d is not mapped", r.Number)
	}

	res := rules.Resolved{Block: phys, Size: l.layout.blockSize}
	if r.HasRange {
		res.Offset, res.Size = clampRange(r.Offset, r.Size, l.layout.blockSize)
	}
	return res, nil
}

// clampRange bounds [off, off+size) to a region of limit bytes. A zero size
// extends to the end of the region.
func clampRange(off, size, limit uint32) (uint32, uint32) {
	if off >= limit {
		return limit, 0
	}
	if size == 0 || off+size > limit {
		size = limit - off
	}
	return off, size
}
