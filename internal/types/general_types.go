// Package types holds the on-disk constants, decoded structure layouts and
// shared primitive types used by the injection engine and its locators.
package types

import "fmt"

// General-purpose types shared by every locator.

// SectorSize is the addressing unit of block requests.
const SectorSize = 512

// BlockAddr is a filesystem block number relative to the start of the volume.
type BlockAddr uint64

// Sector is a 512-byte sector number relative to the start of the volume.
type Sector uint64

// ToBlock converts a sector number to the block containing it.
func (s Sector) ToBlock(blockSize uint32) BlockAddr {
	return BlockAddr(uint64(s) * SectorSize / uint64(blockSize))
}

// FirstSector returns the first sector of the block.
func (b BlockAddr) FirstSector(blockSize uint32) Sector {
	return Sector(uint64(b) * uint64(blockSize) / SectorSize)
}

// Op is the direction of an access.
type Op int

const (
	// OpAny matches both directions; it is only meaningful as a rule filter.
	OpAny Op = iota
	// OpRead is a read from the device.
	OpRead
	// OpWrite is a write to the device.
	OpWrite
)

// String returns the single-letter form used in log lines.
func (o Op) String() string {
	switch o {
	case OpRead:
		return "R"
	case OpWrite:
		return "W"
	default:
		return "U"
	}
}

// Matches reports whether a rule filter accepts an access in direction op.
func (o Op) Matches(op Op) bool {
	return o == OpAny || o == op
}

// FSKind names a locator implementation.
type FSKind string

const (
	// FSExt4 selects the block-group filesystem locator.
	FSExt4 FSKind = "ext4"
	// FSF2FS selects the log-structured flash filesystem locator.
	FSF2FS FSKind = "f2fs"
)

// DefaultFSKind is used when the construction arguments omit the kind.
const DefaultFSKind = FSF2FS

// UUID is a 16-byte on-disk identifier.
type UUID [16]byte

// FieldSpan is the byte offset and size of a named on-disk field.
type FieldSpan struct {
	Offset uint32
	Size   uint32
}

// End returns the first byte past the field.
func (f FieldSpan) End() uint32 {
	return f.Offset + f.Size
}

// String formats the span as [offset:end).
func (f FieldSpan) String() string {
	return fmt.Sprintf("[%d:%d)", f.Offset, f.End())
}
