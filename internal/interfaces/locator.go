// File: internal/interfaces/locator.go
package interfaces

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-blockinject/internal/rules"
	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// BlockAccess is the part of one I/O request that falls inside a single
// filesystem block.
type BlockAccess struct {
	// Absolute filesystem block number
	Block uint64

	// Direction of the request
	Op types.Op

	// Request bytes that overlap the block. Mutations edit them in place.
	Data []byte

	// Byte offset of Data[0] inside the block
	Offset uint32

	// Size of one filesystem block
	BlockSize uint32
}

// Covers reports whether the whole block is present in Data.
func (a *BlockAccess) Covers() bool {
	return a.Offset == 0 && uint32(len(a.Data)) >= a.BlockSize
}

// Range returns the part of Data that overlaps [off, off+size) of the
// block, or nil if the request does not reach it.
func (a *BlockAccess) Range(off, size uint32) []byte {
	start := uint64(off)
	end := start + uint64(size)
	lo := uint64(a.Offset)
	hi := lo + uint64(len(a.Data))
	if end <= lo || start >= hi {
		return nil
	}
	if start < lo {
		start = lo
	}
	if end > hi {
		end = hi
	}
	return a.Data[start-lo : end-lo]
}

// Mutation records one corruption a locator applied.
type Mutation struct {
	Rule   *rules.Rule
	Block  uint64
	Offset uint32
	Size   uint32
	Action string
}

// Outcome is the result of running one path on one block access.
type Outcome struct {
	// Decision is NoMatch when no rule addressed the access, Armed when a
	// matching rule is still counting down and Fire when a rule triggered
	Decision rules.Decision

	// Mutations lists what the mutation path changed
	Mutations []Mutation

	// Rule fails the access on the fail path
	Rule *rules.Rule
}

// Classification describes what a block holds.
type Classification struct {
	// Block number
	Block uint64

	// Metadata area: superblock, gdt, bitmap, itable, journal, cp, sit, nat, ssa, main, data
	Area string

	// Human-readable detail (group, inode range, segment type, owning inode)
	Detail string

	// Full reports whether the answer came from mounted-state context
	Full bool

	// Keys the rule store is consulted with for this block
	Keys []rules.Key
}

// Locator maps block accesses to the filesystem structures they touch and
// applies the structure-aware corruption of its filesystem.
type Locator interface {
	// FS returns the filesystem kind the locator understands
	FS() types.FSKind

	// Grammar returns the corruption specification grammar of the filesystem
	Grammar() *rules.Grammar

	// Prepare validates a parsed rule and resolves path-like targets before
	// the rule is added to the store. Unresolvable targets leave the rule inert.
	Prepare(r *rules.Rule) error

	// Mutate runs the mutation path for one block access and reports what it changed
	Mutate(acc *BlockAccess) (Outcome, error)

	// ShouldFail runs the fail path. Outcome.Rule is set when the access fails.
	ShouldFail(acc *BlockAccess) Outcome

	// Classify reports what a block holds
	Classify(block uint64) Classification

	// Upgrade loads mounted-state context. It is a no-op once loaded.
	Upgrade(ctx context.Context) error

	// Full reports whether mounted-state context is loaded
	Full() bool

	// BlockSize returns the filesystem block size
	BlockSize() uint32
}

// LocatorFactory builds a locator over a device. The store is the one the
// locator evaluates rules against.
type LocatorFactory func(dev BlockDeviceReader, store *rules.Store, log *logrus.Entry) (Locator, error)

// MountProbe reports whether the filesystem on a device is mounted, which
// gates the upgrade to mounted-state context.
type MountProbe interface {
	Mounted() bool
}

// MountProbeFunc adapts a function to MountProbe.
type MountProbeFunc func() bool

// Mounted implements MountProbe.
func (f MountProbeFunc) Mounted() bool {
	return f()
}
