// Package rules holds corruption directives, their activation state and the
// ordered store a session matches accesses against.
package rules

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// Kind is the on-disk structure a rule targets.
type Kind int

const (
	KindSector Kind = iota
	KindBlock
	KindSuperblock
	KindGroupDescriptor
	KindDataBitmap
	KindInodeBitmap
	KindIndirectMap
	KindInode
	KindDirectory
	KindExtentTable
	KindJournal
	KindExtendedAttribute
	KindCheckpoint
	KindSegmentInfoTable
	KindNodeAddressTable
	KindSegmentSummaryArea
	KindDataBlock
	KindDirectNode
	KindIndirectNode
)

var kindNames = map[Kind]string{
	KindSector:             "sector",
	KindBlock:              "block",
	KindSuperblock:         "superblock",
	KindGroupDescriptor:    "group-descriptor",
	KindDataBitmap:         "data-bitmap",
	KindInodeBitmap:        "inode-bitmap",
	KindIndirectMap:        "indirect-map",
	KindInode:              "inode",
	KindDirectory:          "directory",
	KindExtentTable:        "extent-table",
	KindJournal:            "journal",
	KindExtendedAttribute:  "extended-attribute",
	KindCheckpoint:         "checkpoint",
	KindSegmentInfoTable:   "sit",
	KindNodeAddressTable:   "nat",
	KindSegmentSummaryArea: "ssa",
	KindDataBlock:          "data",
	KindDirectNode:         "direct-node",
	KindIndirectNode:       "indirect-node",
}

// String returns the kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// NAT rule addressing modes.
const (
	NATModeBlock = 'b'
	NATModeInode = 'i'
)

// Resolved is the concrete location a path-like rule resolves to.
type Resolved struct {
	Block  uint64
	Offset uint32
	Size   uint32
}

// Rule is one corruption directive.
type Rule struct {
	// Raw is the specification token the rule was parsed from.
	Raw string

	Kind Kind
	Op   types.Op

	// Number is the sector, block, inode, group or index the rule concerns.
	Number uint64
	// AnyNumber makes the rule match every Number of its kind.
	AnyNumber bool

	Field string
	Path  string

	// Offset and Size are an explicit byte range when HasRange is set.
	Offset   uint32
	Size     uint32
	HasRange bool

	// Index selects one entry of a table (group descriptor index).
	Index uint32

	// NATMode is NATModeBlock or NATModeInode for node address table rules.
	NATMode byte

	Activation *Activation

	seq uint64

	resolveOnce sync.Once
	resolved    Resolved
	resolveErr  error
	isResolved  atomic.Bool

	inert  atomic.Bool
	reason atomic.Pointer[string]
}

// NewRule builds a rule with the default Countdown(0) activation.
func NewRule(kind Kind, op types.Op, number uint64) *Rule {
	return &Rule{
		Kind:       kind,
		Op:         op,
		Number:     number,
		Activation: NewCountdown(0),
	}
}

// Seq is the rule's position in its store, which is also its match priority.
func (r *Rule) Seq() uint64 {
	return r.seq
}

// Resolve runs fn at most once and caches its result on the rule. A failed
// resolution makes the rule inert.
func (r *Rule) Resolve(fn func() (Resolved, error)) (Resolved, error) {
	r.resolveOnce.Do(func() {
		res, err := fn()
		if err != nil {
			r.resolveErr = err
			r.MarkInert(err.Error())
			return
		}
		r.resolved = res
		r.isResolved.Store(true)
	})
	return r.resolved, r.resolveErr
}

// Resolution returns the cached location written by Resolve.
func (r *Rule) Resolution() (Resolved, bool) {
	if !r.isResolved.Load() {
		return Resolved{}, false
	}
	return r.resolved, true
}

// MatchNumber is the number the store indexes the rule under.
func (r *Rule) MatchNumber() uint64 {
	if res, ok := r.Resolution(); ok {
		return res.Block
	}
	return r.Number
}

// MarkInert permanently disables the rule.
func (r *Rule) MarkInert(reason string) {
	r.reason.Store(&reason)
	r.inert.Store(true)
}

// Inert reports whether the rule can never match.
func (r *Rule) Inert() bool {
	return r.inert.Load()
}

// InertReason returns why the rule went inert.
func (r *Rule) InertReason() string {
	if p := r.reason.Load(); p != nil {
		return *p
	}
	return ""
}

// HasField reports whether a named sub-field was given.
func (r *Rule) HasField() bool {
	return r.Field != ""
}

// String renders the rule for log lines.
func (r *Rule) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", r.Op, r.Kind)
	if r.AnyNumber {
		b.WriteString(" *")
	} else {
		fmt.Fprintf(&b, " %d", r.Number)
	}
	if r.Path != "" {
		fmt.Fprintf(&b, " %s", r.Path)
	}
	if r.Index != 0 {
		fmt.Fprintf(&b, " #%d", r.Index)
	}
	if r.Field != "" {
		fmt.Fprintf(&b, " [%s]", r.Field)
	}
	if r.HasRange {
		fmt.Fprintf(&b, " [%d+%d]", r.Offset, r.Size)
	}
	fmt.Fprintf(&b, " %s", r.Activation)
	return b.String()
}
