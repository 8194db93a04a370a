// Package helpers holds the byte-level corruption primitives shared by the
// filesystem locators.
package helpers

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-blockinject/internal/interfaces"
	"github.com/deploymenttheory/go-blockinject/internal/rules"
)

// Action names recorded on mutations.
const (
	ActionZero       = "zero"
	ActionComplement = "complement"
	ActionFlip       = "flip"
	ActionClearBits  = "clear-bits"
	ActionNullEntry  = "null-entry"
)

// ZeroRange zeroes [off, off+size) of the block where the access carries it.
func ZeroRange(acc *interfaces.BlockAccess, r *rules.Rule, off, size uint32) (interfaces.Mutation, bool) {
	buf := acc.Range(off, size)
	if len(buf) == 0 {
		return interfaces.Mutation{}, false
	}
	clear(buf)
	return mutation(acc, r, off, size, ActionZero), true
}

// ZeroBlock zeroes every byte of the block present in the access.
func ZeroBlock(acc *interfaces.BlockAccess, r *rules.Rule) (interfaces.Mutation, bool) {
	return ZeroRange(acc, r, 0, acc.BlockSize)
}

// ComplementRange inverts every bit of [off, off+size).
func ComplementRange(acc *interfaces.BlockAccess, r *rules.Rule, off, size uint32) (interfaces.Mutation, bool) {
	buf := acc.Range(off, size)
	if len(buf) == 0 {
		return interfaces.Mutation{}, false
	}
	for i := range buf {
		buf[i] = ^buf[i]
	}
	return mutation(acc, r, off, size, ActionComplement), true
}

// FlipRandomByte inverts one randomly chosen byte of the block.
func FlipRandomByte(acc *interfaces.BlockAccess, r *rules.Rule) (interfaces.Mutation, bool, error) {
	if len(acc.Data) == 0 {
		return interfaces.Mutation{}, false, nil
	}
	idx, err := RandomIndex(len(acc.Data))
	if err != nil {
		return interfaces.Mutation{}, false, err
	}
	acc.Data[idx] ^= 0xFF
	off := acc.Offset + uint32(idx)
	return mutation(acc, r, off, 1, ActionFlip), true, nil
}

// RandomIndex returns a uniformly chosen index below n.
func RandomIndex(n int) (int, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to read random offset: %w", err)
	}
	return int(binary.LittleEndian.Uint64(b[:]) % uint64(n)), nil
}

// ClearBits clears bits [first, first+count) of a little-endian bitmap
// starting at byte off of the block.
func ClearBits(acc *interfaces.BlockAccess, r *rules.Rule, off uint32, first, count uint32) (interfaces.Mutation, bool) {
	bytes := (first + count + 7) / 8
	buf := acc.Range(off, bytes)
	if len(buf) == 0 {
		return interfaces.Mutation{}, false
	}
	base := uint32(0)
	if off < acc.Offset {
		base = acc.Offset - off
	}
	changed := false
	for bit := first; bit < first+count; bit++ {
		byteIdx := bit / 8
		if byteIdx < base || byteIdx-base >= uint32(len(buf)) {
			continue
		}
		buf[byteIdx-base] &^= 1 << (bit % 8)
		changed = true
	}
	if !changed {
		return interfaces.Mutation{}, false
	}
	return mutation(acc, r, off, bytes, ActionClearBits), true
}

// ZeroStrided zeroes size bytes at off inside each of count records laid out
// stride bytes apart. The mutation spans the first to the last record touched.
func ZeroStrided(acc *interfaces.BlockAccess, r *rules.Rule, off, size, stride, count uint32) (interfaces.Mutation, bool) {
	first, last := int64(-1), int64(-1)
	for i := uint32(0); i < count; i++ {
		start := i*stride + off
		buf := acc.Range(start, size)
		if len(buf) == 0 {
			continue
		}
		clear(buf)
		if first < 0 {
			first = int64(start)
		}
		last = int64(start + size)
	}
	if first < 0 {
		return interfaces.Mutation{}, false
	}
	return mutation(acc, r, uint32(first), uint32(last-first), ActionZero), true
}

// NullEntry zeroes one table entry's [off, off+size) and records it as a
// nulled entry.
func NullEntry(acc *interfaces.BlockAccess, r *rules.Rule, off, size uint32) (interfaces.Mutation, bool) {
	buf := acc.Range(off, size)
	if len(buf) == 0 {
		return interfaces.Mutation{}, false
	}
	clear(buf)
	return mutation(acc, r, off, size, ActionNullEntry), true
}

func mutation(acc *interfaces.BlockAccess, r *rules.Rule, off, size uint32, action string) interfaces.Mutation {
	return interfaces.Mutation{
		Rule:   r,
		Block:  acc.Block,
		Offset: off,
		Size:   size,
		Action: action,
	}
}
