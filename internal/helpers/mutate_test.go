package helpers

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-blockinject/internal/interfaces"
	"github.com/deploymenttheory/go-blockinject/internal/rules"
	"github.com/deploymenttheory/go-blockinject/internal/types"
)

func filled(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestZeroRange(t *testing.T) {
	testCases := []struct {
		name       string
		accOffset  uint32
		dataLen    int
		off, size  uint32
		applied    bool
		zeroedFrom int
		zeroedTo   int
	}{
		{"inside access", 0, 4096, 100, 8, true, 100, 108},
		{"clamped at access start", 1024, 512, 1000, 100, true, 0, 76},
		{"clamped at access end", 0, 512, 500, 100, true, 500, 512},
		{"outside access", 2048, 512, 0, 512, false, 0, 0},
	}

	r := rules.NewRule(rules.KindBlock, types.OpAny, 1)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			acc := &interfaces.BlockAccess{Block: 1, Data: filled(tc.dataLen, 0xAA), Offset: tc.accOffset, BlockSize: 4096}
			m, ok := ZeroRange(acc, r, tc.off, tc.size)
			require.Equal(t, tc.applied, ok)
			if !ok {
				assert.Equal(t, filled(tc.dataLen, 0xAA), acc.Data)
				return
			}
			assert.Equal(t, ActionZero, m.Action)
			assert.Equal(t, uint64(1), m.Block)
			for i, b := range acc.Data {
				if i >= tc.zeroedFrom && i < tc.zeroedTo {
					assert.Equal(t, byte(0), b, "byte %d", i)
				} else {
					assert.Equal(t, byte(0xAA), b, "byte %d", i)
				}
			}
		})
	}
}

func TestComplementRange(t *testing.T) {
	acc := &interfaces.BlockAccess{Data: []byte{0x00, 0xF0, 0x0F, 0xFF}, BlockSize: 4096}
	_, ok := ComplementRange(acc, nil, 1, 2)
	require.True(t, ok)
	assert.Equal(t, []byte{0x00, 0x0F, 0xF0, 0xFF}, acc.Data)
}

func TestFlipRandomByte(t *testing.T) {
	orig := filled(4096, 0x5A)
	acc := &interfaces.BlockAccess{Data: append([]byte(nil), orig...), BlockSize: 4096}

	m, ok, err := FlipRandomByte(acc, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ActionFlip, m.Action)

	diff := 0
	for i := range orig {
		if orig[i] != acc.Data[i] {
			diff++
			assert.Equal(t, byte(0xA5), acc.Data[i])
			assert.Equal(t, uint32(i), m.Offset)
		}
	}
	assert.Equal(t, 1, diff)
}

func TestClearBits(t *testing.T) {
	acc := &interfaces.BlockAccess{Data: filled(32, 0xFF), BlockSize: 4096}
	_, ok := ClearBits(acc, nil, 0, 0, 27)
	require.True(t, ok)

	assert.Equal(t, []byte{0, 0, 0}, acc.Data[:3])
	// bits 24..26 cleared, 27..31 kept
	assert.Equal(t, byte(0xF8), acc.Data[3])
	assert.Equal(t, byte(0xFF), acc.Data[4])
}

func TestRandomIndexBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		idx, err := RandomIndex(7)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 7)
	}
}

func TestZeroStrided(t *testing.T) {
	acc := &interfaces.BlockAccess{Data: filled(40, 0xFF), BlockSize: 4096}
	m, ok := ZeroStrided(acc, nil, 2, 3, 10, 4)
	require.True(t, ok)
	assert.Equal(t, uint32(2), m.Offset)
	assert.Equal(t, uint32(35-2), m.Size)

	for i, b := range acc.Data {
		if i%10 >= 2 && i%10 < 5 {
			assert.Equal(t, byte(0), b, "byte %d", i)
		} else {
			assert.Equal(t, byte(0xFF), b, "byte %d", i)
		}
	}
}

func TestZeroStridedOutsideAccess(t *testing.T) {
	acc := &interfaces.BlockAccess{Data: filled(8, 0xFF), Offset: 100, BlockSize: 4096}
	_, ok := ZeroStrided(acc, nil, 0, 2, 10, 5)
	assert.False(t, ok)
	assert.Equal(t, filled(8, 0xFF), acc.Data)
}

func TestNullEntry(t *testing.T) {
	acc := &interfaces.BlockAccess{Data: filled(18, 0xFF), BlockSize: 4096}
	m, ok := NullEntry(acc, nil, 10, 8)
	require.True(t, ok)
	assert.Equal(t, ActionNullEntry, m.Action)
	assert.Equal(t, filled(10, 0xFF), acc.Data[:10])
	assert.Equal(t, filled(8, 0), acc.Data[10:])
}
