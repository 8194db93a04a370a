package rules

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestCountdownSequence(t *testing.T) {
	testCases := []struct {
		name     string
		n        uint64
		accesses int
		expected []Decision
	}{
		{"zero fires immediately", 0, 3, []Decision{Fire, Fire, Fire}},
		{"one lets one pass", 1, 3, []Decision{Armed, Fire, Fire}},
		{"three lets three pass", 3, 5, []Decision{Armed, Armed, Armed, Fire, Fire}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := NewCountdown(tc.n)
			got := make([]Decision, 0, tc.accesses)
			for i := 0; i < tc.accesses; i++ {
				got = append(got, a.Decide(false))
			}
			assert.Equal(t, tc.expected, got)
			assert.Equal(t, uint64(0), a.Remaining())
			assert.True(t, a.Fired())
		})
	}
}

func TestOneShotIgnoresGlobalSwitch(t *testing.T) {
	a := NewOneShot()
	assert.Equal(t, "oneshot:ready", a.String())
	assert.Equal(t, Fire, a.Decide(false))
	assert.Equal(t, Fire, a.Decide(true))
	assert.Equal(t, uint64(2), a.Fires())
	assert.Equal(t, "oneshot:fired", a.String())
}

func TestGlobalZeroFollowsSwitch(t *testing.T) {
	a := NewGlobalZero()
	assert.Equal(t, NoMatch, a.Decide(false))
	assert.False(t, a.Fired())
	assert.Equal(t, Fire, a.Decide(true))
	assert.Equal(t, NoMatch, a.Decide(false))
	assert.Equal(t, uint64(1), a.Fires())
}

func TestActivationString(t *testing.T) {
	a := NewCountdown(2)
	assert.Equal(t, "countdown(2):armed(2)", a.String())
	a.Decide(false)
	assert.Equal(t, "countdown(2):armed(1)", a.String())
	a.Decide(false)
	assert.Equal(t, "countdown(2):triggered", a.String())
}

// TestCountdownConcurrent checks that concurrent matchers share one budget:
// with M accesses against Countdown(n), exactly M-n fire.
func TestCountdownConcurrent(t *testing.T) {
	testCases := []struct {
		name    string
		workers int
		perWork int
		n       uint64
	}{
		{"small budget", 8, 100, 5},
		{"budget larger than workers", 16, 64, 300},
		{"zero budget", 4, 50, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := NewCountdown(tc.n)
			var fired, armed atomic.Int64

			var g errgroup.Group
			for w := 0; w < tc.workers; w++ {
				g.Go(func() error {
					for i := 0; i < tc.perWork; i++ {
						switch a.Decide(false) {
						case Fire:
							fired.Add(1)
						case Armed:
							armed.Add(1)
						}
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())

			total := int64(tc.workers * tc.perWork)
			assert.Equal(t, int64(tc.n), armed.Load())
			assert.Equal(t, total-int64(tc.n), fired.Load())
			assert.Equal(t, uint64(fired.Load()), a.Fires())
		})
	}
}
