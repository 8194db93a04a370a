package rules

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// anyNumber is the index slot for rules that match every number of their kind.
const anyNumber = math.MaxUint64

// Key is one (kind, number) a locator classified an access as.
type Key struct {
	Kind   Kind
	Number uint64
}

// String renders the key as kind:number.
func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.Number)
}

type indexItem struct {
	kind   Kind
	number uint64
	seq    uint64
	rule   *Rule
}

func lessIndexItem(a, b indexItem) bool {
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	if a.number != b.number {
		return a.number < b.number
	}
	return a.seq < b.seq
}

// Store is the ordered rule collection of one session plus its two switches.
// Rules are appended at construction and matched concurrently afterwards.
type Store struct {
	mu    sync.RWMutex
	rules []*Rule
	index *btree.BTreeG[indexItem]

	injectionEnabled atomic.Bool
	globalCorrupt    atomic.Bool

	log *logrus.Entry
}

// NewStore creates an empty store with injection disabled.
func NewStore(log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{
		index: btree.NewG[indexItem](8, lessIndexItem),
		log:   log.WithField("component", "rules"),
	}
}

// Add appends a rule. Store order is match priority.
func (s *Store) Add(r *Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.seq = uint64(len(s.rules))
	s.rules = append(s.rules, r)

	number := r.MatchNumber()
	if r.AnyNumber {
		number = anyNumber
	}
	s.index.ReplaceOrInsert(indexItem{kind: r.Kind, number: number, seq: r.seq, rule: r})

	s.log.WithFields(logrus.Fields{
		"seq":  r.seq,
		"rule": r.String(),
	}).Debug("rule added")
}

// Len returns the number of rules.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Rules returns the rules in store order.
func (s *Store) Rules() []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// SetInjectionEnabled toggles the start/stop switch.
func (s *Store) SetInjectionEnabled(on bool) {
	s.injectionEnabled.Store(on)
}

// InjectionEnabled reports the start/stop switch.
func (s *Store) InjectionEnabled() bool {
	return s.injectionEnabled.Load()
}

// SetGlobalCorrupt toggles the global-zero switch.
func (s *Store) SetGlobalCorrupt(on bool) {
	s.globalCorrupt.Store(on)
}

// GlobalCorrupt reports the global-zero switch.
func (s *Store) GlobalCorrupt() bool {
	return s.globalCorrupt.Load()
}

// ForEachMatching calls fn for every live rule of kind that matches number and
// accepts op, in store order, until fn returns false.
func (s *Store) ForEachMatching(kind Kind, number uint64, op types.Op, fn func(*Rule) bool) {
	for _, r := range s.Matching(op, Key{Kind: kind, Number: number}) {
		if !fn(r) {
			return
		}
	}
}

// ForEachOfKind calls fn for every live rule of kind accepting op, in store order.
func (s *Store) ForEachOfKind(kind Kind, op types.Op, fn func(*Rule) bool) {
	s.mu.RLock()
	var out []*Rule
	s.index.AscendGreaterOrEqual(indexItem{kind: kind}, func(it indexItem) bool {
		if it.kind != kind {
			return false
		}
		if !it.rule.Inert() && it.rule.Op.Matches(op) {
			out = append(out, it.rule)
		}
		return true
	})
	s.mu.RUnlock()

	sortBySeq(out)
	for _, r := range out {
		if !fn(r) {
			return
		}
	}
}

// Matching returns the deduplicated live rules matching any key and accepting
// op, in store order.
func (s *Store) Matching(op types.Op, keys ...Key) []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[uint64]struct{})
	var out []*Rule
	collect := func(kind Kind, number uint64) {
		s.index.AscendGreaterOrEqual(indexItem{kind: kind, number: number}, func(it indexItem) bool {
			if it.kind != kind || it.number != number {
				return false
			}
			if _, dup := seen[it.seq]; dup {
				return true
			}
			if it.rule.Inert() || !it.rule.Op.Matches(op) {
				return true
			}
			seen[it.seq] = struct{}{}
			out = append(out, it.rule)
			return true
		})
	}
	for _, k := range keys {
		collect(k.Kind, k.Number)
		if k.Number != anyNumber {
			collect(k.Kind, anyNumber)
		}
	}

	sortBySeq(out)
	return out
}

// Evaluation is the outcome of consulting every matching rule once.
type Evaluation struct {
	// Fired holds the rules that decided to corrupt, in store order.
	Fired []*Rule
	// Armed is set when at least one rule matched but is not due yet.
	Armed bool
	// Matched counts the rules consulted.
	Matched int
}

// First returns the highest-priority fired rule.
func (e Evaluation) First() *Rule {
	if len(e.Fired) == 0 {
		return nil
	}
	return e.Fired[0]
}

// Decision folds the evaluation into the strongest decision it holds.
func (e Evaluation) Decision() Decision {
	switch {
	case len(e.Fired) > 0:
		return Fire
	case e.Armed:
		return Armed
	}
	return NoMatch
}

// Any reports whether any rule fired.
func (e Evaluation) Any() bool {
	return len(e.Fired) > 0
}

// Evaluate consults the activation of every rule that matches a key, accepts
// op and passes filter. Every consulted rule advances its own state.
func (s *Store) Evaluate(op types.Op, filter func(*Rule) bool, keys ...Key) Evaluation {
	var ev Evaluation
	global := s.GlobalCorrupt()
	for _, r := range s.Matching(op, keys...) {
		if filter != nil && !filter(r) {
			continue
		}
		ev.Matched++
		switch r.Activation.Decide(global) {
		case Fire:
			ev.Fired = append(ev.Fired, r)
		case Armed:
			ev.Armed = true
			s.log.WithFields(logrus.Fields{
				"rule":      r.String(),
				"remaining": r.Activation.Remaining(),
			}).Debug("rule armed")
		}
	}
	return ev
}

func sortBySeq(rs []*Rule) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].seq < rs[j].seq })
}
