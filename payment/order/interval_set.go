package order

import (
	"github.com/google/btree"
)

// IntervalSet is a set of integers stored as maximal runs of consecutive
// values in a B-tree. Add and NextMissing are O(log n) in the number
// of runs, so a crowded offset window costs no more than a sparse one.
type IntervalSet struct {
	tree *btree.BTreeG[interval]
}

// interval is the closed run [l, r]. Runs never overlap or touch.
type interval struct {
	l, r int64
}

func NewIntervalSet() *IntervalSet {
	return &IntervalSet{
		tree: btree.NewG(2, func(a, b interval) bool { return a.l < b.l }),
	}
}

// floor returns the run with the largest start <= x.
func (s *IntervalSet) floor(x int64) (interval, bool) {
	var found interval
	ok := false
	s.tree.DescendLessOrEqual(interval{l: x}, func(it interval) bool {
		found, ok = it, true
		return false
	})
	return found, ok
}

// Add a number to the set
func (s *IntervalSet) Add(x int64) {
	lo, hi := x, x
	if prev, ok := s.floor(x); ok {
		if prev.r >= x {
			return
		}
		if prev.r+1 == x {
			s.tree.Delete(prev)
			lo = prev.l
		}
	}
	// a run starting right after x is absorbed
	if next, ok := s.tree.Get(interval{l: x + 1}); ok {
		s.tree.Delete(next)
		hi = next.r
	}
	s.tree.ReplaceOrInsert(interval{lo, hi})
}

// NextMissing returns the smallest integer >= x that is not in the set
func (s *IntervalSet) NextMissing(x int64) int64 {
	if run, ok := s.floor(x); ok && run.r >= x {
		return run.r + 1
	}
	return x
}
