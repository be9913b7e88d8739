package tree

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-core/types"
)

var (
	// ErrSubTreesNotMerged is returned by Merge when MergeSubRoots has not
	// completed since the last enqueue.
	ErrSubTreesNotMerged = errors.New("sub-trees not merged")
	// ErrNotMerged is returned by Root when the queue has not been merged to
	// the requested depth since the last enqueue.
	ErrNotMerged = errors.New("queue not merged to the requested depth")
)

// AccQueue is an append-only queue of leaves that maintains the roots of
// fixed size sub-trees incrementally. Enqueue is cheap; computing the root of
// the whole queue is a separate two-phase process: MergeSubRoots folds the
// sub-tree roots into a small tree, and Merge lifts that root to the target
// depth.
type AccQueue struct {
	subDepth        int
	arity           int
	zeros           []*big.Int
	subTreeCapacity int

	// levels[l] holds the pending nodes of level l of the sub-tree being
	// filled, nextIndexPerLevel[l] is the next free slot.
	levels            [][]*big.Int
	nextIndexPerLevel []int
	numLeaves         int
	subRoots          []*big.Int

	// merge progress
	pendingSubRoots []*big.Int
	srQueue         *QuinTree
	srQueued        int
	subTreesMerged  bool
	smallSRTroot    *big.Int
	mainRoots       map[int]*big.Int
}

// NewAccQueue creates an empty queue of sub-trees of depth subDepth. The
// zero value is the empty leaf of the tree.
func NewAccQueue(subDepth, arity int, zero *big.Int) (*AccQueue, error) {
	if subDepth < 1 || subDepth > types.MaxTreeDepth {
		return nil, fmt.Errorf("invalid sub-tree depth %d", subDepth)
	}
	zeros, err := ZeroValues(arity, zero, types.MaxTreeDepth)
	if err != nil {
		return nil, err
	}
	q := &AccQueue{
		subDepth:          subDepth,
		arity:             arity,
		zeros:             zeros,
		subTreeCapacity:   types.Pow(arity, subDepth),
		levels:            make([][]*big.Int, subDepth+1),
		nextIndexPerLevel: make([]int, subDepth+1),
		mainRoots:         make(map[int]*big.Int),
	}
	for i := range q.levels {
		q.levels[i] = make([]*big.Int, arity)
	}
	return q, nil
}

// Arity returns the branching factor of the queue.
func (q *AccQueue) Arity() int { return q.arity }

// SubDepth returns the depth of the queue sub-trees.
func (q *AccQueue) SubDepth() int { return q.subDepth }

// NumLeaves returns the number of leaves enqueued so far, counting the
// leaves of inserted sub-trees.
func (q *AccQueue) NumLeaves() int { return q.numLeaves }

// Zero returns the zero node of the given level.
func (q *AccQueue) Zero(level int) *big.Int { return new(big.Int).Set(q.zeros[level]) }

// SubRoots returns the roots of the completed sub-trees.
func (q *AccQueue) SubRoots() []*big.Int { return cloneBigInts(q.subRoots) }

// SubTreesMerged reports whether MergeSubRoots has completed since the last
// enqueue.
func (q *AccQueue) SubTreesMerged() bool { return q.subTreesMerged }

// SmallSRTroot returns the root of the tree of sub-roots, nil if the
// sub-roots are not merged.
func (q *AccQueue) SmallSRTroot() *big.Int { return q.smallSRTroot }

// Enqueue appends a leaf and returns its index.
func (q *AccQueue) Enqueue(leaf *big.Int) (int, error) {
	if !types.InField(leaf) {
		return 0, fmt.Errorf("leaf is not a field element")
	}
	if q.numLeaves >= types.Pow(q.arity, types.MaxTreeDepth) {
		return 0, fmt.Errorf("queue is full")
	}
	index := q.numLeaves
	if err := q.enqueue(new(big.Int).Set(leaf), 0); err != nil {
		return 0, err
	}
	q.numLeaves++
	if q.numLeaves%q.subTreeCapacity == 0 {
		q.subRoots = append(q.subRoots, q.levels[q.subDepth][0])
		q.levels[q.subDepth][0] = nil
		q.nextIndexPerLevel[q.subDepth] = 0
	}
	q.resetMerge()
	return index, nil
}

// enqueue places a node at the given level, hashing the level upwards when
// it fills up.
func (q *AccQueue) enqueue(node *big.Int, level int) error {
	if level > q.subDepth {
		return fmt.Errorf("level %d above sub-tree depth", level)
	}
	n := q.nextIndexPerLevel[level]
	q.levels[level][n] = node
	if level == q.subDepth || n < q.arity-1 {
		q.nextIndexPerLevel[level]++
		return nil
	}
	hashed, err := HashNodes(q.levels[level]...)
	if err != nil {
		return fmt.Errorf("hash level %d: %w", level, err)
	}
	for i := range q.levels[level] {
		q.levels[level][i] = nil
	}
	q.nextIndexPerLevel[level] = 0
	return q.enqueue(hashed, level+1)
}

// InsertSubTree appends a whole sub-tree given its root. It requires the
// current sub-tree to be empty.
func (q *AccQueue) InsertSubTree(root *big.Int) error {
	if !types.InField(root) {
		return fmt.Errorf("sub-tree root is not a field element")
	}
	if q.numLeaves%q.subTreeCapacity != 0 {
		return fmt.Errorf("current sub-tree is not complete")
	}
	q.subRoots = append(q.subRoots, new(big.Int).Set(root))
	q.numLeaves += q.subTreeCapacity
	q.resetMerge()
	return nil
}

// resetMerge discards any merge progress.
func (q *AccQueue) resetMerge() {
	q.pendingSubRoots = nil
	q.srQueue = nil
	q.srQueued = 0
	q.subTreesMerged = false
	q.smallSRTroot = nil
	clear(q.mainRoots)
}

// partialSubRoot returns the root of the sub-tree being filled, padded with
// zeros, without touching the queue. It returns nil if that sub-tree is
// empty.
func (q *AccQueue) partialSubRoot() (*big.Int, error) {
	if q.numLeaves%q.subTreeCapacity == 0 {
		return nil, nil
	}
	var carry *big.Int
	children := make([]*big.Int, q.arity)
	for level := 0; level < q.subDepth; level++ {
		n := q.nextIndexPerLevel[level]
		if n == 0 && carry == nil {
			continue
		}
		copy(children, q.levels[level][:n])
		next := n
		if carry != nil {
			children[next] = carry
			next++
		}
		for i := next; i < q.arity; i++ {
			children[i] = q.zeros[level]
		}
		h, err := HashNodes(children...)
		if err != nil {
			return nil, fmt.Errorf("hash partial level %d: %w", level, err)
		}
		carry = h
	}
	return carry, nil
}

// MergeSubRoots folds the sub-tree roots into a single small tree. The
// sub-tree being filled is padded with zeros; the queue itself is left
// untouched so more leaves may be enqueued later. numOps bounds the number
// of sub-roots processed in this call, 0 processes all of them. Calling it
// once the sub-roots are merged is a no-op.
func (q *AccQueue) MergeSubRoots(numOps int) error {
	if numOps < 0 {
		return fmt.Errorf("invalid number of operations %d", numOps)
	}
	if q.subTreesMerged {
		return nil
	}
	if q.srQueue == nil {
		pending := cloneBigInts(q.subRoots)
		partial, err := q.partialSubRoot()
		if err != nil {
			return err
		}
		if partial != nil {
			pending = append(pending, partial)
		}
		if len(pending) == 0 {
			pending = append(pending, q.zeros[q.subDepth])
		}
		depth := calcDepth(q.arity, len(pending))
		if q.subDepth+depth > types.MaxTreeDepth {
			return fmt.Errorf("too many sub-trees: %d", len(pending))
		}
		srQueue, err := NewQuinTree(depth, q.arity, q.zeros[q.subDepth])
		if err != nil {
			return err
		}
		q.srQueue = srQueue
		q.pendingSubRoots = pending
		q.srQueued = 0
	}
	remaining := len(q.pendingSubRoots) - q.srQueued
	if numOps > 0 && numOps < remaining {
		remaining = numOps
	}
	for range remaining {
		if _, err := q.srQueue.Insert(q.pendingSubRoots[q.srQueued]); err != nil {
			return fmt.Errorf("queue sub-root %d: %w", q.srQueued, err)
		}
		q.srQueued++
	}
	if q.srQueued < len(q.pendingSubRoots) {
		return nil
	}
	q.smallSRTroot = q.srQueue.Root()
	q.subTreesMerged = true
	q.srQueue = nil
	q.pendingSubRoots = nil
	return nil
}

// smallSRTdepth returns the depth of the tree of sub-roots.
func (q *AccQueue) smallSRTdepth() int {
	n := len(q.subRoots)
	if q.numLeaves%q.subTreeCapacity != 0 || n == 0 {
		n++
	}
	return calcDepth(q.arity, n)
}

// Merge computes the root of the queue as a tree of the given depth. It
// requires the sub-roots to be merged.
func (q *AccQueue) Merge(depth int) error {
	if !q.subTreesMerged {
		return ErrSubTreesNotMerged
	}
	if depth > types.MaxTreeDepth {
		return fmt.Errorf("invalid tree depth %d", depth)
	}
	srDepth := q.smallSRTdepth()
	if depth < q.subDepth+srDepth {
		return fmt.Errorf("depth %d cannot hold %d leaves", depth, q.numLeaves)
	}
	root := q.smallSRTroot
	children := make([]*big.Int, q.arity)
	for level := q.subDepth + srDepth; level < depth; level++ {
		children[0] = root
		for i := 1; i < q.arity; i++ {
			children[i] = q.zeros[level]
		}
		h, err := HashNodes(children...)
		if err != nil {
			return fmt.Errorf("lift root to level %d: %w", level+1, err)
		}
		root = h
	}
	q.mainRoots[depth] = root
	return nil
}

// Root returns the root computed by Merge for the given depth.
func (q *AccQueue) Root(depth int) (*big.Int, error) {
	root, ok := q.mainRoots[depth]
	if !ok {
		return nil, ErrNotMerged
	}
	return new(big.Int).Set(root), nil
}

// HasRoot reports whether the queue has been merged to the given depth.
func (q *AccQueue) HasRoot(depth int) bool {
	_, ok := q.mainRoots[depth]
	return ok
}

// Copy returns a deep copy of the queue, merge progress included.
func (q *AccQueue) Copy() *AccQueue {
	c := &AccQueue{
		subDepth:          q.subDepth,
		arity:             q.arity,
		zeros:             q.zeros,
		subTreeCapacity:   q.subTreeCapacity,
		levels:            make([][]*big.Int, len(q.levels)),
		nextIndexPerLevel: append([]int(nil), q.nextIndexPerLevel...),
		numLeaves:         q.numLeaves,
		subRoots:          cloneBigInts(q.subRoots),
		pendingSubRoots:   cloneBigInts(q.pendingSubRoots),
		srQueued:          q.srQueued,
		subTreesMerged:    q.subTreesMerged,
		mainRoots:         make(map[int]*big.Int, len(q.mainRoots)),
	}
	for i, level := range q.levels {
		c.levels[i] = cloneBigInts(level)
	}
	if q.srQueue != nil {
		c.srQueue = q.srQueue.Copy()
	}
	if q.smallSRTroot != nil {
		c.smallSRTroot = new(big.Int).Set(q.smallSRTroot)
	}
	for d, r := range q.mainRoots {
		c.mainRoots[d] = new(big.Int).Set(r)
	}
	return c
}
