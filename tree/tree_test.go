package tree

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/maci-core/types"
)

func leavesFrom(start, n int) []*big.Int {
	leaves := make([]*big.Int, n)
	for i := range leaves {
		leaves[i] = big.NewInt(int64(start + i + 1))
	}
	return leaves
}

func mergedRoot(c *qt.C, q *AccQueue, numOps, depth int) *big.Int {
	for !q.SubTreesMerged() {
		c.Assert(q.MergeSubRoots(numOps), qt.IsNil)
	}
	c.Assert(q.Merge(depth), qt.IsNil)
	root, err := q.Root(depth)
	c.Assert(err, qt.IsNil)
	return root
}

func TestAccQueueMatchesNaiveRoot(t *testing.T) {
	c := qt.New(t)
	for _, arity := range []int{2, 5} {
		for _, subDepth := range []int{1, 2} {
			const depth = 4
			capacity := types.Pow(arity, depth)
			for _, n := range []int{0, 1, 2, arity - 1, arity, arity + 1, types.Pow(arity, subDepth) + 3, capacity - 1, capacity} {
				leaves := leavesFrom(0, n)
				q, err := NewAccQueue(subDepth, arity, big.NewInt(0))
				c.Assert(err, qt.IsNil)
				for i, leaf := range leaves {
					idx, err := q.Enqueue(leaf)
					c.Assert(err, qt.IsNil)
					c.Assert(idx, qt.Equals, i)
				}
				want, err := RootFromLeaves(arity, depth, big.NewInt(0), leaves)
				c.Assert(err, qt.IsNil)
				got := mergedRoot(c, q, 0, depth)
				c.Assert(got.Cmp(want), qt.Equals, 0, qt.Commentf("arity %d subDepth %d leaves %d", arity, subDepth, n))
			}
		}
	}
}

func TestAccQueueBoundedMergeOps(t *testing.T) {
	c := qt.New(t)
	const depth = 3
	leaves := leavesFrom(0, 57)

	q, err := NewAccQueue(1, 5, types.NothingUpMySleeve)
	c.Assert(err, qt.IsNil)
	for _, leaf := range leaves {
		_, err := q.Enqueue(leaf)
		c.Assert(err, qt.IsNil)
	}
	want, err := RootFromLeaves(5, depth, types.NothingUpMySleeve, leaves)
	c.Assert(err, qt.IsNil)

	// 12 sub-roots merged two at a time
	c.Assert(q.MergeSubRoots(2), qt.IsNil)
	c.Assert(q.SubTreesMerged(), qt.IsFalse)
	c.Assert(q.Merge(depth), qt.ErrorIs, ErrSubTreesNotMerged)
	got := mergedRoot(c, q, 2, depth)
	c.Assert(got.Cmp(want), qt.Equals, 0)

	// merging again is a no-op
	c.Assert(q.MergeSubRoots(0), qt.IsNil)
	c.Assert(q.SmallSRTroot(), qt.IsNotNil)
}

func TestAccQueueEnqueueAfterMerge(t *testing.T) {
	c := qt.New(t)
	const depth = 3
	q, err := NewAccQueue(2, 5, big.NewInt(0))
	c.Assert(err, qt.IsNil)

	leaves := leavesFrom(0, 7)
	for _, leaf := range leaves {
		_, err := q.Enqueue(leaf)
		c.Assert(err, qt.IsNil)
	}
	first := mergedRoot(c, q, 0, depth)
	want, err := RootFromLeaves(5, depth, big.NewInt(0), leaves)
	c.Assert(err, qt.IsNil)
	c.Assert(first.Cmp(want), qt.Equals, 0)

	// the merge did not mutate the partial sub-tree, so appending keeps
	// building the same tree
	more := leavesFrom(7, 30)
	for _, leaf := range more {
		_, err := q.Enqueue(leaf)
		c.Assert(err, qt.IsNil)
	}
	c.Assert(q.SubTreesMerged(), qt.IsFalse)
	_, err = q.Root(depth)
	c.Assert(err, qt.ErrorIs, ErrNotMerged)

	all := append(leaves, more...)
	want, err = RootFromLeaves(5, depth, big.NewInt(0), all)
	c.Assert(err, qt.IsNil)
	c.Assert(mergedRoot(c, q, 1, depth).Cmp(want), qt.Equals, 0)
}

func TestAccQueueZeroLeaves(t *testing.T) {
	c := qt.New(t)
	zeros, err := ZeroValues(5, types.NothingUpMySleeve, 4)
	c.Assert(err, qt.IsNil)

	q, err := NewAccQueue(2, 5, types.NothingUpMySleeve)
	c.Assert(err, qt.IsNil)
	c.Assert(mergedRoot(c, q, 0, 4).Cmp(zeros[4]), qt.Equals, 0)

	// enqueueing only zero leaves keeps the zero root
	for range 13 {
		_, err := q.Enqueue(types.NothingUpMySleeve)
		c.Assert(err, qt.IsNil)
	}
	c.Assert(mergedRoot(c, q, 0, 4).Cmp(zeros[4]), qt.Equals, 0)
}

func TestZeroValuesAreCopies(t *testing.T) {
	c := qt.New(t)
	want, err := ZeroValues(5, big.NewInt(0), 3)
	c.Assert(err, qt.IsNil)
	wantRoot := new(big.Int).Set(want[3])

	zeros, err := ZeroValues(5, big.NewInt(0), 3)
	c.Assert(err, qt.IsNil)
	zeros[3].SetInt64(1)

	q, err := NewAccQueue(1, 5, big.NewInt(0))
	c.Assert(err, qt.IsNil)
	q.Zero(3).SetInt64(2)
	tr, err := NewQuinTree(3, 5, big.NewInt(0))
	c.Assert(err, qt.IsNil)
	tr.Zero(3).SetInt64(3)

	zeros, err = ZeroValues(5, big.NewInt(0), 3)
	c.Assert(err, qt.IsNil)
	c.Assert(zeros[3].Cmp(wantRoot), qt.Equals, 0)
	c.Assert(q.Zero(3).Cmp(wantRoot), qt.Equals, 0)
	c.Assert(tr.Root().Cmp(wantRoot), qt.Equals, 0)
}

func TestAccQueueMergeDepthTooSmall(t *testing.T) {
	c := qt.New(t)
	q, err := NewAccQueue(1, 2, big.NewInt(0))
	c.Assert(err, qt.IsNil)
	for _, leaf := range leavesFrom(0, 5) {
		_, err := q.Enqueue(leaf)
		c.Assert(err, qt.IsNil)
	}
	c.Assert(q.MergeSubRoots(0), qt.IsNil)
	c.Assert(q.Merge(2), qt.ErrorMatches, "depth 2 cannot hold 5 leaves")
	c.Assert(q.Merge(3), qt.IsNil)
}

func TestAccQueueInsertSubTree(t *testing.T) {
	c := qt.New(t)
	const depth = 3
	sub := leavesFrom(100, 5)
	subRoot, err := RootFromLeaves(5, 1, big.NewInt(0), sub)
	c.Assert(err, qt.IsNil)

	q, err := NewAccQueue(1, 5, big.NewInt(0))
	c.Assert(err, qt.IsNil)
	c.Assert(q.InsertSubTree(subRoot), qt.IsNil)
	c.Assert(q.NumLeaves(), qt.Equals, 5)
	_, err = q.Enqueue(big.NewInt(9))
	c.Assert(err, qt.IsNil)
	c.Assert(q.InsertSubTree(subRoot), qt.ErrorMatches, "current sub-tree is not complete")

	want, err := RootFromLeaves(5, depth, big.NewInt(0), append(sub, big.NewInt(9)))
	c.Assert(err, qt.IsNil)
	c.Assert(mergedRoot(c, q, 0, depth).Cmp(want), qt.Equals, 0)
}

func TestAccQueueCopy(t *testing.T) {
	c := qt.New(t)
	q, err := NewAccQueue(1, 5, big.NewInt(0))
	c.Assert(err, qt.IsNil)
	for _, leaf := range leavesFrom(0, 8) {
		_, err := q.Enqueue(leaf)
		c.Assert(err, qt.IsNil)
	}
	cp := q.Copy()
	_, err = cp.Enqueue(big.NewInt(99))
	c.Assert(err, qt.IsNil)
	c.Assert(q.NumLeaves(), qt.Equals, 8)
	c.Assert(cp.NumLeaves(), qt.Equals, 9)

	want, err := RootFromLeaves(5, 2, big.NewInt(0), leavesFrom(0, 8))
	c.Assert(err, qt.IsNil)
	c.Assert(mergedRoot(c, q, 0, 2).Cmp(want), qt.Equals, 0)
}

func TestQuinTreeRootAndPaths(t *testing.T) {
	c := qt.New(t)
	const depth = 3
	leaves := leavesFrom(0, 31)
	tree, err := NewQuinTree(depth, 5, big.NewInt(0))
	c.Assert(err, qt.IsNil)
	for _, leaf := range leaves {
		_, err := tree.Insert(leaf)
		c.Assert(err, qt.IsNil)
	}
	want, err := RootFromLeaves(5, depth, big.NewInt(0), leaves)
	c.Assert(err, qt.IsNil)
	c.Assert(tree.Root().Cmp(want), qt.Equals, 0)

	for _, idx := range []int{0, 4, 5, 30, 31, 124} {
		path, err := tree.GenMerklePath(idx)
		c.Assert(err, qt.IsNil)
		c.Assert(path.PathElements, qt.HasLen, depth)
		c.Assert(path.PathElements[0], qt.HasLen, 4)
		ok, err := VerifyMerklePath(path)
		c.Assert(err, qt.IsNil)
		c.Assert(ok, qt.IsTrue, qt.Commentf("index %d", idx))
	}

	// updates are reflected in the root and invalidate older paths
	old, err := tree.GenMerklePath(7)
	c.Assert(err, qt.IsNil)
	c.Assert(tree.Update(7, big.NewInt(1000)), qt.IsNil)
	leaves[7] = big.NewInt(1000)
	want, err = RootFromLeaves(5, depth, big.NewInt(0), leaves)
	c.Assert(err, qt.IsNil)
	c.Assert(tree.Root().Cmp(want), qt.Equals, 0)
	old.Root = tree.Root()
	ok, err := VerifyMerklePath(old)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)

	c.Assert(tree.Update(31, big.NewInt(1)), qt.ErrorMatches, "leaf index 31 out of range")
}

func TestQuinTreeSubrootPath(t *testing.T) {
	c := qt.New(t)
	tree, err := NewQuinTree(3, 5, types.NothingUpMySleeve)
	c.Assert(err, qt.IsNil)
	for _, leaf := range leavesFrom(0, 40) {
		_, err := tree.Insert(leaf)
		c.Assert(err, qt.IsNil)
	}
	path, err := tree.GenSubrootPath(25, 50)
	c.Assert(err, qt.IsNil)
	c.Assert(path.PathElements, qt.HasLen, 1)
	ok, err := VerifyMerklePath(path)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)

	path, err = tree.GenSubrootPath(10, 15)
	c.Assert(err, qt.IsNil)
	c.Assert(path.PathElements, qt.HasLen, 2)
	ok, err = VerifyMerklePath(path)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)

	_, err = tree.GenSubrootPath(3, 8)
	c.Assert(err, qt.ErrorMatches, `range \[3, 8\) is not a sub-tree`)
	_, err = tree.GenSubrootPath(0, 6)
	c.Assert(err, qt.ErrorMatches, `range \[0, 6\) is not a sub-tree`)
}

func TestQuinTreeCopyIsIndependent(t *testing.T) {
	c := qt.New(t)
	tree, err := NewQuinTree(2, 5, big.NewInt(0))
	c.Assert(err, qt.IsNil)
	_, err = tree.Insert(big.NewInt(1))
	c.Assert(err, qt.IsNil)
	root := tree.Root()

	cp := tree.Copy()
	c.Assert(cp.Update(0, big.NewInt(2)), qt.IsNil)
	c.Assert(tree.Root().Cmp(root), qt.Equals, 0)
	c.Assert(cp.Root().Cmp(root), qt.Not(qt.Equals), 0)
}

func TestRootFromLeavesErrors(t *testing.T) {
	c := qt.New(t)
	_, err := RootFromLeaves(5, 1, big.NewInt(0), leavesFrom(0, 6))
	c.Assert(err, qt.ErrorMatches, "6 leaves do not fit in a tree of depth 1")
	_, err = RootFromLeaves(1, 1, big.NewInt(0), nil)
	c.Assert(err, qt.ErrorMatches, "invalid tree arity 1")

	// wide levels are split across workers
	leaves := leavesFrom(0, 5*groupsPerWorker*3+2)
	root, err := RootFromLeaves(5, 5, big.NewInt(0), leaves)
	c.Assert(err, qt.IsNil)
	tree, err := NewQuinTree(5, 5, big.NewInt(0))
	c.Assert(err, qt.IsNil)
	for _, leaf := range leaves {
		_, err := tree.Insert(leaf)
		c.Assert(err, qt.IsNil)
	}
	c.Assert(tree.Root().Cmp(root), qt.Equals, 0)
}
