package tree

import (
	"fmt"
	"math/big"
	"runtime"

	"github.com/vocdoni/maci-core/types"
	"golang.org/x/sync/errgroup"
)

// groupsPerWorker is the number of nodes a single goroutine hashes when a
// level is split across workers.
const groupsPerWorker = 64

// RootFromLeaves computes the root of a full tree of the given depth and
// arity holding leaves, padded with the zero leaf. The nodes of each level
// are hashed in parallel.
func RootFromLeaves(arity, depth int, zero *big.Int, leaves []*big.Int) (*big.Int, error) {
	zeros, err := ZeroValues(arity, zero, depth)
	if err != nil {
		return nil, err
	}
	if len(leaves) > types.Pow(arity, depth) {
		return nil, fmt.Errorf("%d leaves do not fit in a tree of depth %d", len(leaves), depth)
	}
	if !types.InField(leaves...) {
		return nil, fmt.Errorf("leaves must be field elements")
	}
	level := leaves
	for l := 0; l < depth; l++ {
		if len(level) == 0 {
			return new(big.Int).Set(zeros[depth]), nil
		}
		next, err := hashLevel(level, arity, zeros[l])
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", l, err)
		}
		level = next
	}
	if len(level) == 0 {
		return new(big.Int).Set(zeros[depth]), nil
	}
	return new(big.Int).Set(level[0]), nil
}

// hashLevel hashes the nodes of a level in groups of arity, padding the last
// group with zero.
func hashLevel(nodes []*big.Int, arity int, zero *big.Int) ([]*big.Int, error) {
	numGroups := (len(nodes) + arity - 1) / arity
	out := make([]*big.Int, numGroups)
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for first := 0; first < numGroups; first += groupsPerWorker {
		last := min(first+groupsPerWorker, numGroups)
		g.Go(func() error {
			children := make([]*big.Int, arity)
			for i := first; i < last; i++ {
				for j := range children {
					if k := i*arity + j; k < len(nodes) {
						children[j] = nodes[k]
					} else {
						children[j] = zero
					}
				}
				h, err := HashNodes(children...)
				if err != nil {
					return err
				}
				out[i] = h
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
