// Package tree implements the Merkle structures of the processor: the
// incremental accumulator queue that the ledger maintains for participants
// and messages, the sparse working tree used during replay and a naive full
// tree builder used as reference.
package tree

import (
	"fmt"
	"math/big"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vocdoni/maci-core/crypto/hash/poseidon"
	"github.com/vocdoni/maci-core/types"
)

// zerosCache keeps the zero values of recently used tree configurations,
// keyed by arity and zero leaf. Each entry holds the zero node of every level
// up to types.MaxTreeDepth.
var zerosCache, _ = lru.New[string, []*big.Int](128)

// HashNodes hashes the children of a node. Binary nodes use Poseidon(l, r),
// wider nodes hash every child in a single Poseidon call.
func HashNodes(children ...*big.Int) (*big.Int, error) {
	switch len(children) {
	case 0, 1:
		return nil, fmt.Errorf("invalid number of children %d", len(children))
	case 2:
		return poseidon.HashLeftRight(children[0], children[1])
	default:
		return poseidon.Hash(children...)
	}
}

// ZeroValues returns the zero node of every level from 0 to depth of a tree
// whose empty leaf is zero: zeros[0] = zero and zeros[i] is the hash of arity
// copies of zeros[i-1]. The returned values are owned by the caller.
func ZeroValues(arity int, zero *big.Int, depth int) ([]*big.Int, error) {
	if err := checkArity(arity); err != nil {
		return nil, err
	}
	if depth < 0 || depth > types.MaxTreeDepth {
		return nil, fmt.Errorf("invalid tree depth %d", depth)
	}
	if zero == nil {
		return nil, fmt.Errorf("nil zero value")
	}
	key := fmt.Sprintf("%d/%s", arity, zero.String())
	if zeros, ok := zerosCache.Get(key); ok {
		return cloneBigInts(zeros[:depth+1]), nil
	}
	zeros := make([]*big.Int, types.MaxTreeDepth+1)
	zeros[0] = new(big.Int).Set(zero)
	children := make([]*big.Int, arity)
	for i := 1; i <= types.MaxTreeDepth; i++ {
		for j := range children {
			children[j] = zeros[i-1]
		}
		h, err := HashNodes(children...)
		if err != nil {
			return nil, fmt.Errorf("zero value of level %d: %w", i, err)
		}
		zeros[i] = h
	}
	zerosCache.Add(key, zeros)
	return cloneBigInts(zeros[:depth+1]), nil
}

// checkArity validates the branching factor of a tree.
func checkArity(arity int) error {
	if arity < 2 || arity > poseidon.MaxInputs {
		return fmt.Errorf("invalid tree arity %d", arity)
	}
	return nil
}

// calcDepth returns the smallest depth of a tree with the given arity that
// can hold n leaves.
func calcDepth(arity, n int) int {
	depth, capacity := 0, 1
	for capacity < n {
		capacity *= arity
		depth++
	}
	return depth
}

func cloneBigInts(in []*big.Int) []*big.Int {
	if in == nil {
		return nil
	}
	out := make([]*big.Int, len(in))
	for i, v := range in {
		if v != nil {
			out[i] = new(big.Int).Set(v)
		}
	}
	return out
}
