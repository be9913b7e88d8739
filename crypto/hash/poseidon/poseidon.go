// Package poseidon provides the Poseidon hash over the BN254 scalar field, the
// hash used by every tree, leaf and command commitment of the processor.
package poseidon

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// MaxInputs is the widest Poseidon instance supported in a single call.
const MaxInputs = 16

// Hash computes the Poseidon hash of up to MaxInputs field elements. Every
// input must be non-nil and already reduced to the field.
func Hash(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs provided")
	}
	if len(inputs) > MaxInputs {
		return nil, fmt.Errorf("too many inputs: %d > %d", len(inputs), MaxInputs)
	}
	for i, v := range inputs {
		if v == nil {
			return nil, fmt.Errorf("nil input at index %d", i)
		}
	}
	return poseidon.Hash(inputs)
}

// HashLeftRight hashes two field elements, the node function of binary trees.
func HashLeftRight(left, right *big.Int) (*big.Int, error) {
	return Hash(left, right)
}

// MustHash is like Hash but panics on error. It is meant for package level
// constants whose inputs are known to be valid.
func MustHash(inputs ...*big.Int) *big.Int {
	h, err := Hash(inputs...)
	if err != nil {
		panic(err)
	}
	return h
}

// MultiPoseidon computes the Poseidon hash of a variable number of big.Int inputs.
// It handles large numbers of inputs by chunking them into groups of 16, hashing each chunk,
// and then recursively hashing the resulting hashes together.
// Returns an error if no inputs are provided.
func MultiPoseidon(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs provided")
	}
	if len(inputs) <= MaxInputs {
		return Hash(inputs...)
	}
	hashes := make([]*big.Int, 0, (len(inputs)+MaxInputs-1)/MaxInputs)
	for i := 0; i < len(inputs); i += MaxInputs {
		end := min(i+MaxInputs, len(inputs))
		h, err := Hash(inputs[i:end]...)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return MultiPoseidon(hashes...)
}
