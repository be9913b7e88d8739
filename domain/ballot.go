package domain

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-core/crypto/hash/poseidon"
	"github.com/vocdoni/maci-core/tree"
	"github.com/vocdoni/maci-core/types"
)

// Ballot records the vote weight a participant assigned to every option of
// a poll and the nonce of its last accepted command.
type Ballot struct {
	Nonce               *big.Int
	Votes               []*big.Int
	voteOptionTreeDepth int
}

// NewBallot returns an empty ballot with numVoteOptions options, committed
// in a vote option tree of the given depth.
func NewBallot(numVoteOptions, voteOptionTreeDepth int) (*Ballot, error) {
	if numVoteOptions <= 0 || numVoteOptions > types.Pow(types.VoteOptionTreeArity, voteOptionTreeDepth) {
		return nil, fmt.Errorf("%d vote options do not fit in a tree of depth %d", numVoteOptions, voteOptionTreeDepth)
	}
	votes := make([]*big.Int, numVoteOptions)
	for i := range votes {
		votes[i] = big.NewInt(0)
	}
	return &Ballot{
		Nonce:               big.NewInt(0),
		Votes:               votes,
		voteOptionTreeDepth: voteOptionTreeDepth,
	}, nil
}

// VoteOptionTreeDepth returns the depth of the vote option tree.
func (b *Ballot) VoteOptionTreeDepth() int { return b.voteOptionTreeDepth }

// VoteOptionRoot returns the root of the tree of vote weights, padded with
// zero weights.
func (b *Ballot) VoteOptionRoot() (*big.Int, error) {
	return tree.RootFromLeaves(types.VoteOptionTreeArity, b.voteOptionTreeDepth, big.NewInt(0), b.Votes)
}

// VoteOptionTree returns the tree of vote weights, used to prove the weight
// of a single option.
func (b *Ballot) VoteOptionTree() (*tree.QuinTree, error) {
	t, err := tree.NewQuinTree(b.voteOptionTreeDepth, types.VoteOptionTreeArity, big.NewInt(0))
	if err != nil {
		return nil, err
	}
	for i, v := range b.Votes {
		if _, err := t.Insert(v); err != nil {
			return nil, fmt.Errorf("vote option %d: %w", i, err)
		}
	}
	return t, nil
}

// Hash returns Poseidon(nonce, voteOptionRoot).
func (b *Ballot) Hash() (*big.Int, error) {
	inputs, err := b.AsCircuitInputs()
	if err != nil {
		return nil, err
	}
	return poseidon.Hash(inputs...)
}

// AsCircuitInputs returns the ballot as the circuit reads it: its nonce and
// its vote option root.
func (b *Ballot) AsCircuitInputs() ([]*big.Int, error) {
	root, err := b.VoteOptionRoot()
	if err != nil {
		return nil, fmt.Errorf("vote option root: %w", err)
	}
	return []*big.Int{b.Nonce, root}, nil
}

// Copy returns a deep copy of the ballot.
func (b *Ballot) Copy() *Ballot {
	votes := make([]*big.Int, len(b.Votes))
	for i, v := range b.Votes {
		votes[i] = new(big.Int).Set(v)
	}
	return &Ballot{
		Nonce:               new(big.Int).Set(b.Nonce),
		Votes:               votes,
		voteOptionTreeDepth: b.voteOptionTreeDepth,
	}
}

// Equal reports whether both ballots hold the same nonce and votes.
func (b *Ballot) Equal(o *Ballot) bool {
	if b.voteOptionTreeDepth != o.voteOptionTreeDepth || len(b.Votes) != len(o.Votes) || b.Nonce.Cmp(o.Nonce) != 0 {
		return false
	}
	for i := range b.Votes {
		if b.Votes[i].Cmp(o.Votes[i]) != 0 {
			return false
		}
	}
	return true
}
