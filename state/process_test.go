package state

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/maci-core/circuits"
	"github.com/vocdoni/maci-core/crypto/hash/poseidon"
	"github.com/vocdoni/maci-core/crypto/keys"
	"github.com/vocdoni/maci-core/domain"
	"github.com/vocdoni/maci-core/internal/testutil"
	"github.com/vocdoni/maci-core/tree"
	"github.com/vocdoni/maci-core/types"
)

// pathIndices returns the position of index at every level of a tree.
func pathIndices(index, arity, depth int) []int {
	indices := make([]int, depth)
	for l := range indices {
		indices[l] = index % arity
		index /= arity
	}
	return indices
}

func TestBatchInputs(t *testing.T) {
	c := qt.New(t)
	r, voters := newTestRegistry(c, 3)
	coordinator := keys.NewKeypair()
	poll := deployTestPoll(c, r, coordinator, 1)
	// newer messages carry the lower nonces
	for i := range 6 {
		v := voters[i%len(voters)]
		publishVote(c, poll, v, testutil.Vote{VoteOptionIndex: uint64(i), Weight: 2, Nonce: uint64(2 - i/len(voters))})
	}
	closeAndMerge(c, poll)
	msgRoot, err := poll.MessageRoot()
	c.Assert(err, qt.IsNil)
	stateRoot, err := poll.StateRoot()
	c.Assert(err, qt.IsNil)
	ballotRoot, err := poll.BallotRoot()
	c.Assert(err, qt.IsNil)

	results := processAll(c, poll)
	c.Assert(results, qt.HasLen, 2)
	first := results[0]
	in := first.Inputs
	c.Assert(in.BatchSize(), qt.Equals, 5)

	ok, err := in.VerifyInputHash()
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	c.Assert(in.MsgRoot.MathBigInt().Cmp(msgRoot), qt.Equals, 0)
	c.Assert(in.CurrentStateRoot.MathBigInt().Cmp(stateRoot), qt.Equals, 0)
	c.Assert(in.CurrentBallotRoot.MathBigInt().Cmp(ballotRoot), qt.Equals, 0)
	c.Assert(in.CoordPrivKey.MathBigInt().Cmp(coordinator.PrivKey.Scalar()), qt.Equals, 0)
	c.Assert(in.CoordPubKey[0].MathBigInt().Cmp(coordinator.PubKey.X), qt.Equals, 0)

	vals, err := in.SmallVals()
	c.Assert(err, qt.IsNil)
	c.Assert(vals.MaxVoteOptions, qt.Equals, uint64(testutil.MaxValues().MaxVoteOptions))
	c.Assert(vals.MaxParticipants, qt.Equals, uint64(poll.MaxValues().MaxParticipants))
	c.Assert(vals.BatchStart, qt.Equals, uint64(5))
	c.Assert(vals.BatchEnd, qt.Equals, uint64(5))

	// one message and four padding slots
	c.Assert(first.Outcomes[0].Rejection, qt.Equals, NotRejected)
	padding := domain.PaddingMessage().AsCircuitInputs()
	for slot := 1; slot < 5; slot++ {
		c.Assert(first.Outcomes[slot].Rejection, qt.Equals, RejectPadding)
		for i, v := range types.BigInts(in.Msgs[slot]) {
			c.Assert(v.Cmp(padding[i]), qt.Equals, 0)
		}
		c.Assert(in.EncPubKeys[slot][0].MathBigInt().Cmp(keys.PadKey.X), qt.Equals, 0)
	}

	// the message sub-tree of the batch hangs from the message root
	leaves := make([]*big.Int, 0, 5)
	for i := 5; i < 6; i++ {
		msg, encPubKey, err := poll.Message(i)
		c.Assert(err, qt.IsNil)
		h, err := msg.Hash(encPubKey)
		c.Assert(err, qt.IsNil)
		leaves = append(leaves, h)
	}
	subRoot, err := tree.RootFromLeaves(types.MessageTreeArity, 1, types.NothingUpMySleeve, leaves)
	c.Assert(err, qt.IsNil)
	depths := testutil.TreeDepths(1)
	ok, err = tree.VerifyMerklePath(&tree.MerklePath{
		PathElements: types.Matrix(in.MsgSubrootPathElements, (*types.BigInt).MathBigInt),
		PathIndices:  pathIndices(first.BatchIndex, types.MessageTreeArity, depths.MessageTreeDepth-depths.MessageTreeSubDepth),
		Leaf:         subRoot,
		Root:         msgRoot,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)

	// padding slots leave the roots untouched, so the message in slot 0 is
	// witnessed against the roots before the batch
	slot := 0
	stateIndex := int(first.Outcomes[slot].StateIndex)
	leafHash, err := poseidon.Hash(types.BigInts(in.CurrentStateLeaves[slot])...)
	c.Assert(err, qt.IsNil)
	ok, err = tree.VerifyMerklePath(&tree.MerklePath{
		PathElements: types.Matrix(in.CurrentStateLeavesPathElements[slot], (*types.BigInt).MathBigInt),
		PathIndices:  pathIndices(stateIndex, types.StateTreeArity, testutil.StateTreeDepth),
		Leaf:         leafHash,
		Root:         stateRoot,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)

	ballotHash, err := poseidon.Hash(types.BigInts(in.CurrentBallots[slot])...)
	c.Assert(err, qt.IsNil)
	ok, err = tree.VerifyMerklePath(&tree.MerklePath{
		PathElements: types.Matrix(in.CurrentBallotsPathElements[slot], (*types.BigInt).MathBigInt),
		PathIndices:  pathIndices(stateIndex, types.StateTreeArity, testutil.StateTreeDepth),
		Leaf:         ballotHash,
		Root:         ballotRoot,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)

	// the vote weight hangs from the vote option root of the ballot
	voRoot := in.CurrentBallots[slot][1].MathBigInt()
	ok, err = tree.VerifyMerklePath(&tree.MerklePath{
		PathElements: types.Matrix(in.CurrentVoteWeightsPathElements[slot], (*types.BigInt).MathBigInt),
		PathIndices:  pathIndices(5, types.VoteOptionTreeArity, depths.VoteOptionTreeDepth),
		Leaf:         in.CurrentVoteWeights[slot].MathBigInt(),
		Root:         voRoot,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)

	// the second batch starts from the roots the first one produced
	second := results[1].Inputs
	c.Assert(second.CurrentStateRoot.Equal(in.NewStateRoot), qt.IsTrue)
	ok, err = second.VerifyInputHash()
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	vals, err = second.SmallVals()
	c.Assert(err, qt.IsNil)
	c.Assert(vals.BatchStart, qt.Equals, uint64(0))
	c.Assert(vals.BatchEnd, qt.Equals, uint64(4))
}

func TestPackedSmallValues(t *testing.T) {
	c := qt.New(t)
	r, voters := newTestRegistry(c, 1)
	coordinator := keys.NewKeypair()
	poll := deployTestPoll(c, r, coordinator, 1)
	publishVote(c, poll, voters[0], testutil.Vote{VoteOptionIndex: 1, Weight: 3, Nonce: 2})
	publishVote(c, poll, voters[0], testutil.Vote{VoteOptionIndex: 0, Weight: 2, Nonce: 1})
	closeAndMerge(c, poll)

	results := processAll(c, poll)
	c.Assert(results, qt.HasLen, 1)
	in := results[0].Inputs
	c.Assert(results[0].BatchEnd, qt.Equals, 2)

	maxValues := poll.MaxValues()
	want, err := circuits.PackProcessMessageSmallVals(
		uint64(maxValues.MaxVoteOptions),
		uint64(maxValues.MaxParticipants),
		0,
		1,
	)
	c.Assert(err, qt.IsNil)
	c.Assert(in.PackedVals.MathBigInt().Cmp(want), qt.Equals, 0)

	vals, err := in.SmallVals()
	c.Assert(err, qt.IsNil)
	c.Assert(vals.MaxParticipants, qt.Equals, uint64(maxValues.MaxParticipants))
	c.Assert(vals.MaxParticipants, qt.Not(qt.Equals), uint64(poll.NumSignUps()))
	c.Assert(vals.BatchEnd, qt.Equals, uint64(1))

	hash, err := circuits.ProcessMessagesInputHash(want, coordinator.PubKey,
		in.MsgRoot.MathBigInt(), in.CurrentStateRoot.MathBigInt(), in.CurrentBallotRoot.MathBigInt())
	c.Assert(err, qt.IsNil)
	c.Assert(in.InputHash.MathBigInt().Cmp(hash), qt.Equals, 0)
}
