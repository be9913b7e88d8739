package domain

import (
	"errors"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/maci-core/crypto/cipher"
	"github.com/vocdoni/maci-core/crypto/hash/poseidon"
	"github.com/vocdoni/maci-core/crypto/keys"
	"github.com/vocdoni/maci-core/tree"
	"github.com/vocdoni/maci-core/types"
)

func TestStateLeafHash(t *testing.T) {
	c := qt.New(t)
	kp := keys.NewKeypair()
	leaf := NewStateLeaf(kp.PubKey, big.NewInt(100), big.NewInt(1700000000))

	want, err := poseidon.Hash(kp.PubKey.X, kp.PubKey.Y, big.NewInt(100), big.NewInt(1700000000))
	c.Assert(err, qt.IsNil)
	got, err := leaf.Hash()
	c.Assert(err, qt.IsNil)
	c.Assert(got.Cmp(want), qt.Equals, 0)

	cp := leaf.Copy()
	cp.VoiceCreditBalance.SetInt64(1)
	c.Assert(leaf.VoiceCreditBalance.Int64(), qt.Equals, int64(100))
	c.Assert(leaf.Equal(cp), qt.IsFalse)

	blank := BlankStateLeaf()
	c.Assert(blank.PubKey.Equal(keys.PadKey), qt.IsTrue)
	c.Assert(blank.VoiceCreditBalance.Sign(), qt.Equals, 0)
}

func TestBallotHash(t *testing.T) {
	c := qt.New(t)
	b, err := NewBallot(7, 2)
	c.Assert(err, qt.IsNil)
	b.Votes[3] = big.NewInt(9)
	b.Nonce = big.NewInt(2)

	voRoot, err := tree.RootFromLeaves(5, 2, big.NewInt(0), b.Votes)
	c.Assert(err, qt.IsNil)
	want, err := poseidon.Hash(big.NewInt(2), voRoot)
	c.Assert(err, qt.IsNil)
	got, err := b.Hash()
	c.Assert(err, qt.IsNil)
	c.Assert(got.Cmp(want), qt.Equals, 0)

	voTree, err := b.VoteOptionTree()
	c.Assert(err, qt.IsNil)
	c.Assert(voTree.Root().Cmp(voRoot), qt.Equals, 0)

	cp := b.Copy()
	c.Assert(cp.Equal(b), qt.IsTrue)
	cp.Votes[3].SetInt64(1)
	c.Assert(cp.Equal(b), qt.IsFalse)

	_, err = NewBallot(26, 2)
	c.Assert(err, qt.ErrorMatches, "26 vote options do not fit in a tree of depth 2")
}

func TestVoteCommandRoundTrip(t *testing.T) {
	c := qt.New(t)
	voter := keys.NewKeypair()
	coord := keys.NewKeypair()
	ephemeral := keys.NewKeypair()
	newKey := keys.NewKeypair()

	cmd := &VoteCommand{
		StateIndex:      1,
		NewPubKey:       newKey.PubKey,
		VoteOptionIndex: 3,
		NewVoteWeight:   9,
		Nonce:           2,
		PollID:          0,
		Salt:            big.NewInt(12345),
	}
	sig, err := cmd.Sign(voter.PrivKey)
	c.Assert(err, qt.IsNil)

	encKey, err := keys.GenEcdhSharedKey(ephemeral.PrivKey, coord.PubKey)
	c.Assert(err, qt.IsNil)
	msg, err := cmd.Encrypt(sig, encKey)
	c.Assert(err, qt.IsNil)
	c.Assert(msg.Kind, qt.Equals, KindVote)
	c.Assert(msg.Data, qt.HasLen, types.MessageDataLength)

	decKey, err := keys.GenEcdhSharedKey(coord.PrivKey, ephemeral.PubKey)
	c.Assert(err, qt.IsNil)
	plaintext, err := cipher.Decrypt(msg.Data, decKey)
	c.Assert(err, qt.IsNil)

	got, gotSig, err := VoteCommandFromPlaintext(plaintext)
	c.Assert(err, qt.IsNil)
	c.Assert(got.StateIndex, qt.Equals, uint64(1))
	c.Assert(got.VoteOptionIndex, qt.Equals, uint64(3))
	c.Assert(got.NewVoteWeight, qt.Equals, uint64(9))
	c.Assert(got.Nonce, qt.Equals, uint64(2))
	c.Assert(got.NewPubKey.Equal(newKey.PubKey), qt.IsTrue)

	h, err := got.Hash()
	c.Assert(err, qt.IsNil)
	c.Assert(voter.PubKey.Verify(h, gotSig), qt.IsTrue)
	c.Assert(newKey.PubKey.Verify(h, gotSig), qt.IsFalse)
}

func TestVoteCommandFromPlaintextErrors(t *testing.T) {
	c := qt.New(t)
	plaintext := make([]*big.Int, 9)
	for i := range plaintext {
		plaintext[i] = big.NewInt(0)
	}
	_, _, err := VoteCommandFromPlaintext(plaintext[:8])
	c.Assert(errors.Is(err, ErrMalformedCommand), qt.IsTrue)

	plaintext[8] = big.NewInt(1)
	_, _, err = VoteCommandFromPlaintext(plaintext)
	c.Assert(err, qt.ErrorMatches, "malformed command: non-zero padding")
}

func TestVoteCommandHashKeepsHighBits(t *testing.T) {
	c := qt.New(t)
	packed, err := types.PackValues(1, 0, 1, 1, 0)
	c.Assert(err, qt.IsNil)
	packed.SetBit(packed, 252, 1)

	plaintext := []*big.Int{packed, big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0)}
	cmd, _, err := VoteCommandFromPlaintext(plaintext)
	c.Assert(err, qt.IsNil)
	c.Assert(cmd.StateIndex, qt.Equals, uint64(1))

	want, err := poseidon.Hash(packed, big.NewInt(1), big.NewInt(2), big.NewInt(3))
	c.Assert(err, qt.IsNil)
	got, err := cmd.Hash()
	c.Assert(err, qt.IsNil)
	c.Assert(got.Cmp(want), qt.Equals, 0)
}

func TestTopupMessage(t *testing.T) {
	c := qt.New(t)
	topup := &TopupCommand{StateIndex: 4, Amount: big.NewInt(50)}
	msg, err := topup.Message()
	c.Assert(err, qt.IsNil)
	c.Assert(msg.Kind, qt.Equals, KindTopup)

	got, err := TopupCommandFromMessage(msg)
	c.Assert(err, qt.IsNil)
	c.Assert(got.StateIndex, qt.Equals, uint64(4))
	c.Assert(got.Amount.Int64(), qt.Equals, int64(50))

	_, err = TopupCommandFromMessage(PaddingMessage())
	c.Assert(errors.Is(err, ErrMalformedCommand), qt.IsTrue)
}

func TestCommandKinds(t *testing.T) {
	c := qt.New(t)
	for _, tc := range []struct {
		cmd   Command
		kind  MessageKind
		index uint64
	}{
		{&VoteCommand{StateIndex: 3}, KindVote, 3},
		{&TopupCommand{StateIndex: 5, Amount: big.NewInt(1)}, KindTopup, 5},
	} {
		c.Assert(tc.cmd.Kind(), qt.Equals, tc.kind)
		c.Assert(tc.cmd.Index(), qt.Equals, tc.index)
	}
}

func TestMessageHash(t *testing.T) {
	c := qt.New(t)
	msg := PaddingMessage()
	inputs := []*big.Int{big.NewInt(1)}
	inputs = append(inputs, msg.Data...)
	inputs = append(inputs, keys.PadKey.X, keys.PadKey.Y)
	want, err := poseidon.Hash(inputs...)
	c.Assert(err, qt.IsNil)

	got, err := msg.Hash(keys.PadKey)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Cmp(want), qt.Equals, 0)
	c.Assert(msg.AsCircuitInputs(), qt.HasLen, types.MessageDataLength+1)

	_, err = NewMessage(KindVote, msg.Data[:3])
	c.Assert(err, qt.ErrorMatches, "message data must have 10 elements, got 3")
	_, err = NewMessage(MessageKind(3), msg.Data)
	c.Assert(err, qt.ErrorMatches, "invalid message kind 3")
}
