// Package testutil builds voters and messages for tests.
package testutil

import (
	"math/big"

	"github.com/vocdoni/maci-core/crypto/keys"
	"github.com/vocdoni/maci-core/domain"
	"github.com/vocdoni/maci-core/types"
	"github.com/vocdoni/maci-core/util"
)

// InitialBalance is the voice credit balance tests sign voters up with.
const InitialBalance = 100

// TreeDepths returns small tree depths with the given message sub-tree depth,
// so batches hold 5^msgSubDepth messages.
func TreeDepths(msgSubDepth int) types.TreeDepths {
	return types.TreeDepths{
		IntStateTreeDepth:   1,
		MessageTreeDepth:    3,
		MessageTreeSubDepth: msgSubDepth,
		VoteOptionTreeDepth: 2,
	}
}

// MaxValues returns the limits that fit in the trees of TreeDepths with a
// state tree of depth StateTreeDepth.
func MaxValues() types.MaxValues {
	return types.MaxValues{
		MaxParticipants: 25,
		MaxMessages:     125,
		MaxVoteOptions:  25,
	}
}

// StateTreeDepth is the participant tree depth matching MaxValues.
const StateTreeDepth = 2

// Voter is a participant as seen by a test.
type Voter struct {
	Keypair    *keys.Keypair
	StateIndex uint64
}

// NewVoter returns a voter with a fresh key pair. The state index is set when
// the voter signs up.
func NewVoter() *Voter {
	return &Voter{Keypair: keys.NewKeypair()}
}

// Vote is the content of a vote command.
type Vote struct {
	VoteOptionIndex uint64
	Weight          uint64
	Nonce           uint64
	PollID          uint64
	// NewKeypair rotates the key of the voter when set.
	NewKeypair *keys.Keypair
}

// Command builds the vote command of the voter.
func (v *Voter) Command(vote Vote) *domain.VoteCommand {
	newPub := v.Keypair.PubKey
	if vote.NewKeypair != nil {
		newPub = vote.NewKeypair.PubKey
	}
	return &domain.VoteCommand{
		StateIndex:      v.StateIndex,
		NewPubKey:       newPub.Copy(),
		VoteOptionIndex: vote.VoteOptionIndex,
		NewVoteWeight:   vote.Weight,
		Nonce:           vote.Nonce,
		PollID:          vote.PollID,
		Salt:            util.RandomFieldElement(),
	}
}

// VoteMessage signs the vote with the current key of the voter and encrypts
// it to the coordinator with a fresh ephemeral key. It returns the message
// and the ephemeral public key to publish it with.
func (v *Voter) VoteMessage(vote Vote, coordinator *keys.PubKey) (*domain.Message, *keys.PubKey, error) {
	return SignedMessage(v.Command(vote), v.Keypair.PrivKey, coordinator)
}

// SignedMessage signs cmd with signer and encrypts it to the coordinator.
func SignedMessage(cmd *domain.VoteCommand, signer *keys.PrivKey, coordinator *keys.PubKey) (*domain.Message, *keys.PubKey, error) {
	sig, err := cmd.Sign(signer)
	if err != nil {
		return nil, nil, err
	}
	return EncryptedMessage(cmd, sig, coordinator)
}

// EncryptedMessage encrypts a command and a signature to the coordinator.
func EncryptedMessage(cmd *domain.VoteCommand, sig *keys.Signature, coordinator *keys.PubKey) (*domain.Message, *keys.PubKey, error) {
	ephemeral := keys.NewKeypair()
	sharedKey, err := keys.GenEcdhSharedKey(ephemeral.PrivKey, coordinator)
	if err != nil {
		return nil, nil, err
	}
	msg, err := cmd.Encrypt(sig, sharedKey)
	if err != nil {
		return nil, nil, err
	}
	return msg, ephemeral.PubKey, nil
}

// GarbageMessage returns a vote message no key decrypts.
func GarbageMessage() *domain.Message {
	data := make([]*big.Int, types.MessageDataLength)
	for i := range data {
		data[i] = util.RandomFieldElement()
	}
	msg, err := domain.NewMessage(domain.KindVote, data)
	if err != nil {
		panic(err)
	}
	return msg
}
