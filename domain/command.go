package domain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-core/crypto/cipher"
	"github.com/vocdoni/maci-core/crypto/hash/poseidon"
	"github.com/vocdoni/maci-core/crypto/keys"
	"github.com/vocdoni/maci-core/types"
)

// plaintextLength is the number of field elements encrypted in a vote
// message: the command, its signature and two zeros of padding.
const plaintextLength = types.MessageDataLength - 1

// ErrMalformedCommand is returned when a decrypted plaintext can't be read
// as a command.
var ErrMalformedCommand = errors.New("malformed command")

// Command is the plaintext intent carried by a message. Replay dispatches on
// the concrete type: a *VoteCommand applies to the ballot of a participant,
// a *TopupCommand to its balance.
type Command interface {
	Kind() MessageKind
	Index() uint64
}

var (
	_ Command = (*VoteCommand)(nil)
	_ Command = (*TopupCommand)(nil)
)

// VoteCommand sets the weight of a vote option and, optionally, rotates the
// key of the participant.
type VoteCommand struct {
	StateIndex      uint64
	NewPubKey       *keys.PubKey
	VoteOptionIndex uint64
	NewVoteWeight   uint64
	Nonce           uint64
	PollID          uint64
	Salt            *big.Int

	// packed is the packed element as it was decrypted. It may carry bits
	// above the five packed values, which the command hash must keep.
	packed *big.Int
}

// Kind implements Command.
func (*VoteCommand) Kind() MessageKind { return KindVote }

// Index implements Command.
func (c *VoteCommand) Index() uint64 { return c.StateIndex }

// Packed returns the first plaintext element of the command:
// stateIndex | voteOptionIndex<<50 | newVoteWeight<<100 | nonce<<150 | pollId<<200.
func (c *VoteCommand) Packed() (*big.Int, error) {
	if c.packed != nil {
		return new(big.Int).Set(c.packed), nil
	}
	return types.PackValues(c.StateIndex, c.VoteOptionIndex, c.NewVoteWeight, c.Nonce, c.PollID)
}

// Hash returns Poseidon(packed, newPubKey.x, newPubKey.y, salt), the value
// signed by the voter.
func (c *VoteCommand) Hash() (*big.Int, error) {
	if c.NewPubKey == nil || c.Salt == nil {
		return nil, fmt.Errorf("incomplete vote command")
	}
	p, err := c.Packed()
	if err != nil {
		return nil, err
	}
	return poseidon.Hash(p, c.NewPubKey.X, c.NewPubKey.Y, c.Salt)
}

// Sign signs the command hash with the current private key of the voter.
func (c *VoteCommand) Sign(priv *keys.PrivKey) (*keys.Signature, error) {
	h, err := c.Hash()
	if err != nil {
		return nil, err
	}
	return priv.Sign(h)
}

// Encrypt builds the vote message of a signed command, encrypted with the
// shared key of the ephemeral key pair and the coordinator key.
func (c *VoteCommand) Encrypt(sig *keys.Signature, sharedKey *keys.SharedKey) (*Message, error) {
	p, err := c.Packed()
	if err != nil {
		return nil, err
	}
	plaintext := []*big.Int{
		p, c.NewPubKey.X, c.NewPubKey.Y, c.Salt,
		sig.R8[0], sig.R8[1], sig.S,
		big.NewInt(0), big.NewInt(0),
	}
	ciphertext, err := cipher.Encrypt(plaintext, sharedKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt command: %w", err)
	}
	return NewMessage(KindVote, ciphertext)
}

// VoteCommandFromPlaintext reads a decrypted vote message. The new public
// key is taken as is: whether it is a valid point is up to the circuit and
// the voter, never a reason to reject the command.
func VoteCommandFromPlaintext(plaintext []*big.Int) (*VoteCommand, *keys.Signature, error) {
	if len(plaintext) != plaintextLength {
		return nil, nil, fmt.Errorf("%w: plaintext has %d elements", ErrMalformedCommand, len(plaintext))
	}
	if plaintext[7].Sign() != 0 || plaintext[8].Sign() != 0 {
		return nil, nil, fmt.Errorf("%w: non-zero padding", ErrMalformedCommand)
	}
	values, err := types.UnpackValues(plaintext[0], 5)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	cmd := &VoteCommand{
		StateIndex:      values[0],
		VoteOptionIndex: values[1],
		NewVoteWeight:   values[2],
		Nonce:           values[3],
		PollID:          values[4],
		NewPubKey:       &keys.PubKey{X: new(big.Int).Set(plaintext[1]), Y: new(big.Int).Set(plaintext[2])},
		Salt:            new(big.Int).Set(plaintext[3]),
		packed:          new(big.Int).Set(plaintext[0]),
	}
	sig := &keys.Signature{
		R8: [2]*big.Int{new(big.Int).Set(plaintext[4]), new(big.Int).Set(plaintext[5])},
		S:  new(big.Int).Set(plaintext[6]),
	}
	return cmd, sig, nil
}

// TopupCommand adds voice credits to a participant. It comes from a
// privileged ledger event, so it is neither encrypted nor signed.
type TopupCommand struct {
	StateIndex uint64
	Amount     *big.Int
}

// Kind implements Command.
func (*TopupCommand) Kind() MessageKind { return KindTopup }

// Index implements Command.
func (c *TopupCommand) Index() uint64 { return c.StateIndex }

// Message returns the topup message: [stateIndex, amount, 0...] in the clear.
func (c *TopupCommand) Message() (*Message, error) {
	if c.Amount == nil || c.Amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid topup amount")
	}
	data := make([]*big.Int, types.MessageDataLength)
	for i := range data {
		data[i] = big.NewInt(0)
	}
	data[0] = new(big.Int).SetUint64(c.StateIndex)
	data[1] = new(big.Int).Set(c.Amount)
	return NewMessage(KindTopup, data)
}

// TopupCommandFromMessage reads a topup message. A state index that does not
// fit in 64 bits is returned as the maximum index, which no tree holds.
func TopupCommandFromMessage(m *Message) (*TopupCommand, error) {
	if m.Kind != KindTopup || len(m.Data) != types.MessageDataLength {
		return nil, fmt.Errorf("%w: not a topup message", ErrMalformedCommand)
	}
	idx := ^uint64(0)
	if m.Data[0].IsUint64() {
		idx = m.Data[0].Uint64()
	}
	return &TopupCommand{StateIndex: idx, Amount: new(big.Int).Set(m.Data[1])}, nil
}
