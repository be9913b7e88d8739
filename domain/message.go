package domain

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-core/crypto/hash/poseidon"
	"github.com/vocdoni/maci-core/crypto/keys"
	"github.com/vocdoni/maci-core/types"
)

// MessageKind tags the command carried by a message.
type MessageKind uint8

const (
	// KindVote messages carry an encrypted, signed VoteCommand.
	KindVote MessageKind = 1
	// KindTopup messages carry a TopupCommand in the clear.
	KindTopup MessageKind = 2
)

// String returns the name of the kind.
func (k MessageKind) String() string {
	switch k {
	case KindVote:
		return "vote"
	case KindTopup:
		return "topup"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Message is an entry of a poll message queue. It is immutable once
// published.
type Message struct {
	Kind MessageKind `json:"kind"`
	Data []*big.Int  `json:"data"`
}

// NewMessage returns a message, checking the data length and that every
// element belongs to the field.
func NewMessage(kind MessageKind, data []*big.Int) (*Message, error) {
	if kind != KindVote && kind != KindTopup {
		return nil, fmt.Errorf("invalid message kind %d", kind)
	}
	if len(data) != types.MessageDataLength {
		return nil, fmt.Errorf("message data must have %d elements, got %d", types.MessageDataLength, len(data))
	}
	if !types.InField(data...) {
		return nil, fmt.Errorf("message data must be field elements")
	}
	m := &Message{Kind: kind, Data: make([]*big.Int, len(data))}
	for i, d := range data {
		m.Data[i] = new(big.Int).Set(d)
	}
	return m, nil
}

// PaddingMessage returns the all-zero vote message that fills the empty
// slots of the last batch, sent with keys.PadKey as ephemeral key. Slots past
// the end of the queue are checked against the queue zero value instead of
// the hash of this message.
func PaddingMessage() *Message {
	data := make([]*big.Int, types.MessageDataLength)
	for i := range data {
		data[i] = big.NewInt(0)
	}
	return &Message{Kind: KindVote, Data: data}
}

// Hash returns the leaf hash of the message in the queue:
// Poseidon(kind, data..., encPubKey.x, encPubKey.y).
func (m *Message) Hash(encPubKey *keys.PubKey) (*big.Int, error) {
	if encPubKey == nil {
		return nil, fmt.Errorf("nil ephemeral public key")
	}
	inputs := append(m.AsCircuitInputs(), encPubKey.X, encPubKey.Y)
	return poseidon.Hash(inputs...)
}

// AsCircuitInputs returns the message as the circuit reads it: the kind
// followed by the data.
func (m *Message) AsCircuitInputs() []*big.Int {
	inputs := make([]*big.Int, 0, len(m.Data)+1)
	inputs = append(inputs, big.NewInt(int64(m.Kind)))
	return append(inputs, m.Data...)
}

// Copy returns a deep copy of the message.
func (m *Message) Copy() *Message {
	c := &Message{Kind: m.Kind, Data: make([]*big.Int, len(m.Data))}
	for i, d := range m.Data {
		c.Data[i] = new(big.Int).Set(d)
	}
	return c
}
