// Package domain holds the entities replayed by the processor: the
// participant state leaves, the per-poll ballots, the commands voters sign
// and the messages that carry them.
package domain

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-core/crypto/hash/poseidon"
	"github.com/vocdoni/maci-core/crypto/keys"
)

// StateLeaf is a signed-up participant: its current public key, its
// remaining voice credits and the time it signed up.
type StateLeaf struct {
	PubKey             *keys.PubKey
	VoiceCreditBalance *big.Int
	Timestamp          *big.Int
}

// NewStateLeaf returns a state leaf.
func NewStateLeaf(pubKey *keys.PubKey, balance, timestamp *big.Int) *StateLeaf {
	return &StateLeaf{
		PubKey:             pubKey.Copy(),
		VoiceCreditBalance: new(big.Int).Set(balance),
		Timestamp:          new(big.Int).Set(timestamp),
	}
}

// BlankStateLeaf returns the leaf stored at index 0 of every state tree. Its
// key has no known private key, so nobody can act as this participant.
func BlankStateLeaf() *StateLeaf {
	return NewStateLeaf(keys.PadKey, big.NewInt(0), big.NewInt(0))
}

// Hash returns Poseidon(pub.x, pub.y, balance, timestamp).
func (l *StateLeaf) Hash() (*big.Int, error) {
	if l.PubKey == nil || l.VoiceCreditBalance == nil || l.Timestamp == nil {
		return nil, fmt.Errorf("incomplete state leaf")
	}
	return poseidon.Hash(l.AsCircuitInputs()...)
}

// AsCircuitInputs returns the leaf as the circuit reads it.
func (l *StateLeaf) AsCircuitInputs() []*big.Int {
	return []*big.Int{l.PubKey.X, l.PubKey.Y, l.VoiceCreditBalance, l.Timestamp}
}

// Copy returns a deep copy of the leaf.
func (l *StateLeaf) Copy() *StateLeaf {
	return NewStateLeaf(l.PubKey, l.VoiceCreditBalance, l.Timestamp)
}

// Equal reports whether both leaves hold the same values.
func (l *StateLeaf) Equal(o *StateLeaf) bool {
	return l.PubKey.Equal(o.PubKey) &&
		l.VoiceCreditBalance.Cmp(o.VoiceCreditBalance) == 0 &&
		l.Timestamp.Cmp(o.Timestamp) == 0
}
