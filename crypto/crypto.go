// Package crypto provides the cryptographic primitives consumed by the replay
// engine: ECDH key agreement, command decryption, signature verification and
// the SHA-256 commitment reduced to the scalar field.
package crypto

import (
	"crypto/sha256"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/maci-core/crypto/cipher"
	"github.com/vocdoni/maci-core/crypto/keys"
	"github.com/vocdoni/maci-core/types"
)

// SerializedFieldSize is the size in bytes of a field element fed to SHA-256.
const SerializedFieldSize = 32

// Primitives is the set of cryptographic operations the engine relies on. Any
// error returned by them is treated as a primitive failure, not as an
// adversarial input.
type Primitives interface {
	// SharedKey derives the ECDH shared key between priv and pub.
	SharedKey(priv *keys.PrivKey, pub *keys.PubKey) (*keys.SharedKey, error)
	// Decrypt opens a ciphertext with a shared key. It returns
	// cipher.ErrAuthentication when the key does not open it.
	Decrypt(ciphertext []*big.Int, key *keys.SharedKey) ([]*big.Int, error)
	// Verify checks an EdDSA-Poseidon signature over msg.
	Verify(pub *keys.PubKey, msg *big.Int, sig *keys.Signature) bool
}

// BabyJubJub is the default Primitives implementation, backed by the
// BabyJubJub curve and the Poseidon stream cipher.
type BabyJubJub struct{}

// SharedKey implements Primitives.
func (BabyJubJub) SharedKey(priv *keys.PrivKey, pub *keys.PubKey) (*keys.SharedKey, error) {
	return keys.GenEcdhSharedKey(priv, pub)
}

// Decrypt implements Primitives.
func (BabyJubJub) Decrypt(ciphertext []*big.Int, key *keys.SharedKey) ([]*big.Int, error) {
	return cipher.Decrypt(ciphertext, key)
}

// Verify implements Primitives.
func (BabyJubJub) Verify(pub *keys.PubKey, msg *big.Int, sig *keys.Signature) bool {
	return pub.Verify(msg, sig)
}

// PadToField returns the big-endian representation of input left padded to
// SerializedFieldSize bytes. Inputs wider than that are truncated to their
// least significant bytes.
func PadToField(input *big.Int) []byte {
	b := input.Bytes()
	if len(b) > SerializedFieldSize {
		b = b[len(b)-SerializedFieldSize:]
	}
	return common.LeftPadBytes(b, SerializedFieldSize)
}

// Sha256ToField hashes the concatenation of the 32-byte encodings of the
// inputs with SHA-256 and reduces the digest to the scalar field.
func Sha256ToField(inputs ...*big.Int) *big.Int {
	h := sha256.New()
	for _, in := range inputs {
		h.Write(PadToField(in))
	}
	return types.BigToFF(types.SnarkScalarField, new(big.Int).SetBytes(h.Sum(nil)))
}
