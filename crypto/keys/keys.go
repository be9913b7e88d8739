// Package keys implements the BabyJubJub key pairs of voters and coordinators:
// key generation and serialization, EdDSA-Poseidon signatures and the ECDH
// key agreement used to encrypt commands for the coordinator.
package keys

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/vocdoni/maci-core/crypto/hash/poseidon"
	"github.com/vocdoni/maci-core/types"
)

const (
	// PubKeyPrefix and PrivKeyPrefix tag the serialized keys so they can't be
	// mistaken for one another.
	PubKeyPrefix  = "macipk."
	PrivKeyPrefix = "macisk."
)

// PadKey is a public key for which no private key is known. It is the key of
// the blank state leaf and the ephemeral key of messages that are not
// encrypted (topups and batch padding).
var PadKey = &PubKey{
	X: mustBigInt("10457101036533406547632367118273992217979173478358440826365724437999023779287"),
	Y: mustBigInt("19824078218392094440610104313265183977899662750282163392862422243483260492317"),
}

// PrivKey is a BabyJubJub private key.
type PrivKey struct {
	raw babyjub.PrivateKey
}

// PubKey is a BabyJubJub public key, a point of the curve.
type PubKey struct {
	X *big.Int
	Y *big.Int
}

// Keypair groups a private key and its public key.
type Keypair struct {
	PrivKey *PrivKey
	PubKey  *PubKey
}

// Signature is an EdDSA-Poseidon signature.
type Signature struct {
	R8 [2]*big.Int
	S  *big.Int
}

// SharedKey is the point resulting from an ECDH key agreement.
type SharedKey struct {
	X *big.Int
	Y *big.Int
}

// NewKeypair generates a new random key pair.
func NewKeypair() *Keypair {
	priv := &PrivKey{raw: babyjub.NewRandPrivKey()}
	return &Keypair{PrivKey: priv, PubKey: priv.Public()}
}

// KeypairFromPrivKey derives the key pair of the given private key.
func KeypairFromPrivKey(priv *PrivKey) *Keypair {
	return &Keypair{PrivKey: priv, PubKey: priv.Public()}
}

// Public returns the public key of the private key.
func (k *PrivKey) Public() *PubKey {
	pub := k.raw.Public()
	return &PubKey{X: new(big.Int).Set(pub.X), Y: new(big.Int).Set(pub.Y)}
}

// Scalar returns the private key formatted as the BabyJubJub scalar that
// multiplies the base point. This is the value the circuit receives.
func (k *PrivKey) Scalar() *big.Int {
	return new(big.Int).Set(k.raw.Scalar().BigInt())
}

// Sign signs the given field element with EdDSA-Poseidon.
func (k *PrivKey) Sign(msg *big.Int) (*Signature, error) {
	if !types.InField(msg) {
		return nil, fmt.Errorf("message is not a field element")
	}
	sig := k.raw.SignPoseidon(msg)
	return &Signature{
		R8: [2]*big.Int{sig.R8.X, sig.R8.Y},
		S:  sig.S,
	}, nil
}

// String serializes the private key.
func (k *PrivKey) String() string {
	return PrivKeyPrefix + types.HexBytes(k.raw[:]).Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (k *PrivKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PrivKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePrivKey(string(text))
	if err != nil {
		return err
	}
	*k = *parsed
	return nil
}

// ParsePrivKey parses a private key serialized with PrivKey.String.
func ParsePrivKey(s string) (*PrivKey, error) {
	if !strings.HasPrefix(s, PrivKeyPrefix) {
		return nil, fmt.Errorf("private key must start with %q", PrivKeyPrefix)
	}
	raw, err := types.HexStringToHexBytes(strings.TrimPrefix(s, PrivKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	k := &PrivKey{}
	copy(k.raw[:], raw)
	return k, nil
}

// NewPubKey returns the public key with the given coordinates, checking that
// the point is in the prime order subgroup of the curve.
func NewPubKey(x, y *big.Int) (*PubKey, error) {
	if !types.InField(x, y) {
		return nil, fmt.Errorf("public key coordinates are not field elements")
	}
	p := &babyjub.Point{X: x, Y: y}
	if !p.InCurve() || !p.InSubGroup() {
		return nil, fmt.Errorf("public key is not a point of the curve subgroup")
	}
	return &PubKey{X: new(big.Int).Set(x), Y: new(big.Int).Set(y)}, nil
}

// AsArray returns the coordinates of the key as field elements.
func (p *PubKey) AsArray() []*big.Int {
	return []*big.Int{p.X, p.Y}
}

// Hash returns the Poseidon hash of the key coordinates.
func (p *PubKey) Hash() (*big.Int, error) {
	return poseidon.HashLeftRight(p.X, p.Y)
}

// Equal reports whether both keys are the same point.
func (p *PubKey) Equal(o *PubKey) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.X.Cmp(o.X) == 0 && p.Y.Cmp(o.Y) == 0
}

// Copy returns a deep copy of the key.
func (p *PubKey) Copy() *PubKey {
	return &PubKey{X: new(big.Int).Set(p.X), Y: new(big.Int).Set(p.Y)}
}

// Verify checks an EdDSA-Poseidon signature of msg. Malformed signatures
// verify as false.
func (p *PubKey) Verify(msg *big.Int, sig *Signature) bool {
	if sig == nil || sig.R8[0] == nil || sig.R8[1] == nil || sig.S == nil {
		return false
	}
	if !types.InField(msg, sig.R8[0], sig.R8[1]) || sig.S.Sign() < 0 || sig.S.Cmp(babyjub.SubOrder) >= 0 {
		return false
	}
	r8 := &babyjub.Point{X: sig.R8[0], Y: sig.R8[1]}
	if !r8.InCurve() {
		return false
	}
	pub := babyjub.PublicKey{X: p.X, Y: p.Y}
	return pub.VerifyPoseidon(msg, &babyjub.Signature{R8: r8, S: sig.S})
}

// String serializes the public key as the prefixed hex encoding of the
// compressed point.
func (p *PubKey) String() string {
	point := &babyjub.Point{X: p.X, Y: p.Y}
	comp := point.Compress()
	return PubKeyPrefix + types.HexBytes(comp[:]).Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (p *PubKey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PubKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePubKey(string(text))
	if err != nil {
		return err
	}
	*p = *parsed
	return nil
}

// ParsePubKey parses a public key serialized with PubKey.String.
func ParsePubKey(s string) (*PubKey, error) {
	if !strings.HasPrefix(s, PubKeyPrefix) {
		return nil, fmt.Errorf("public key must start with %q", PubKeyPrefix)
	}
	raw, err := types.HexStringToHexBytes(strings.TrimPrefix(s, PubKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("public key must be 32 bytes, got %d", len(raw))
	}
	var comp [32]byte
	copy(comp[:], raw)
	point, err := babyjub.NewPoint().Decompress(comp)
	if err != nil {
		return nil, fmt.Errorf("decompress public key: %w", err)
	}
	return NewPubKey(point.X, point.Y)
}

// GenEcdhSharedKey derives the shared key between a private key and the
// public key of the other party.
func GenEcdhSharedKey(priv *PrivKey, pub *PubKey) (*SharedKey, error) {
	if priv == nil || pub == nil {
		return nil, fmt.Errorf("nil key")
	}
	point := &babyjub.Point{X: pub.X, Y: pub.Y}
	if !point.InCurve() {
		return nil, fmt.Errorf("public key is not a point of the curve")
	}
	shared := babyjub.NewPoint().Mul(priv.raw.Scalar().BigInt(), point)
	return &SharedKey{X: shared.X, Y: shared.Y}, nil
}

func mustBigInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(fmt.Sprintf("invalid big int %q", s))
	}
	return v
}
