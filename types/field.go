package types

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// SnarkScalarField is the BN254 scalar field modulus. Every value the
	// engine hands to the circuit is an element of this field.
	SnarkScalarField = ecc.BN254.ScalarField()

	// NothingUpMySleeve is the zero leaf of the message queue:
	// keccak256("Maci") reduced to the scalar field. Nobody knows a
	// preimage under Poseidon that hashes to it.
	NothingUpMySleeve = BigToFF(SnarkScalarField,
		new(big.Int).SetBytes(ethcrypto.Keccak256([]byte("Maci"))))
)

// BigToFF function returns the finite field representation of the big.Int
// provided. It uses the curve scalar field to represent the provided number.
func BigToFF(field, iv *big.Int) *big.Int {
	z := big.NewInt(0)
	if c := iv.Cmp(field); c == 0 {
		return z
	} else if c != 1 && iv.Cmp(z) != -1 {
		return new(big.Int).Set(iv)
	}
	return z.Mod(iv, field)
}

// InField reports whether every value is a canonical element of the scalar
// field. A nil value is never in the field.
func InField(values ...*big.Int) bool {
	for _, v := range values {
		if v == nil || v.Sign() < 0 || v.Cmp(SnarkScalarField) >= 0 {
			return false
		}
	}
	return true
}
