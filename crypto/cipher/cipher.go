// Package cipher implements the Poseidon stream cipher that protects commands
// in transit to the coordinator. The first element of a ciphertext is the
// Poseidon hash of the plaintext, which doubles as nonce and authentication
// tag.
package cipher

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-core/crypto/hash/poseidon"
	"github.com/vocdoni/maci-core/crypto/keys"
	"github.com/vocdoni/maci-core/types"
)

// ErrAuthentication is returned by Decrypt when the recovered plaintext does
// not match the ciphertext tag, which happens with the wrong key or a
// tampered ciphertext.
var ErrAuthentication = errors.New("ciphertext authentication failed")

// Encrypt encrypts the plaintext field elements under the shared key. The
// ciphertext is one element longer than the plaintext.
func Encrypt(plaintext []*big.Int, key *keys.SharedKey) ([]*big.Int, error) {
	if len(plaintext) == 0 || len(plaintext) > poseidon.MaxInputs {
		return nil, fmt.Errorf("invalid plaintext length %d", len(plaintext))
	}
	if key == nil || !types.InField(key.X, key.Y) {
		return nil, fmt.Errorf("invalid shared key")
	}
	if !types.InField(plaintext...) {
		return nil, fmt.Errorf("plaintext contains values outside the field")
	}
	iv, err := poseidon.Hash(plaintext...)
	if err != nil {
		return nil, fmt.Errorf("plaintext tag: %w", err)
	}
	ciphertext := make([]*big.Int, 0, len(plaintext)+1)
	ciphertext = append(ciphertext, iv)
	for i, p := range plaintext {
		ks, err := keystream(key, iv, i)
		if err != nil {
			return nil, err
		}
		c := new(big.Int).Add(p, ks)
		ciphertext = append(ciphertext, c.Mod(c, types.SnarkScalarField))
	}
	return ciphertext, nil
}

// Decrypt recovers the plaintext of a ciphertext produced by Encrypt. It
// returns ErrAuthentication when the key does not open the ciphertext and a
// different error when the input itself is malformed.
func Decrypt(ciphertext []*big.Int, key *keys.SharedKey) ([]*big.Int, error) {
	if len(ciphertext) < 2 || len(ciphertext) > poseidon.MaxInputs+1 {
		return nil, fmt.Errorf("invalid ciphertext length %d", len(ciphertext))
	}
	if key == nil || !types.InField(key.X, key.Y) {
		return nil, fmt.Errorf("invalid shared key")
	}
	if !types.InField(ciphertext...) {
		return nil, fmt.Errorf("ciphertext contains values outside the field")
	}
	iv := ciphertext[0]
	plaintext := make([]*big.Int, 0, len(ciphertext)-1)
	for i, c := range ciphertext[1:] {
		ks, err := keystream(key, iv, i)
		if err != nil {
			return nil, err
		}
		p := new(big.Int).Sub(c, ks)
		plaintext = append(plaintext, p.Mod(p, types.SnarkScalarField))
	}
	tag, err := poseidon.Hash(plaintext...)
	if err != nil {
		return nil, fmt.Errorf("plaintext tag: %w", err)
	}
	if tag.Cmp(iv) != 0 {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// keystream returns the i-th keystream element Poseidon(k.x, k.y, iv+i).
func keystream(key *keys.SharedKey, iv *big.Int, i int) (*big.Int, error) {
	nonce := new(big.Int).Add(iv, big.NewInt(int64(i)))
	nonce.Mod(nonce, types.SnarkScalarField)
	ks, err := poseidon.Hash(key.X, key.Y, nonce)
	if err != nil {
		return nil, fmt.Errorf("keystream %d: %w", i, err)
	}
	return ks, nil
}
