package circuits

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-core/crypto"
	"github.com/vocdoni/maci-core/crypto/keys"
	"github.com/vocdoni/maci-core/types"
)

// ProcessMessagesInputHash returns the single public input of the message
// processing circuit, the commitment to:
//
//	packedVals
//	Poseidon(coordPubKey.x, coordPubKey.y)
//	msgRoot
//	currentStateRoot
//	currentBallotRoot
//
// computed as the SHA-256 of their 32-byte big-endian encodings reduced to
// the scalar field.
func ProcessMessagesInputHash(
	packedVals *big.Int,
	coordPubKey *keys.PubKey,
	msgRoot, currentStateRoot, currentBallotRoot *big.Int,
) (*big.Int, error) {
	if coordPubKey == nil {
		return nil, fmt.Errorf("nil coordinator public key")
	}
	if !types.InField(packedVals, msgRoot, currentStateRoot, currentBallotRoot) {
		return nil, fmt.Errorf("input hash values must be field elements")
	}
	coordPubKeyHash, err := coordPubKey.Hash()
	if err != nil {
		return nil, fmt.Errorf("coordinator public key hash: %w", err)
	}
	return crypto.Sha256ToField(packedVals, coordPubKeyHash, msgRoot, currentStateRoot, currentBallotRoot), nil
}
