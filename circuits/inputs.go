package circuits

import (
	"fmt"

	"github.com/vocdoni/maci-core/crypto/keys"
	"github.com/vocdoni/maci-core/types"
)

// ProcessMessagesInputs is the witness of a message batch. The JSON keys are
// the circuit signal names.
type ProcessMessagesInputs struct {
	PackedVals   *types.BigInt    `json:"packedVals" cbor:"0,keyasint"`
	CoordPrivKey *types.BigInt    `json:"coordPrivKey" cbor:"1,keyasint"`
	CoordPubKey  [2]*types.BigInt `json:"coordPubKey" cbor:"2,keyasint"`

	MsgRoot                *types.BigInt      `json:"msgRoot" cbor:"3,keyasint"`
	Msgs                   [][]*types.BigInt  `json:"msgs" cbor:"4,keyasint"`
	MsgSubrootPathElements [][]*types.BigInt  `json:"msgSubrootPathElements" cbor:"5,keyasint"`
	EncPubKeys             [][2]*types.BigInt `json:"encPubKeys" cbor:"6,keyasint"`

	CurrentStateRoot               *types.BigInt       `json:"currentStateRoot" cbor:"7,keyasint"`
	CurrentStateLeaves             [][]*types.BigInt   `json:"currentStateLeaves" cbor:"8,keyasint"`
	CurrentStateLeavesPathElements [][][]*types.BigInt `json:"currentStateLeavesPathElements" cbor:"9,keyasint"`

	CurrentBallotRoot          *types.BigInt       `json:"currentBallotRoot" cbor:"10,keyasint"`
	CurrentBallots             [][]*types.BigInt   `json:"currentBallots" cbor:"11,keyasint"`
	CurrentBallotsPathElements [][][]*types.BigInt `json:"currentBallotsPathElements" cbor:"12,keyasint"`

	CurrentVoteWeights             []*types.BigInt     `json:"currentVoteWeights" cbor:"13,keyasint"`
	CurrentVoteWeightsPathElements [][][]*types.BigInt `json:"currentVoteWeightsPathElements" cbor:"14,keyasint"`

	NewStateRoot  *types.BigInt `json:"newStateRoot" cbor:"15,keyasint"`
	NewBallotRoot *types.BigInt `json:"newBallotRoot" cbor:"16,keyasint"`
	InputHash     *types.BigInt `json:"inputHash" cbor:"17,keyasint"`
}

// SmallVals unpacks the small values of the batch.
func (in *ProcessMessagesInputs) SmallVals() (*SmallVals, error) {
	if in.PackedVals == nil {
		return nil, fmt.Errorf("missing packed values")
	}
	return UnpackProcessMessageSmallVals(in.PackedVals.MathBigInt())
}

// ComputeInputHash recomputes the commitment from the values exposed by the
// bundle.
func (in *ProcessMessagesInputs) ComputeInputHash() (*types.BigInt, error) {
	if in.PackedVals == nil || in.MsgRoot == nil || in.CurrentStateRoot == nil || in.CurrentBallotRoot == nil ||
		in.CoordPubKey[0] == nil || in.CoordPubKey[1] == nil {
		return nil, fmt.Errorf("incomplete circuit inputs")
	}
	coordPubKey := &keys.PubKey{X: in.CoordPubKey[0].MathBigInt(), Y: in.CoordPubKey[1].MathBigInt()}
	h, err := ProcessMessagesInputHash(
		in.PackedVals.MathBigInt(),
		coordPubKey,
		in.MsgRoot.MathBigInt(),
		in.CurrentStateRoot.MathBigInt(),
		in.CurrentBallotRoot.MathBigInt(),
	)
	if err != nil {
		return nil, err
	}
	return types.NewBigInt(h), nil
}

// VerifyInputHash reports whether InputHash matches the commitment of the
// exposed values.
func (in *ProcessMessagesInputs) VerifyInputHash() (bool, error) {
	if in.InputHash == nil {
		return false, fmt.Errorf("missing input hash")
	}
	h, err := in.ComputeInputHash()
	if err != nil {
		return false, err
	}
	return h.Equal(in.InputHash), nil
}

// BatchSize returns the number of message slots of the bundle.
func (in *ProcessMessagesInputs) BatchSize() int {
	return len(in.Msgs)
}
