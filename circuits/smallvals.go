// Package circuits builds the inputs of the message processing circuit: the
// packed small values, the commitment over the public values and the bundle
// of witnesses produced for every batch.
package circuits

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-core/types"
)

// SmallVals are the four small values of a batch the circuit receives packed
// in a single field element.
type SmallVals struct {
	MaxVoteOptions uint64 `json:"maxVoteOptions"`
	// MaxParticipants is the participant limit of the poll.
	MaxParticipants uint64 `json:"maxParticipants"`
	BatchStart      uint64 `json:"batchStart"`
	// BatchEnd is the index of the last published message of the batch.
	BatchEnd uint64 `json:"batchEnd"`
}

// PackProcessMessageSmallVals packs the small values of a batch:
//
//	maxVoteOptions | maxParticipants<<50 | batchStart<<100 | batchEnd<<150
//
// Every value must fit in 50 bits.
func PackProcessMessageSmallVals(maxVoteOptions, maxParticipants, batchStart, batchEnd uint64) (*big.Int, error) {
	if batchEnd < batchStart {
		return nil, fmt.Errorf("batch end %d before batch start %d", batchEnd, batchStart)
	}
	packed, err := types.PackValues(maxVoteOptions, maxParticipants, batchStart, batchEnd)
	if err != nil {
		return nil, fmt.Errorf("pack small values: %w", err)
	}
	return packed, nil
}

// UnpackProcessMessageSmallVals is the inverse of PackProcessMessageSmallVals.
func UnpackProcessMessageSmallVals(packed *big.Int) (*SmallVals, error) {
	if packed == nil || packed.BitLen() > 4*types.PackedValueBits {
		return nil, fmt.Errorf("invalid packed small values")
	}
	values, err := types.UnpackValues(packed, 4)
	if err != nil {
		return nil, fmt.Errorf("unpack small values: %w", err)
	}
	return &SmallVals{
		MaxVoteOptions:  values[0],
		MaxParticipants: values[1],
		BatchStart:      values[2],
		BatchEnd:        values[3],
	}, nil
}

// Pack packs the small values.
func (s *SmallVals) Pack() (*big.Int, error) {
	return PackProcessMessageSmallVals(s.MaxVoteOptions, s.MaxParticipants, s.BatchStart, s.BatchEnd)
}
