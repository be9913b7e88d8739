package types

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// maxPackedValues is the number of PackedValueBits-wide values that fit in a
// field element.
const maxPackedValues = 5

var packedValueMask = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), PackedValueBits), 1)

// PackValues packs up to five values into a single field element, the first
// value in the least significant bits and every value PackedValueBits wide.
func PackValues(values ...uint64) (*big.Int, error) {
	if len(values) == 0 || len(values) > maxPackedValues {
		return nil, fmt.Errorf("can't pack %d values", len(values))
	}
	packed := new(uint256.Int)
	for i, v := range values {
		if v>>PackedValueBits != 0 {
			return nil, fmt.Errorf("value %d at position %d exceeds %d bits", v, i, PackedValueBits)
		}
		packed.Or(packed, new(uint256.Int).Lsh(uint256.NewInt(v), uint(i*PackedValueBits)))
	}
	return packed.ToBig(), nil
}

// UnpackValues splits a packed element into its first n values. Bits beyond
// the n-th value are ignored.
func UnpackValues(packed *big.Int, n int) ([]uint64, error) {
	if n <= 0 || n > maxPackedValues {
		return nil, fmt.Errorf("can't unpack %d values", n)
	}
	if packed == nil || packed.Sign() < 0 {
		return nil, fmt.Errorf("invalid packed value")
	}
	p, overflow := uint256.FromBig(packed)
	if overflow {
		return nil, fmt.Errorf("packed value exceeds 256 bits")
	}
	values := make([]uint64, n)
	for i := range values {
		v := new(uint256.Int).Rsh(p, uint(i*PackedValueBits))
		values[i] = v.And(v, packedValueMask).Uint64()
	}
	return values, nil
}
