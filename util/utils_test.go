package util

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/maci-core/types"
)

func TestRandomFieldElement(t *testing.T) {
	c := qt.New(t)
	seen := map[string]bool{}
	for range 16 {
		v := RandomFieldElement()
		c.Assert(types.InField(v), qt.IsTrue)
		c.Assert(seen[v.String()], qt.IsFalse)
		seen[v.String()] = true
	}
}

func TestTrimHex(t *testing.T) {
	c := qt.New(t)
	c.Assert(TrimHex("0xabcd"), qt.Equals, "abcd")
	c.Assert(TrimHex("0Xabcd"), qt.Equals, "abcd")
	c.Assert(TrimHex("abcd"), qt.Equals, "abcd")
	c.Assert(TrimHex("0"), qt.Equals, "0")
}

func TestTruncateToLowerBits(t *testing.T) {
	c := qt.New(t)
	c.Assert(TruncateToLowerBits(big.NewInt(0xff), 4).Int64(), qt.Equals, int64(0xf))
	c.Assert(TruncateToLowerBits(big.NewInt(5), 50).Int64(), qt.Equals, int64(5))
	c.Assert(len(RandomHex(8)), qt.Equals, 16)
}
