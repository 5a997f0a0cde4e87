package destination

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func abiWord(v *big.Int) []byte {
	word := make([]byte, shareWordSize)
	v.FillBytes(word)
	return word
}

func TestDecodeShares(t *testing.T) {
	decoder := NewABIShareDecoder()

	t.Run("reads the trailing word", func(t *testing.T) {
		payload := append(hexutil.MustDecode("0xdeadbeef"), abiWord(big.NewInt(1500))...)

		shares, err := decoder.DecodeShares(payload)
		require.NoError(t, err)
		assert.Equal(t, "1500", shares.String())
	})

	t.Run("bare word decodes", func(t *testing.T) {
		shares, err := decoder.DecodeShares(abiWord(big.NewInt(1)))
		require.NoError(t, err)
		assert.Equal(t, "1", shares.String())
	})

	t.Run("large amounts are exact", func(t *testing.T) {
		want, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
		require.True(t, ok)

		shares, err := decoder.DecodeShares(abiWord(want))
		require.NoError(t, err)
		assert.Zero(t, want.Cmp(shares))
	})

	t.Run("short payload is rejected", func(t *testing.T) {
		_, err := decoder.DecodeShares([]byte{0x01, 0x02})
		require.Error(t, err)
	})
}
