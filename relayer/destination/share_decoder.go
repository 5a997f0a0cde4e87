package destination

import (
	"fmt"
	"math/big"
)

// shareWordSize is the width of the ABI-encoded share amount at the end of a
// bridge payload.
const shareWordSize = 32

// ABIShareDecoder reads the share amount out of a bridge payload. The payload
// layout is opaque to the relay core except for this trailing uint256 word.
type ABIShareDecoder struct{}

// NewABIShareDecoder creates a share decoder.
func NewABIShareDecoder() *ABIShareDecoder {
	return &ABIShareDecoder{}
}

// DecodeShares implements aggregator.ShareDecoder.
func (d *ABIShareDecoder) DecodeShares(payload []byte) (*big.Int, error) {
	if len(payload) < shareWordSize {
		return nil, fmt.Errorf("payload too short for share amount: %d bytes", len(payload))
	}
	return new(big.Int).SetBytes(payload[len(payload)-shareWordSize:]), nil
}
