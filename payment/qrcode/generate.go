package qrcode

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// TransferURI is the EIP-681 request for an ERC-20 transfer of amount minor
// units of token to address on chain chainID.
func TransferURI(token, address string, chainID uint64, amount int64) string {
	return fmt.Sprintf("ethereum:%s@%d/transfer?address=%s&uint256=%d", token, chainID, address, amount)
}

// TransferPNG renders TransferURI as a size x size PNG.
func TransferPNG(token, address string, chainID uint64, amount int64, size int) ([]byte, error) {
	return qrcode.Encode(TransferURI(token, address, chainID, amount), qrcode.Medium, size)
}
