// Package matcher extracts ERC-20 transfers from receipt logs.
package matcher

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const erc20TransferABI = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true, "name": "from", "type": "address"},
		{"indexed": true, "name": "to", "type": "address"},
		{"indexed": false, "name": "value", "type": "uint256"}
	],
	"name": "Transfer",
	"type": "event"
}]`

var (
	erc20         = mustParseABI(erc20TransferABI)
	transferEvent = erc20.Events["Transfer"]

	// TransferTopic is keccak256("Transfer(address,address,uint256)").
	TransferTopic = transferEvent.ID
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

type Transfer struct {
	From     common.Address
	To       common.Address
	Value    *big.Int
	LogIndex uint
}

// Decode returns, in log order, every Transfer emitted by contract. Logs from
// other contracts, other events and logs that do not decode are skipped.
func Decode(logs []*types.Log, contract common.Address) []Transfer {
	var transfers []Transfer
	for _, l := range logs {
		if t, ok := decode(l, contract); ok {
			transfers = append(transfers, t)
		}
	}
	return transfers
}

// FindTo returns the first transfer by log order whose recipient is to. Later
// transfers to the same recipient are ignored even when their value would
// have matched.
func FindTo(logs []*types.Log, contract, to common.Address) (Transfer, bool) {
	for _, t := range Decode(logs, contract) {
		if t.To == to {
			return t, true
		}
	}
	return Transfer{}, false
}

func decode(l *types.Log, contract common.Address) (Transfer, bool) {
	if l == nil || l.Address != contract {
		return Transfer{}, false
	}
	// topic0 plus the two indexed addresses
	if len(l.Topics) != 3 || l.Topics[0] != TransferTopic {
		return Transfer{}, false
	}
	if !isAddressWord(l.Topics[1]) || !isAddressWord(l.Topics[2]) {
		return Transfer{}, false
	}

	values, err := transferEvent.Inputs.NonIndexed().Unpack(l.Data)
	if err != nil || len(values) != 1 {
		return Transfer{}, false
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return Transfer{}, false
	}

	return Transfer{
		From:     common.BytesToAddress(l.Topics[1].Bytes()),
		To:       common.BytesToAddress(l.Topics[2].Bytes()),
		Value:    value,
		LogIndex: l.Index,
	}, true
}

// isAddressWord reports whether the 12 high bytes of an indexed address are zero.
func isAddressWord(h common.Hash) bool {
	for _, b := range h[:common.HashLength-common.AddressLength] {
		if b != 0 {
			return false
		}
	}
	return true
}
