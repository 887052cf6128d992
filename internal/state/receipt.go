package state

import (
	"github.com/holiman/uint256"

	"github.com/ckb-eth/polyjuice/internal/ethtypes"
)

// TransactionReceipt is constructed at read time from an EthBasicReceipt
// plus the base-chain transaction it references.
type TransactionReceipt struct {
	TransactionHash   ethtypes.Hash
	TransactionIndex  uint64
	BlockHash         ethtypes.Hash
	BlockNumber       uint64
	From              ethtypes.Address
	To                *ethtypes.Address
	CumulativeGasUsed *uint256.Int
	GasUsed           *uint256.Int
	ContractAddress   *ethtypes.Address
	LogsBloom         ethtypes.Hash
	Status            uint64
}
