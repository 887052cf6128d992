// Package basechain holds the value types and client interface this
// module uses to talk to the external UTXO-style base chain: blocks,
// cells, outpoints, and the lock scripts that gate them.
package basechain

import (
	"encoding/binary"

	"github.com/ckb-eth/polyjuice/internal/ethtypes"
)

// HashType distinguishes how a script's CodeHash is interpreted on the
// base chain. This module only ever emits Data-typed locks.
type HashType byte

const (
	HashTypeData HashType = iota
	HashTypeType
)

// Script is a base-chain lock (or type) script: a code hash plus args.
type Script struct {
	CodeHash ethtypes.Hash
	HashType HashType
	Args     [][]byte
}

// OutPoint locates a cell by the hash of its creating transaction and its
// output index within that transaction.
type OutPoint struct {
	TxHash ethtypes.Hash
	Index  uint32
}

// CellInput spends a previous output.
type CellInput struct {
	PreviousOutput OutPoint
	Since          uint64
}

// CellOutput is one base-chain transaction output: a capacity, a lock
// script, an optional type script, and associated data.
type CellOutput struct {
	Capacity uint64
	Lock     Script
	Type     *Script
	Data     []byte
}

// Transaction is a base-chain transaction: dependency outpoints (cell
// deps), inputs, outputs, and one witness per input (plus any extra
// witnesses beyond the input count, mirroring the base chain's rule that
// witnesses and inputs need not be the same length for the first N).
type Transaction struct {
	Version   uint32
	CellDeps  []OutPoint
	Inputs    []CellInput
	Outputs   []CellOutput
	Witnesses [][][]byte

	// Hash is the base chain's own transaction hash. It is populated by
	// the wire decoder when a transaction is read back from the base
	// chain (get_block_by_number, get_transaction), or by the in-process
	// Memory chain via HashTransaction; a Transaction the runner
	// constructs for submission has a zero Hash until the base chain
	// assigns one.
	Hash ethtypes.Hash
}

// Header is a base-chain block header.
type Header struct {
	Number uint64
	Hash   ethtypes.Hash
}

// Block is a base-chain block: its header plus the transactions it
// contains.
type Block struct {
	Header       Header
	Transactions []Transaction
}

// CellStatus is the liveness of a cell as reported by get_live_cell.
type CellStatus string

const (
	CellStatusLive    CellStatus = "live"
	CellStatusDead    CellStatus = "dead"
	CellStatusUnknown CellStatus = "unknown"
)

// LiveCellResult is the response of get_live_cell.
type LiveCellResult struct {
	Status CellStatus
	Cell   *CellOutput
}

// TxStatus mirrors the base chain's transaction status: whether the
// transaction has been committed, and if so in which block.
type TxStatus struct {
	Status    string
	BlockHash *ethtypes.Hash
}

// TransactionWithStatus is the response of get_transaction.
type TransactionWithStatus struct {
	Transaction *Transaction
	TxStatus    TxStatus
}

// LEUint64 little-endian encodes n, as used by every b:<LE u64>:* and
// e:<addr>:<LE u64> key in the KV schema.
func LEUint64(n uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, n)
	return b
}

// BEUint64 big-endian encodes n.
func BEUint64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}
