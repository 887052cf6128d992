// Package state encodes Ethereum accounts as base-chain cells: the
// normal/contract main cell data layout, fund cells, nonce and balance
// aggregation, unit conversion, and every KV key this module reads or
// writes.
package state

import (
	"bytes"
	"encoding/gob"

	"github.com/holiman/uint256"

	"github.com/ckb-eth/polyjuice/internal/basechain"
	"github.com/ckb-eth/polyjuice/internal/ethtypes"
	"github.com/ckb-eth/polyjuice/internal/polyjuiceerr"
	"github.com/ckb-eth/polyjuice/internal/txcodec"
)

// CellType tags the first data byte of a main cell.
type CellType byte

const (
	NormalMainCell   CellType = 1
	ContractMainCell CellType = 2
)

// ParseCellType validates a raw first-data-byte value.
func ParseCellType(b byte) (CellType, error) {
	switch CellType(b) {
	case NormalMainCell, ContractMainCell:
		return CellType(b), nil
	default:
		return 0, polyjuiceerr.New(polyjuiceerr.MalformedData, "invalid cell type: %d", b)
	}
}

// Well-known single keys.
var (
	BlockKey             = []byte("block")
	LockDepKey           = []byte("lock_dep")
	ContractLockDepKey   = []byte("contract_lock_dep")
)

// BuildEthKey builds "e:<addr>:" or, when height is non-nil, "e:<addr>:<LE
// u64 height>" — the per-address snapshot key.
func BuildEthKey(addr ethtypes.Address, height *uint64) []byte {
	key := append([]byte("e:"), addr.Bytes()...)
	key = append(key, ':')
	if height != nil {
		key = append(key, basechain.LEUint64(*height)...)
	}
	return key
}

// BuildOutPointKey builds "o:<gob-encoded outpoint>".
func BuildOutPointKey(op basechain.OutPoint) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(op); err != nil {
		return nil, polyjuiceerr.Wrap(polyjuiceerr.Data, err, "encode outpoint key")
	}
	return append([]byte("o:"), buf.Bytes()...), nil
}

// EncodeOutPointValue/DecodeOutPointValue (de)serialize a single outpoint
// as a stored value (as opposed to BuildOutPointKey's use of an outpoint
// as a key) — the shape of LockDepKey/ContractLockDepKey's payload, which
// the daemon's one-shot bootstrap subcommand writes and the loader reads.
func EncodeOutPointValue(op basechain.OutPoint) ([]byte, error) { return gobEncode(op) }

func DecodeOutPointValue(data []byte) (basechain.OutPoint, error) {
	var op basechain.OutPoint
	err := gobDecode(data, &op)
	return op, err
}

// BuildBlockHashKey builds "b:<LE u64 height>:h".
func BuildBlockHashKey(height uint64) []byte {
	return blockKey(height, "h")
}

// BuildBlockReceiptHashesKey builds "b:<LE u64 height>:r".
func BuildBlockReceiptHashesKey(height uint64) []byte {
	return blockKey(height, "r")
}

// BuildBlockSpentOutPointsKey builds "b:<LE u64 height>:s".
func BuildBlockSpentOutPointsKey(height uint64) []byte {
	return blockKey(height, "s")
}

// BuildBlockAddedOutPointsKey builds "b:<LE u64 height>:a".
func BuildBlockAddedOutPointsKey(height uint64) []byte {
	return blockKey(height, "a")
}

func blockKey(height uint64, suffix string) []byte {
	key := append([]byte("b:"), basechain.LEUint64(height)...)
	key = append(key, ':')
	key = append(key, suffix...)
	return key
}

// BuildReceiptKey builds "r:<eth tx hash>".
func BuildReceiptKey(hash ethtypes.Hash) []byte {
	return append([]byte("r:"), hash.Bytes()...)
}

// gobEncode/gobDecode are small helpers shared by every value this package
// stores gob-encoded: []basechain.OutPoint snapshots, EthBasicReceipt, the
// per-block outpoint/hash summaries, and EthContractData.
func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, polyjuiceerr.Wrap(polyjuiceerr.Data, err, "gob encode")
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return polyjuiceerr.Wrap(polyjuiceerr.Data, err, "gob decode")
	}
	return nil
}

// EncodeOutPoints/DecodeOutPoints (de)serialize the snapshot value stored
// at each "e:<addr>:<height>" key.
func EncodeOutPoints(ops []basechain.OutPoint) ([]byte, error) { return gobEncode(ops) }

func DecodeOutPoints(data []byte) ([]basechain.OutPoint, error) {
	var ops []basechain.OutPoint
	if err := gobDecode(data, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// BlockPointer is the value stored at BlockKey: the highest indexed
// height and its base-chain block hash.
type BlockPointer struct {
	Height uint64
	Hash   ethtypes.Hash
}

func EncodeBlockPointer(p BlockPointer) ([]byte, error) { return gobEncode(p) }

func DecodeBlockPointer(data []byte) (BlockPointer, error) {
	var p BlockPointer
	err := gobDecode(data, &p)
	return p, err
}

// EncodeHashes/DecodeHashes (de)serialize a list of Ethereum tx hashes —
// the value at "b:<h>:r". The outpoint lists at "b:<h>:a" / "b:<h>:s" use
// EncodeOutPoints/DecodeOutPoints.
func EncodeHashes(hs []ethtypes.Hash) ([]byte, error) { return gobEncode(hs) }

func DecodeHashes(data []byte) ([]ethtypes.Hash, error) {
	var hs []ethtypes.Hash
	if err := gobDecode(data, &hs); err != nil {
		return nil, err
	}
	return hs, nil
}

// EthBasicReceipt is the value stored at "r:<eth tx hash>": everything
// needed to reconstruct a full TransactionReceipt given the referenced
// base-chain transaction.
type EthBasicReceipt struct {
	TransactionIndex    uint64
	CumulativeGas       *uint256.Int
	BlockNumber         uint64
	BaseChainTxHash     ethtypes.Hash
	WitnessIndex        uint64
}

func EncodeReceipt(r EthBasicReceipt) ([]byte, error) { return gobEncode(r) }

func DecodeReceipt(data []byte) (EthBasicReceipt, error) {
	var r EthBasicReceipt
	err := gobDecode(data, &r)
	return r, err
}

// EthContractData is a contract account's runtime code plus storage,
// serialized as the payload of a ContractMainCell (after the leading
// CellType byte).
type EthContractData struct {
	Code    []byte
	Storage map[uint256.Int]uint256.Int
}

// EncodeContractCellData prepends the ContractMainCell type byte and
// gob-encodes EthContractData.
func EncodeContractCellData(d EthContractData) ([]byte, error) {
	payload, err := gobEncode(d)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(ContractMainCell)}, payload...), nil
}

// DecodeContractData decodes the bytes following the leading type byte of
// a ContractMainCell's data.
func DecodeContractData(payload []byte) (EthContractData, error) {
	var d EthContractData
	if err := gobDecode(payload, &d); err != nil {
		return EthContractData{}, err
	}
	if d.Storage == nil {
		d.Storage = map[uint256.Int]uint256.Int{}
	}
	return d, nil
}

// EncodeNormalCellData builds a NormalMainCell's data: type byte followed
// by the little-endian account nonce.
func EncodeNormalCellData(nonce uint64) []byte {
	data := make([]byte, 9)
	data[0] = byte(NormalMainCell)
	le := basechain.LEUint64(nonce)
	copy(data[1:], le)
	return data
}

// EthCell is one base-chain output plus the outpoint that locates it.
type EthCell struct {
	Output   basechain.CellOutput
	OutPoint basechain.OutPoint
}

// EthAccount is the derived view over the cells owned by one address at
// one block height: at most one main cell plus zero or more fund cells.
type EthAccount struct {
	MainCell  *EthCell
	FundCells []EthCell
}

// PartitionCells splits cells into (main, fund) by data length, and
// rejects more than one main cell as data corruption.
func PartitionCells(cells []EthCell) (EthAccount, error) {
	var acc EthAccount
	var mains []EthCell
	for _, c := range cells {
		if len(c.Output.Data) > 0 {
			mains = append(mains, c)
		} else {
			acc.FundCells = append(acc.FundCells, c)
		}
	}
	if len(mains) > 1 {
		return EthAccount{}, polyjuiceerr.New(polyjuiceerr.MalformedData, "invalid account cells: %d main cells", len(mains))
	}
	if len(mains) == 1 {
		acc.MainCell = &mains[0]
	}
	return acc, nil
}

// ContractAccount reports whether the account's main cell (if any) is a
// ContractMainCell.
func (a EthAccount) ContractAccount() (bool, error) {
	if a.MainCell == nil || len(a.MainCell.Output.Data) == 0 {
		return false, nil
	}
	ct, err := ParseCellType(a.MainCell.Output.Data[0])
	if err != nil {
		return false, err
	}
	return ct == ContractMainCell, nil
}

// ContractData decodes the account's contract storage/code. The account
// must have a main cell.
func (a EthAccount) ContractData() (EthContractData, error) {
	if a.MainCell == nil {
		return EthContractData{}, polyjuiceerr.New(polyjuiceerr.MalformedData, "contract must have main cell")
	}
	return DecodeContractData(a.MainCell.Output.Data[1:])
}

// NextNonce is the stored nonce plus one, or zero if the account has no
// main cell (and so has never transacted).
func (a EthAccount) NextNonce() (uint64, error) {
	if a.MainCell == nil {
		return 0, nil
	}
	data := a.MainCell.Output.Data
	if len(data) < 9 {
		return 0, polyjuiceerr.New(polyjuiceerr.MalformedData, "invalid main cell: short nonce field")
	}
	var nonce uint64
	for i := 8; i >= 1; i-- {
		nonce = (nonce << 8) | uint64(data[i])
	}
	if nonce == ^uint64(0) {
		return 0, polyjuiceerr.New(polyjuiceerr.MalformedData, "nonce addition overflow")
	}
	return nonce + 1, nil
}

// TotalCapacities sums every cell's capacity, failing on overflow rather
// than wrapping silently.
func (a EthAccount) TotalCapacities() (uint64, error) {
	var total uint64
	if a.MainCell != nil {
		total = a.MainCell.Output.Capacity
	}
	for _, c := range a.FundCells {
		next := total + c.Output.Capacity
		if next < total {
			return 0, polyjuiceerr.New(polyjuiceerr.MalformedData, "capacity overflow")
		}
		total = next
	}
	return total, nil
}

// TotalCapacitiesInWei converts TotalCapacities to wei.
func (a EthAccount) TotalCapacitiesInWei() (*uint256.Int, error) {
	total, err := a.TotalCapacities()
	if err != nil {
		return nil, err
	}
	wei := txcodec.CapacityToWei(total)
	return wei, nil
}
