// Package loader implements the read path over an indexed KV store and a
// live base-chain client: tip height resolution, account loading, and
// receipt assembly.
package loader

import (
	"golang.org/x/crypto/blake2b"

	"github.com/ckb-eth/polyjuice/internal/basechain"
	"github.com/ckb-eth/polyjuice/internal/ethtypes"
	"github.com/ckb-eth/polyjuice/internal/kvstore"
	"github.com/ckb-eth/polyjuice/internal/polyjuiceerr"
	"github.com/ckb-eth/polyjuice/internal/state"
	"github.com/ckb-eth/polyjuice/internal/txcodec"
)

// Loader is the read path over db and client. One Loader is built once at
// daemon startup; construction fails if the on-chain lock cells don't
// match the code hashes this module was built against.
type Loader struct {
	db     kvstore.Store
	client basechain.Client
}

// New builds a Loader, verifying the lock and contract-lock code cells
// referenced by state.LockDepKey/state.ContractLockDepKey are live and
// hash to state.CodeHashLock/state.CodeHashContractLock.
func New(db kvstore.Store, client basechain.Client) (*Loader, error) {
	l := &Loader{db: db, client: client}

	lockOutPoint, err := l.loadLockOutPoint(state.LockDepKey, "Lock code is not on chain")
	if err != nil {
		return nil, err
	}
	if err := l.verifyLockCell(lockOutPoint, state.CodeHashLock, "Lock cell is missing", "Lock data hash does not match"); err != nil {
		return nil, err
	}

	contractLockOutPoint, err := l.loadLockOutPoint(state.ContractLockDepKey, "Contract lock code is not on chain")
	if err != nil {
		return nil, err
	}
	if err := l.verifyLockCell(contractLockOutPoint, state.CodeHashContractLock, "Contract lock cell is missing", "Contract lock data hash does not match"); err != nil {
		return nil, err
	}

	return l, nil
}

// LoadLockOutPoint returns the cell-dep outpoint for the normal lock (or,
// if contractLock is set, the contract lock) script, as recorded by the
// one-shot bootstrap tool at state.LockDepKey/state.ContractLockDepKey.
func (l *Loader) LoadLockOutPoint(contractLock bool) (basechain.OutPoint, error) {
	if contractLock {
		return l.loadLockOutPoint(state.ContractLockDepKey, "Contract lock code is not on chain")
	}
	return l.loadLockOutPoint(state.LockDepKey, "Lock code is not on chain")
}

func (l *Loader) loadLockOutPoint(key []byte, missingMsg string) (basechain.OutPoint, error) {
	data, err := l.db.Get(key)
	if err == kvstore.ErrNotFound {
		return basechain.OutPoint{}, polyjuiceerr.New(polyjuiceerr.MalformedData, missingMsg)
	}
	if err != nil {
		return basechain.OutPoint{}, polyjuiceerr.Wrap(polyjuiceerr.DB, err, "read lock dep key")
	}
	return state.DecodeOutPointValue(data)
}

func (l *Loader) verifyLockCell(op basechain.OutPoint, wantHash ethtypes.Hash, missingMsg, mismatchMsg string) error {
	result, err := l.client.GetLiveCell(op)
	if err != nil {
		return polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "get_live_cell")
	}
	if result.Cell == nil {
		return polyjuiceerr.New(polyjuiceerr.MalformedData, missingMsg)
	}
	got := blake2b.Sum256(result.Cell.Data)
	if ethtypes.Hash(got) != wantHash {
		return polyjuiceerr.New(polyjuiceerr.MalformedData, mismatchMsg)
	}
	return nil
}

// TipBlockNumber is the highest height the indexer has committed, or 0 if
// it has not indexed anything yet.
func (l *Loader) TipBlockNumber() (uint64, error) {
	data, err := l.db.Get(state.BlockKey)
	if err == kvstore.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, polyjuiceerr.Wrap(polyjuiceerr.DB, err, "read block pointer")
	}
	pointer, err := state.DecodeBlockPointer(data)
	if err != nil {
		return 0, err
	}
	return pointer.Height, nil
}

// BlockNumber is the JSON-RPC "latest"-or-explicit block tag.
type BlockNumber struct {
	Latest bool
	Number uint64
}

// ResolveBlockNumber turns BlockNumber{Latest: true} into the current tip.
func (l *Loader) ResolveBlockNumber(bn BlockNumber) (uint64, error) {
	if bn.Latest {
		return l.TipBlockNumber()
	}
	return bn.Number, nil
}

// LoadAccount loads the cells owned by addr as of blockNumber. loadSpent
// controls whether a dead (spent) outpoint is still resolved via the
// transaction that created it — the historical-read fallback, needed because
// this module keeps full point-in-time snapshots rather than querying
// the base chain's own historical cell state.
func (l *Loader) LoadAccount(addr ethtypes.Address, blockNumber uint64, loadSpent bool) (*state.EthAccount, error) {
	outPoints, err := l.loadLatestOutPoints(addr, blockNumber)
	if err != nil {
		return nil, err
	}
	cells, err := l.loadCells(outPoints, loadSpent)
	if err != nil {
		return nil, err
	}
	account, err := state.PartitionCells(cells)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (l *Loader) loadLatestOutPoints(addr ethtypes.Address, height uint64) ([]basechain.OutPoint, error) {
	prefix := state.BuildEthKey(addr, nil)
	seek := state.BuildEthKey(addr, &height)
	_, value, found, err := l.db.SeekForPrev(prefix, seek)
	if err != nil {
		return nil, polyjuiceerr.Wrap(polyjuiceerr.DB, err, "seek latest outpoints")
	}
	if !found {
		return nil, nil
	}
	return state.DecodeOutPoints(value)
}

func (l *Loader) loadCells(outPoints []basechain.OutPoint, loadSpent bool) ([]state.EthCell, error) {
	var cells []state.EthCell
	for _, op := range outPoints {
		result, err := l.client.GetLiveCell(op)
		if err != nil {
			return nil, polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "get_live_cell")
		}
		switch result.Status {
		case basechain.CellStatusLive:
			if result.Cell == nil {
				return nil, polyjuiceerr.New(polyjuiceerr.InvalidOutPoint, "live cell reported with no cell data")
			}
			cells = append(cells, state.EthCell{Output: *result.Cell, OutPoint: op})
		case basechain.CellStatusDead:
			if !loadSpent {
				return nil, polyjuiceerr.InvalidOutPointErr
			}
			cell, ok, err := l.loadSpentCell(op)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, polyjuiceerr.InvalidOutPointErr
			}
			cells = append(cells, cell)
		default:
			return nil, polyjuiceerr.InvalidOutPointErr
		}
	}
	return cells, nil
}

// loadSpentCell is the historical fallback: resolve a dead outpoint via
// the transaction that created it (op.TxHash), reading the referenced
// output straight out of that transaction's own outputs rather than from
// live-cell state.
// The base chain does not expose a precise per-transaction status in
// this version, so only "committed at all" is checked.
func (l *Loader) loadSpentCell(op basechain.OutPoint) (state.EthCell, bool, error) {
	txWithStatus, err := l.client.GetTransaction(op.TxHash)
	if err != nil {
		return state.EthCell{}, false, polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "get_transaction")
	}
	if txWithStatus == nil || txWithStatus.TxStatus.BlockHash == nil {
		return state.EthCell{}, false, nil
	}
	if int(op.Index) >= len(txWithStatus.Transaction.Outputs) {
		return state.EthCell{}, false, polyjuiceerr.New(polyjuiceerr.InvalidOutPoint, "outpoint index out of range")
	}
	out := txWithStatus.Transaction.Outputs[op.Index]
	return state.EthCell{Output: out, OutPoint: op}, true, nil
}

// LoadReceipt assembles a full TransactionReceipt from the stored
// EthBasicReceipt plus the referenced base-chain transaction, or returns
// (nil, nil) if either half is unavailable (not yet indexed, or not yet
// committed on chain).
func (l *Loader) LoadReceipt(hash ethtypes.Hash) (*state.TransactionReceipt, error) {
	data, err := l.db.Get(state.BuildReceiptKey(hash))
	if err == kvstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, polyjuiceerr.Wrap(polyjuiceerr.DB, err, "read receipt")
	}
	basic, err := state.DecodeReceipt(data)
	if err != nil {
		return nil, err
	}

	txWithStatus, err := l.client.GetTransaction(basic.BaseChainTxHash)
	if err != nil {
		return nil, polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "get_transaction")
	}
	if txWithStatus == nil || txWithStatus.TxStatus.BlockHash == nil {
		return nil, nil
	}

	if int(basic.WitnessIndex) >= len(txWithStatus.Transaction.Witnesses) {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "witness index out of range")
	}
	witness := txWithStatus.Transaction.Witnesses[basic.WitnessIndex]
	if len(witness) == 0 {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "empty witness at receipt index")
	}
	ethTx, err := txcodec.Parse(witness[0])
	if err != nil {
		return nil, err
	}

	var contractAddress *ethtypes.Address
	for _, out := range txWithStatus.Transaction.Outputs {
		if out.Lock.CodeHash == state.CodeHashContractLock && len(out.Lock.Args) == 1 {
			a := ethtypes.BytesToAddress(out.Lock.Args[0])
			contractAddress = &a
			break
		}
	}

	fees, err := ethTx.Fees()
	if err != nil {
		return nil, err
	}

	return &state.TransactionReceipt{
		TransactionHash:   hash,
		TransactionIndex:  basic.TransactionIndex,
		BlockHash:         *txWithStatus.TxStatus.BlockHash,
		BlockNumber:       basic.BlockNumber,
		From:              ethTx.From,
		To:                ethTx.To,
		CumulativeGasUsed: basic.CumulativeGas,
		GasUsed:           fees,
		ContractAddress:   contractAddress,
		LogsBloom:         ethtypes.Hash{},
		Status:            1,
	}, nil
}
