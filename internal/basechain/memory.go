package basechain

import (
	"bytes"
	"encoding/gob"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/ckb-eth/polyjuice/internal/ethtypes"
)

// Memory is an in-process base chain implementing Client. It holds a
// linear chain of blocks plus a set of genesis cells that exist without a
// creating block (the lock code cells the bootstrap step publishes).
// Liveness is derived from the block set on every query, so replacing the
// tip block — the reorg case — needs no bookkeeping beyond swapping the
// block itself.
//
// Memory backs tests and local development runs; a deployment against a
// real node uses HTTPClient instead.
type Memory struct {
	mu      sync.Mutex
	blocks  map[uint64]*Block
	tip     uint64
	genesis map[OutPoint]CellOutput
	pending []*Transaction
}

// NewMemory creates an empty in-process chain.
func NewMemory() *Memory {
	return &Memory{
		blocks:  make(map[uint64]*Block),
		genesis: make(map[OutPoint]CellOutput),
	}
}

// AddGenesisCell registers a cell that is live from the chain's beginning
// without belonging to any block's transaction.
func (m *Memory) AddGenesisCell(op OutPoint, out CellOutput) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.genesis[op] = out
}

// HashTransaction assigns tx.Hash deterministically from the
// transaction's content, the way the real base chain derives a
// transaction hash from its serialization.
func HashTransaction(tx *Transaction) ethtypes.Hash {
	clone := *tx
	clone.Hash = ethtypes.Hash{}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&clone); err != nil {
		panic(err)
	}
	return ethtypes.Hash(blake2b.Sum256(buf.Bytes()))
}

// SendTransaction accepts tx into the pending set and returns its hash.
// The transaction joins the chain at the next MineNext call.
func (m *Memory) SendTransaction(tx *Transaction) (ethtypes.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *tx
	clone.Hash = HashTransaction(tx)
	m.pending = append(m.pending, &clone)
	return clone.Hash, nil
}

// MineNext seals every pending transaction into a new block at tip+1 and
// returns it. The block hash is derived from the height and the contained
// transaction hashes.
func (m *Memory) MineNext() *Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	height := m.tip + 1
	var txs []Transaction
	for _, tx := range m.pending {
		txs = append(txs, *tx)
	}
	m.pending = nil
	block := &Block{
		Header:       Header{Number: height, Hash: deriveBlockHash(height, txs)},
		Transactions: txs,
	}
	m.blocks[height] = block
	m.tip = height
	return block
}

// AddBlock installs block at its header height, truncating any blocks
// above it. Installing a different block at an existing height is how a
// test models a reorg.
func (m *Memory) AddBlock(block *Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	height := block.Header.Number
	for h := height; h <= m.tip; h++ {
		delete(m.blocks, h)
	}
	for i := range block.Transactions {
		tx := &block.Transactions[i]
		if tx.Hash.IsZero() {
			tx.Hash = HashTransaction(tx)
		}
	}
	m.blocks[height] = block
	m.tip = height
}

func deriveBlockHash(height uint64, txs []Transaction) ethtypes.Hash {
	h, _ := blake2b.New256(nil)
	h.Write(LEUint64(height))
	for _, tx := range txs {
		h.Write(tx.Hash.Bytes())
	}
	var out ethtypes.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func (m *Memory) GetTipBlockNumber() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tip, nil
}

func (m *Memory) GetHeaderByNumber(number uint64) (*Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	block, ok := m.blocks[number]
	if !ok {
		return nil, nil
	}
	header := block.Header
	return &header, nil
}

func (m *Memory) GetBlockByNumber(number uint64) (*Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	block, ok := m.blocks[number]
	if !ok {
		return nil, nil
	}
	return block, nil
}

// GetLiveCell derives op's status by scanning the chain: live if created
// (by a block transaction or as a genesis cell) and not consumed by any
// input, dead if created and consumed, unknown otherwise.
func (m *Memory) GetLiveCell(op OutPoint) (*LiveCellResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, created := m.findOutput(op)
	if !created {
		return &LiveCellResult{Status: CellStatusUnknown}, nil
	}
	if m.spent(op) {
		return &LiveCellResult{Status: CellStatusDead}, nil
	}
	return &LiveCellResult{Status: CellStatusLive, Cell: &out}, nil
}

func (m *Memory) findOutput(op OutPoint) (CellOutput, bool) {
	if out, ok := m.genesis[op]; ok {
		return out, true
	}
	for _, block := range m.blocks {
		for i := range block.Transactions {
			tx := &block.Transactions[i]
			if tx.Hash == op.TxHash && int(op.Index) < len(tx.Outputs) {
				return tx.Outputs[op.Index], true
			}
		}
	}
	return CellOutput{}, false
}

func (m *Memory) spent(op OutPoint) bool {
	for _, block := range m.blocks {
		for i := range block.Transactions {
			for _, in := range block.Transactions[i].Inputs {
				if in.PreviousOutput == op {
					return true
				}
			}
		}
	}
	return false
}

func (m *Memory) GetTransaction(hash ethtypes.Hash) (*TransactionWithStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, block := range m.blocks {
		for i := range block.Transactions {
			tx := &block.Transactions[i]
			if tx.Hash == hash {
				blockHash := block.Header.Hash
				return &TransactionWithStatus{
					Transaction: tx,
					TxStatus:    TxStatus{Status: "committed", BlockHash: &blockHash},
				}, nil
			}
		}
	}
	for _, tx := range m.pending {
		if tx.Hash == hash {
			return &TransactionWithStatus{
				Transaction: tx,
				TxStatus:    TxStatus{Status: "pending"},
			}, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetCellsByLockHash(lockHash ethtypes.Hash, from, to uint64) ([]CellWithOutPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cells []CellWithOutPoint
	for h := from; h <= to && h <= m.tip; h++ {
		block, ok := m.blocks[h]
		if !ok {
			continue
		}
		for i := range block.Transactions {
			tx := &block.Transactions[i]
			for j, out := range tx.Outputs {
				op := OutPoint{TxHash: tx.Hash, Index: uint32(j)}
				if ScriptHash(out.Lock) == lockHash && !m.spent(op) {
					cells = append(cells, CellWithOutPoint{OutPoint: op, Output: out})
				}
			}
		}
	}
	return cells, nil
}

// ScriptHash is the blake2b-256 identity of a script, as used by
// get_cells_by_lock_hash lookups.
func ScriptHash(s Script) ethtypes.Hash {
	h, _ := blake2b.New256(nil)
	h.Write(s.CodeHash.Bytes())
	h.Write([]byte{byte(s.HashType)})
	for _, a := range s.Args {
		h.Write(a)
	}
	var out ethtypes.Hash
	copy(out[:], h.Sum(nil))
	return out
}

var _ Client = (*Memory)(nil)
