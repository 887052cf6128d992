// Package indexer follows the base chain, maintaining the address→cells
// secondary index the rest of the module reads from, and undoes forks by
// reverting to the last agreed-upon height.
package indexer

import (
	"bytes"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"github.com/ckb-eth/polyjuice/internal/basechain"
	"github.com/ckb-eth/polyjuice/internal/ethtypes"
	"github.com/ckb-eth/polyjuice/internal/kvstore"
	"github.com/ckb-eth/polyjuice/internal/polyjuiceerr"
	"github.com/ckb-eth/polyjuice/internal/state"
	"github.com/ckb-eth/polyjuice/internal/txcodec"
	"github.com/ckb-eth/polyjuice/log"
	"github.com/ckb-eth/polyjuice/metrics"
)

// pollInterval is how long the indexer sleeps when the base chain has no
// block past its current tip.
const pollInterval = 3 * time.Second

// Indexer is a single long-lived loop over one KV store and one base
// chain client. Run is not safe to call concurrently with itself;
// indexing is strictly sequential.
type Indexer struct {
	db     kvstore.Store
	client basechain.Client
	logger *log.Logger
}

// New builds an Indexer over db and client.
func New(db kvstore.Store, client basechain.Client) *Indexer {
	return &Indexer{db: db, client: client, logger: log.Default().Module("indexer")}
}

// Run loops forever (or until stop is closed), ingesting new blocks and
// reverting on fork detection. Callers run this in its own goroutine.
func (ix *Indexer) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		if err := ix.Step(); err != nil {
			return err
		}
	}
}

// Step performs exactly one indexer iteration: a fork check (reverting if
// needed) followed by an attempt to ingest the next block.
func (ix *Indexer) Step() error {
	pointer, err := ix.readBlockPointer()
	if err != nil {
		return err
	}

	if pointer.Height > 0 {
		header, err := ix.client.GetHeaderByNumber(pointer.Height)
		if err != nil {
			return polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "get_header_by_number")
		}
		if header != nil && header.Hash != pointer.Hash {
			ix.logger.Info("reverting block due to fork", "height", pointer.Height, "hash", header.Hash.Hex())
			return ix.revert(pointer.Height)
		}
	}

	next := pointer.Height + 1
	block, err := ix.client.GetBlockByNumber(next)
	if err != nil {
		return polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "get_block_by_number")
	}
	if block == nil {
		ix.logger.Debug("no new block available, sleeping")
		time.Sleep(pollInterval)
		return nil
	}
	ix.logger.Info("indexing block", "height", next, "hash", block.Header.Hash.Hex())
	return ix.ingest(next, block)
}

func (ix *Indexer) readBlockPointer() (state.BlockPointer, error) {
	data, err := ix.db.Get(state.BlockKey)
	if err == kvstore.ErrNotFound {
		return state.BlockPointer{}, nil
	}
	if err != nil {
		return state.BlockPointer{}, polyjuiceerr.Wrap(polyjuiceerr.DB, err, "read block pointer")
	}
	return state.DecodeBlockPointer(data)
}

type addrDiff struct {
	spent map[basechain.OutPoint]struct{}
	added map[basechain.OutPoint]struct{}
}

// ingest processes one block's transactions and commits every resulting
// write as a single atomic batch.
func (ix *Indexer) ingest(height uint64, block *basechain.Block) error {
	diffs := map[ethtypes.Address]*addrDiff{}
	receipts := map[ethtypes.Hash]state.EthBasicReceipt{}

	var txIndex uint64 = 1
	cumulativeGas := new(uint256.Int)

	for _, tx := range block.Transactions {
		hasEthLock := false
		for _, out := range tx.Outputs {
			if out.Lock.CodeHash == state.CodeHashLock {
				hasEthLock = true
				break
			}
		}
		if hasEthLock {
			for i, witness := range tx.Witnesses {
				if len(witness) != 1 {
					continue
				}
				ethTx, err := txcodec.Parse(witness[0])
				if err != nil {
					ix.logger.Warn("skipping witness we cannot parse", "index", i, "err", err)
					continue
				}
				fees, err := ethTx.Fees()
				if err != nil {
					return err
				}
				var overflow bool
				cumulativeGas, overflow = new(uint256.Int).AddOverflow(cumulativeGas, fees)
				if overflow {
					return polyjuiceerr.New(polyjuiceerr.MalformedData, "wei addition overflow")
				}
				receipts[ethTx.Hash()] = state.EthBasicReceipt{
					TransactionIndex: txIndex,
					CumulativeGas:    new(uint256.Int).Set(cumulativeGas),
					WitnessIndex:     uint64(i),
					BlockNumber:      height,
					BaseChainTxHash:  baseChainTxHash(tx),
				}
				txIndex++
			}
		}

		for _, in := range tx.Inputs {
			opKey, err := state.BuildOutPointKey(in.PreviousOutput)
			if err != nil {
				return err
			}
			ownerBytes, err := ix.db.Get(opKey)
			if err == kvstore.ErrNotFound {
				continue
			}
			if err != nil {
				return polyjuiceerr.Wrap(polyjuiceerr.DB, err, "read outpoint owner")
			}
			addr := ethtypes.BytesToAddress(ownerBytes)
			d := diffFor(diffs, addr)
			d.spent[in.PreviousOutput] = struct{}{}
		}

		for i, out := range tx.Outputs {
			if out.Lock.CodeHash != state.CodeHashLock && out.Lock.CodeHash != state.CodeHashContractLock {
				continue
			}
			if len(out.Lock.Args) != 1 || len(out.Lock.Args[0]) != ethtypes.AddressLength {
				continue
			}
			addr := ethtypes.BytesToAddress(out.Lock.Args[0])
			op := basechain.OutPoint{TxHash: baseChainTxHash(tx), Index: uint32(i)}
			d := diffFor(diffs, addr)
			d.added[op] = struct{}{}
		}
	}

	batch := ix.db.NewBatch()

	newHash := block.Header.Hash
	pointerData, err := state.EncodeBlockPointer(state.BlockPointer{Height: height, Hash: newHash})
	if err != nil {
		return err
	}
	if err := batch.Put(state.BlockKey, pointerData); err != nil {
		return err
	}
	if err := batch.Put(state.BuildBlockHashKey(height), newHash.Bytes()); err != nil {
		return err
	}

	var allSpent, allAdded []basechain.OutPoint
	for addr, d := range diffs {
		prior, err := ix.loadLatestOutPoints(addr, height)
		if err != nil {
			return err
		}
		next := diffOutPoints(prior, d)
		sortOutPoints(next)

		key := state.BuildEthKey(addr, heightPtr(height))
		data, err := state.EncodeOutPoints(next)
		if err != nil {
			return err
		}
		if err := batch.Put(key, data); err != nil {
			return err
		}

		for op := range d.spent {
			allSpent = append(allSpent, op)
		}
		for op := range d.added {
			allAdded = append(allAdded, op)
			opKey, err := state.BuildOutPointKey(op)
			if err != nil {
				return err
			}
			if err := batch.Put(opKey, addr.Bytes()); err != nil {
				return err
			}
		}
	}

	// Serialized sets are sorted so that re-ingesting the same block on
	// the same prior state writes byte-identical values.
	sortOutPoints(allSpent)
	sortOutPoints(allAdded)

	spentData, err := state.EncodeOutPoints(allSpent)
	if err != nil {
		return err
	}
	if err := batch.Put(state.BuildBlockSpentOutPointsKey(height), spentData); err != nil {
		return err
	}
	addedData, err := state.EncodeOutPoints(allAdded)
	if err != nil {
		return err
	}
	if err := batch.Put(state.BuildBlockAddedOutPointsKey(height), addedData); err != nil {
		return err
	}

	var receiptHashes []ethtypes.Hash
	for hash, receipt := range receipts {
		receiptHashes = append(receiptHashes, hash)
		data, err := state.EncodeReceipt(receipt)
		if err != nil {
			return err
		}
		if err := batch.Put(state.BuildReceiptKey(hash), data); err != nil {
			return err
		}
	}
	sort.Slice(receiptHashes, func(i, j int) bool {
		return bytes.Compare(receiptHashes[i].Bytes(), receiptHashes[j].Bytes()) < 0
	})
	hashesData, err := state.EncodeHashes(receiptHashes)
	if err != nil {
		return err
	}
	if err := batch.Put(state.BuildBlockReceiptHashesKey(height), hashesData); err != nil {
		return err
	}

	if err := batch.Commit(); err != nil {
		return err
	}
	metrics.IndexerHeight.Set(float64(height))
	return nil
}

// revert undoes the indexed effects of height as one atomic batch, then
// restores the block pointer to height-1.
func (ix *Indexer) revert(height uint64) error {
	batch := ix.db.NewBatch()

	receiptHashesData, err := ix.db.Get(state.BuildBlockReceiptHashesKey(height))
	if err != nil {
		return polyjuiceerr.Wrap(polyjuiceerr.MalformedData, err, "receipt hash key does not exist")
	}
	receiptHashes, err := state.DecodeHashes(receiptHashesData)
	if err != nil {
		return err
	}
	if err := batch.Delete(state.BuildBlockReceiptHashesKey(height)); err != nil {
		return err
	}
	for _, hash := range receiptHashes {
		if err := batch.Delete(state.BuildReceiptKey(hash)); err != nil {
			return err
		}
	}

	addedData, err := ix.db.Get(state.BuildBlockAddedOutPointsKey(height))
	if err != nil {
		return polyjuiceerr.Wrap(polyjuiceerr.MalformedData, err, "added out point key does not exist")
	}
	added, err := state.DecodeOutPoints(addedData)
	if err != nil {
		return err
	}
	if err := batch.Delete(state.BuildBlockAddedOutPointsKey(height)); err != nil {
		return err
	}
	spentData, err := ix.db.Get(state.BuildBlockSpentOutPointsKey(height))
	if err != nil {
		return polyjuiceerr.Wrap(polyjuiceerr.MalformedData, err, "spent out point key does not exist")
	}
	spent, err := state.DecodeOutPoints(spentData)
	if err != nil {
		return err
	}
	if err := batch.Delete(state.BuildBlockSpentOutPointsKey(height)); err != nil {
		return err
	}

	// Every address that gained or lost a cell got a snapshot at height.
	// Only the added outpoints' owner keys belong to this block; a spent
	// outpoint's owner key was written by an earlier block and stays.
	addrs := map[ethtypes.Address]struct{}{}
	for i, op := range append(added, spent...) {
		opKey, err := state.BuildOutPointKey(op)
		if err != nil {
			return err
		}
		ownerBytes, err := ix.db.Get(opKey)
		if err != nil {
			return polyjuiceerr.Wrap(polyjuiceerr.MalformedData, err, "out point key does not exist")
		}
		addrs[ethtypes.BytesToAddress(ownerBytes)] = struct{}{}
		if i >= len(added) {
			continue
		}
		if err := batch.Delete(opKey); err != nil {
			return err
		}
	}
	for addr := range addrs {
		first := state.BuildEthKey(addr, heightPtr(height))
		last := state.BuildEthKey(addr, heightPtr(height+1))
		if err := batch.DeleteRange(first, last); err != nil {
			return err
		}
	}

	if err := batch.Delete(state.BuildBlockHashKey(height)); err != nil {
		return err
	}

	if height > 1 {
		prevHeight := height - 1
		prevHashBytes, err := ix.db.Get(state.BuildBlockHashKey(prevHeight))
		if err != nil {
			return polyjuiceerr.Wrap(polyjuiceerr.MalformedData, err, "previous block hash key does not exist")
		}
		pointerData, err := state.EncodeBlockPointer(state.BlockPointer{
			Height: prevHeight,
			Hash:   ethtypes.BytesToHash(prevHashBytes),
		})
		if err != nil {
			return err
		}
		if err := batch.Put(state.BlockKey, pointerData); err != nil {
			return err
		}
	} else {
		if err := batch.Delete(state.BlockKey); err != nil {
			return err
		}
	}

	if err := batch.Commit(); err != nil {
		return err
	}
	metrics.IndexerReverts.Inc()
	metrics.IndexerHeight.Set(float64(height - 1))
	return nil
}

func (ix *Indexer) loadLatestOutPoints(addr ethtypes.Address, height uint64) ([]basechain.OutPoint, error) {
	prefix := state.BuildEthKey(addr, nil)
	seek := state.BuildEthKey(addr, heightPtr(height))
	_, value, found, err := ix.db.SeekForPrev(prefix, seek)
	if err != nil {
		return nil, polyjuiceerr.Wrap(polyjuiceerr.DB, err, "seek latest outpoints")
	}
	if !found {
		return nil, nil
	}
	return state.DecodeOutPoints(value)
}

func diffFor(diffs map[ethtypes.Address]*addrDiff, addr ethtypes.Address) *addrDiff {
	d, ok := diffs[addr]
	if !ok {
		d = &addrDiff{spent: map[basechain.OutPoint]struct{}{}, added: map[basechain.OutPoint]struct{}{}}
		diffs[addr] = d
	}
	return d
}

// diffOutPoints computes the next snapshot as (prior minus spent) plus
// added.
func diffOutPoints(prior []basechain.OutPoint, d *addrDiff) []basechain.OutPoint {
	out := make([]basechain.OutPoint, 0, len(prior)+len(d.added))
	for _, op := range prior {
		if _, spent := d.spent[op]; !spent {
			out = append(out, op)
		}
	}
	for op := range d.added {
		out = append(out, op)
	}
	return out
}

func heightPtr(h uint64) *uint64 { return &h }

func sortOutPoints(ops []basechain.OutPoint) {
	sort.Slice(ops, func(i, j int) bool {
		if c := bytes.Compare(ops[i].TxHash.Bytes(), ops[j].TxHash.Bytes()); c != 0 {
			return c < 0
		}
		return ops[i].Index < ops[j].Index
	})
}

// baseChainTxHash reads the base-chain transaction hash the wire decoder
// stamped onto tx when the enclosing block was fetched; this is the
// identifier the indexer keys receipts and outpoints by.
func baseChainTxHash(tx basechain.Transaction) ethtypes.Hash {
	return tx.Hash
}
