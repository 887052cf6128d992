package loader

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/blake2b"

	"github.com/ckb-eth/polyjuice/internal/basechain"
	"github.com/ckb-eth/polyjuice/internal/ethtypes"
	"github.com/ckb-eth/polyjuice/internal/kvstore"
	"github.com/ckb-eth/polyjuice/internal/polyjuiceerr"
	"github.com/ckb-eth/polyjuice/internal/rlp"
	"github.com/ckb-eth/polyjuice/internal/state"
	"github.com/ckb-eth/polyjuice/internal/txcodec"
)

var (
	lockBinary         = []byte("normal lock binary")
	contractLockBinary = []byte("contract lock binary")
)

// installTestCodeHashes points the compiled-in code hashes at the test
// lock binaries so constructor verification can pass against the
// in-process chain.
func installTestCodeHashes(t *testing.T) {
	t.Helper()
	oldLock, oldContract := state.CodeHashLock, state.CodeHashContractLock
	state.CodeHashLock = ethtypes.Hash(blake2b.Sum256(lockBinary))
	state.CodeHashContractLock = ethtypes.Hash(blake2b.Sum256(contractLockBinary))
	t.Cleanup(func() {
		state.CodeHashLock, state.CodeHashContractLock = oldLock, oldContract
	})
}

func testAddr(b byte) ethtypes.Address {
	var a ethtypes.Address
	for i := range a {
		a[i] = b
	}
	return a
}

func lockDepOutPoint(b byte) basechain.OutPoint {
	var h ethtypes.Hash
	h[0] = b
	return basechain.OutPoint{TxHash: h, Index: 0}
}

// newVerifiedEnv builds a store and chain holding live lock code cells
// and the two bootstrap keys pointing at them.
func newVerifiedEnv(t *testing.T) (*kvstore.Memory, *basechain.Memory) {
	t.Helper()
	installTestCodeHashes(t)
	db := kvstore.NewMemory()
	chain := basechain.NewMemory()

	lockOp := lockDepOutPoint(0x01)
	contractOp := lockDepOutPoint(0x02)
	chain.AddGenesisCell(lockOp, basechain.CellOutput{Capacity: 1, Data: lockBinary})
	chain.AddGenesisCell(contractOp, basechain.CellOutput{Capacity: 1, Data: contractLockBinary})

	for key, op := range map[string]basechain.OutPoint{
		string(state.LockDepKey):         lockOp,
		string(state.ContractLockDepKey): contractOp,
	} {
		value, err := state.EncodeOutPointValue(op)
		if err != nil {
			t.Fatal(err)
		}
		if err := db.Put([]byte(key), value); err != nil {
			t.Fatal(err)
		}
	}
	return db, chain
}

func writeSnapshot(t *testing.T, db kvstore.Store, addr ethtypes.Address, height uint64, ops []basechain.OutPoint) {
	t.Helper()
	data, err := state.EncodeOutPoints(ops)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Put(state.BuildEthKey(addr, &height), data); err != nil {
		t.Fatal(err)
	}
}

func TestNewVerifiesLockCells(t *testing.T) {
	db, chain := newVerifiedEnv(t)
	if _, err := New(db, chain); err != nil {
		t.Fatalf("New: %v", err)
	}
}

func TestNewRejectsTamperedLockCell(t *testing.T) {
	db, chain := newVerifiedEnv(t)
	chain.AddGenesisCell(lockDepOutPoint(0x01), basechain.CellOutput{Capacity: 1, Data: []byte("tampered")})
	if _, err := New(db, chain); err == nil {
		t.Fatal("expected hash mismatch error")
	}
}

func TestLoadAccountPartitionsCells(t *testing.T) {
	db, chain := newVerifiedEnv(t)
	a := testAddr(0xaa)

	mainOp := lockDepOutPoint(0x10)
	fundOp := lockDepOutPoint(0x11)
	chain.AddGenesisCell(mainOp, basechain.CellOutput{
		Capacity: 500,
		Data:     state.EncodeNormalCellData(6),
	})
	chain.AddGenesisCell(fundOp, basechain.CellOutput{Capacity: 1200})
	writeSnapshot(t, db, a, 3, []basechain.OutPoint{mainOp, fundOp})

	l, err := New(db, chain)
	if err != nil {
		t.Fatal(err)
	}

	// Height 5 resolves through the latest snapshot at or below it.
	account, err := l.LoadAccount(a, 5, false)
	if err != nil {
		t.Fatal(err)
	}
	if account.MainCell == nil {
		t.Fatal("main cell not found")
	}
	if len(account.FundCells) != 1 {
		t.Fatalf("fund cells = %d, want 1", len(account.FundCells))
	}
	nonce, err := account.NextNonce()
	if err != nil {
		t.Fatal(err)
	}
	if nonce != 7 {
		t.Fatalf("next nonce = %d, want 7", nonce)
	}
	total, err := account.TotalCapacities()
	if err != nil {
		t.Fatal(err)
	}
	if total != 1700 {
		t.Fatalf("total capacities = %d, want 1700", total)
	}
}

func TestLoadAccountBeforeFirstSnapshotIsEmpty(t *testing.T) {
	db, chain := newVerifiedEnv(t)
	a := testAddr(0xaa)
	writeSnapshot(t, db, a, 8, []basechain.OutPoint{lockDepOutPoint(0x10)})

	l, err := New(db, chain)
	if err != nil {
		t.Fatal(err)
	}
	account, err := l.LoadAccount(a, 5, false)
	if err != nil {
		t.Fatal(err)
	}
	if account.MainCell != nil || len(account.FundCells) != 0 {
		t.Fatalf("account at height 5 should be empty, got %+v", account)
	}
}

func TestLoadAccountSpentFallback(t *testing.T) {
	db, chain := newVerifiedEnv(t)
	a := testAddr(0xaa)

	create := basechain.Transaction{Outputs: []basechain.CellOutput{{Capacity: 700}}}
	create.Hash = basechain.HashTransaction(&create)
	op := basechain.OutPoint{TxHash: create.Hash, Index: 0}
	chain.AddBlock(&basechain.Block{
		Header:       basechain.Header{Number: 1, Hash: ethtypes.BytesToHash([]byte{1})},
		Transactions: []basechain.Transaction{create},
	})
	spend := basechain.Transaction{Inputs: []basechain.CellInput{{PreviousOutput: op}}}
	spend.Hash = basechain.HashTransaction(&spend)
	chain.AddBlock(&basechain.Block{
		Header:       basechain.Header{Number: 2, Hash: ethtypes.BytesToHash([]byte{2})},
		Transactions: []basechain.Transaction{spend},
	})

	writeSnapshot(t, db, a, 1, []basechain.OutPoint{op})

	l, err := New(db, chain)
	if err != nil {
		t.Fatal(err)
	}

	// Without the fallback a dead cell is an InvalidOutPoint.
	if _, err := l.LoadAccount(a, 1, false); !polyjuiceerr.Is(err, polyjuiceerr.InvalidOutPoint) {
		t.Fatalf("err = %v, want InvalidOutPoint", err)
	}

	// With it, the historical output is read out of the creating
	// transaction.
	account, err := l.LoadAccount(a, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(account.FundCells) != 1 || account.FundCells[0].Output.Capacity != 700 {
		t.Fatalf("historical cell not recovered: %+v", account)
	}
}

func signedRawTx(t *testing.T, createsContract bool) []byte {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	var toBytes []byte
	if !createsContract {
		to := testAddr(0xbb)
		toBytes = to.Bytes()
	}
	fields := [][]byte{
		nil,
		u64Bytes(2),
		u64Bytes(21000),
		toBytes,
		u64Bytes(1),
		nil,
		{byte(txcodec.ChainID)},
		{},
		{},
	}
	msg := txcodec.Keccak256(rlp.EncodeBytesList(fields))
	sig := ecdsa.SignCompact(priv, msg, false)
	fields[6] = u64Bytes(2*txcodec.ChainID + 35 + uint64(sig[0]-27))
	fields[7] = sig[1:33]
	fields[8] = sig[33:65]
	return rlp.EncodeBytesList(fields)
}

func u64Bytes(v uint64) []byte {
	if v == 0 {
		return nil
	}
	return new(uint256.Int).SetUint64(v).Bytes()
}

func TestLoadReceiptTiming(t *testing.T) {
	db, chain := newVerifiedEnv(t)
	contractAddr := testAddr(0xcc)

	raw := signedRawTx(t, true)
	ethTx, err := txcodec.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}

	baseTx := &basechain.Transaction{
		Outputs: []basechain.CellOutput{
			{Capacity: 10, Lock: basechain.Script{CodeHash: state.CodeHashLock, Args: [][]byte{testAddr(0xaa).Bytes()}}},
			{Capacity: 20, Lock: basechain.Script{CodeHash: state.CodeHashContractLock, Args: [][]byte{contractAddr.Bytes()}}, Data: []byte{2}},
		},
		Witnesses: [][][]byte{{raw}},
	}
	baseHash, err := chain.SendTransaction(baseTx)
	if err != nil {
		t.Fatal(err)
	}

	fees, err := ethTx.Fees()
	if err != nil {
		t.Fatal(err)
	}
	basic := state.EthBasicReceipt{
		TransactionIndex: 1,
		CumulativeGas:    fees,
		BlockNumber:      1,
		BaseChainTxHash:  baseHash,
		WitnessIndex:     0,
	}
	data, err := state.EncodeReceipt(basic)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Put(state.BuildReceiptKey(ethTx.Hash()), data); err != nil {
		t.Fatal(err)
	}

	l, err := New(db, chain)
	if err != nil {
		t.Fatal(err)
	}

	// The base-chain transaction is only pending: no receipt yet.
	receipt, err := l.LoadReceipt(ethTx.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if receipt != nil {
		t.Fatal("receipt should be nil while the base transaction is pending")
	}

	chain.MineNext()

	receipt, err = l.LoadReceipt(ethTx.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if receipt == nil {
		t.Fatal("receipt should exist after the base transaction is mined")
	}
	if receipt.TransactionIndex != 1 {
		t.Fatalf("transaction index = %d, want 1", receipt.TransactionIndex)
	}
	if !receipt.GasUsed.Eq(fees) {
		t.Fatalf("gas used = %s, want %s", receipt.GasUsed, fees)
	}
	if receipt.ContractAddress == nil || *receipt.ContractAddress != contractAddr {
		t.Fatalf("contract address = %v, want %s", receipt.ContractAddress, contractAddr.Hex())
	}
	if receipt.From != ethTx.From {
		t.Fatalf("from = %s, want %s", receipt.From.Hex(), ethTx.From.Hex())
	}
}

func TestLoadReceiptUnknownHashIsNil(t *testing.T) {
	db, chain := newVerifiedEnv(t)
	l, err := New(db, chain)
	if err != nil {
		t.Fatal(err)
	}
	receipt, err := l.LoadReceipt(ethtypes.BytesToHash([]byte{0xde, 0xad}))
	if err != nil {
		t.Fatal(err)
	}
	if receipt != nil {
		t.Fatal("unknown hash should yield nil receipt")
	}
}
