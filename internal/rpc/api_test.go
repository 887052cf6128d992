package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/blake2b"

	"github.com/ckb-eth/polyjuice/internal/basechain"
	"github.com/ckb-eth/polyjuice/internal/ethtypes"
	"github.com/ckb-eth/polyjuice/internal/indexer"
	"github.com/ckb-eth/polyjuice/internal/kvstore"
	"github.com/ckb-eth/polyjuice/internal/loader"
	"github.com/ckb-eth/polyjuice/internal/rlp"
	"github.com/ckb-eth/polyjuice/internal/runner"
	"github.com/ckb-eth/polyjuice/internal/state"
	"github.com/ckb-eth/polyjuice/internal/txcodec"
)

const ckb = uint64(100_000_000)

var (
	lockBinary         = []byte("normal lock binary")
	contractLockBinary = []byte("contract lock binary")
)

// storeRuntime persists calldata[32:64] at slot calldata[0:32].
var storeRuntime = []byte{
	0x60, 0x20, 0x35,
	0x60, 0x00, 0x35,
	0x55,
	0x00,
}

// readRuntime returns the storage value at slot calldata[0:32].
var readRuntime = []byte{
	0x60, 0x00, 0x35,
	0x54,
	0x60, 0x00, 0x52,
	0x60, 0x20, 0x60, 0x00, 0xf3,
}

func initCodeFor(runtime []byte) []byte {
	n := byte(len(runtime))
	init := []byte{
		0x60, n,
		0x60, 0x0c,
		0x60, 0x00,
		0x39,
		0x60, n,
		0x60, 0x00,
		0xf3,
	}
	return append(init, runtime...)
}

type env struct {
	db     *kvstore.Memory
	chain  *basechain.Memory
	ix     *indexer.Indexer
	loader *loader.Loader
	api    *API
}

func newEnv(t *testing.T) *env {
	t.Helper()
	oldLock, oldContract := state.CodeHashLock, state.CodeHashContractLock
	state.CodeHashLock = ethtypes.Hash(blake2b.Sum256(lockBinary))
	state.CodeHashContractLock = ethtypes.Hash(blake2b.Sum256(contractLockBinary))
	t.Cleanup(func() {
		state.CodeHashLock, state.CodeHashContractLock = oldLock, oldContract
	})

	db := kvstore.NewMemory()
	chain := basechain.NewMemory()

	lockOp := basechain.OutPoint{TxHash: ethtypes.BytesToHash([]byte{0x01}), Index: 0}
	contractOp := basechain.OutPoint{TxHash: ethtypes.BytesToHash([]byte{0x02}), Index: 0}
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

	l, err := loader.New(db, chain)
	if err != nil {
		t.Fatalf("loader.New: %v", err)
	}
	return &env{
		db:     db,
		chain:  chain,
		ix:     indexer.New(db, chain),
		loader: l,
		api:    NewAPI(l, runner.New(l), chain),
	}
}

func (e *env) step(t *testing.T) {
	t.Helper()
	if err := e.ix.Step(); err != nil {
		t.Fatalf("indexer step: %v", err)
	}
}

// request invokes a method through the API and fails the test on a
// JSON-RPC error.
func (e *env) request(t *testing.T, method string, params ...interface{}) json.RawMessage {
	t.Helper()
	resp := e.rawRequest(t, method, params...)
	if resp.Error != nil {
		t.Fatalf("%s: %s (%d)", method, resp.Error.Message, resp.Error.Code)
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func (e *env) rawRequest(t *testing.T, method string, params ...interface{}) *Response {
	t.Helper()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}
	return e.api.HandleRequest(&Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      json.RawMessage("1"),
	})
}

func resultString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("result %s is not a string: %v", raw, err)
	}
	return s
}

func signTx(t *testing.T, priv *secp256k1.PrivateKey, nonce uint64, gasPrice, gasLimit, value *uint256.Int, to *ethtypes.Address, data []byte) *txcodec.Transaction {
	t.Helper()
	var toBytes []byte
	if to != nil {
		toBytes = to.Bytes()
	}
	fields := [][]byte{
		trimBytes(new(uint256.Int).SetUint64(nonce)),
		trimBytes(gasPrice),
		trimBytes(gasLimit),
		toBytes,
		trimBytes(value),
		data,
		{byte(txcodec.ChainID)},
		{},
		{},
	}
	msg := txcodec.Keccak256(rlp.EncodeBytesList(fields))
	sig := ecdsa.SignCompact(priv, msg, false)
	fields[6] = trimBytes(new(uint256.Int).SetUint64(2*txcodec.ChainID + 35 + uint64(sig[0]-27)))
	fields[7] = sig[1:33]
	fields[8] = sig[33:65]
	tx, err := txcodec.Parse(rlp.EncodeBytesList(fields))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return tx
}

func trimBytes(v *uint256.Int) []byte {
	if v == nil || v.IsZero() {
		return nil
	}
	return v.Bytes()
}

// fundViaBlock mines a faucet block granting addr one fund cell.
func (e *env) fundViaBlock(t *testing.T, addr ethtypes.Address, capacity uint64) {
	t.Helper()
	faucet := basechain.Transaction{Outputs: []basechain.CellOutput{{
		Capacity: capacity,
		Lock: basechain.Script{
			CodeHash: state.CodeHashLock,
			HashType: basechain.HashTypeData,
			Args:     [][]byte{addr.Bytes()},
		},
	}}}
	faucet.Hash = basechain.HashTransaction(&faucet)
	tip, err := e.chain.GetTipBlockNumber()
	if err != nil {
		t.Fatal(err)
	}
	var hash ethtypes.Hash
	hash[0] = 0xfa
	hash[31] = byte(tip + 1)
	e.chain.AddBlock(&basechain.Block{
		Header:       basechain.Header{Number: tip + 1, Hash: hash},
		Transactions: []basechain.Transaction{faucet},
	})
	e.step(t)
}

func TestEndToEndDeployAndStorage(t *testing.T) {
	e := newEnv(t)
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	from := ethtypes.BytesToAddress(txcodec.Keccak256(priv.PubKey().SerializeUncompressed()[1:])[12:])
	e.fundViaBlock(t, from, 10000*ckb)

	if got := resultString(t, e.request(t, "eth_blockNumber")); got != "0x1" {
		t.Fatalf("eth_blockNumber = %s, want 0x1", got)
	}

	wantBalance := txcodec.CapacityToWei(10000 * ckb).Hex()
	if got := resultString(t, e.request(t, "eth_getBalance", from.Hex(), "latest")); got != wantBalance {
		t.Fatalf("eth_getBalance = %s, want %s", got, wantBalance)
	}
	if got := resultString(t, e.request(t, "eth_getTransactionCount", from.Hex())); got != "0x0" {
		t.Fatalf("fresh account nonce = %s, want 0x0", got)
	}

	// Deploy the storage-writer contract.
	gasPrice := txcodec.CapacityToWei(1)
	gasLimit := uint256.NewInt(21000)
	deployTx := signTx(t, priv, 0, gasPrice, gasLimit, txcodec.CapacityToWei(1000*ckb), nil, initCodeFor(storeRuntime))

	deployHash := resultString(t, e.request(t, "eth_sendRawTransaction", "0x"+fmt.Sprintf("%x", deployTx.Raw)))
	if deployHash != deployTx.Hash().Hex() {
		t.Fatalf("returned hash %s, want the Ethereum transaction hash %s", deployHash, deployTx.Hash().Hex())
	}

	// Still pending: null receipt.
	if resp := e.rawRequest(t, "eth_getTransactionReceipt", deployHash); resp.Error != nil {
		t.Fatalf("receipt query errored: %v", resp.Error)
	} else if !bytes.Equal(mustMarshal(t, resp.Result), []byte("null")) {
		t.Fatalf("receipt before mining = %s, want null", mustMarshal(t, resp.Result))
	}

	e.chain.MineNext()
	e.step(t)

	var receipt struct {
		TransactionIndex  string  `json:"transactionIndex"`
		CumulativeGasUsed string  `json:"cumulativeGasUsed"`
		ContractAddress   *string `json:"contractAddress"`
	}
	if err := json.Unmarshal(e.request(t, "eth_getTransactionReceipt", deployHash), &receipt); err != nil {
		t.Fatal(err)
	}
	if receipt.TransactionIndex != "0x1" {
		t.Fatalf("transactionIndex = %s, want 0x1", receipt.TransactionIndex)
	}
	fees, err := deployTx.Fees()
	if err != nil {
		t.Fatal(err)
	}
	if receipt.CumulativeGasUsed != fees.Hex() {
		t.Fatalf("cumulativeGasUsed = %s, want %s", receipt.CumulativeGasUsed, fees.Hex())
	}
	if receipt.ContractAddress == nil {
		t.Fatal("deploy receipt must carry the contract address")
	}
	contractHex := *receipt.ContractAddress

	// The sender's indexed nonce advanced.
	if got := resultString(t, e.request(t, "eth_getTransactionCount", from.Hex())); got != "0x1" {
		t.Fatalf("nonce after deploy = %s, want 0x1", got)
	}

	// Write slot 7 via a contract call.
	contractAddr, err := ethtypes.ParseAddress(contractHex)
	if err != nil {
		t.Fatal(err)
	}
	calldata := make([]byte, 64)
	k := uint256.NewInt(7).Bytes32()
	v := uint256.NewInt(0xabcd).Bytes32()
	copy(calldata[:32], k[:])
	copy(calldata[32:], v[:])
	callTx := signTx(t, priv, 1, gasPrice, gasLimit, new(uint256.Int), &contractAddr, calldata)
	e.request(t, "eth_sendRawTransaction", "0x"+fmt.Sprintf("%x", callTx.Raw))
	e.chain.MineNext()
	e.step(t)

	got := resultString(t, e.request(t, "eth_getStorageAt", contractHex, "0x7", "latest"))
	want := "0x" + strings.Repeat("0", 60) + "abcd"
	if got != want {
		t.Fatalf("eth_getStorageAt = %s, want %s", got, want)
	}
}

func TestEthCallReturnsData(t *testing.T) {
	e := newEnv(t)
	contractAddr := ethtypes.BytesToAddress(bytes.Repeat([]byte{0xc0}, 20))

	data, err := state.EncodeContractCellData(state.EthContractData{
		Code: readRuntime,
		Storage: map[uint256.Int]uint256.Int{
			*uint256.NewInt(7): *uint256.NewInt(0xabcd),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	op := basechain.OutPoint{TxHash: ethtypes.BytesToHash([]byte{0x20}), Index: 0}
	e.chain.AddGenesisCell(op, basechain.CellOutput{
		Capacity: 1000 * ckb,
		Lock: basechain.Script{
			CodeHash: state.CodeHashContractLock,
			HashType: basechain.HashTypeData,
			Args:     [][]byte{contractAddr.Bytes()},
		},
		Data: data,
	})
	snapData, err := state.EncodeOutPoints([]basechain.OutPoint{op})
	if err != nil {
		t.Fatal(err)
	}
	height := uint64(0)
	if err := e.db.Put(state.BuildEthKey(contractAddr, &height), snapData); err != nil {
		t.Fatal(err)
	}

	slot := uint256.NewInt(7).Bytes32()
	result := resultString(t, e.request(t, "eth_call", map[string]string{
		"to":   contractAddr.Hex(),
		"data": "0x" + fmt.Sprintf("%x", slot[:]),
	}, "latest"))
	want := "0x" + strings.Repeat("0", 60) + "abcd"
	if result != want {
		t.Fatalf("eth_call = %s, want %s", result, want)
	}
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestParseBlockTag(t *testing.T) {
	cases := []struct {
		in      string
		want    uint64
		latest  bool
		wantErr bool
	}{
		{in: `"latest"`, latest: true},
		{in: `"0x10"`, want: 16},
		{in: `"0x1"`, want: 1},
		{in: `"0x0"`, wantErr: true},
		{in: `"0x010"`, wantErr: true},
		{in: `"0x"`, wantErr: true},
		{in: `"10"`, wantErr: true},
		{in: `17`, wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseBlockTag(json.RawMessage(tc.in))
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseBlockTag(%s): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseBlockTag(%s): %v", tc.in, err)
			continue
		}
		if got.Latest != tc.latest || got.Number != tc.want {
			t.Errorf("parseBlockTag(%s) = %+v", tc.in, got)
		}
	}

	// Absent parameter means latest.
	got, err := parseBlockTag(nil)
	if err != nil || !got.Latest {
		t.Errorf("parseBlockTag(nil) = %+v, %v", got, err)
	}
}

func TestServerTransport(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(NewServer(e.api).Handler())
	defer srv.Close()

	body := `{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber","params":[]}`
	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var parsed Response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Error != nil {
		t.Fatalf("unexpected error: %+v", parsed.Error)
	}

	getResp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", getResp.StatusCode)
	}
}

func TestWeb3AndNetMethods(t *testing.T) {
	e := newEnv(t)
	if got := resultString(t, e.request(t, "web3_clientVersion")); got != ClientVersion {
		t.Fatalf("web3_clientVersion = %s", got)
	}
	if got := resultString(t, e.request(t, "net_version")); got != "1" {
		t.Fatalf("net_version = %s, want 1", got)
	}
}
