package basechain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ckb-eth/polyjuice/internal/ethtypes"
	"github.com/ckb-eth/polyjuice/internal/polyjuiceerr"
)

// Client is everything the indexer, loader, and runner need from the base
// chain: seven read/write calls. The base chain is an external
// collaborator — this module only needs the shape of the interface, not
// an implementation of the base chain's own consensus rules.
type Client interface {
	GetTipBlockNumber() (uint64, error)
	GetHeaderByNumber(number uint64) (*Header, error)
	GetBlockByNumber(number uint64) (*Block, error)
	GetLiveCell(op OutPoint) (*LiveCellResult, error)
	GetTransaction(hash ethtypes.Hash) (*TransactionWithStatus, error)
	SendTransaction(tx *Transaction) (ethtypes.Hash, error)
	GetCellsByLockHash(lockHash ethtypes.Hash, from, to uint64) ([]CellWithOutPoint, error)
}

// CellWithOutPoint pairs a cell with the outpoint it lives at, as returned
// by get_cells_by_lock_hash (consumed by the bootstrap path, not the
// core read/write flow).
type CellWithOutPoint struct {
	OutPoint OutPoint
	Output   CellOutput
}

// HTTPClient is a JSON-RPC 2.0 HTTP client for the base chain's node RPC,
// built on the same plain net/http + encoding/json idiom this module's
// own rpc server uses.
type HTTPClient struct {
	uri        string
	httpClient *http.Client
	nextID     int
}

// NewHTTPClient builds a client against the base chain node listening at
// uri (e.g. "http://127.0.0.1:8114").
func NewHTTPClient(uri string) *HTTPClient {
	return &HTTPClient{
		uri:        uri,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) call(method string, params []interface{}, out interface{}) error {
	c.nextID++
	req := rpcRequest{JSONRPC: "2.0", ID: c.nextID, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "encode request")
	}
	resp, err := c.httpClient.Post(c.uri, "application/json", bytes.NewReader(body))
	if err != nil {
		return polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "%s", method)
	}
	defer resp.Body.Close()

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "decode %s response", method)
	}
	if rr.Error != nil {
		return polyjuiceerr.New(polyjuiceerr.Rpc, "%s: %s (%d)", method, rr.Error.Message, rr.Error.Code)
	}
	if out == nil || len(rr.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "unmarshal %s result", method)
	}
	return nil
}

func hexUint64(n uint64) string { return fmt.Sprintf("0x%x", n) }

// wireHeader and the wire* types in wire.go mirror the base chain node's
// JSON encoding (hex-string numbers, hex-string byte arrays). Kept private:
// the rest of the module only ever sees the basechain.* value types.
type wireHeader struct {
	Number string `json:"number"`
	Hash   string `json:"hash"`
}

func (c *HTTPClient) GetTipBlockNumber() (uint64, error) {
	var s string
	if err := c.call("get_tip_block_number", nil, &s); err != nil {
		return 0, err
	}
	return parseHexUint64(s)
}

func (c *HTTPClient) GetHeaderByNumber(number uint64) (*Header, error) {
	var wh *wireHeader
	if err := c.call("get_header_by_number", []interface{}{hexUint64(number)}, &wh); err != nil {
		return nil, err
	}
	if wh == nil {
		return nil, nil
	}
	n, err := parseHexUint64(wh.Number)
	if err != nil {
		return nil, err
	}
	hashBytes, err := parseHexBytes(wh.Hash)
	if err != nil {
		return nil, err
	}
	return &Header{Number: n, Hash: ethtypes.BytesToHash(hashBytes)}, nil
}

func (c *HTTPClient) GetBlockByNumber(number uint64) (*Block, error) {
	var raw json.RawMessage
	if err := c.call("get_block_by_number", []interface{}{hexUint64(number)}, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return decodeWireBlock(raw)
}

func (c *HTTPClient) GetLiveCell(op OutPoint) (*LiveCellResult, error) {
	var raw json.RawMessage
	if err := c.call("get_live_cell", []interface{}{encodeWireOutPoint(op), true}, &raw); err != nil {
		return nil, err
	}
	return decodeWireLiveCell(raw)
}

func (c *HTTPClient) GetTransaction(hash ethtypes.Hash) (*TransactionWithStatus, error) {
	var raw json.RawMessage
	if err := c.call("get_transaction", []interface{}{hash.Hex()}, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return decodeWireTransactionWithStatus(raw)
}

func (c *HTTPClient) SendTransaction(tx *Transaction) (ethtypes.Hash, error) {
	var s string
	if err := c.call("send_transaction", []interface{}{encodeWireTransaction(tx)}, &s); err != nil {
		return ethtypes.Hash{}, err
	}
	b, err := parseHexBytes(s)
	if err != nil {
		return ethtypes.Hash{}, err
	}
	return ethtypes.BytesToHash(b), nil
}

func (c *HTTPClient) GetCellsByLockHash(lockHash ethtypes.Hash, from, to uint64) ([]CellWithOutPoint, error) {
	var raw json.RawMessage
	if err := c.call("get_cells_by_lock_hash", []interface{}{lockHash.Hex(), hexUint64(from), hexUint64(to)}, &raw); err != nil {
		return nil, err
	}
	return decodeWireCellsByLockHash(raw)
}
