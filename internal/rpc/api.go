// Package rpc serves the Ethereum-compatible JSON-RPC surface over HTTP:
// the eth_* read and submit methods backed by the loader and runner, plus
// the web3_/net_ convenience methods.
package rpc

import (
	"encoding/json"
	"strconv"

	"github.com/holiman/uint256"

	"github.com/ckb-eth/polyjuice/internal/basechain"
	"github.com/ckb-eth/polyjuice/internal/ethtypes"
	"github.com/ckb-eth/polyjuice/internal/loader"
	"github.com/ckb-eth/polyjuice/internal/polyjuiceerr"
	"github.com/ckb-eth/polyjuice/internal/runner"
	"github.com/ckb-eth/polyjuice/internal/txcodec"
	"github.com/ckb-eth/polyjuice/log"
	"github.com/ckb-eth/polyjuice/metrics"
)

// ClientVersion is what web3_clientVersion reports.
const ClientVersion = "polyjuice/v0.1.0"

// API dispatches JSON-RPC requests to the loader, runner, and base-chain
// client.
type API struct {
	loader *loader.Loader
	runner *runner.Runner
	client basechain.Client
	logger *log.Logger
}

// NewAPI builds the RPC method dispatcher.
func NewAPI(l *loader.Loader, r *runner.Runner, client basechain.Client) *API {
	return &API{
		loader: l,
		runner: r,
		client: client,
		logger: log.Default().Module("rpc"),
	}
}

// HandleRequest dispatches one request and always returns a response
// (never nil); errors are carried in Response.Error.
func (a *API) HandleRequest(req *Request) *Response {
	metrics.RPCRequests.WithLabelValues(req.Method).Inc()

	result, err := a.dispatch(req.Method, req.Params)
	if err != nil {
		var pe *polyjuiceerr.Error
		if polyjuiceerr.As(err, &pe) {
			metrics.RPCErrors.WithLabelValues(pe.Kind.String()).Inc()
		} else {
			metrics.RPCErrors.WithLabelValues("Unknown").Inc()
		}
		a.logger.Debug("request failed", "method", req.Method, "err", err)
		return &Response{JSONRPC: "2.0", Error: errorFor(err), ID: req.ID}
	}
	if result == nil {
		// A missing receipt is a JSON null result, not an absent field.
		result = json.RawMessage("null")
	}
	return &Response{JSONRPC: "2.0", Result: result, ID: req.ID}
}

func (a *API) dispatch(method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "eth_blockNumber":
		return a.blockNumber()
	case "eth_getBalance":
		return a.getBalance(params)
	case "eth_getTransactionCount":
		return a.getTransactionCount(params)
	case "eth_getStorageAt":
		return a.getStorageAt(params)
	case "eth_sendRawTransaction":
		return a.sendRawTransaction(params)
	case "eth_getTransactionReceipt":
		return a.getTransactionReceipt(params)
	case "eth_call":
		return a.call(params)
	case "web3_clientVersion":
		return ClientVersion, nil
	case "net_version":
		return strconv.FormatUint(txcodec.ChainID, 10), nil
	default:
		return nil, unknownMethodError(method)
	}
}

func parseParams(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var params []json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, polyjuiceerr.Wrap(polyjuiceerr.MalformedData, err, "invalid params")
	}
	return params, nil
}

func paramString(params []json.RawMessage, i int) (string, error) {
	if i >= len(params) {
		return "", polyjuiceerr.New(polyjuiceerr.MalformedData, "missing parameter %d", i)
	}
	var s string
	if err := json.Unmarshal(params[i], &s); err != nil {
		return "", polyjuiceerr.Wrap(polyjuiceerr.MalformedData, err, "parameter %d is not a string", i)
	}
	return s, nil
}

// addrAndHeight parses the common (address, block?) parameter prefix and
// resolves the block tag to a concrete height.
func (a *API) addrAndHeight(params []json.RawMessage) (ethtypes.Address, uint64, error) {
	s, err := paramString(params, 0)
	if err != nil {
		return ethtypes.Address{}, 0, err
	}
	addr, err := ethtypes.ParseAddress(s)
	if err != nil {
		return ethtypes.Address{}, 0, err
	}
	var tagRaw json.RawMessage
	if len(params) > 1 {
		tagRaw = params[1]
	}
	tag, err := parseBlockTag(tagRaw)
	if err != nil {
		return ethtypes.Address{}, 0, err
	}
	height, err := a.loader.ResolveBlockNumber(tag)
	if err != nil {
		return ethtypes.Address{}, 0, err
	}
	return addr, height, nil
}

func (a *API) blockNumber() (interface{}, error) {
	tip, err := a.loader.TipBlockNumber()
	if err != nil {
		return nil, err
	}
	return encodeUint64(tip), nil
}

func (a *API) getBalance(raw json.RawMessage) (interface{}, error) {
	params, err := parseParams(raw)
	if err != nil {
		return nil, err
	}
	addr, height, err := a.addrAndHeight(params)
	if err != nil {
		return nil, err
	}
	account, err := a.loader.LoadAccount(addr, height, true)
	if err != nil {
		return nil, err
	}
	wei, err := account.TotalCapacitiesInWei()
	if err != nil {
		return nil, err
	}
	return wei.Hex(), nil
}

func (a *API) getTransactionCount(raw json.RawMessage) (interface{}, error) {
	params, err := parseParams(raw)
	if err != nil {
		return nil, err
	}
	addr, height, err := a.addrAndHeight(params)
	if err != nil {
		return nil, err
	}
	account, err := a.loader.LoadAccount(addr, height, true)
	if err != nil {
		return nil, err
	}
	nonce, err := account.NextNonce()
	if err != nil {
		return nil, err
	}
	return encodeUint64(nonce), nil
}

func (a *API) getStorageAt(raw json.RawMessage) (interface{}, error) {
	params, err := parseParams(raw)
	if err != nil {
		return nil, err
	}
	addrStr, err := paramString(params, 0)
	if err != nil {
		return nil, err
	}
	addr, err := ethtypes.ParseAddress(addrStr)
	if err != nil {
		return nil, err
	}
	posStr, err := paramString(params, 1)
	if err != nil {
		return nil, err
	}
	pos, err := parseQuantity(posStr)
	if err != nil {
		return nil, err
	}
	var tagRaw json.RawMessage
	if len(params) > 2 {
		tagRaw = params[2]
	}
	tag, err := parseBlockTag(tagRaw)
	if err != nil {
		return nil, err
	}
	height, err := a.loader.ResolveBlockNumber(tag)
	if err != nil {
		return nil, err
	}

	account, err := a.loader.LoadAccount(addr, height, true)
	if err != nil {
		return nil, err
	}
	isContract, err := account.ContractAccount()
	if err != nil {
		return nil, err
	}
	if !isContract {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "Account is not a contract account!")
	}
	data, err := account.ContractData()
	if err != nil {
		return nil, err
	}
	value := data.Storage[*pos]
	b32 := value.Bytes32()
	return encodeBytes(b32[:]), nil
}

func (a *API) sendRawTransaction(raw json.RawMessage) (interface{}, error) {
	params, err := parseParams(raw)
	if err != nil {
		return nil, err
	}
	rawHex, err := paramString(params, 0)
	if err != nil {
		return nil, err
	}
	rawTx, err := decodeHexBytes(rawHex)
	if err != nil {
		return nil, err
	}
	tx, err := txcodec.Parse(rawTx)
	if err != nil {
		return nil, err
	}
	tip, err := a.loader.TipBlockNumber()
	if err != nil {
		return nil, err
	}
	baseTx, err := a.runner.Run(tx, tip)
	if err != nil {
		return nil, err
	}
	if _, err := a.client.SendTransaction(baseTx); err != nil {
		return nil, polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "send_transaction")
	}
	return tx.Hash().Hex(), nil
}

// rpcReceipt is the JSON shape of eth_getTransactionReceipt's result.
type rpcReceipt struct {
	TransactionHash   string   `json:"transactionHash"`
	TransactionIndex  string   `json:"transactionIndex"`
	BlockHash         string   `json:"blockHash"`
	BlockNumber       string   `json:"blockNumber"`
	From              string   `json:"from"`
	To                *string  `json:"to"`
	CumulativeGasUsed string   `json:"cumulativeGasUsed"`
	GasUsed           string   `json:"gasUsed"`
	ContractAddress   *string  `json:"contractAddress"`
	Logs              []string `json:"logs"`
	LogsBloom         string   `json:"logsBloom"`
	Status            string   `json:"status"`
}

func (a *API) getTransactionReceipt(raw json.RawMessage) (interface{}, error) {
	params, err := parseParams(raw)
	if err != nil {
		return nil, err
	}
	hashStr, err := paramString(params, 0)
	if err != nil {
		return nil, err
	}
	hashBytes, err := decodeHexBytes(hashStr)
	if err != nil {
		return nil, err
	}
	if len(hashBytes) != ethtypes.HashLength {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "invalid transaction hash: %s", hashStr)
	}
	receipt, err := a.loader.LoadReceipt(ethtypes.BytesToHash(hashBytes))
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, nil
	}
	out := &rpcReceipt{
		TransactionHash:   receipt.TransactionHash.Hex(),
		TransactionIndex:  encodeUint64(receipt.TransactionIndex),
		BlockHash:         receipt.BlockHash.Hex(),
		BlockNumber:       encodeUint64(receipt.BlockNumber),
		From:              receipt.From.Hex(),
		CumulativeGasUsed: receipt.CumulativeGasUsed.Hex(),
		GasUsed:           receipt.GasUsed.Hex(),
		Logs:              []string{},
		LogsBloom:         receipt.LogsBloom.Hex(),
		Status:            encodeUint64(receipt.Status),
	}
	if receipt.To != nil {
		s := receipt.To.Hex()
		out.To = &s
	}
	if receipt.ContractAddress != nil {
		s := receipt.ContractAddress.Hex()
		out.ContractAddress = &s
	}
	return out, nil
}

// callArgs is the first eth_call parameter.
type callArgs struct {
	From     *string `json:"from"`
	To       *string `json:"to"`
	Gas      *string `json:"gas"`
	GasPrice *string `json:"gasPrice"`
	Value    *string `json:"value"`
	Data     *string `json:"data"`
}

func (a *API) call(raw json.RawMessage) (interface{}, error) {
	params, err := parseParams(raw)
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "missing call object")
	}
	var args callArgs
	if err := json.Unmarshal(params[0], &args); err != nil {
		return nil, polyjuiceerr.Wrap(polyjuiceerr.MalformedData, err, "invalid call object")
	}
	if args.To == nil {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "missing to address")
	}
	to, err := ethtypes.ParseAddress(*args.To)
	if err != nil {
		return nil, err
	}
	var from ethtypes.Address
	if args.From != nil {
		from, err = ethtypes.ParseAddress(*args.From)
		if err != nil {
			return nil, err
		}
	}
	gasLimit, err := optionalQuantity(args.Gas)
	if err != nil {
		return nil, err
	}
	gasPrice, err := optionalQuantity(args.GasPrice)
	if err != nil {
		return nil, err
	}
	value, err := optionalQuantity(args.Value)
	if err != nil {
		return nil, err
	}
	var data []byte
	if args.Data != nil {
		data, err = decodeHexBytes(*args.Data)
		if err != nil {
			return nil, err
		}
	}
	var tagRaw json.RawMessage
	if len(params) > 1 {
		tagRaw = params[1]
	}
	tag, err := parseBlockTag(tagRaw)
	if err != nil {
		return nil, err
	}
	height, err := a.loader.ResolveBlockNumber(tag)
	if err != nil {
		return nil, err
	}

	// The execution budget keeps the fee semantics of a submitted
	// transaction: gas price times gas limit, a wei value.
	gas, overflow := new(uint256.Int).MulOverflow(gasPrice, gasLimit)
	if overflow {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "wei multiplication overflow")
	}
	ret, err := a.runner.Call(from, to, data, gas, value, height)
	if err != nil {
		return nil, err
	}
	return encodeBytes(ret), nil
}

// parseQuantity parses a 0x-prefixed hex quantity of at most 32 bytes,
// tolerating odd-length digits.
func parseQuantity(s string) (*uint256.Int, error) {
	b, err := decodeQuantityBytes(s)
	if err != nil {
		return nil, err
	}
	if len(b) > 32 {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "quantity exceeds 256 bits: %s", s)
	}
	return new(uint256.Int).SetBytes(b), nil
}

func optionalQuantity(s *string) (*uint256.Int, error) {
	if s == nil {
		return new(uint256.Int), nil
	}
	return parseQuantity(*s)
}

func decodeQuantityBytes(s string) ([]byte, error) {
	if len(s) < 2 || s[:2] != "0x" {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "missing 0x prefix: %s", s)
	}
	digits := s[2:]
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	return decodeHexBytes("0x" + digits)
}
