package rpc

import (
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ckb-eth/polyjuice/internal/loader"
	"github.com/ckb-eth/polyjuice/internal/polyjuiceerr"
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// RPCError is a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC 2.0 error codes.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
)

// unknownMethodError marks a request for a method this server does not
// dispatch.
type unknownMethodError string

func (e unknownMethodError) Error() string { return "method not found: " + string(e) }

// errorFor maps a module error to a JSON-RPC error: structural input
// failures (bad RLP) are InvalidRequest, semantic ones (bad address, bad
// capacity arithmetic) are InvalidParams, everything else is Internal.
func errorFor(err error) *RPCError {
	if ue, ok := err.(unknownMethodError); ok {
		return &RPCError{Code: ErrCodeMethodNotFound, Message: ue.Error()}
	}
	var pe *polyjuiceerr.Error
	if !polyjuiceerr.As(err, &pe) {
		return &RPCError{Code: ErrCodeInternal, Message: err.Error()}
	}
	switch pe.Kind {
	case polyjuiceerr.Rlp:
		return &RPCError{Code: ErrCodeInvalidRequest, Message: pe.Error()}
	case polyjuiceerr.MalformedData, polyjuiceerr.Secp:
		return &RPCError{Code: ErrCodeInvalidParams, Message: pe.Error()}
	default:
		return &RPCError{Code: ErrCodeInternal, Message: pe.Error()}
	}
}

// parseBlockTag parses the optional trailing block parameter: "latest" or
// a 0x-prefixed positive hex number. Hex with leading zero digits (and a
// bare "0x0") is rejected.
func parseBlockTag(raw json.RawMessage) (loader.BlockNumber, error) {
	if len(raw) == 0 {
		return loader.BlockNumber{Latest: true}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return loader.BlockNumber{}, polyjuiceerr.Wrap(polyjuiceerr.MalformedData, err, "invalid block parameter")
	}
	if s == "latest" {
		return loader.BlockNumber{Latest: true}, nil
	}
	if !strings.HasPrefix(s, "0x") || len(s) == 2 {
		return loader.BlockNumber{}, polyjuiceerr.New(polyjuiceerr.MalformedData, "invalid block parameter: %s", s)
	}
	digits := s[2:]
	if digits[0] == '0' {
		return loader.BlockNumber{}, polyjuiceerr.New(polyjuiceerr.MalformedData, "invalid block parameter: %s", s)
	}
	n, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return loader.BlockNumber{}, polyjuiceerr.Wrap(polyjuiceerr.MalformedData, err, "invalid block parameter: %s", s)
	}
	return loader.BlockNumber{Number: n}, nil
}

// decodeHexBytes decodes a 0x-prefixed hex blob.
func decodeHexBytes(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "missing 0x prefix: %s", s)
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, polyjuiceerr.Wrap(polyjuiceerr.MalformedData, err, "invalid hex: %s", s)
	}
	return b, nil
}

// encodeUint64 formats n as minimal 0x-prefixed hex.
func encodeUint64(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

// encodeBytes formats b as a 0x-prefixed hex blob ("0x" when empty).
func encodeBytes(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
