package basechain

import (
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ckb-eth/polyjuice/internal/ethtypes"
	"github.com/ckb-eth/polyjuice/internal/polyjuiceerr"
)

func parseHexUint64(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "invalid hex uint64: %s", s)
	}
	return n, nil
}

func parseHexBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "invalid hex bytes: %s", s)
	}
	return b, nil
}

func hexBytes(b []byte) string { return "0x" + hex.EncodeToString(b) }

type wireScript struct {
	CodeHash string   `json:"code_hash"`
	HashType string   `json:"hash_type"`
	Args     []string `json:"args"`
}

func encodeWireScript(s Script) wireScript {
	ht := "data"
	if s.HashType == HashTypeType {
		ht = "type"
	}
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = hexBytes(a)
	}
	return wireScript{CodeHash: s.CodeHash.Hex(), HashType: ht, Args: args}
}

func decodeWireScript(w wireScript) (Script, error) {
	codeHashBytes, err := parseHexBytes(w.CodeHash)
	if err != nil {
		return Script{}, err
	}
	args := make([][]byte, len(w.Args))
	for i, a := range w.Args {
		ab, err := parseHexBytes(a)
		if err != nil {
			return Script{}, err
		}
		args[i] = ab
	}
	ht := HashTypeData
	if w.HashType == "type" {
		ht = HashTypeType
	}
	return Script{CodeHash: ethtypes.BytesToHash(codeHashBytes), HashType: ht, Args: args}, nil
}

type wireOutPoint struct {
	TxHash string `json:"tx_hash"`
	Index  string `json:"index"`
}

func encodeWireOutPoint(op OutPoint) wireOutPoint {
	return wireOutPoint{TxHash: op.TxHash.Hex(), Index: hexUint64(uint64(op.Index))}
}

func decodeWireOutPoint(w wireOutPoint) (OutPoint, error) {
	b, err := parseHexBytes(w.TxHash)
	if err != nil {
		return OutPoint{}, err
	}
	idx, err := parseHexUint64(w.Index)
	if err != nil {
		return OutPoint{}, err
	}
	return OutPoint{TxHash: ethtypes.BytesToHash(b), Index: uint32(idx)}, nil
}

type wireCellOutput struct {
	Capacity string     `json:"capacity"`
	Lock     wireScript `json:"lock"`
	Type     *wireScript `json:"type"`
}

type wireCellInput struct {
	PreviousOutput wireOutPoint `json:"previous_output"`
	Since          string       `json:"since"`
}

type wireTransaction struct {
	Version    string           `json:"version"`
	CellDeps   []wireOutPoint   `json:"cell_deps"`
	Inputs     []wireCellInput  `json:"inputs"`
	Outputs    []wireCellOutput `json:"outputs"`
	OutputsData []string        `json:"outputs_data"`
	Witnesses  []string         `json:"witnesses"`
}

func encodeWireTransaction(tx *Transaction) wireTransaction {
	w := wireTransaction{Version: hexUint64(uint64(tx.Version))}
	for _, d := range tx.CellDeps {
		w.CellDeps = append(w.CellDeps, encodeWireOutPoint(d))
	}
	for _, in := range tx.Inputs {
		w.Inputs = append(w.Inputs, wireCellInput{
			PreviousOutput: encodeWireOutPoint(in.PreviousOutput),
			Since:          hexUint64(in.Since),
		})
	}
	for _, out := range tx.Outputs {
		var t *wireScript
		if out.Type != nil {
			ws := encodeWireScript(*out.Type)
			t = &ws
		}
		w.Outputs = append(w.Outputs, wireCellOutput{
			Capacity: hexUint64(out.Capacity),
			Lock:     encodeWireScript(out.Lock),
			Type:     t,
		})
		w.OutputsData = append(w.OutputsData, hexBytes(out.Data))
	}
	for _, ws := range tx.Witnesses {
		// Each witness is itself an RLP-free list of byte strings; the
		// base chain encodes a witness as a single flat byte blob. This
		// module only ever emits single-element witnesses ([]{raw}) or
		// empty placeholders, so a flat concatenation with a length
		// prefix per element is unnecessary: encode the first (and
		// only, for non-empty witnesses) element.
		if len(ws) == 0 {
			w.Witnesses = append(w.Witnesses, "0x")
			continue
		}
		w.Witnesses = append(w.Witnesses, hexBytes(ws[0]))
	}
	return w
}

func decodeWireTransaction(raw json.RawMessage) (*Transaction, ethtypes.Hash, error) {
	var outer struct {
		Hash  string          `json:"hash"`
		Inner wireTransaction `json:"inner"`
	}
	// The base chain node wraps a transaction as {hash, ...inner-fields}
	// for TransactionView, or as bare inner fields for a plain Transaction.
	// Try the view shape first.
	if err := json.Unmarshal(raw, &outer); err == nil && outer.Hash != "" {
		tx, err := decodeWireTransactionInner(outer.Inner)
		if err != nil {
			return nil, ethtypes.Hash{}, err
		}
		hb, err := parseHexBytes(outer.Hash)
		if err != nil {
			return nil, ethtypes.Hash{}, err
		}
		hash := ethtypes.BytesToHash(hb)
		tx.Hash = hash
		return tx, hash, nil
	}
	var inner wireTransaction
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil, ethtypes.Hash{}, polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "decode transaction")
	}
	tx, err := decodeWireTransactionInner(inner)
	return tx, ethtypes.Hash{}, err
}

func decodeWireTransactionInner(w wireTransaction) (*Transaction, error) {
	tx := &Transaction{}
	v, err := parseHexUint64(w.Version)
	if err != nil {
		return nil, err
	}
	tx.Version = uint32(v)
	for _, d := range w.CellDeps {
		op, err := decodeWireOutPoint(d)
		if err != nil {
			return nil, err
		}
		tx.CellDeps = append(tx.CellDeps, op)
	}
	for _, in := range w.Inputs {
		op, err := decodeWireOutPoint(in.PreviousOutput)
		if err != nil {
			return nil, err
		}
		since, err := parseHexUint64(in.Since)
		if err != nil {
			return nil, err
		}
		tx.Inputs = append(tx.Inputs, CellInput{PreviousOutput: op, Since: since})
	}
	for i, out := range w.Outputs {
		lock, err := decodeWireScript(out.Lock)
		if err != nil {
			return nil, err
		}
		var typ *Script
		if out.Type != nil {
			ts, err := decodeWireScript(*out.Type)
			if err != nil {
				return nil, err
			}
			typ = &ts
		}
		cap, err := parseHexUint64(out.Capacity)
		if err != nil {
			return nil, err
		}
		var data []byte
		if i < len(w.OutputsData) {
			data, err = parseHexBytes(w.OutputsData[i])
			if err != nil {
				return nil, err
			}
		}
		tx.Outputs = append(tx.Outputs, CellOutput{Capacity: cap, Lock: lock, Type: typ, Data: data})
	}
	for _, ws := range w.Witnesses {
		b, err := parseHexBytes(ws)
		if err != nil {
			return nil, err
		}
		if len(b) == 0 {
			tx.Witnesses = append(tx.Witnesses, nil)
		} else {
			tx.Witnesses = append(tx.Witnesses, [][]byte{b})
		}
	}
	return tx, nil
}

func decodeWireBlock(raw json.RawMessage) (*Block, error) {
	var w struct {
		Header       wireHeader `json:"header"`
		Transactions []struct {
			Hash  string          `json:"hash"`
			Inner wireTransaction `json:"inner"`
		} `json:"transactions"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "decode block")
	}
	n, err := parseHexUint64(w.Header.Number)
	if err != nil {
		return nil, err
	}
	hb, err := parseHexBytes(w.Header.Hash)
	if err != nil {
		return nil, err
	}
	b := &Block{Header: Header{Number: n, Hash: ethtypes.BytesToHash(hb)}}
	for _, wt := range w.Transactions {
		tx, err := decodeWireTransactionInner(wt.Inner)
		if err != nil {
			return nil, err
		}
		if wt.Hash != "" {
			hb, err := parseHexBytes(wt.Hash)
			if err != nil {
				return nil, err
			}
			tx.Hash = ethtypes.BytesToHash(hb)
		}
		b.Transactions = append(b.Transactions, *tx)
	}
	return b, nil
}

func decodeWireLiveCell(raw json.RawMessage) (*LiveCellResult, error) {
	var w struct {
		Status string `json:"status"`
		Cell   *struct {
			Output wireCellOutput `json:"output"`
			Data   *struct {
				Content string `json:"content"`
			} `json:"data"`
		} `json:"cell"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "decode live cell")
	}
	res := &LiveCellResult{Status: CellStatus(w.Status)}
	if w.Cell != nil {
		lock, err := decodeWireScript(w.Cell.Output.Lock)
		if err != nil {
			return nil, err
		}
		cap, err := parseHexUint64(w.Cell.Output.Capacity)
		if err != nil {
			return nil, err
		}
		var data []byte
		if w.Cell.Data != nil {
			data, err = parseHexBytes(w.Cell.Data.Content)
			if err != nil {
				return nil, err
			}
		}
		res.Cell = &CellOutput{Capacity: cap, Lock: lock, Data: data}
	}
	return res, nil
}

func decodeWireTransactionWithStatus(raw json.RawMessage) (*TransactionWithStatus, error) {
	var w struct {
		Transaction json.RawMessage `json:"transaction"`
		TxStatus    struct {
			Status    string  `json:"status"`
			BlockHash *string `json:"block_hash"`
		} `json:"tx_status"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "decode transaction-with-status")
	}
	if len(w.Transaction) == 0 || string(w.Transaction) == "null" {
		return nil, nil
	}
	tx, _, err := decodeWireTransaction(w.Transaction)
	if err != nil {
		return nil, err
	}
	status := TxStatus{Status: w.TxStatus.Status}
	if w.TxStatus.BlockHash != nil {
		b, err := parseHexBytes(*w.TxStatus.BlockHash)
		if err != nil {
			return nil, err
		}
		h := ethtypes.BytesToHash(b)
		status.BlockHash = &h
	}
	return &TransactionWithStatus{Transaction: tx, TxStatus: status}, nil
}

func decodeWireCellsByLockHash(raw json.RawMessage) ([]CellWithOutPoint, error) {
	var ws []struct {
		OutPoint wireOutPoint   `json:"out_point"`
		Capacity string         `json:"capacity"`
		Lock     wireScript     `json:"lock"`
	}
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, polyjuiceerr.Wrap(polyjuiceerr.Rpc, err, "decode cells-by-lock-hash")
	}
	out := make([]CellWithOutPoint, 0, len(ws))
	for _, w := range ws {
		op, err := decodeWireOutPoint(w.OutPoint)
		if err != nil {
			return nil, err
		}
		lock, err := decodeWireScript(w.Lock)
		if err != nil {
			return nil, err
		}
		cap, err := parseHexUint64(w.Capacity)
		if err != nil {
			return nil, err
		}
		out = append(out, CellWithOutPoint{OutPoint: op, Output: CellOutput{Capacity: cap, Lock: lock}})
	}
	return out, nil
}
