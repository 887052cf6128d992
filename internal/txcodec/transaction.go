// Package txcodec parses RLP-encoded Ethereum transactions, recovers the
// sending address under an EIP-155-flavored scheme pinned to a hard-coded
// chain id, and computes the canonical transaction hash.
package txcodec

import (
	"github.com/holiman/uint256"

	"github.com/ckb-eth/polyjuice/internal/ethtypes"
	"github.com/ckb-eth/polyjuice/internal/polyjuiceerr"
	"github.com/ckb-eth/polyjuice/internal/rlp"
)

// ChainID is hard-coded; multi-chain negotiation is a non-goal.
const ChainID uint64 = 1

// ShannonToWei is the conversion factor: 1 base-chain capacity unit
// ("shannon") equals this many wei.
var ShannonToWei = uint256.NewInt(10_000_000_000)

// Transaction is a decoded Ethereum transaction plus its recovered sender
// and canonical raw bytes.
type Transaction struct {
	Nonce    uint64
	GasPrice *uint256.Int
	GasLimit *uint256.Int
	To       *ethtypes.Address // nil means contract creation
	Value    *uint256.Int
	Data     []byte // nil means empty
	V        uint64
	R        *uint256.Int
	S        *uint256.Int

	From ethtypes.Address
	Raw  []byte
}

// Parse decodes raw as a 9-field RLP list, validates field widths, and
// recovers the sender address.
func Parse(raw []byte) (*Transaction, error) {
	fields, err := rlp.DecodeBytesList(raw)
	if err != nil {
		return nil, polyjuiceerr.Wrap(polyjuiceerr.Rlp, err, "failed to parse transaction RLP")
	}
	if len(fields) != 9 {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "invalid field count: %d", len(fields))
	}
	if len(fields[7]) != 32 {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "invalid r length: %d", len(fields[7]))
	}
	if len(fields[8]) != 32 {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "invalid s length: %d", len(fields[8]))
	}

	nonce, err := bytesToU64(fields[0])
	if err != nil {
		return nil, err
	}
	gasPrice, err := bytesToU256(fields[1])
	if err != nil {
		return nil, err
	}
	gasLimit, err := bytesToU256(fields[2])
	if err != nil {
		return nil, err
	}
	var to *ethtypes.Address
	if len(fields[3]) > 0 {
		a := ethtypes.BytesToAddress(fields[3])
		to = &a
	}
	value, err := bytesToU256(fields[4])
	if err != nil {
		return nil, err
	}
	var data []byte
	if len(fields[5]) > 0 {
		data = append([]byte(nil), fields[5]...)
	}
	v, err := bytesToU64(fields[6])
	if err != nil {
		return nil, err
	}
	r, err := bytesToU256(fields[7])
	if err != nil {
		return nil, err
	}
	s, err := bytesToU256(fields[8])
	if err != nil {
		return nil, err
	}

	from, err := extractFromAddress(fields)
	if err != nil {
		return nil, err
	}

	return &Transaction{
		Nonce:    nonce,
		GasPrice: gasPrice,
		GasLimit: gasLimit,
		To:       to,
		Value:    value,
		Data:     data,
		V:        v,
		R:        r,
		S:        s,
		From:     from,
		Raw:      append([]byte(nil), raw...),
	}, nil
}

// Hash is keccak256 of the original signed bytes, not the unsigned form.
func (tx *Transaction) Hash() ethtypes.Hash {
	return ethtypes.BytesToHash(Keccak256(tx.Raw))
}

// Fees is gas_price * gas_limit, a wei value (not gas units).
func (tx *Transaction) Fees() (*uint256.Int, error) {
	fees, overflow := new(uint256.Int).MulOverflow(tx.GasPrice, tx.GasLimit)
	if overflow {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "wei multiplication overflow")
	}
	return fees, nil
}

// ValueInCapacity converts tx.Value from wei to base-chain capacity units.
func (tx *Transaction) ValueInCapacity() (uint64, error) {
	return WeiToCapacity(tx.Value)
}

// FeesInCapacity converts tx.Fees() from wei to base-chain capacity units.
func (tx *Transaction) FeesInCapacity() (uint64, error) {
	fees, err := tx.Fees()
	if err != nil {
		return 0, err
	}
	return WeiToCapacity(fees)
}

// WeiToCapacity truncates toward zero; a quotient exceeding u64 is a
// MalformedData error (no silent truncation).
func WeiToCapacity(w *uint256.Int) (uint64, error) {
	q := new(uint256.Int).Div(w, ShannonToWei)
	if !q.IsUint64() {
		return 0, polyjuiceerr.New(polyjuiceerr.MalformedData, "exceeds maximum range of capacity")
	}
	return q.Uint64(), nil
}

// CapacityToWei is the inverse conversion, used by testable property 5.
func CapacityToWei(c uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(c), ShannonToWei)
}

func bytesToU64(b []byte) (uint64, error) {
	if len(b) > 8 {
		return 0, polyjuiceerr.New(polyjuiceerr.MalformedData, "invalid field length: %d", len(b))
	}
	var v uint64
	for _, x := range b {
		v = (v << 8) | uint64(x)
	}
	return v, nil
}

func bytesToU256(b []byte) (*uint256.Int, error) {
	if len(b) > 32 {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "invalid field length: %d", len(b))
	}
	return new(uint256.Int).SetBytes(b), nil
}
