package txcodec

import (
	"bytes"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/holiman/uint256"

	"github.com/ckb-eth/polyjuice/internal/ethtypes"
	"github.com/ckb-eth/polyjuice/internal/rlp"
)

// signTestTransaction builds and signs a 9-field transaction with the given
// key, returning its raw RLP bytes. Mirrors extractFromAddress's own
// unsigned-list construction so the round trip exercises Parse end to end.
func signTestTransaction(t *testing.T, priv *secp256k1.PrivateKey, nonce uint64, gasPrice, gasLimit, value uint64, to *ethtypes.Address, data []byte) []byte {
	t.Helper()
	var toBytes []byte
	if to != nil {
		toBytes = to.Bytes()
	}
	fields := [][]byte{
		encodeU64(nonce),
		encodeU64(gasPrice),
		encodeU64(gasLimit),
		toBytes,
		encodeU64(value),
		data,
		{byte(ChainID)},
		{},
		{},
	}
	msg := Keccak256(rlp.EncodeBytesList(fields))
	sig := ecdsa.SignCompact(priv, msg, false)
	// sig = [recovery code][r 32][s 32]; recovery code is 27+recID (+4 if compressed).
	recID := sig[0] - 27
	r := sig[1:33]
	s := sig[33:65]
	v := 2*ChainID + 35 + uint64(recID)

	fields[6] = encodeU64(v)
	fields[7] = r
	fields[8] = s
	return rlp.EncodeBytesList(fields)
}

func encodeU64(v uint64) []byte {
	if v == 0 {
		return nil
	}
	b := new(uint256.Int).SetUint64(v).Bytes()
	return b
}

func TestParseRecoversSender(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	wantAddr := ethtypes.BytesToAddress(Keccak256(priv.PubKey().SerializeUncompressed()[1:])[12:])

	to := ethtypes.BytesToAddress(bytes.Repeat([]byte{0x42}, 20))
	raw := signTestTransaction(t, priv, 7, 1, 21000, 500000000000, &to, nil)

	tx, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tx.From != wantAddr {
		t.Fatalf("recovered %s, want %s", tx.From.Hex(), wantAddr.Hex())
	}
	if tx.Nonce != 7 {
		t.Fatalf("nonce = %d, want 7", tx.Nonce)
	}
	if tx.To == nil || *tx.To != to {
		t.Fatalf("to = %v, want %s", tx.To, to.Hex())
	}
}

func TestParseRejectsWrongFieldCount(t *testing.T) {
	raw := rlp.EncodeBytesList([][]byte{{1}, {2}})
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for wrong field count")
	}
}

func TestParseRejectsBadRSLength(t *testing.T) {
	fields := make([][]byte, 9)
	for i := range fields {
		fields[i] = []byte{1}
	}
	raw := rlp.EncodeBytesList(fields)
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for short r/s")
	}
}

func TestHashIsOverSignedRawBytes(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	raw := signTestTransaction(t, priv, 0, 1, 21000, 0, nil, []byte{0xde, 0xad})
	tx, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	want := ethtypes.BytesToHash(Keccak256(raw))
	if tx.Hash() != want {
		t.Fatalf("hash mismatch")
	}
}

func TestWeiToCapacityRoundTrip(t *testing.T) {
	for _, c := range []uint64{0, 1, 100, 1 << 40} {
		wei := CapacityToWei(c)
		got, err := WeiToCapacity(wei)
		if err != nil {
			t.Fatal(err)
		}
		if got != c {
			t.Fatalf("round trip %d -> %d", c, got)
		}
	}
}

func TestWeiToCapacityOverflow(t *testing.T) {
	huge := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	if _, err := WeiToCapacity(huge); err == nil {
		t.Fatal("expected overflow error")
	}
}
