package txcodec

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"

	"github.com/ckb-eth/polyjuice/internal/ethtypes"
	"github.com/ckb-eth/polyjuice/internal/polyjuiceerr"
	"github.com/ckb-eth/polyjuice/internal/rlp"
)

// Keccak256 hashes the concatenation of data with Ethereum's keccak256
// (the pre-NIST, "legacy" Keccak padding, not SHA3-256).
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// extractFromAddress performs EIP-155-flavored sender recovery: rebuild
// the unsigned transaction by zeroing r/s and replacing v with the chain
// id, hash it, and recover the signer's public key from the compact
// 65-byte signature.
func extractFromAddress(fields [][]byte) (ethtypes.Address, error) {
	var zero ethtypes.Address
	v, err := bytesToU64(fields[6])
	if err != nil {
		return zero, err
	}
	recovery, err := calculateSigRecovery(v)
	if err != nil {
		return zero, err
	}

	unsigned := make([][]byte, len(fields))
	copy(unsigned, fields)
	if ChainID > 0xFF {
		return zero, polyjuiceerr.New(polyjuiceerr.Secp, "chain id does not fit a single RLP byte")
	}
	unsigned[6] = []byte{byte(ChainID)}
	unsigned[7] = []byte{}
	unsigned[8] = []byte{}
	unsignedEncoded := rlp.EncodeBytesList(unsigned)
	msg := Keccak256(unsignedEncoded)

	compact := make([]byte, 65)
	compact[0] = 27 + recovery
	copy(compact[1:33], fields[7])
	copy(compact[33:65], fields[8])

	pubkey, _, err := ecdsa.RecoverCompact(compact, msg)
	if err != nil {
		return zero, polyjuiceerr.Wrap(polyjuiceerr.Secp, err, "ecrecover failed")
	}
	uncompressed := pubkey.SerializeUncompressed()
	addrBytes := Keccak256(uncompressed[1:])
	return ethtypes.BytesToAddress(addrBytes[12:]), nil
}

// calculateSigRecovery maps v to a 0/1 recovery id against the hard-coded
// ChainID; pre-EIP-155 transactions (and any other chain id) are rejected.
func calculateSigRecovery(v uint64) (byte, error) {
	threshold := 2*ChainID + 35
	if v < threshold {
		return 0, polyjuiceerr.New(polyjuiceerr.MalformedData, "invalid recovery: v=%d below EIP-155 threshold", v)
	}
	r := v - threshold
	if r != 0 && r != 1 {
		return 0, polyjuiceerr.New(polyjuiceerr.MalformedData, "invalid recovery: %d", r)
	}
	return byte(r), nil
}
