// Package ethtypes holds the fixed-width value types shared across the
// bridge: a 20-byte Ethereum address and a 32-byte hash.
package ethtypes

import (
	"encoding/hex"
	"strings"

	"github.com/ckb-eth/polyjuice/internal/polyjuiceerr"
)

// AddressLength is the byte width of an Ethereum address.
const AddressLength = 20

// Address is a 20-byte Ethereum account identifier.
type Address [AddressLength]byte

// BytesToAddress right-aligns src into an Address, left-padding with
// zeros and truncating a src longer than AddressLength from the left.
func BytesToAddress(src []byte) Address {
	var a Address
	if len(src) > AddressLength {
		src = src[len(src)-AddressLength:]
	}
	copy(a[AddressLength-len(src):], src)
	return a
}

// ParseAddress parses a 0x-prefixed, 42-character hex string into an
// Address. Any other length or missing prefix is MalformedData.
func ParseAddress(s string) (Address, error) {
	var a Address
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return a, polyjuiceerr.New(polyjuiceerr.MalformedData, "invalid ETH address: %s", s)
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return a, polyjuiceerr.Wrap(polyjuiceerr.MalformedData, err, "invalid ETH address: %s", s)
	}
	copy(a[:], b)
	return a, nil
}

// Bytes returns the raw 20 bytes.
func (a Address) Bytes() []byte { return a[:] }

// Hex formats the address as a 0x-prefixed lowercase hex string.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) String() string { return a.Hex() }

// IsZero reports whether every byte is zero.
func (a Address) IsZero() bool { return a == Address{} }
