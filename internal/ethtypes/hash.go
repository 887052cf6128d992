package ethtypes

import "encoding/hex"

// HashLength is the byte width of a keccak256 (or blake2b-256) digest.
const HashLength = 32

// Hash is a 32-byte digest.
type Hash [HashLength]byte

// BytesToHash right-aligns src into a Hash, matching BytesToAddress.
func BytesToHash(src []byte) Hash {
	var h Hash
	if len(src) > HashLength {
		src = src[len(src)-HashLength:]
	}
	copy(h[HashLength-len(src):], src)
	return h
}

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

func (h Hash) IsZero() bool { return h == Hash{} }
