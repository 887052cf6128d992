package rlp

import "errors"

var (
	// ErrNotList is returned when the input does not start with a list
	// header.
	ErrNotList = errors.New("rlp: item is not a list")

	// ErrNotString is returned when a list element is itself a list
	// where a byte string was expected.
	ErrNotString = errors.New("rlp: item is not a string")

	// ErrNonCanonical is returned when a size or single-byte value uses
	// a longer encoding than the format allows.
	ErrNonCanonical = errors.New("rlp: non-canonical encoding")

	// ErrTruncated is returned when a declared payload runs past the end
	// of the input.
	ErrTruncated = errors.New("rlp: input truncated")

	// ErrTrailingBytes is returned when input continues past the end of
	// the top-level list.
	ErrTrailingBytes = errors.New("rlp: trailing bytes after list")

	// ErrUnsupportedType is returned by EncodeToBytes for a Go value it
	// has no encoding for.
	ErrUnsupportedType = errors.New("rlp: unsupported type")
)
