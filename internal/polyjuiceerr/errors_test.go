package polyjuiceerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := New(MalformedData, "Account capacity is not enough!")
	if !Is(err, MalformedData) {
		t.Fatal("Is should match the error's own kind")
	}
	if Is(err, EVM) {
		t.Fatal("Is must not match a different kind")
	}
	if Is(errors.New("plain"), MalformedData) {
		t.Fatal("Is must not match a foreign error")
	}
	if Is(nil, MalformedData) {
		t.Fatal("Is(nil) must be false")
	}
}

func TestAsWalksWrapChain(t *testing.T) {
	inner := New(InvalidOutPoint, "outpoint is neither live nor an accepted historical spend")
	wrapped := fmt.Errorf("loading account: %w", inner)

	var pe *Error
	if !As(wrapped, &pe) {
		t.Fatal("As should find the Error through %w wrapping")
	}
	if pe.Kind != InvalidOutPoint {
		t.Fatalf("kind = %s, want InvalidOutPoint", pe.Kind)
	}
	if !Is(wrapped, InvalidOutPoint) {
		t.Fatal("Is should see through %w wrapping")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("pebble: closed")
	err := Wrap(DB, cause, "read block pointer")

	if !errors.Is(err, cause) {
		t.Fatal("Unwrap must expose the cause to errors.Is")
	}
	if got := err.Error(); got != "DB: read block pointer: pebble: closed" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestKindStrings(t *testing.T) {
	kinds := map[Kind]string{
		DB:              "DB",
		Rpc:             "Rpc",
		Data:            "Data",
		Rlp:             "Rlp",
		Secp:            "Secp",
		MalformedData:   "MalformedData",
		InvalidOutPoint: "InvalidOutPoint",
		EVM:             "EVM",
	}
	for k, want := range kinds {
		if k.String() != want {
			t.Errorf("Kind(%d).String() = %s, want %s", k, k.String(), want)
		}
	}
}
