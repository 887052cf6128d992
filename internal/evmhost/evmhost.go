// Package evmhost implements the storage-backed subset of the EVM host
// interface this module needs, plus the interpreter loop that drives it.
//
// The interpreter is deliberately narrow: every host operation other than
// storage_at/set_storage/schedule is unreachable in the supported
// workload and traps, and so does every opcode the supported contracts
// never exercise (CALL, CREATE, LOG, SELFDESTRUCT, BALANCE, EXTCODE*,
// block-hash ops).
package evmhost

import (
	"github.com/holiman/uint256"

	"github.com/ckb-eth/polyjuice/internal/polyjuiceerr"
)

// Schedule marks the gas schedule the host reports via schedule(). Only
// Constantinople is ever returned.
type Schedule struct {
	Name string
}

// ConstantinopleSchedule is the sole schedule value ever exposed.
var ConstantinopleSchedule = Schedule{Name: "constantinople"}

// Host is the storage-backed subset of the EVM host interface. It wraps
// one contract's storage for the lifetime of a single top-level
// execution; mutations through SetStorage are visible to the caller
// since the underlying map is shared: one in-memory contract-data copy
// per top-level execution.
type Host struct {
	Storage map[uint256.Int]uint256.Int
}

// NewHost builds a Host over a (possibly nil) storage map.
func NewHost(storage map[uint256.Int]uint256.Int) *Host {
	if storage == nil {
		storage = map[uint256.Int]uint256.Int{}
	}
	return &Host{Storage: storage}
}

// StorageAt returns storage.get(k).unwrap_or(0).
func (h *Host) StorageAt(k uint256.Int) uint256.Int {
	if v, ok := h.Storage[k]; ok {
		return v
	}
	return uint256.Int{}
}

// SetStorage performs storage.insert(k, v).
func (h *Host) SetStorage(k, v uint256.Int) {
	h.Storage[k] = v
}

// Schedule returns the Constantinople schedule.
func (h *Host) Schedule() Schedule { return ConstantinopleSchedule }

// Params are the call parameters for a single top-level execution,
// restricted to the fields this module actually threads through.
type Params struct {
	Sender [20]byte
	Origin [20]byte
	Gas    *uint256.Int
	Value  *uint256.Int
	Data   []byte
}

// Outcome is the result of a completed execution: either a return (with
// ApplyState distinguishing commit from revert) or a bare gas-left stop
// that carries no return data (HasData false).
type Outcome struct {
	GasLeft    *uint256.Int
	Data       []byte
	ApplyState bool
	HasData    bool
}

// Run executes code against host with the given call params and returns
// the outcome. An interpreter trap (an opcode outside the supported
// subset, or a host operation other than storage/schedule) is reported as
// EVM("Trap is not yet supported").
func Run(code []byte, params Params, host *Host) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			if pe, ok := r.(*polyjuiceerr.Error); ok {
				err = polyjuiceerr.Wrap(polyjuiceerr.EVM, pe, "Trap is not yet supported")
				return
			}
			err = polyjuiceerr.New(polyjuiceerr.EVM, "Trap is not yet supported")
		}
	}()
	interp := &interpreter{code: code, input: params.Data, host: host, params: params}
	return interp.run()
}
