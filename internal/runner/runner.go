// Package runner dispatches a parsed Ethereum transaction against the
// current chain state and assembles the resulting base-chain transaction:
// plain transfer, contract call, or contract creation.
package runner

import (
	"golang.org/x/crypto/sha3"

	"github.com/holiman/uint256"

	"github.com/ckb-eth/polyjuice/internal/basechain"
	"github.com/ckb-eth/polyjuice/internal/ethtypes"
	"github.com/ckb-eth/polyjuice/internal/evmhost"
	"github.com/ckb-eth/polyjuice/internal/loader"
	"github.com/ckb-eth/polyjuice/internal/polyjuiceerr"
	"github.com/ckb-eth/polyjuice/internal/rlp"
	"github.com/ckb-eth/polyjuice/internal/state"
	"github.com/ckb-eth/polyjuice/internal/txcodec"
)

// shannonsPerByte is the base chain's occupied-capacity rate: one CKByte
// (10^8 shannons) per byte of cell storage (capacity field + lock script
// + type script + data). This is the base chain's own accounting rule,
// not something this module defines.
const shannonsPerByte = 100_000_000

// Runner dispatches and builds base-chain transactions for one Loader.
type Runner struct {
	loader *loader.Loader
}

// New builds a Runner over l.
func New(l *loader.Loader) *Runner {
	return &Runner{loader: l}
}

// Run dispatches tx at blockNumber: contract creation if tx.To is nil,
// otherwise a call (if the target is a contract account) or a plain
// transfer.
func (r *Runner) Run(tx *txcodec.Transaction, blockNumber uint64) (*basechain.Transaction, error) {
	if tx.To == nil {
		return r.createContract(tx, blockNumber)
	}
	to, err := r.loader.LoadAccount(*tx.To, blockNumber, false)
	if err != nil {
		return nil, err
	}
	isContract, err := to.ContractAccount()
	if err != nil {
		return nil, err
	}
	if isContract {
		return r.callContract(tx, blockNumber, to)
	}
	return r.sendToNormalAccount(tx, blockNumber)
}

func (r *Runner) sendToNormalAccount(tx *txcodec.Transaction, blockNumber uint64) (*basechain.Transaction, error) {
	lock := basechain.Script{
		CodeHash: state.CodeHashLock,
		HashType: basechain.HashTypeData,
		Args:     [][]byte{tx.To.Bytes()},
	}
	return r.buildCkbTransaction(tx, blockNumber, nil, lock, 0)
}

func (r *Runner) callContract(tx *txcodec.Transaction, blockNumber uint64, contractAccount *state.EthAccount) (*basechain.Transaction, error) {
	contractAddress := *tx.To
	contractData, err := contractAccount.ContractData()
	if err != nil {
		return nil, err
	}
	_, _, _, newData, err := r.callEVM(tx, contractAddress, contractData)
	if err != nil {
		return nil, err
	}

	data, err := state.EncodeContractCellData(newData)
	if err != nil {
		return nil, err
	}
	lock := basechain.Script{
		CodeHash: state.CodeHashContractLock,
		HashType: basechain.HashTypeData,
		Args:     [][]byte{contractAddress.Bytes()},
	}

	mainCell := contractAccount.MainCell
	if mainCell == nil {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "contract account must have main cell")
	}

	ckbTx, err := r.buildCkbTransaction(tx, blockNumber, data, lock, mainCell.Output.Capacity)
	if err != nil {
		return nil, err
	}
	ckbTx.Inputs = append(ckbTx.Inputs, basechain.CellInput{PreviousOutput: mainCell.OutPoint, Since: 0})
	ckbTx.Witnesses = append(ckbTx.Witnesses, nil)
	return ckbTx, nil
}

func (r *Runner) createContract(tx *txcodec.Transaction, blockNumber uint64) (*basechain.Transaction, error) {
	if tx.Data == nil {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "Contract creation transaction is missing data!")
	}
	code := tx.Data
	contractAddress, err := deriveContractAddress(tx.From, tx.Nonce)
	if err != nil {
		return nil, err
	}
	contractData := state.EthContractData{Code: code, Storage: map[uint256.Int]uint256.Int{}}

	_, returnData, hasReturn, newData, err := r.callEVM(tx, contractAddress, contractData)
	if err != nil {
		return nil, err
	}
	if !hasReturn {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "Initializer is missing return data")
	}
	newData.Code = returnData

	data, err := state.EncodeContractCellData(newData)
	if err != nil {
		return nil, err
	}
	lock := basechain.Script{
		CodeHash: state.CodeHashContractLock,
		HashType: basechain.HashTypeData,
		Args:     [][]byte{contractAddress.Bytes()},
	}
	return r.buildCkbTransaction(tx, blockNumber, data, lock, 0)
}

// deriveContractAddress computes keccak256(rlp([from, nonce]))[12:].
func deriveContractAddress(from ethtypes.Address, nonce uint64) (ethtypes.Address, error) {
	encoded, err := rlp.EncodeToBytes([]interface{}{from.Bytes(), nonce})
	if err != nil {
		return ethtypes.Address{}, polyjuiceerr.Wrap(polyjuiceerr.Rlp, err, "encode contract address preimage")
	}
	d := sha3.NewLegacyKeccak256()
	d.Write(encoded)
	return ethtypes.BytesToAddress(d.Sum(nil)[12:]), nil
}

// callEVM runs contractData.Code against the current contract storage,
// returning the gas left, the return data (if any), whether a return
// happened at all, and the resulting contract data (storage may have
// mutated even without a usable return).
func (r *Runner) callEVM(tx *txcodec.Transaction, contractAddress ethtypes.Address, contractData state.EthContractData) (*uint256.Int, []byte, bool, state.EthContractData, error) {
	fees, err := tx.Fees()
	if err != nil {
		return nil, nil, false, contractData, err
	}
	host := evmhost.NewHost(contractData.Storage)
	params := evmhost.Params{
		Sender: tx.From,
		Origin: tx.From,
		Gas:    fees,
		Value:  tx.Value,
		Data:   tx.Data,
	}
	outcome, err := evmhost.Run(contractData.Code, params, host)
	if err != nil {
		return nil, nil, false, contractData, err
	}
	if outcome.HasData && !outcome.ApplyState {
		return nil, nil, false, contractData, polyjuiceerr.New(polyjuiceerr.EVM, "Reverted!")
	}
	contractData.Storage = host.Storage
	return outcome.GasLeft, outcome.Data, outcome.HasData, contractData, nil
}

// Call runs a read-only execution against the contract at to, as of
// blockNumber, and returns the raw return data. No base-chain transaction
// is built or submitted; the decoded storage copy is discarded.
func (r *Runner) Call(from, to ethtypes.Address, data []byte, gas, value *uint256.Int, blockNumber uint64) ([]byte, error) {
	account, err := r.loader.LoadAccount(to, blockNumber, true)
	if err != nil {
		return nil, err
	}
	isContract, err := account.ContractAccount()
	if err != nil {
		return nil, err
	}
	if !isContract {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "Account is not a contract account!")
	}
	contractData, err := account.ContractData()
	if err != nil {
		return nil, err
	}
	if gas == nil {
		gas = new(uint256.Int)
	}
	if value == nil {
		value = new(uint256.Int)
	}
	host := evmhost.NewHost(contractData.Storage)
	params := evmhost.Params{
		Sender: from,
		Origin: from,
		Gas:    gas,
		Value:  value,
		Data:   data,
	}
	outcome, err := evmhost.Run(contractData.Code, params, host)
	if err != nil {
		return nil, err
	}
	if outcome.HasData && !outcome.ApplyState {
		return nil, polyjuiceerr.New(polyjuiceerr.EVM, "Reverted!")
	}
	return outcome.Data, nil
}

// buildCkbTransaction assembles the base-chain transaction common to all
// three dispatch paths: change cell (sender's prior lock, updated nonce)
// plus the target cell (data/lock/spareCapacity), spending every one of
// the sender account's fund cells and (if present) its main cell, with
// witness[0] overwritten by the raw signed Ethereum transaction bytes.
func (r *Runner) buildCkbTransaction(tx *txcodec.Transaction, blockNumber uint64, data []byte, lock basechain.Script, spareCapacity uint64) (*basechain.Transaction, error) {
	account, err := r.loader.LoadAccount(tx.From, blockNumber, false)
	if err != nil {
		return nil, err
	}
	if account == nil || (account.MainCell == nil && len(account.FundCells) == 0) {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "Account does not exist yet!")
	}

	valueCapacity, err := tx.ValueInCapacity()
	if err != nil {
		return nil, err
	}
	targetCapacity := valueCapacity + spareCapacity
	if targetCapacity < valueCapacity {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "Capacity addition overflow")
	}

	targetCell := basechain.CellOutput{Capacity: targetCapacity, Lock: lock, Data: data}
	if targetCapacity < occupiedCapacity(targetCell) {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "Capacity is not enough!")
	}

	totalCapacities, err := account.TotalCapacities()
	if err != nil {
		return nil, err
	}
	feesInCapacity, err := tx.FeesInCapacity()
	if err != nil {
		return nil, err
	}
	if totalCapacities < feesInCapacity {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "Account capacity is not enough!")
	}
	remaining := totalCapacities - feesInCapacity
	if remaining < valueCapacity {
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "Account capacity is not enough!")
	}
	changeCapacity := remaining - valueCapacity

	var originalLock basechain.Script
	switch {
	case account.MainCell != nil:
		originalLock = account.MainCell.Output.Lock
	case len(account.FundCells) > 0:
		originalLock = account.FundCells[0].Output.Lock
	default:
		return nil, polyjuiceerr.New(polyjuiceerr.MalformedData, "Account does not exist yet!")
	}
	changeData := state.EncodeNormalCellData(tx.Nonce)

	lockDep, err := r.loader.LoadLockOutPoint(false)
	if err != nil {
		return nil, err
	}
	contractLockDep, err := r.loader.LoadLockOutPoint(true)
	if err != nil {
		return nil, err
	}

	ckbTx := &basechain.Transaction{
		Version: 0,
		CellDeps: []basechain.OutPoint{
			lockDep,
			contractLockDep,
		},
		Outputs: []basechain.CellOutput{
			{Capacity: changeCapacity, Lock: originalLock, Data: changeData},
			targetCell,
		},
	}
	for _, c := range account.FundCells {
		ckbTx.Inputs = append(ckbTx.Inputs, basechain.CellInput{PreviousOutput: c.OutPoint, Since: 0})
		ckbTx.Witnesses = append(ckbTx.Witnesses, nil)
	}
	if account.MainCell != nil {
		ckbTx.Inputs = append([]basechain.CellInput{{PreviousOutput: account.MainCell.OutPoint, Since: 0}}, ckbTx.Inputs...)
		ckbTx.Witnesses = append([][][]byte{nil}, ckbTx.Witnesses...)
	}
	ckbTx.Witnesses[0] = [][]byte{tx.Raw}
	return ckbTx, nil
}

// occupiedCapacity is the base chain's own minimum-rent computation: one
// CKByte per byte of capacity field, lock script, type script, and data.
func occupiedCapacity(out basechain.CellOutput) uint64 {
	n := uint64(8) // capacity field itself
	n += scriptBytes(out.Lock)
	if out.Type != nil {
		n += scriptBytes(*out.Type)
	}
	n += uint64(len(out.Data))
	return n * shannonsPerByte
}

func scriptBytes(s basechain.Script) uint64 {
	n := uint64(len(s.CodeHash.Bytes())) + 1 // code hash + hash type byte
	for _, a := range s.Args {
		n += uint64(len(a))
	}
	return n
}
