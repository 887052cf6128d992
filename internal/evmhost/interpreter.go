package evmhost

import (
	"golang.org/x/crypto/sha3"

	"github.com/holiman/uint256"

	"github.com/ckb-eth/polyjuice/internal/polyjuiceerr"
)

// interpreter is a minimal stack machine covering the opcode subset the
// supported contracts exercise: arithmetic, comparisons, bitwise ops,
// memory, storage, calldata access, and control flow. Anything else
// (CALL/CREATE/LOG/SELFDESTRUCT/BALANCE/EXTCODE*/block-hash ops) traps,
// per evmhost.go's doc comment.
type interpreter struct {
	code   []byte
	input  []byte
	host   *Host
	params Params

	pc     int
	stack  []uint256.Int
	memory []byte
}

const maxStack = 1024

func (in *interpreter) trap(why string) {
	panic(polyjuiceerr.New(polyjuiceerr.EVM, "trap: %s", why))
}

func (in *interpreter) push(v uint256.Int) {
	if len(in.stack) >= maxStack {
		in.trap("stack overflow")
	}
	in.stack = append(in.stack, v)
}

func (in *interpreter) pop() uint256.Int {
	if len(in.stack) == 0 {
		in.trap("stack underflow")
	}
	v := in.stack[len(in.stack)-1]
	in.stack = in.stack[:len(in.stack)-1]
	return v
}

func (in *interpreter) peek(n int) *uint256.Int {
	if len(in.stack) <= n {
		in.trap("stack underflow")
	}
	return &in.stack[len(in.stack)-1-n]
}

func (in *interpreter) ensureMemory(offset, size uint64) {
	need := offset + size
	if need < offset {
		in.trap("memory overflow")
	}
	if uint64(len(in.memory)) < need {
		grown := make([]byte, need)
		copy(grown, in.memory)
		in.memory = grown
	}
}

func (in *interpreter) mstore(offset uint64, v uint256.Int) {
	in.ensureMemory(offset, 32)
	b := v.Bytes32()
	copy(in.memory[offset:offset+32], b[:])
}

func (in *interpreter) mload(offset uint64) uint256.Int {
	in.ensureMemory(offset, 32)
	var v uint256.Int
	v.SetBytes(in.memory[offset : offset+32])
	return v
}

func (in *interpreter) run() (Outcome, error) {
	for {
		if in.pc >= len(in.code) {
			return Outcome{GasLeft: in.remainingGas(), HasData: false}, nil
		}
		op := in.code[in.pc]
		switch {
		case op == 0x00: // STOP
			return Outcome{GasLeft: in.remainingGas(), HasData: false}, nil

		case op == 0x01: // ADD
			a, b := in.pop(), in.pop()
			var r uint256.Int
			in.push(*r.Add(&a, &b))
			in.pc++
		case op == 0x02: // MUL
			a, b := in.pop(), in.pop()
			var r uint256.Int
			in.push(*r.Mul(&a, &b))
			in.pc++
		case op == 0x03: // SUB
			a, b := in.pop(), in.pop()
			var r uint256.Int
			in.push(*r.Sub(&a, &b))
			in.pc++
		case op == 0x04: // DIV
			a, b := in.pop(), in.pop()
			var r uint256.Int
			if b.IsZero() {
				in.push(uint256.Int{})
			} else {
				in.push(*r.Div(&a, &b))
			}
			in.pc++
		case op == 0x06: // MOD
			a, b := in.pop(), in.pop()
			var r uint256.Int
			if b.IsZero() {
				in.push(uint256.Int{})
			} else {
				in.push(*r.Mod(&a, &b))
			}
			in.pc++

		case op == 0x10: // LT
			a, b := in.pop(), in.pop()
			in.push(boolInt(a.Lt(&b)))
			in.pc++
		case op == 0x11: // GT
			a, b := in.pop(), in.pop()
			in.push(boolInt(a.Gt(&b)))
			in.pc++
		case op == 0x14: // EQ
			a, b := in.pop(), in.pop()
			in.push(boolInt(a.Eq(&b)))
			in.pc++
		case op == 0x15: // ISZERO
			a := in.pop()
			in.push(boolInt(a.IsZero()))
			in.pc++
		case op == 0x16: // AND
			a, b := in.pop(), in.pop()
			var r uint256.Int
			in.push(*r.And(&a, &b))
			in.pc++
		case op == 0x17: // OR
			a, b := in.pop(), in.pop()
			var r uint256.Int
			in.push(*r.Or(&a, &b))
			in.pc++
		case op == 0x18: // XOR
			a, b := in.pop(), in.pop()
			var r uint256.Int
			in.push(*r.Xor(&a, &b))
			in.pc++
		case op == 0x19: // NOT
			a := in.pop()
			var r uint256.Int
			in.push(*r.Not(&a))
			in.pc++
		case op == 0x1b: // SHL
			shift, val := in.pop(), in.pop()
			var r uint256.Int
			in.push(*r.Lsh(&val, uint(shift.Uint64())))
			in.pc++
		case op == 0x1c: // SHR
			shift, val := in.pop(), in.pop()
			var r uint256.Int
			in.push(*r.Rsh(&val, uint(shift.Uint64())))
			in.pc++

		case op == 0x20: // SHA3 / KECCAK256
			offset := in.pop()
			size := in.pop()
			off, sz := offset.Uint64(), size.Uint64()
			in.ensureMemory(off, sz)
			d := sha3.NewLegacyKeccak256()
			d.Write(in.memory[off : off+sz])
			var r uint256.Int
			r.SetBytes(d.Sum(nil))
			in.push(r)
			in.pc++

		case op == 0x33: // CALLER
			var r uint256.Int
			r.SetBytes(in.params.Sender[:])
			in.push(r)
			in.pc++
		case op == 0x34: // CALLVALUE
			if in.params.Value == nil {
				in.push(uint256.Int{})
			} else {
				in.push(*in.params.Value)
			}
			in.pc++
		case op == 0x35: // CALLDATALOAD
			offset := in.pop()
			off := offset.Uint64()
			var buf [32]byte
			for i := 0; i < 32; i++ {
				idx := off + uint64(i)
				if idx < uint64(len(in.input)) {
					buf[i] = in.input[idx]
				}
			}
			var r uint256.Int
			r.SetBytes(buf[:])
			in.push(r)
			in.pc++
		case op == 0x36: // CALLDATASIZE
			in.push(*uint256.NewInt(uint64(len(in.input))))
			in.pc++
		case op == 0x37: // CALLDATACOPY
			destOffset, offset, size := in.pop(), in.pop(), in.pop()
			dst, src, sz := destOffset.Uint64(), offset.Uint64(), size.Uint64()
			in.ensureMemory(dst, sz)
			for i := uint64(0); i < sz; i++ {
				idx := src + i
				if idx < uint64(len(in.input)) {
					in.memory[dst+i] = in.input[idx]
				} else {
					in.memory[dst+i] = 0
				}
			}
			in.pc++
		case op == 0x38: // CODESIZE
			in.push(*uint256.NewInt(uint64(len(in.code))))
			in.pc++
		case op == 0x39: // CODECOPY
			destOffset, offset, size := in.pop(), in.pop(), in.pop()
			dst, src, sz := destOffset.Uint64(), offset.Uint64(), size.Uint64()
			in.ensureMemory(dst, sz)
			for i := uint64(0); i < sz; i++ {
				idx := src + i
				if idx < uint64(len(in.code)) {
					in.memory[dst+i] = in.code[idx]
				} else {
					in.memory[dst+i] = 0
				}
			}
			in.pc++

		case op == 0x50: // POP
			in.pop()
			in.pc++
		case op == 0x51: // MLOAD
			offset := in.pop()
			in.push(in.mload(offset.Uint64()))
			in.pc++
		case op == 0x52: // MSTORE
			offset, v := in.pop(), in.pop()
			in.mstore(offset.Uint64(), v)
			in.pc++
		case op == 0x53: // MSTORE8
			offset, v := in.pop(), in.pop()
			off := offset.Uint64()
			in.ensureMemory(off, 1)
			in.memory[off] = byte(v.Uint64())
			in.pc++
		case op == 0x54: // SLOAD
			key := in.pop()
			in.push(in.host.StorageAt(key))
			in.pc++
		case op == 0x55: // SSTORE
			key, val := in.pop(), in.pop()
			in.host.SetStorage(key, val)
			in.pc++
		case op == 0x56: // JUMP
			dest := in.pop()
			in.jump(dest.Uint64())
		case op == 0x57: // JUMPI
			dest, cond := in.pop(), in.pop()
			if !cond.IsZero() {
				in.jump(dest.Uint64())
			} else {
				in.pc++
			}
		case op == 0x58: // PC
			in.push(*uint256.NewInt(uint64(in.pc)))
			in.pc++
		case op == 0x59: // MSIZE
			in.push(*uint256.NewInt(uint64(len(in.memory))))
			in.pc++
		case op == 0x5a: // GAS
			in.push(*in.remainingGas())
			in.pc++
		case op == 0x5b: // JUMPDEST
			in.pc++

		case op >= 0x60 && op <= 0x7f: // PUSH1..PUSH32
			n := int(op - 0x5f)
			var buf [32]byte
			end := in.pc + 1 + n
			src := in.code[min(in.pc+1, len(in.code)):min(end, len(in.code))]
			copy(buf[32-n:], src)
			var v uint256.Int
			v.SetBytes(buf[:])
			in.push(v)
			in.pc = end

		case op >= 0x80 && op <= 0x8f: // DUP1..DUP16
			n := int(op - 0x80)
			in.push(*in.peek(n))
			in.pc++
		case op >= 0x90 && op <= 0x9f: // SWAP1..SWAP16
			n := int(op-0x90) + 1
			top := len(in.stack) - 1
			if top-n < 0 {
				in.trap("stack underflow")
			}
			in.stack[top], in.stack[top-n] = in.stack[top-n], in.stack[top]
			in.pc++

		case op == 0xf3: // RETURN
			offset, size := in.pop(), in.pop()
			off, sz := offset.Uint64(), size.Uint64()
			in.ensureMemory(off, sz)
			data := append([]byte(nil), in.memory[off:off+sz]...)
			return Outcome{GasLeft: in.remainingGas(), Data: data, ApplyState: true, HasData: true}, nil
		case op == 0xfd: // REVERT
			offset, size := in.pop(), in.pop()
			off, sz := offset.Uint64(), size.Uint64()
			in.ensureMemory(off, sz)
			data := append([]byte(nil), in.memory[off:off+sz]...)
			return Outcome{GasLeft: in.remainingGas(), Data: data, ApplyState: false, HasData: true}, nil

		default:
			in.trap("unsupported opcode")
		}
	}
}

func (in *interpreter) jump(dest uint64) {
	if dest >= uint64(len(in.code)) || in.code[dest] != 0x5b {
		in.trap("invalid jump destination")
	}
	in.pc = int(dest)
}

func (in *interpreter) remainingGas() *uint256.Int {
	if in.params.Gas == nil {
		return uint256.NewInt(0)
	}
	return in.params.Gas
}

func boolInt(b bool) uint256.Int {
	if b {
		return *uint256.NewInt(1)
	}
	return uint256.Int{}
}
