// This file is part of pe.
//
// pe is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// pe is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with pe.  If not, see <https://www.gnu.org/licenses/>.

package pe

import "math/bits"

// dispatch16 is the 16-bit Thumb table, working down the major opcode
// groups from the top bits.
func (x *Executor) dispatch16(op uint16) (ExcInfo, internalAbort) {
	switch {
	case op&0xF800 == 0x1800:
		// add/subtract, register or 3-bit immediate
		return x.exec16AddSub(op)
	case op&0xE000 == 0x0000:
		// shift by immediate (LSL/LSR/ASR); LSL #0 is MOVS reg
		return x.exec16ShiftImm(op)
	case op&0xE000 == 0x2000:
		// move/compare/add/subtract immediate
		return x.exec16Imm8(op)
	case op&0xFC00 == 0x4000:
		// data-processing register
		return x.exec16ALU(op)
	case op&0xFC00 == 0x4400:
		// hi register operations / branch exchange
		return x.exec16HiReg(op)
	case op&0xF800 == 0x4800:
		// PC-relative load
		return x.exec16LdrLiteral(op)
	case op&0xF000 == 0x5000:
		// load/store with register offset
		return x.exec16LoadStoreReg(op)
	case op&0xE000 == 0x6000:
		// load/store word/byte with immediate offset
		return x.exec16LoadStoreImm(op)
	case op&0xF000 == 0x8000:
		// load/store halfword with immediate offset
		return x.exec16LoadStoreHalf(op)
	case op&0xF000 == 0x9000:
		// SP-relative load/store
		return x.exec16LoadStoreSP(op)
	case op&0xF000 == 0xA000:
		// load address (ADR / ADD Rd, SP, #imm)
		return x.exec16LoadAddress(op)
	case op&0xF000 == 0xB000:
		// miscellaneous
		return x.exec16Misc(op)
	case op&0xF000 == 0xC000:
		// multiple load/store
		return x.exec16Multiple(op)
	case op&0xFF00 == 0xDE00:
		// permanently undefined
		return noFault(), abortSeeUndefined
	case op&0xFF00 == 0xDF00:
		// SVC
		return x.exc.raise(ExcSVCall, x.state.CurrentSecurity == Secure, FaultNone, false), abortNone
	case op&0xF000 == 0xD000:
		// conditional branch; condition already recorded by execute16
		off := signExtend(uint32(op&0xFF)<<1, 9)
		x.branchWritePC(x.state.PC + 4 + off)
		return noFault(), abortNone
	case op&0xF800 == 0xE000:
		// unconditional branch
		off := signExtend(uint32(op&0x7FF)<<1, 12)
		x.branchWritePC(x.state.PC + 4 + off)
		return noFault(), abortNone
	default:
		return noFault(), abortSeeUndefined
	}
}

func (x *Executor) exec16ShiftImm(op uint16) (ExcInfo, internalAbort) {
	imm5 := uint32(op>>6) & 0x1F
	rm := uint32(op>>3) & 0x7
	rd := uint32(op) & 0x7

	var t srType
	switch (op >> 11) & 0x3 {
	case 0b00:
		t = srLSL
	case 0b01:
		t = srLSR
		if imm5 == 0 {
			imm5 = 32
		}
	default:
		t = srASR
		if imm5 == 0 {
			imm5 = 32
		}
	}

	v, c := shiftC(x.state.R[rm], t, imm5, x.state.XPSR.C)
	x.state.R[rd] = v
	if !x.state.XPSR.inITBlock() {
		x.setNZC(v, c)
	}
	return noFault(), abortNone
}

func (x *Executor) exec16AddSub(op uint16) (ExcInfo, internalAbort) {
	rd := uint32(op) & 0x7
	rn := uint32(op>>3) & 0x7
	sub := op&0x0200 != 0

	var operand uint32
	if op&0x0400 != 0 {
		operand = uint32(op>>6) & 0x7 // imm3
	} else {
		operand = x.state.R[(op>>6)&0x7]
	}

	var v uint32
	var c, ov bool
	if sub {
		v, c, ov = addWithCarry(x.state.R[rn], ^operand, true)
	} else {
		v, c, ov = addWithCarry(x.state.R[rn], operand, false)
	}
	x.state.R[rd] = v
	if !x.state.XPSR.inITBlock() {
		x.setNZCV(v, c, ov)
	}
	return noFault(), abortNone
}

func (x *Executor) exec16Imm8(op uint16) (ExcInfo, internalAbort) {
	rd := uint32(op>>8) & 0x7
	imm := uint32(op) & 0xFF

	switch (op >> 11) & 0x3 {
	case 0b00: // MOV
		x.state.R[rd] = imm
		if !x.state.XPSR.inITBlock() {
			x.setNZ(imm)
		}
	case 0b01: // CMP
		v, c, ov := addWithCarry(x.state.R[rd], ^imm, true)
		x.setNZCV(v, c, ov)
	case 0b10: // ADD
		v, c, ov := addWithCarry(x.state.R[rd], imm, false)
		x.state.R[rd] = v
		if !x.state.XPSR.inITBlock() {
			x.setNZCV(v, c, ov)
		}
	default: // SUB
		v, c, ov := addWithCarry(x.state.R[rd], ^imm, true)
		x.state.R[rd] = v
		if !x.state.XPSR.inITBlock() {
			x.setNZCV(v, c, ov)
		}
	}
	return noFault(), abortNone
}

func (x *Executor) exec16ALU(op uint16) (ExcInfo, internalAbort) {
	rd := uint32(op) & 0x7
	rm := uint32(op>>3) & 0x7
	setFlags := !x.state.XPSR.inITBlock()

	dn := x.state.R[rd]
	mv := x.state.R[rm]

	switch (op >> 6) & 0xF {
	case 0b0000: // AND
		v := dn & mv
		x.state.R[rd] = v
		if setFlags {
			x.setNZ(v)
		}
	case 0b0001: // EOR
		v := dn ^ mv
		x.state.R[rd] = v
		if setFlags {
			x.setNZ(v)
		}
	case 0b0010: // LSL (register)
		v, c := shiftC(dn, srLSL, mv&0xFF, x.state.XPSR.C)
		x.state.R[rd] = v
		if setFlags {
			x.setNZC(v, c)
		}
	case 0b0011: // LSR (register)
		v, c := shiftC(dn, srLSR, mv&0xFF, x.state.XPSR.C)
		x.state.R[rd] = v
		if setFlags {
			x.setNZC(v, c)
		}
	case 0b0100: // ASR (register)
		v, c := shiftC(dn, srASR, mv&0xFF, x.state.XPSR.C)
		x.state.R[rd] = v
		if setFlags {
			x.setNZC(v, c)
		}
	case 0b0101: // ADC
		v, c, ov := addWithCarry(dn, mv, x.state.XPSR.C)
		x.state.R[rd] = v
		if setFlags {
			x.setNZCV(v, c, ov)
		}
	case 0b0110: // SBC
		v, c, ov := addWithCarry(dn, ^mv, x.state.XPSR.C)
		x.state.R[rd] = v
		if setFlags {
			x.setNZCV(v, c, ov)
		}
	case 0b0111: // ROR (register)
		v, c := shiftC(dn, srROR, mv&0xFF, x.state.XPSR.C)
		x.state.R[rd] = v
		if setFlags {
			x.setNZC(v, c)
		}
	case 0b1000: // TST
		x.setNZ(dn & mv)
	case 0b1001: // RSB (NEG)
		v, c, ov := addWithCarry(^mv, 0, true)
		x.state.R[rd] = v
		if setFlags {
			x.setNZCV(v, c, ov)
		}
	case 0b1010: // CMP
		v, c, ov := addWithCarry(dn, ^mv, true)
		x.setNZCV(v, c, ov)
	case 0b1011: // CMN
		v, c, ov := addWithCarry(dn, mv, false)
		x.setNZCV(v, c, ov)
	case 0b1100: // ORR
		v := dn | mv
		x.state.R[rd] = v
		if setFlags {
			x.setNZ(v)
		}
	case 0b1101: // MUL
		v := dn * mv
		x.state.R[rd] = v
		if setFlags {
			x.setNZ(v)
		}
	case 0b1110: // BIC
		v := dn &^ mv
		x.state.R[rd] = v
		if setFlags {
			x.setNZ(v)
		}
	default: // MVN
		v := ^mv
		x.state.R[rd] = v
		if setFlags {
			x.setNZ(v)
		}
	}
	return noFault(), abortNone
}

func (x *Executor) exec16HiReg(op uint16) (ExcInfo, internalAbort) {
	rm := uint32(op>>3) & 0xF
	rdn := uint32(op)&0x7 | uint32(op>>4)&0x8

	switch (op >> 8) & 0x3 {
	case 0b00: // ADD (no flags)
		v := x.reg(rdn) + x.reg(rm)
		if rdn == 15 {
			x.branchWritePC(v)
			return noFault(), abortNone
		}
		x.setReg(rdn, v)
	case 0b01: // CMP
		v, c, ov := addWithCarry(x.reg(rdn), ^x.reg(rm), true)
		x.setNZCV(v, c, ov)
	case 0b10: // MOV (no flags)
		if rdn == 15 {
			x.branchWritePC(x.reg(rm))
			return noFault(), abortNone
		}
		x.setReg(rdn, x.reg(rm))
	default: // BX / BLX (register)
		if op&0x0080 != 0 {
			// BLX: the return address is the next halfword
			x.state.LR = (x.state.PC + 2) | 1
		}
		return x.bxWritePC(x.reg(rm))
	}
	return noFault(), abortNone
}

func (x *Executor) exec16LdrLiteral(op uint16) (ExcInfo, internalAbort) {
	rt := uint32(op>>8) & 0x7
	imm := uint32(op&0xFF) << 2
	addr := align(x.state.PC+4, 4) + imm
	v, exc := x.load(addr, 4)
	if exc.hasFault() {
		return exc, abortNone
	}
	x.state.R[rt] = v
	return noFault(), abortNone
}

func (x *Executor) exec16LoadStoreReg(op uint16) (ExcInfo, internalAbort) {
	rt := uint32(op) & 0x7
	rn := uint32(op>>3) & 0x7
	rm := uint32(op>>6) & 0x7
	addr := x.state.R[rn] + x.state.R[rm]

	switch (op >> 9) & 0x7 {
	case 0b000: // STR
		return x.store(addr, 4, x.state.R[rt]), abortNone
	case 0b001: // STRH
		return x.store(addr, 2, x.state.R[rt]), abortNone
	case 0b010: // STRB
		return x.store(addr, 1, x.state.R[rt]), abortNone
	case 0b011: // LDRSB
		v, exc := x.load(addr, 1)
		if exc.hasFault() {
			return exc, abortNone
		}
		x.state.R[rt] = signExtend(v, 8)
	case 0b100: // LDR
		v, exc := x.load(addr, 4)
		if exc.hasFault() {
			return exc, abortNone
		}
		x.state.R[rt] = v
	case 0b101: // LDRH
		v, exc := x.load(addr, 2)
		if exc.hasFault() {
			return exc, abortNone
		}
		x.state.R[rt] = v
	case 0b110: // LDRB
		v, exc := x.load(addr, 1)
		if exc.hasFault() {
			return exc, abortNone
		}
		x.state.R[rt] = v
	default: // LDRSH
		v, exc := x.load(addr, 2)
		if exc.hasFault() {
			return exc, abortNone
		}
		x.state.R[rt] = signExtend(v, 16)
	}
	return noFault(), abortNone
}

func (x *Executor) exec16LoadStoreImm(op uint16) (ExcInfo, internalAbort) {
	rt := uint32(op) & 0x7
	rn := uint32(op>>3) & 0x7
	imm5 := uint32(op>>6) & 0x1F
	byteOp := op&0x1000 != 0
	loadOp := op&0x0800 != 0

	size := 4
	off := imm5 << 2
	if byteOp {
		size = 1
		off = imm5
	}
	addr := x.state.R[rn] + off

	if loadOp {
		v, exc := x.load(addr, size)
		if exc.hasFault() {
			return exc, abortNone
		}
		x.state.R[rt] = v
		return noFault(), abortNone
	}
	return x.store(addr, size, x.state.R[rt]), abortNone
}

func (x *Executor) exec16LoadStoreHalf(op uint16) (ExcInfo, internalAbort) {
	rt := uint32(op) & 0x7
	rn := uint32(op>>3) & 0x7
	imm := (uint32(op>>6) & 0x1F) << 1
	addr := x.state.R[rn] + imm

	if op&0x0800 != 0 { // LDRH
		v, exc := x.load(addr, 2)
		if exc.hasFault() {
			return exc, abortNone
		}
		x.state.R[rt] = v
		return noFault(), abortNone
	}
	return x.store(addr, 2, x.state.R[rt]), abortNone
}

func (x *Executor) exec16LoadStoreSP(op uint16) (ExcInfo, internalAbort) {
	rt := uint32(op>>8) & 0x7
	imm := uint32(op&0xFF) << 2
	addr := x.state.SP() + imm

	if op&0x0800 != 0 { // LDR
		v, exc := x.load(addr, 4)
		if exc.hasFault() {
			return exc, abortNone
		}
		x.state.R[rt] = v
		return noFault(), abortNone
	}
	return x.store(addr, 4, x.state.R[rt]), abortNone
}

func (x *Executor) exec16LoadAddress(op uint16) (ExcInfo, internalAbort) {
	rd := uint32(op>>8) & 0x7
	imm := uint32(op&0xFF) << 2
	if op&0x0800 != 0 {
		x.state.R[rd] = x.state.SP() + imm
	} else {
		x.state.R[rd] = align(x.state.PC+4, 4) + imm
	}
	return noFault(), abortNone
}

func (x *Executor) exec16Misc(op uint16) (ExcInfo, internalAbort) {
	switch {
	case op&0xFF00 == 0xB000:
		// ADD/SUB SP, #imm7
		imm := uint32(op&0x7F) << 2
		if op&0x0080 != 0 {
			x.state.SetSP(x.state.SP() - imm)
		} else {
			x.state.SetSP(x.state.SP() + imm)
		}
		return noFault(), abortNone

	case op&0xF500 == 0xB100:
		// CBZ/CBNZ: never inside an IT block, never conditional
		rn := uint32(op) & 0x7
		imm := (uint32(op>>3)&0x1F)<<1 | (uint32(op>>9)&0x1)<<6
		nonzero := op&0x0800 != 0
		if (x.state.R[rn] == 0) != nonzero {
			x.branchWritePC(x.state.PC + 4 + imm)
		}
		return noFault(), abortNone

	case op&0xFF00 == 0xB200:
		// sign/zero extend
		rd := uint32(op) & 0x7
		rm := uint32(op>>3) & 0x7
		switch (op >> 6) & 0x3 {
		case 0b00: // SXTH
			x.state.R[rd] = signExtend(x.state.R[rm]&0xFFFF, 16)
		case 0b01: // SXTB
			x.state.R[rd] = signExtend(x.state.R[rm]&0xFF, 8)
		case 0b10: // UXTH
			x.state.R[rd] = x.state.R[rm] & 0xFFFF
		default: // UXTB
			x.state.R[rd] = x.state.R[rm] & 0xFF
		}
		return noFault(), abortNone

	case op&0xFE00 == 0xB400:
		return x.exec16Push(op)

	case op&0xFFE0 == 0xB660:
		return x.exec16CPS(op)

	case op&0xFF00 == 0xBA00:
		// byte reverse
		rd := uint32(op) & 0x7
		rm := uint32(op>>3) & 0x7
		v := x.state.R[rm]
		switch (op >> 6) & 0x3 {
		case 0b00: // REV
			x.state.R[rd] = byteReverse(v, 4)
		case 0b01: // REV16
			x.state.R[rd] = byteReverse(v&0xFFFF, 2) | byteReverse(v>>16, 2)<<16
		case 0b11: // REVSH
			x.state.R[rd] = signExtend(byteReverse(v&0xFFFF, 2), 16)
		default:
			return noFault(), abortSeeUndefined
		}
		return noFault(), abortNone

	case op&0xFE00 == 0xBC00:
		return x.exec16Pop(op)

	case op&0xFF00 == 0xBE00:
		// BKPT: a debug event regardless of condition or privilege
		return x.exc.debugEvent(DebugEventBKPT), abortNone

	case op&0xFF00 == 0xBF00:
		if op&0x000F != 0 {
			return x.execIT(op)
		}
		return x.execHint(op)

	default:
		return noFault(), abortSeeUndefined
	}
}

func (x *Executor) exec16Push(op uint16) (ExcInfo, internalAbort) {
	list := uint32(op) & 0xFF
	if op&0x0100 != 0 {
		list |= 1 << 14 // LR
	}
	n := uint32(bits.OnesCount32(list))
	if n == 0 {
		return noFault(), abortUnpredictable
	}

	addr := x.state.SP() - 4*n
	newSP := addr
	for i := uint32(0); i < 15; i++ {
		if list&(1<<i) == 0 {
			continue
		}
		if exc := x.store(addr, 4, x.reg(i)); exc.hasFault() {
			return exc, abortNone
		}
		addr += 4
	}
	x.state.SetSP(newSP)
	return noFault(), abortNone
}

func (x *Executor) exec16Pop(op uint16) (ExcInfo, internalAbort) {
	list := uint32(op) & 0xFF
	pcBit := op&0x0100 != 0
	if pcBit {
		list |= 1 << 15
	}
	if list == 0 {
		return noFault(), abortUnpredictable
	}

	addr := x.state.SP()
	var pcVal uint32
	for i := uint32(0); i < 16; i++ {
		if list&(1<<i) == 0 {
			continue
		}
		v, exc := x.load(addr, 4)
		if exc.hasFault() {
			return exc, abortNone
		}
		if i == 15 {
			pcVal = v
		} else {
			x.setReg(i, v)
		}
		addr += 4
	}
	x.state.SetSP(addr)
	if pcBit {
		return x.bxWritePC(pcVal)
	}
	return noFault(), abortNone
}

// exec16CPS implements CPSIE/CPSID: privileged-only PRIMASK/FAULTMASK
// manipulation; an unprivileged execution is a NOP.
func (x *Executor) exec16CPS(op uint16) (ExcInfo, internalAbort) {
	if !x.priv() {
		return noFault(), abortNone
	}
	disable := op&0x0010 != 0
	side := x.state.CurrentSecurity
	if op&0x0002 != 0 { // I: PRIMASK
		x.state.Primask.set(side, disable)
	}
	if op&0x0001 != 0 { // F: FAULTMASK
		// FAULTMASK can only be raised below HardFault priority
		if !disable || x.exc.executionPriority(false) > -1 {
			x.state.Faultmask.set(side, disable)
		}
	}
	return noFault(), abortNone
}

func (x *Executor) exec16Multiple(op uint16) (ExcInfo, internalAbort) {
	rn := uint32(op>>8) & 0x7
	list := uint32(op) & 0xFF
	if list == 0 {
		return noFault(), abortUnpredictable
	}
	n := uint32(bits.OnesCount32(list))
	addr := x.state.R[rn]

	if op&0x0800 != 0 { // LDMIA
		for i := uint32(0); i < 8; i++ {
			if list&(1<<i) == 0 {
				continue
			}
			v, exc := x.load(addr, 4)
			if exc.hasFault() {
				return exc, abortNone
			}
			x.state.R[i] = v
			addr += 4
		}
		// writeback unless Rn is in the list
		if list&(1<<rn) == 0 {
			x.state.R[rn] = addr
		}
		return noFault(), abortNone
	}

	// STMIA
	for i := uint32(0); i < 8; i++ {
		if list&(1<<i) == 0 {
			continue
		}
		if exc := x.store(addr, 4, x.state.R[i]); exc.hasFault() {
			return exc, abortNone
		}
		addr += 4
	}
	x.state.R[rn] = x.state.R[rn] + 4*n
	return noFault(), abortNone
}
