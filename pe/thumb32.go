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

// dispatch32 is the 32-bit Thumb table. hi is the first halfword
// fetched, lo the second.
func (x *Executor) dispatch32(hi, lo uint16) (ExcInfo, internalAbort) {
	switch {
	case hi == sgOpcodeHi && lo == sgOpcodeLo:
		return x.execSG()

	case hi&0xFE40 == 0xE800:
		return x.exec32Multiple(hi, lo)

	case hi&0xFFF0 == 0xE840:
		if lo>>12 == 0xF {
			return x.exec32TT(hi, lo)
		}
		rn := uint32(hi) & 0xF
		rt := uint32(lo>>12) & 0xF
		rd := uint32(lo>>8) & 0xF
		addr := x.reg(rn) + uint32(lo&0xFF)*4
		return x.execSTREX(addr, 4, rd, rt)

	case hi&0xFFF0 == 0xE850:
		rn := uint32(hi) & 0xF
		rt := uint32(lo>>12) & 0xF
		addr := x.reg(rn) + uint32(lo&0xFF)*4
		return x.execLDREX(addr, 4, rt)

	case hi&0xFFF0 == 0xE8C0:
		// STREXB/STREXH
		rn := uint32(hi) & 0xF
		rt := uint32(lo>>12) & 0xF
		rd := uint32(lo) & 0xF
		switch (lo >> 4) & 0xF {
		case 0b0100:
			return x.execSTREX(x.reg(rn), 1, rd, rt)
		case 0b0101:
			return x.execSTREX(x.reg(rn), 2, rd, rt)
		}
		return noFault(), abortSeeUndefined

	case hi&0xFFF0 == 0xE8D0:
		rn := uint32(hi) & 0xF
		switch (lo >> 4) & 0xF {
		case 0b0000, 0b0001:
			return x.exec32TableBranch(rn, uint32(lo)&0xF, lo&0x0010 != 0)
		case 0b0100:
			return x.execLDREX(x.reg(rn), 1, uint32(lo>>12)&0xF)
		case 0b0101:
			return x.execLDREX(x.reg(rn), 2, uint32(lo>>12)&0xF)
		}
		return noFault(), abortSeeUndefined

	case hi&0xFE40 == 0xE840:
		return x.exec32DualLoadStore(hi, lo)

	case hi&0xFE00 == 0xEA00:
		return x.exec32DPShifted(hi, lo)

	case hi&0xEC00 == 0xEC00:
		return x.exec32Coproc(hi, lo)

	case hi&0xF800 == 0xF000 && lo&0x8000 == 0:
		if hi&0x0200 == 0 {
			return x.exec32DPModImm(hi, lo)
		}
		return x.exec32DPPlainImm(hi, lo)

	case hi&0xF800 == 0xF000:
		return x.exec32BranchMisc(hi, lo)

	case hi&0xFE00 == 0xF800:
		return x.exec32LoadStoreSingle(hi, lo)

	case hi&0xFF00 == 0xFA00:
		return x.exec32DPReg(hi, lo)

	case hi&0xFF00 == 0xFB00:
		return x.exec32Multiply(hi, lo)

	default:
		return noFault(), abortSeeUndefined
	}
}

// execSG implements the Secure Gateway: a NonSecure caller that reaches
// an SG fetched from NSC memory transitions to Secure state; an SG
// anywhere else (Secure code, or NonSecure-attributed memory) is a NOP.
func (x *Executor) execSG() (ExcInfo, internalAbort) {
	if x.state.CurrentSecurity == NonSecure && x.nscFetch {
		x.state.CurrentSecurity = Secure
		ctrl := x.state.Ctrl.get(Secure)
		ctrl.SFPA = false
		x.state.Ctrl.set(Secure, ctrl)
		x.state.LR &^= 1 // record the NS origin in LR bit0
	}
	return noFault(), abortNone
}

func (x *Executor) exec32Multiple(hi, lo uint16) (ExcInfo, internalAbort) {
	rn := uint32(hi) & 0xF
	wback := hi&0x0020 != 0
	loadOp := hi&0x0010 != 0
	ia := hi&0x0100 == 0
	list := uint32(lo)
	n := uint32(bits.OnesCount32(list))
	if n == 0 {
		return noFault(), abortUnpredictable
	}

	start := x.reg(rn)
	var wb uint32
	if ia {
		wb = start + 4*n
	} else {
		start -= 4 * n
		wb = start
	}

	addr := start
	var pcVal uint32
	pcLoad := false
	for i := uint32(0); i < 16; i++ {
		if list&(1<<i) == 0 {
			continue
		}
		if loadOp {
			v, exc := x.load(addr, 4)
			if exc.hasFault() {
				return exc, abortNone
			}
			if i == 15 {
				pcVal, pcLoad = v, true
			} else {
				x.setReg(i, v)
			}
		} else {
			if exc := x.store(addr, 4, x.reg(i)); exc.hasFault() {
				return exc, abortNone
			}
		}
		addr += 4
	}

	if wback && (!loadOp || list&(1<<rn) == 0) {
		x.setReg(rn, wb)
	}
	if pcLoad {
		return x.bxWritePC(pcVal)
	}
	return noFault(), abortNone
}

func (x *Executor) exec32TableBranch(rn, rm uint32, half bool) (ExcInfo, internalAbort) {
	var entry, size uint32 = 0, 1
	addr := x.reg(rn) + x.reg(rm)
	if half {
		size = 2
		addr = x.reg(rn) + x.reg(rm)*2
	}
	v, exc := x.load(addr, int(size))
	if exc.hasFault() {
		return exc, abortNone
	}
	entry = v
	x.branchWritePC(x.state.PC + 4 + entry*2)
	return noFault(), abortNone
}

func (x *Executor) exec32DualLoadStore(hi, lo uint16) (ExcInfo, internalAbort) {
	rn := uint32(hi) & 0xF
	rt := uint32(lo>>12) & 0xF
	rt2 := uint32(lo>>8) & 0xF
	imm := uint32(lo&0xFF) << 2

	index := hi&0x0100 != 0
	add := hi&0x0080 != 0
	wback := hi&0x0020 != 0
	loadOp := hi&0x0010 != 0

	base := x.reg(rn)
	offsetAddr := base - imm
	if add {
		offsetAddr = base + imm
	}
	addr := base
	if index {
		addr = offsetAddr
	}

	if loadOp {
		v1, exc := x.load(addr, 4)
		if exc.hasFault() {
			return exc, abortNone
		}
		v2, exc := x.load(addr+4, 4)
		if exc.hasFault() {
			return exc, abortNone
		}
		x.setReg(rt, v1)
		x.setReg(rt2, v2)
	} else {
		if exc := x.store(addr, 4, x.reg(rt)); exc.hasFault() {
			return exc, abortNone
		}
		if exc := x.store(addr+4, 4, x.reg(rt2)); exc.hasFault() {
			return exc, abortNone
		}
	}

	if wback {
		x.setReg(rn, offsetAddr)
	}
	return noFault(), abortNone
}

// dpOp is the shared data-processing executor behind the modified
// immediate and shifted register encodings. op2 is the already-resolved
// second operand and shiftCarry the shifter's carry-out.
func (x *Executor) dpOp(op uint32, s bool, rn, rd uint32, op2 uint32, shiftCarry bool) (ExcInfo, internalAbort) {
	// unlike the 16-bit encodings, the S bit is explicit and applies
	// inside IT blocks too
	flags := s

	switch op {
	case 0b0000: // AND / TST
		v := x.reg(rn) & op2
		if rd == 15 {
			if !s {
				return noFault(), abortUnpredictable
			}
			x.setNZC(v, shiftCarry)
			return noFault(), abortNone
		}
		x.setReg(rd, v)
		if flags {
			x.setNZC(v, shiftCarry)
		}
	case 0b0001: // BIC
		v := x.reg(rn) &^ op2
		x.setReg(rd, v)
		if flags {
			x.setNZC(v, shiftCarry)
		}
	case 0b0010: // ORR / MOV
		var v uint32
		if rn == 15 {
			v = op2
		} else {
			v = x.reg(rn) | op2
		}
		x.setReg(rd, v)
		if flags {
			x.setNZC(v, shiftCarry)
		}
	case 0b0011: // ORN / MVN
		var v uint32
		if rn == 15 {
			v = ^op2
		} else {
			v = x.reg(rn) | ^op2
		}
		x.setReg(rd, v)
		if flags {
			x.setNZC(v, shiftCarry)
		}
	case 0b0100: // EOR / TEQ
		v := x.reg(rn) ^ op2
		if rd == 15 {
			if !s {
				return noFault(), abortUnpredictable
			}
			x.setNZC(v, shiftCarry)
			return noFault(), abortNone
		}
		x.setReg(rd, v)
		if flags {
			x.setNZC(v, shiftCarry)
		}
	case 0b1000: // ADD / CMN
		v, c, ov := addWithCarry(x.reg(rn), op2, false)
		if rd == 15 {
			if !s {
				return noFault(), abortUnpredictable
			}
			x.setNZCV(v, c, ov)
			return noFault(), abortNone
		}
		x.setReg(rd, v)
		if flags {
			x.setNZCV(v, c, ov)
		}
	case 0b1010: // ADC
		v, c, ov := addWithCarry(x.reg(rn), op2, x.state.XPSR.C)
		x.setReg(rd, v)
		if flags {
			x.setNZCV(v, c, ov)
		}
	case 0b1011: // SBC
		v, c, ov := addWithCarry(x.reg(rn), ^op2, x.state.XPSR.C)
		x.setReg(rd, v)
		if flags {
			x.setNZCV(v, c, ov)
		}
	case 0b1101: // SUB / CMP
		v, c, ov := addWithCarry(x.reg(rn), ^op2, true)
		if rd == 15 {
			if !s {
				return noFault(), abortUnpredictable
			}
			x.setNZCV(v, c, ov)
			return noFault(), abortNone
		}
		x.setReg(rd, v)
		if flags {
			x.setNZCV(v, c, ov)
		}
	case 0b1110: // RSB
		v, c, ov := addWithCarry(^x.reg(rn), op2, true)
		x.setReg(rd, v)
		if flags {
			x.setNZCV(v, c, ov)
		}
	default:
		return noFault(), abortSeeUndefined
	}
	return noFault(), abortNone
}

func (x *Executor) exec32DPModImm(hi, lo uint16) (ExcInfo, internalAbort) {
	op := uint32(hi>>5) & 0xF
	s := hi&0x0010 != 0
	rn := uint32(hi) & 0xF
	rd := uint32(lo>>8) & 0xF

	imm12 := uint32(hi>>10)&0x1<<11 | uint32(lo>>12)&0x7<<8 | uint32(lo)&0xFF
	imm, carry := thumbExpandImmC(imm12, x.state.XPSR.C)

	return x.dpOp(op, s, rn, rd, imm, carry)
}

func (x *Executor) exec32DPShifted(hi, lo uint16) (ExcInfo, internalAbort) {
	op := uint32(hi>>5) & 0xF
	s := hi&0x0010 != 0
	rn := uint32(hi) & 0xF
	rd := uint32(lo>>8) & 0xF
	rm := uint32(lo) & 0xF

	imm5 := uint32(lo>>12)&0x7<<2 | uint32(lo>>6)&0x3
	t, amount := decodeImmShift(uint32(lo>>4)&0x3, imm5)
	op2, carry := shiftC(x.reg(rm), t, amount, x.state.XPSR.C)

	return x.dpOp(op, s, rn, rd, op2, carry)
}

func (x *Executor) exec32DPPlainImm(hi, lo uint16) (ExcInfo, internalAbort) {
	rn := uint32(hi) & 0xF
	rd := uint32(lo>>8) & 0xF
	i := uint32(hi>>10) & 0x1
	imm3 := uint32(lo>>12) & 0x7
	imm8 := uint32(lo) & 0xFF
	imm12 := i<<11 | imm3<<8 | imm8

	switch hi & 0xFBF0 {
	case 0xF200: // ADDW (ADR when Rn is PC)
		if rn == 15 {
			x.setReg(rd, align(x.state.PC+4, 4)+imm12)
		} else {
			x.setReg(rd, x.reg(rn)+imm12)
		}
	case 0xF2A0: // SUBW (ADR.W negative when Rn is PC)
		if rn == 15 {
			x.setReg(rd, align(x.state.PC+4, 4)-imm12)
		} else {
			x.setReg(rd, x.reg(rn)-imm12)
		}
	case 0xF240: // MOVW
		x.setReg(rd, rn<<12|imm12)
	case 0xF2C0: // MOVT
		x.setReg(rd, x.reg(rd)&0xFFFF|(rn<<12|imm12)<<16)
	case 0xF340: // SBFX
		lsb := imm3<<2 | uint32(lo>>6)&0x3
		width := uint32(lo)&0x1F + 1
		v := x.reg(rn) >> lsb
		x.setReg(rd, signExtend(v&(1<<width-1), uint(width)))
	case 0xF3C0: // UBFX
		lsb := imm3<<2 | uint32(lo>>6)&0x3
		width := uint32(lo)&0x1F + 1
		x.setReg(rd, x.reg(rn)>>lsb&(1<<width-1))
	case 0xF360: // BFI / BFC
		lsb := imm3<<2 | uint32(lo>>6)&0x3
		msb := uint32(lo) & 0x1F
		if msb < lsb {
			return noFault(), abortUnpredictable
		}
		width := msb - lsb + 1
		mask := (uint32(1)<<width - 1) << lsb
		var src uint32
		if rn != 15 { // BFC when Rn is PC
			src = x.reg(rn) << lsb & mask
		}
		x.setReg(rd, x.reg(rd)&^mask|src)
	default:
		return noFault(), abortSeeUndefined
	}
	return noFault(), abortNone
}

func (x *Executor) exec32BranchMisc(hi, lo uint16) (ExcInfo, internalAbort) {
	switch {
	case lo&0xD000 == 0xD000: // BL
		imm := branchImm25(hi, lo)
		x.state.LR = (x.state.PC + 4) | 1
		x.branchWritePC(x.state.PC + 4 + imm)
		return noFault(), abortNone

	case lo&0xD000 == 0x9000: // B (T4)
		x.branchWritePC(x.state.PC + 4 + branchImm25(hi, lo))
		return noFault(), abortNone

	case hi == 0xF3BF && lo&0xFF00 == 0x8F00:
		switch (lo >> 4) & 0xF {
		case 0b0010:
			return x.execCLREX()
		case 0b0100, 0b0101, 0b0110:
			// DSB/DMB/ISB: the single-PE interpreter is sequentially
			// consistent with itself; the monitors carry their own lock
			return noFault(), abortNone
		}
		return noFault(), abortSeeUndefined

	case hi&0xFFE0 == 0xF380 && lo&0xD000 == 0x8000: // MSR
		return x.execMSR(uint32(hi)&0xF, uint32(lo>>10)&0x3, uint32(lo)&0xFF)

	case hi&0xFFE0 == 0xF3E0 && lo&0xD000 == 0x8000: // MRS
		return x.execMRS(uint32(lo>>8)&0xF, uint32(lo)&0xFF)

	case lo&0xD000 == 0x8000 && (hi>>6)&0xF < 0xE: // B (T3, conditional)
		s := uint32(hi>>10) & 0x1
		imm6 := uint32(hi) & 0x3F
		j1 := uint32(lo>>13) & 0x1
		j2 := uint32(lo>>11) & 0x1
		imm11 := uint32(lo) & 0x7FF
		imm := signExtend(s<<20|j2<<19|j1<<18|imm6<<12|imm11<<1, 21)
		x.branchWritePC(x.state.PC + 4 + imm)
		return noFault(), abortNone

	default:
		return noFault(), abortSeeUndefined
	}
}

// branchImm25 assembles the 25-bit branch offset of the BL/B.W (T4)
// encodings, including the I1/I2 inversion.
func branchImm25(hi, lo uint16) uint32 {
	s := uint32(hi>>10) & 0x1
	imm10 := uint32(hi) & 0x3FF
	j1 := uint32(lo>>13) & 0x1
	j2 := uint32(lo>>11) & 0x1
	imm11 := uint32(lo) & 0x7FF
	i1 := ^(j1 ^ s) & 0x1
	i2 := ^(j2 ^ s) & 0x1
	return signExtend(s<<24|i1<<23|i2<<22|imm10<<12|imm11<<1, 25)
}

func (x *Executor) exec32LoadStoreSingle(hi, lo uint16) (ExcInfo, internalAbort) {
	rn := uint32(hi) & 0xF
	rt := uint32(lo>>12) & 0xF
	loadOp := hi&0x0010 != 0
	signed := hi&0x0100 != 0

	size := 0
	switch (hi >> 5) & 0x3 {
	case 0b00:
		size = 1
	case 0b01:
		size = 2
	case 0b10:
		size = 4
	default:
		return noFault(), abortSeeUndefined
	}

	var addr uint32
	var wback bool
	var wbackAddr uint32
	unpriv := false

	switch {
	case rn == 0xF:
		// literal form: loads only
		if !loadOp {
			return noFault(), abortSeeUndefined
		}
		imm12 := uint32(lo) & 0xFFF
		base := align(x.state.PC+4, 4)
		if hi&0x0080 != 0 {
			addr = base + imm12
		} else {
			addr = base - imm12
		}

	case hi&0x0080 != 0:
		// imm12 positive offset
		addr = x.reg(rn) + uint32(lo)&0xFFF

	case lo&0x0800 != 0:
		imm8 := uint32(lo) & 0xFF
		if lo>>8&0xF == 0xE {
			// LDRT/STRT family: unprivileged, positive imm8
			addr = x.reg(rn) + imm8
			unpriv = true
			break
		}
		index := lo&0x0400 != 0
		add := lo&0x0200 != 0
		wback = lo&0x0100 != 0
		offsetAddr := x.reg(rn) - imm8
		if add {
			offsetAddr = x.reg(rn) + imm8
		}
		addr = x.reg(rn)
		if index {
			addr = offsetAddr
		}
		wbackAddr = offsetAddr

	case lo&0x0FC0 == 0x0000:
		// register offset, LSL #shift
		rm := uint32(lo) & 0xF
		addr = x.reg(rn) + x.reg(rm)<<(uint32(lo>>4)&0x3)

	default:
		return noFault(), abortSeeUndefined
	}

	if loadOp {
		var v uint32
		var exc ExcInfo
		if unpriv {
			v, exc = x.mem.MemUnpriv(addr, size, x.state.CurrentSecurity, false, 0)
		} else {
			v, exc = x.load(addr, size)
		}
		if exc.hasFault() {
			return exc, abortNone
		}
		if signed && size < 4 {
			v = signExtend(v, uint(size*8))
		}
		if wback {
			x.setReg(rn, wbackAddr)
		}
		if rt == 15 {
			if size != 4 {
				return noFault(), abortUnpredictable
			}
			return x.bxWritePC(v)
		}
		x.setReg(rt, v)
		return noFault(), abortNone
	}

	if signed {
		return noFault(), abortSeeUndefined
	}
	var exc ExcInfo
	if unpriv {
		_, exc = x.mem.MemUnpriv(addr, size, x.state.CurrentSecurity, true, x.reg(rt))
	} else {
		exc = x.store(addr, size, x.reg(rt))
	}
	if exc.hasFault() {
		return exc, abortNone
	}
	if wback {
		x.setReg(rn, wbackAddr)
	}
	return noFault(), abortNone
}

func (x *Executor) exec32DPReg(hi, lo uint16) (ExcInfo, internalAbort) {
	rn := uint32(hi) & 0xF
	rd := uint32(lo>>8) & 0xF
	rm := uint32(lo) & 0xF

	switch {
	case hi&0xFF80 == 0xFA00 && lo&0xF0F0 == 0xF000:
		// shift by register
		var t srType
		switch (hi >> 5) & 0x3 {
		case 0b00:
			t = srLSL
		case 0b01:
			t = srLSR
		case 0b10:
			t = srASR
		default:
			t = srROR
		}
		v, c := shiftC(x.reg(rn), t, x.reg(rm)&0xFF, x.state.XPSR.C)
		x.setReg(rd, v)
		if hi&0x0010 != 0 && !x.state.XPSR.inITBlock() {
			x.setNZC(v, c)
		}
		return noFault(), abortNone

	case hi&0xFF80 == 0xFA00 && lo&0xF080 == 0xF080:
		// sign/zero extend, with optional accumulate when Rn != PC
		rot := uint32(lo>>4) & 0x3 * 8
		v, _ := shiftC(x.reg(rm), srROR, rot, false)
		var ext uint32
		switch (hi >> 4) & 0x7 {
		case 0b000: // SXTH
			ext = signExtend(v&0xFFFF, 16)
		case 0b001: // UXTH
			ext = v & 0xFFFF
		case 0b100: // SXTB
			ext = signExtend(v&0xFF, 8)
		case 0b101: // UXTB
			ext = v & 0xFF
		default:
			return noFault(), abortSeeUndefined
		}
		if rn != 15 {
			ext += x.reg(rn)
		}
		x.setReg(rd, ext)
		return noFault(), abortNone

	case hi&0xFFF0 == 0xFA90 && lo&0xF0C0 == 0xF080:
		v := x.reg(rm)
		switch (lo >> 4) & 0x3 {
		case 0b00: // REV
			x.setReg(rd, byteReverse(v, 4))
		case 0b01: // REV16
			x.setReg(rd, byteReverse(v&0xFFFF, 2)|byteReverse(v>>16, 2)<<16)
		case 0b10: // RBIT
			x.setReg(rd, bits.Reverse32(v))
		default: // REVSH
			x.setReg(rd, signExtend(byteReverse(v&0xFFFF, 2), 16))
		}
		return noFault(), abortNone

	case hi&0xFFF0 == 0xFAB0 && lo&0xF0F0 == 0xF080:
		// CLZ
		x.setReg(rd, uint32(bits.LeadingZeros32(x.reg(rm))))
		return noFault(), abortNone

	default:
		return noFault(), abortSeeUndefined
	}
}

func (x *Executor) exec32Multiply(hi, lo uint16) (ExcInfo, internalAbort) {
	rn := uint32(hi) & 0xF
	ra := uint32(lo>>12) & 0xF
	rd := uint32(lo>>8) & 0xF
	rm := uint32(lo) & 0xF

	switch hi & 0xFFF0 {
	case 0xFB00:
		switch (lo >> 4) & 0xF {
		case 0b0000: // MLA / MUL when Ra is PC
			v := x.reg(rn) * x.reg(rm)
			if ra != 15 {
				v += x.reg(ra)
			}
			x.setReg(rd, v)
		case 0b0001: // MLS
			x.setReg(rd, x.reg(ra)-x.reg(rn)*x.reg(rm))
		default:
			return noFault(), abortSeeUndefined
		}

	case 0xFB80: // SMULL
		v := int64(int32(x.reg(rn))) * int64(int32(x.reg(rm)))
		x.setReg(ra, uint32(v))
		x.setReg(rd, uint32(v>>32))

	case 0xFBA0: // UMULL
		v := uint64(x.reg(rn)) * uint64(x.reg(rm))
		x.setReg(ra, uint32(v))
		x.setReg(rd, uint32(v>>32))

	case 0xFB90: // SDIV
		den := int32(x.reg(rm))
		if den == 0 {
			if exc := x.divByZero(); exc.hasFault() {
				return exc, abortNone
			}
			x.setReg(rd, 0)
		} else {
			x.setReg(rd, uint32(int32(x.reg(rn))/den))
		}

	case 0xFBB0: // UDIV
		den := x.reg(rm)
		if den == 0 {
			if exc := x.divByZero(); exc.hasFault() {
				return exc, abortNone
			}
			x.setReg(rd, 0)
		} else {
			x.setReg(rd, x.reg(rn)/den)
		}

	case 0xFBC0: // SMLAL
		acc := int64(uint64(x.reg(rd))<<32 | uint64(x.reg(ra)))
		acc += int64(int32(x.reg(rn))) * int64(int32(x.reg(rm)))
		x.setReg(ra, uint32(acc))
		x.setReg(rd, uint32(acc>>32))

	case 0xFBE0: // UMLAL
		acc := uint64(x.reg(rd))<<32 | uint64(x.reg(ra))
		acc += uint64(x.reg(rn)) * uint64(x.reg(rm))
		x.setReg(ra, uint32(acc))
		x.setReg(rd, uint32(acc>>32))

	default:
		return noFault(), abortSeeUndefined
	}
	return noFault(), abortNone
}

// divByZero raises UsageFault(DIVBYZERO) when CCR.DIV_0_TRP is set;
// otherwise the quotient is architecturally zero and no fault occurs.
func (x *Executor) divByZero() ExcInfo {
	if x.mem.nest.CCR.get(x.state.CurrentSecurity)&(1<<4) != 0 {
		return x.mem.raiseUsageFault(FaultDivByZero, x.state.CurrentSecurity)
	}
	return noFault()
}

// exec32TT implements the TT/TTT/TTA/TTAT address probe: the result word
// reports the MPU region, SAU/IDAU attribution and effective
// read/write permission for the queried address without faulting.
func (x *Executor) exec32TT(hi, lo uint16) (ExcInfo, internalAbort) {
	rn := uint32(hi) & 0xF
	rd := uint32(lo>>8) & 0xF
	alt := lo&0x0080 != 0      // A: query the NonSecure state from Secure
	forceUnpriv := lo&0x0040 != 0 // T: query as unprivileged

	addr := x.reg(rn)
	priv := x.priv() && !forceUnpriv

	querySide := x.state.CurrentSecurity
	if alt {
		if x.state.CurrentSecurity != Secure {
			return noFault(), abortSeeUndefined
		}
		querySide = NonSecure
	}

	var result uint32
	mr := x.mem.mpuCheck(addr, querySide)
	if mr.hit && x.mem.nest.MPU.get(querySide).enabled() {
		result |= uint32(mr.region)
		result |= 1 << 16 // MRVALID
	}
	if mr.hit {
		if apPermitsRead(mr.ap, priv) {
			result |= 1 << 18 // R
		}
		if apPermitsWrite(mr.ap, priv) {
			result |= 1 << 19 // RW
		}
	}

	if x.state.CurrentSecurity == Secure {
		sc := x.mem.securityCheck(addr, false, Secure)
		if sc.srvalid {
			result |= uint32(sc.sregion) << 8
			result |= 1 << 17 // SRVALID
		}
		if !sc.ns {
			result |= 1 << 22 // S
		}
		if sc.irvalid {
			result |= uint32(sc.iregion) << 24
			result |= 1 << 23 // IRVALID
		}
	}

	x.setReg(rd, result)
	return noFault(), abortNone
}

// --- MSR/MRS special register moves ---

const (
	sysmAPSR       = 0
	sysmIAPSR      = 1
	sysmEAPSR      = 2
	sysmXPSR       = 3
	sysmIPSR       = 5
	sysmEPSR       = 6
	sysmIEPSR      = 7
	sysmMSP        = 8
	sysmPSP        = 9
	sysmMSPLIM     = 10
	sysmPSPLIM     = 11
	sysmPRIMASK    = 16
	sysmBASEPRI    = 17
	sysmBASEPRIMAX = 18
	sysmFAULTMASK  = 19
	sysmCONTROL    = 20
	sysmSPNS       = 0x98
)

func (x *Executor) execMRS(rd, sysm uint32) (ExcInfo, internalAbort) {
	side := x.state.CurrentSecurity
	if sysm == sysmSPNS {
		// SP_NS: the NonSecure stack pointer the NS side would select
		if side != Secure || !x.priv() {
			x.setReg(rd, 0)
			return noFault(), abortNone
		}
		if x.state.Ctrl.get(NonSecure).SPSel {
			x.setReg(rd, x.state.PSP.get(NonSecure))
		} else {
			x.setReg(rd, x.state.MSP.get(NonSecure))
		}
		return noFault(), abortNone
	}
	// SYSm bit7 selects the NonSecure view from Secure state
	if sysm&0x80 != 0 {
		if side != Secure {
			x.setReg(rd, 0)
			return noFault(), abortNone
		}
		side = NonSecure
		sysm &^= 0x80
	}

	var v uint32
	switch sysm {
	case sysmAPSR, sysmIAPSR, sysmEAPSR, sysmXPSR:
		if sysm == sysmAPSR || sysm == sysmEAPSR || sysm == sysmXPSR {
			v |= x.apsrRead()
		}
		if (sysm == sysmIAPSR || sysm == sysmXPSR) && x.priv() {
			v |= uint32(x.state.XPSR.Exception)
		}
	case sysmIPSR:
		if x.priv() {
			v = uint32(x.state.XPSR.Exception)
		}
	case sysmEPSR, sysmIEPSR:
		// EPSR reads as zero through MRS
		if sysm == sysmIEPSR && x.priv() {
			v = uint32(x.state.XPSR.Exception)
		}
	case sysmMSP:
		if x.priv() {
			v = x.state.MSP.get(side)
		}
	case sysmPSP:
		if x.priv() {
			v = x.state.PSP.get(side)
		}
	case sysmMSPLIM:
		if x.priv() {
			v = x.state.MSPLim.get(side)
		}
	case sysmPSPLIM:
		if x.priv() {
			v = x.state.PSPLim.get(side)
		}
	case sysmPRIMASK:
		if x.priv() && x.state.Primask.get(side) {
			v = 1
		}
	case sysmBASEPRI, sysmBASEPRIMAX:
		if x.priv() {
			v = uint32(x.state.Basepri.get(side))
		}
	case sysmFAULTMASK:
		if x.priv() && x.state.Faultmask.get(side) {
			v = 1
		}
	case sysmCONTROL:
		ctrl := x.state.Ctrl.get(side)
		if ctrl.NPriv {
			v |= 1 << 0
		}
		if ctrl.SPSel {
			v |= 1 << 1
		}
		if ctrl.FPCA {
			v |= 1 << 2
		}
		if side == Secure && ctrl.SFPA {
			v |= 1 << 3
		}
	default:
		v = 0
	}
	x.setReg(rd, v)
	return noFault(), abortNone
}

func (x *Executor) apsrRead() uint32 {
	var v uint32
	if x.state.XPSR.N {
		v |= 1 << 31
	}
	if x.state.XPSR.Z {
		v |= 1 << 30
	}
	if x.state.XPSR.C {
		v |= 1 << 29
	}
	if x.state.XPSR.V {
		v |= 1 << 28
	}
	if x.state.XPSR.Q {
		v |= 1 << 27
	}
	v |= uint32(x.state.XPSR.GE) << 16
	return v
}

func (x *Executor) execMSR(rn, mask, sysm uint32) (ExcInfo, internalAbort) {
	v := x.reg(rn)
	side := x.state.CurrentSecurity
	if sysm == sysmSPNS {
		if side != Secure || !x.priv() {
			return noFault(), abortNone
		}
		if x.state.Ctrl.get(NonSecure).SPSel {
			x.state.PSP.set(NonSecure, v&^0x3)
		} else {
			x.state.MSP.set(NonSecure, v&^0x3)
		}
		return noFault(), abortNone
	}
	if sysm&0x80 != 0 {
		if side != Secure {
			return noFault(), abortNone
		}
		side = NonSecure
		sysm &^= 0x80
	}

	switch sysm {
	case sysmAPSR, sysmIAPSR, sysmEAPSR, sysmXPSR:
		if mask&0x2 != 0 {
			x.state.XPSR.N = v&(1<<31) != 0
			x.state.XPSR.Z = v&(1<<30) != 0
			x.state.XPSR.C = v&(1<<29) != 0
			x.state.XPSR.V = v&(1<<28) != 0
			x.state.XPSR.Q = v&(1<<27) != 0
		}
		if mask&0x1 != 0 {
			x.state.XPSR.GE = uint8(v>>16) & 0xF
		}
	case sysmMSP:
		if x.priv() {
			x.state.MSP.set(side, v&^0x3)
		}
	case sysmPSP:
		if x.priv() {
			x.state.PSP.set(side, v&^0x3)
		}
	case sysmMSPLIM:
		if x.priv() {
			x.state.MSPLim.set(side, v&^0x7)
		}
	case sysmPSPLIM:
		if x.priv() {
			x.state.PSPLim.set(side, v&^0x7)
		}
	case sysmPRIMASK:
		if x.priv() {
			x.state.Primask.set(side, v&1 != 0)
		}
	case sysmBASEPRI:
		if x.priv() {
			x.state.Basepri.set(side, uint8(v)&priorityBitsMask(x.mem.cfg.priorityBits()))
		}
	case sysmBASEPRIMAX:
		if x.priv() {
			nv := uint8(v) & priorityBitsMask(x.mem.cfg.priorityBits())
			cur := x.state.Basepri.get(side)
			if nv != 0 && (cur == 0 || nv < cur) {
				x.state.Basepri.set(side, nv)
			}
		}
	case sysmFAULTMASK:
		if x.priv() {
			set := v&1 != 0
			if !set || x.exc.executionPriority(false) > -1 {
				x.state.Faultmask.set(side, set)
			}
		}
	case sysmCONTROL:
		if x.priv() {
			ctrl := x.state.Ctrl.get(side)
			ctrl.NPriv = v&(1<<0) != 0
			if x.state.Mode() == ModeThread {
				ctrl.SPSel = v&(1<<1) != 0
			}
			if x.mem.cfg.FPExt {
				ctrl.FPCA = v&(1<<2) != 0
				if side == Secure {
					ctrl.SFPA = v&(1<<3) != 0
				}
			}
			x.state.Ctrl.set(side, ctrl)
		}
	}
	return noFault(), abortNone
}
