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

// Floating-point register transfers and load/stores. The extension
// registers are raw bit storage (spec §3): this file moves bits between
// S/D registers, core registers and memory, and gates every encoding on
// CPACR CP10 access. IEEE arithmetic itself is out of scope; the
// data-processing encodings of the FP space report UNDEFINED.

// getS/setS view the D bank as 32 single-precision registers.
func (x *Executor) getS(n uint32) uint32 {
	d := x.state.D[n/2]
	if n&1 != 0 {
		return uint32(d >> 32)
	}
	return uint32(d)
}

func (x *Executor) setS(n uint32, v uint32) {
	d := x.state.D[n/2]
	if n&1 != 0 {
		d = d&0x0000_0000_FFFF_FFFF | uint64(v)<<32
	} else {
		d = d&0xFFFF_FFFF_0000_0000 | uint64(v)
	}
	x.state.D[n/2] = d
}

// checkFPEnabled gates an FP-space encoding on the configuration and
// CPACR CP10 setting, raising UsageFault(NOCP) when the coprocessor is
// absent or disabled for the current privilege.
func (x *Executor) checkFPEnabled() ExcInfo {
	if !x.mem.cfg.FPExt {
		return x.mem.raiseUsageFault(FaultNoCP, x.state.CurrentSecurity)
	}
	cp10 := x.mem.nest.CPACR.get(x.state.CurrentSecurity) >> 20 & 0x3
	switch cp10 {
	case 0b00:
		return x.mem.raiseUsageFault(FaultNoCP, x.state.CurrentSecurity)
	case 0b01:
		if !x.priv() {
			return x.mem.raiseUsageFault(FaultNoCP, x.state.CurrentSecurity)
		}
	}
	return noFault()
}

// markFPActive records that FP context now exists, so the next
// exception entry stacks (or lazily reserves) the FP frame.
func (x *Executor) markFPActive() {
	ctrl := x.state.Ctrl.get(x.state.CurrentSecurity)
	ctrl.FPCA = true
	x.state.Ctrl.set(x.state.CurrentSecurity, ctrl)
}

func (x *Executor) exec32Coproc(hi, lo uint16) (ExcInfo, internalAbort) {
	coproc := uint32(lo>>8) & 0xF
	if coproc != 0xA && coproc != 0xB {
		// only CP10/CP11 are present; everything else is NOCP
		return x.mem.raiseUsageFault(FaultNoCP, x.state.CurrentSecurity), abortNone
	}
	if exc := x.checkFPEnabled(); exc.hasFault() {
		return exc, abortNone
	}

	switch {
	case hi&0xFE00 == 0xEC00:
		return x.execFPLoadStore(hi, lo)
	case hi&0xFE00 == 0xEE00:
		return x.execFPTransfer(hi, lo)
	default:
		return noFault(), abortSeeUndefined
	}
}

// execFPLoadStore handles the VLDR/VSTR/VLDM/VSTM family (which VPUSH
// and VPOP assemble to) plus the two-register core<->D transfers.
func (x *Executor) execFPLoadStore(hi, lo uint16) (ExcInfo, internalAbort) {
	p := hi&0x0100 != 0
	u := hi&0x0080 != 0
	d := uint32(hi>>6) & 0x1
	w := hi&0x0020 != 0
	loadOp := hi&0x0010 != 0
	rn := uint32(hi) & 0xF
	vd := uint32(lo>>12) & 0xF
	double := lo&0x0100 != 0
	imm := uint32(lo&0xFF) << 2

	if !p && !w {
		// 64-bit transfer between two core registers and a D register
		return x.execFPMoveDual(hi, lo)
	}

	if p && !w {
		// VLDR/VSTR
		base := x.reg(rn)
		if rn == 15 {
			base = align(x.state.PC+4, 4)
		}
		addr := base - imm
		if u {
			addr = base + imm
		}
		x.markFPActive()
		if double {
			return x.fpMoveD(addr, d<<4|vd, loadOp)
		}
		return x.fpMoveS(addr, vd<<1|d, loadOp)
	}

	// VLDM/VSTM (IA when !p&&u; DB with writeback when p&&!u&&w)
	regs := uint32(lo) & 0xFF
	if double {
		regs /= 2
	}
	if regs == 0 {
		return noFault(), abortUnpredictable
	}

	length := regs * 4
	if double {
		length = regs * 8
	}
	start := x.reg(rn)
	wb := start + length
	if p && !u {
		start -= length
		wb = start
	}

	x.markFPActive()
	addr := start
	for i := uint32(0); i < regs; i++ {
		if double {
			if exc, ab := x.fpMoveD(addr, (d<<4|vd)+i, loadOp); exc.hasFault() || ab != abortNone {
				return exc, ab
			}
			addr += 8
		} else {
			if exc, ab := x.fpMoveS(addr, (vd<<1|d)+i, loadOp); exc.hasFault() || ab != abortNone {
				return exc, ab
			}
			addr += 4
		}
	}
	if w {
		x.setReg(rn, wb)
	}
	return noFault(), abortNone
}

func (x *Executor) fpMoveS(addr, sreg uint32, loadOp bool) (ExcInfo, internalAbort) {
	if loadOp {
		v, exc := x.load(addr, 4)
		if exc.hasFault() {
			return exc, abortNone
		}
		x.setS(sreg, v)
		return noFault(), abortNone
	}
	return x.store(addr, 4, x.getS(sreg)), abortNone
}

func (x *Executor) fpMoveD(addr, dreg uint32, loadOp bool) (ExcInfo, internalAbort) {
	if dreg >= 16 {
		return noFault(), abortUnpredictable
	}
	if loadOp {
		lov, exc := x.load(addr, 4)
		if exc.hasFault() {
			return exc, abortNone
		}
		hiv, exc := x.load(addr+4, 4)
		if exc.hasFault() {
			return exc, abortNone
		}
		x.state.D[dreg] = uint64(hiv)<<32 | uint64(lov)
		return noFault(), abortNone
	}
	if exc := x.store(addr, 4, uint32(x.state.D[dreg])); exc.hasFault() {
		return exc, abortNone
	}
	return x.store(addr+4, 4, uint32(x.state.D[dreg]>>32)), abortNone
}

// execFPMoveDual is VMOV between two core registers and one D register
// (or an S-register pair).
func (x *Executor) execFPMoveDual(hi, lo uint16) (ExcInfo, internalAbort) {
	toCore := hi&0x0010 != 0
	rt2 := uint32(hi) & 0xF
	rt := uint32(lo>>12) & 0xF
	double := lo&0x0100 != 0
	m := uint32(lo>>5) & 0x1
	vm := uint32(lo) & 0xF

	x.markFPActive()
	if double {
		dreg := m<<4 | vm
		if dreg >= 16 {
			return noFault(), abortUnpredictable
		}
		if toCore {
			x.setReg(rt, uint32(x.state.D[dreg]))
			x.setReg(rt2, uint32(x.state.D[dreg]>>32))
		} else {
			x.state.D[dreg] = uint64(x.reg(rt2))<<32 | uint64(x.reg(rt))
		}
		return noFault(), abortNone
	}

	sreg := vm<<1 | m
	if toCore {
		x.setReg(rt, x.getS(sreg))
		x.setReg(rt2, x.getS(sreg+1))
	} else {
		x.setS(sreg, x.reg(rt))
		x.setS(sreg+1, x.reg(rt2))
	}
	return noFault(), abortNone
}

// execFPTransfer handles VMRS/VMSR and single core<->S VMOV; the FP
// data-processing encodings that share this space are UNDEFINED here.
func (x *Executor) execFPTransfer(hi, lo uint16) (ExcInfo, internalAbort) {
	if lo&0x0E10 != 0x0A10 {
		return noFault(), abortSeeUndefined
	}
	rt := uint32(lo>>12) & 0xF

	switch {
	case hi == 0xEEF1: // VMRS
		if rt == 15 {
			// APSR_nzcv: copy FPSCR condition flags into APSR
			x.state.XPSR.N = x.state.FPSCR&(1<<31) != 0
			x.state.XPSR.Z = x.state.FPSCR&(1<<30) != 0
			x.state.XPSR.C = x.state.FPSCR&(1<<29) != 0
			x.state.XPSR.V = x.state.FPSCR&(1<<28) != 0
			return noFault(), abortNone
		}
		x.setReg(rt, x.state.FPSCR)
		return noFault(), abortNone

	case hi == 0xEEE1: // VMSR
		x.state.FPSCR = x.reg(rt)
		x.markFPActive()
		return noFault(), abortNone

	case hi&0xFFE0 == 0xEE00 || hi&0xFFE0 == 0xEE10:
		// VMOV between a core register and an S register
		toCore := hi&0x0010 != 0
		vn := uint32(hi) & 0xF
		n := uint32(lo>>7) & 0x1
		sreg := vn<<1 | n
		x.markFPActive()
		if toCore {
			x.setReg(rt, x.getS(sreg))
		} else {
			x.setS(sreg, x.reg(rt))
		}
		return noFault(), abortNone

	default:
		return noFault(), abortSeeUndefined
	}
}
