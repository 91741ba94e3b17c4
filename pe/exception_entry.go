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

import "github.com/armsim/pe/logger"

// EXC_RETURN bit assignments.
const (
	excReturnES    = 1 << 0 // security state the exception was taken to
	excReturnSPSel = 1 << 2
	excReturnMode  = 1 << 3 // 1 = return to Thread
	excReturnFType = 1 << 4 // 1 = standard frame, no FP state
	excReturnDCRS  = 1 << 5 // 0 = callee registers stacked
	excReturnS     = 1 << 6 // security of the stack the frame is on

	excReturnBase = 0xFFFF_FF80
)

// callee-frame integrity signatures, spec §4.3 step 6. The low bit
// mirrors FType: 0xFEFA_125A marks a frame stacked alongside FP state.
const (
	integritySigNoFP = 0xFEFA_125B
	integritySigFP   = 0xFEFA_125A
)

// frame geometry
const (
	frameStd      = 0x20
	frameFP       = 0x68
	frameFPTS     = 0xA8
	calleeFrame   = 0x28
	fpRegsOffset  = 0x20
	fpscrOffset   = 0x60
	fpHiRegOffset = 0x68
)

// setSPChecked decrements/sets SP for exception entry, pinning to the
// limit and raising UsageFault(STKOF) on underflow, per spec §4.3 step 4,
// unless CCR.STKOFHFNMIGN suppresses it at negative execution priority.
func (ee *ExceptionEngine) setSPChecked(newSP uint32, secure Security) ExcInfo {
	lim := *ee.state.activeSPLim()
	if newSP < lim {
		if ee.nest.ccrStkOfHfNmiIgn(secure) && ee.executionPriority(true) < 0 {
			ee.state.SetSP(newSP)
			return noFault()
		}
		ee.state.SetSP(lim)
		return ee.mem.raiseUsageFault(FaultStkOf, secure)
	}
	ee.state.SetSP(newSP)
	return noFault()
}

// xpsrToWord packs the live XPSR into the architectural RETPSR layout:
// flags at [31:27], T at 24, GE at [19:16], IT split across [26:25] and
// [15:10], exception number at [8:0]. Bit 9 (SPREALIGN) and bit 20
// (SFPA) are caller-supplied.
func xpsrToWord(x XPSR) uint32 {
	var v uint32
	if x.N {
		v |= 1 << 31
	}
	if x.Z {
		v |= 1 << 30
	}
	if x.C {
		v |= 1 << 29
	}
	if x.V {
		v |= 1 << 28
	}
	if x.Q {
		v |= 1 << 27
	}
	if x.T {
		v |= 1 << 24
	}
	v |= uint32(x.GE&0xF) << 16
	v |= uint32(x.ITSTATE>>2) << 10    // IT[7:2]
	v |= uint32(x.ITSTATE&0x3) << 25   // IT[1:0]
	v |= uint32(x.Exception) & 0x1FF
	return v
}

func xpsrFromWord(v uint32) XPSR {
	return XPSR{
		N:         v&(1<<31) != 0,
		Z:         v&(1<<30) != 0,
		C:         v&(1<<29) != 0,
		V:         v&(1<<28) != 0,
		Q:         v&(1<<27) != 0,
		T:         v&(1<<24) != 0,
		GE:        uint8(v>>16) & 0xF,
		ITSTATE:   uint8(v>>10)&0x3F<<2 | uint8(v>>25)&0x3,
		Exception: uint16(v & 0x1FF),
	}
}

// frameLayout determines the main frame size for the interrupted
// context: standard, FP, or FP with the additional S16-S31 words when
// the Secure side requested treat-as-secure FP state.
func (ee *ExceptionEngine) frameLayout(fromSecure bool, fpca bool) (size uint32, ts bool) {
	if !fpca {
		return frameStd, false
	}
	if ee.cfg.Security && fromSecure && ee.nest.FPCCR.get(Secure)&(1<<26) != 0 {
		return frameFPTS, true
	}
	return frameFP, false
}

// exceptionEntry implements spec §4.3's Entry algorithm.
func (ee *ExceptionEngine) exceptionEntry(excNo int, targetSecure bool) ExcInfo {
	fromSec := ee.state.CurrentSecurity
	returnToHandler := ee.state.Mode() == ModeHandler
	ctrl := ee.state.Ctrl.get(fromSec)
	spsel := ctrl.SPSel && !returnToHandler
	fpca := ee.cfg.FPExt && ctrl.FPCA

	fsz, ts := ee.frameLayout(fromSec == Secure, fpca)
	sp := ee.state.SP()
	framePtr := (sp - fsz) &^ 0x4
	frameAligned := sp&0x4 != 0

	if exc := ee.setSPChecked(framePtr, fromSec); exc.hasFault() {
		return exc
	}

	retAddr := ee.state.PC
	retpsr := xpsrToWord(ee.state.XPSR)
	if frameAligned {
		retpsr |= 1 << 9 // SPREALIGN
	}
	if ee.cfg.Security && ee.state.Ctrl.get(Secure).SFPA {
		retpsr |= 1 << 20
	}

	words := []uint32{ee.state.R[0], ee.state.R[1], ee.state.R[2], ee.state.R[3], ee.state.R[12], ee.state.LR, retAddr, retpsr}
	for i, w := range words {
		addr := framePtr + uint32(i*4)
		if exc := ee.mem.MemAlignedStore(addr, 4, AccessStack, true, fromSec, w); exc.hasFault() {
			return exc
		}
	}

	if fpca {
		if exc := ee.stackFPState(framePtr, fromSec, ts); exc.hasFault() {
			return exc
		}
	}

	// hide the callee-saved registers from a NonSecure handler
	dcrs := true
	if ee.cfg.Security && fromSec == Secure && !targetSecure {
		if exc := ee.stackCalleeFrame(framePtr, fpca); exc.hasFault() {
			return exc
		}
		dcrs = false
	}

	excReturn := uint32(excReturnBase)
	if targetSecure {
		excReturn |= excReturnES
	}
	if fromSec == Secure {
		excReturn |= excReturnS
	}
	if dcrs {
		excReturn |= excReturnDCRS
	}
	if !fpca {
		excReturn |= excReturnFType
	}
	if !returnToHandler {
		excReturn |= excReturnMode
	}
	if spsel {
		excReturn |= excReturnSPSel
	}
	ee.state.LR = excReturn

	return ee.takeException(excNo, targetSecure)
}

// takeException fetches the vector and activates the handler; the frame
// for the interrupted context must already be in place (pushed by
// exceptionEntry, or reused by a tail-chain).
func (ee *ExceptionEngine) takeException(excNo int, targetSecure bool) ExcInfo {
	side := NonSecure
	if targetSecure {
		side = Secure
	}

	vtor := ee.nest.VTOR.get(side)
	vecAddr := vtor + 4*uint32(excNo)
	vector, exc := ee.mem.MemAligned(vecAddr, 4, AccessVectorTable, true, side)
	if exc.hasFault() {
		ee.nest.HFSR |= 1 << 1 // VECTTBL
		logger.Logf("exception", "vector fetch failed for exc %d at %#x", excNo, vecAddr)
		if ee.exceptionPriority(ExcHardFault, targetSecure, true) >= ee.executionPriority(false) {
			ee.state.ThisInstrLength = 0
			return ExcInfo{Fault: ExcHardFault, Lockup: true, TermInst: true}
		}
		return ee.raise(ExcHardFault, targetSecure, FaultVectTbl, true)
	}

	ee.activateException(excNo, side, vector)
	return noFault()
}

// stackFPState pushes S0-S15 and FPSCR (plus S16-S31 when ts), or, with
// FPCCR.LSPEN set, reserves the space and arms lazy state preservation.
func (ee *ExceptionEngine) stackFPState(framePtr uint32, fromSec Security, ts bool) ExcInfo {
	fpccr := ee.nest.FPCCR.get(fromSec)
	if fpccr&(1<<30) != 0 { // LSPEN
		ee.nest.FPCCR.set(fromSec, fpccr|1) // LSPACT
		ee.nest.FPCAR.set(fromSec, framePtr+fpRegsOffset)
		return noFault()
	}

	for i := uint32(0); i < 16; i++ {
		half := uint32(ee.state.D[i/2])
		if i&1 != 0 {
			half = uint32(ee.state.D[i/2] >> 32)
		}
		if exc := ee.mem.MemAlignedStore(framePtr+fpRegsOffset+4*i, 4, AccessStack, true, fromSec, half); exc.hasFault() {
			return exc
		}
	}
	if exc := ee.mem.MemAlignedStore(framePtr+fpscrOffset, 4, AccessStack, true, fromSec, ee.state.FPSCR); exc.hasFault() {
		return exc
	}
	if ts {
		for i := uint32(16); i < 32; i++ {
			half := uint32(ee.state.D[i/2])
			if i&1 != 0 {
				half = uint32(ee.state.D[i/2] >> 32)
			}
			off := framePtr + fpHiRegOffset + 4*(i-16)
			if exc := ee.mem.MemAlignedStore(off, 4, AccessStack, true, fromSec, half); exc.hasFault() {
				return exc
			}
		}
	}
	return noFault()
}

func (ee *ExceptionEngine) stackCalleeFrame(framePtr uint32, fpca bool) ExcInfo {
	calleePtr := framePtr - calleeFrame
	if exc := ee.setSPChecked(calleePtr, Secure); exc.hasFault() {
		return exc
	}

	sig := uint32(integritySigNoFP)
	if fpca {
		sig = integritySigFP
	}
	words := []uint32{sig, 0,
		ee.state.R[4], ee.state.R[5], ee.state.R[6], ee.state.R[7],
		ee.state.R[8], ee.state.R[9], ee.state.R[10], ee.state.R[11]}
	for i, w := range words {
		if exc := ee.mem.MemAlignedStore(calleePtr+uint32(i*4), 4, AccessStack, true, Secure, w); exc.hasFault() {
			return exc
		}
	}
	return noFault()
}

func (ee *ExceptionEngine) activateException(excNo int, side Security, vector uint32) {
	ee.state.XPSR.Exception = uint16(excNo)
	ee.state.XPSR.ITSTATE = 0
	ctrl := ee.state.Ctrl.get(side)
	ctrl.SPSel = false
	ctrl.FPCA = false
	if side == Secure {
		ctrl.SFPA = false
	}
	ee.state.Ctrl.set(side, ctrl)
	ee.setActive(excNo, side == Secure, true)
	ee.setPending(excNo, side == Secure, false)
	ee.state.CurrentSecurity = side
	ee.state.PC = vector &^ 1
	ee.state.XPSR.T = vector&1 != 0
	ee.state.PCChanged = true
}

// exceptionReturn implements spec §4.3's Return algorithm.
func (ee *ExceptionEngine) exceptionReturn(excReturn uint32) ExcInfo {
	returningExc := int(ee.state.XPSR.Exception)
	returningSide := ee.state.CurrentSecurity

	// step 1: validate EXC_RETURN
	if excReturn>>24 != 0xFF {
		return ee.mem.raiseUsageFault(FaultInvPC, returningSide)
	}
	es := excReturn&excReturnES != 0
	stackSecure := excReturn&excReturnS != 0
	if !ee.cfg.Security && (es || stackSecure) {
		return ee.mem.raiseUsageFault(FaultInvPC, returningSide)
	}
	if ee.cfg.Security && returningSide == NonSecure && (es || stackSecure) {
		// a NonSecure handler cannot claim a Secure return
		return ee.mem.raiseSecureFault(FaultInvER, excReturn)
	}
	returnToHandler := excReturn&excReturnMode == 0
	spsel := excReturn&excReturnSPSel != 0
	ftype := excReturn&excReturnFType != 0
	dcrs := excReturn&excReturnDCRS != 0

	// step 2: deactivate
	ee.setActive(returningExc, returningSide == Secure, false)
	if returningExc != ExcNMI && returningExc != ExcHardFault {
		ee.state.Faultmask.set(returningSide, false)
	}

	// step 3: CLRONRET
	if !ftype && ee.cfg.FPExt {
		fpccr := ee.nest.FPCCR.get(Secure)
		if fpccr&(1<<28) != 0 { // CLRONRET
			if fpccr&1 != 0 { // LSPACT
				return ee.mem.raiseSecureFault(FaultLSErr, excReturn)
			}
			for i := 0; i < 8; i++ {
				ee.state.D[i] = 0
			}
			ee.state.FPSCR = 0
		}
	}

	// step 4: tail-chain instead of popping if a pending exception can
	// now be taken; the chained handler reuses the current frame, so
	// only the ES bit of the recorded EXC_RETURN changes
	pend := ee.pendingExceptionDetails(false)
	if pend.canTake {
		lr := excReturn &^ excReturnES
		if pend.secure {
			lr |= excReturnES
		}
		ee.state.LR = lr
		return ee.takeException(pend.excNo, pend.secure)
	}

	// steps 5-6: pop the frame from the stack named by EXC_RETURN
	targetSide := NonSecure
	if stackSecure {
		targetSide = Secure
	}
	spBank := ee.returnSPBank(targetSide, returnToHandler, spsel)
	sp := *spBank

	if ee.cfg.Security && !dcrs {
		newSP, exc := ee.unstackCalleeFrame(sp, ftype)
		if exc.hasFault() {
			return exc
		}
		sp = newSP
	}

	var words [8]uint32
	for i := range words {
		v, exc := ee.mem.MemAligned(sp+uint32(i*4), 4, AccessStack, true, targetSide)
		if exc.hasFault() {
			return exc
		}
		words[i] = v
	}
	retAddr := words[6]
	retpsr := words[7]

	// IPSR consistency with the return mode (spec §4.3 step 5)
	frameExc := retpsr & 0x1FF
	if returnToHandler && frameExc == 0 || !returnToHandler && frameExc != 0 {
		return ee.mem.raiseUsageFault(FaultInvPC, returningSide)
	}

	fsz := uint32(frameStd)
	if !ftype {
		if exc := ee.unstackFPState(sp, targetSide); exc.hasFault() {
			return exc
		}
		fsz = frameFP
		if ee.cfg.Security && stackSecure && ee.nest.FPCCR.get(Secure)&(1<<26) != 0 {
			fsz = frameFPTS
		}
	}

	ee.state.R[0], ee.state.R[1], ee.state.R[2], ee.state.R[3] = words[0], words[1], words[2], words[3]
	ee.state.R[12], ee.state.LR = words[4], words[5]

	newSP := sp + fsz
	if retpsr&(1<<9) != 0 {
		newSP |= 0x4
	}
	*spBank = newSP

	ee.state.CurrentSecurity = targetSide
	ctrl := ee.state.Ctrl.get(targetSide)
	if !returnToHandler {
		ctrl.SPSel = spsel
	}
	if targetSide == Secure {
		ctrl.SFPA = retpsr&(1<<20) != 0
	}
	ctrl.FPCA = !ftype && ee.cfg.FPExt
	ee.state.Ctrl.set(targetSide, ctrl)

	ee.state.XPSR = xpsrFromWord(retpsr)
	ee.state.PC = retAddr &^ 1
	ee.state.PCChanged = true

	// step 7: SLEEPONEXIT
	if ee.nest.SCR&(1<<1) != 0 && ee.rawExecutionPriority() == 256 && ee.state.Mode() == ModeThread {
		ee.state.ExitCause |= ExitSleepOnExit
	}

	// step 8: clear the local exclusive monitor, set the event register
	ee.mem.local.Clear()
	ee.state.Event = true

	return noFault()
}

// returnSPBank selects the stack-pointer bank the popped frame lives on.
func (ee *ExceptionEngine) returnSPBank(side Security, toHandler bool, spsel bool) *uint32 {
	if !toHandler && spsel {
		return &ee.state.PSP[side.sideIndex()]
	}
	return &ee.state.MSP[side.sideIndex()]
}

// unstackCalleeFrame pops the integrity-signature frame pushed on a
// Secure-to-NonSecure transition and restores r4-r11. A signature
// mismatch raises SecureFault(INVIS).
func (ee *ExceptionEngine) unstackCalleeFrame(sp uint32, ftype bool) (uint32, ExcInfo) {
	sig, exc := ee.mem.MemAligned(sp, 4, AccessStack, true, Secure)
	if exc.hasFault() {
		return sp, exc
	}
	want := uint32(integritySigNoFP)
	if !ftype {
		want = integritySigFP
	}
	if sig != want {
		return sp, ee.mem.raiseSecureFault(FaultInvIS, sp)
	}
	for i := uint32(0); i < 8; i++ {
		v, exc := ee.mem.MemAligned(sp+8+4*i, 4, AccessStack, true, Secure)
		if exc.hasFault() {
			return sp, exc
		}
		ee.state.R[4+i] = v
	}
	return sp + calleeFrame, noFault()
}

// unstackFPState restores S0-S15 and FPSCR from an FP frame, or
// discards a lazy-pending context by clearing FPCCR.LSPACT without
// touching the registers (spec §4.3 step 6).
func (ee *ExceptionEngine) unstackFPState(framePtr uint32, side Security) ExcInfo {
	fpccr := ee.nest.FPCCR.get(side)
	if fpccr&1 != 0 { // LSPACT: state was never written, just disarm
		ee.nest.FPCCR.set(side, fpccr&^1)
		return noFault()
	}
	if !ee.cfg.FPExt {
		return noFault()
	}
	for i := uint32(0); i < 16; i++ {
		v, exc := ee.mem.MemAligned(framePtr+fpRegsOffset+4*i, 4, AccessStack, true, side)
		if exc.hasFault() {
			return exc
		}
		d := ee.state.D[i/2]
		if i&1 != 0 {
			d = d&0x0000_0000_FFFF_FFFF | uint64(v)<<32
		} else {
			d = d&0xFFFF_FFFF_0000_0000 | uint64(v)
		}
		ee.state.D[i/2] = d
	}
	v, exc := ee.mem.MemAligned(framePtr+fpscrOffset, 4, AccessStack, true, side)
	if exc.hasFault() {
		return exc
	}
	ee.state.FPSCR = v
	return noFault()
}

// lockup transitions the PE into lockup state: PC forced to the fixed
// lockup vector, DHCSR.S_LOCKUP set, and the current instruction
// terminated with zero length (spec §4.3's Lockup, consumed by
// TopLevel).
func (ee *ExceptionEngine) lockup() {
	ee.state.PC = 0xEFFF_FFFE
	ee.nest.DHCSR |= 1 << 19 // S_LOCKUP
	ee.state.ThisInstrLength = 0
	ee.state.PCChanged = true
	logger.Logf("exception", "lockup at instruction boundary")
}
