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

// ExceptionEngine implements the priority computation and entry/return
// state machine of spec §4.3.
type ExceptionEngine struct {
	cfg   Config
	state *State
	nest  *Nest
	mem   *MemoryPipeline

	systickS  *SysTickTimer
	systickNS *SysTickTimer

	resetRequested bool
}

func NewExceptionEngine(cfg Config, state *State, nest *Nest) *ExceptionEngine {
	return &ExceptionEngine{cfg: cfg, state: state, nest: nest}
}

func (ee *ExceptionEngine) attachMem(mem *MemoryPipeline)        { ee.mem = mem }
func (ee *ExceptionEngine) attachSysTick(s, ns *SysTickTimer)    { ee.systickS, ee.systickNS = s, ns }

func (ee *ExceptionEngine) systick(side Security) *SysTickTimer {
	if side == Secure || ee.cfg.SysTick != SysTickDual {
		return ee.systickS
	}
	return ee.systickNS
}

func (ee *ExceptionEngine) requestReset() { ee.resetRequested = true }

// --- enable/pending/active accessors, honoring the banked/unbanked byte
// encoding of spec §3. ---

func (ee *ExceptionEngine) banked(exc int) bool {
	return isBankedException(exc, ee.cfg.SysTick)
}

// isEnabled reports whether exc can be taken. Reset, NMI, HardFault,
// SVCall, DebugMonitor, PendSV and SysTick have no SHCSR enable bit in
// real hardware and are always enabled (DebugMonitor's DEMCR.MON_EN
// gate is applied at pend time by debugEvent); only MemManage,
// BusFault, UsageFault and SecureFault are software-gated, plus
// external IRQs via NVIC ISER.
func (ee *ExceptionEngine) isEnabled(exc int, side bool) bool {
	switch exc {
	case ExcReset, ExcNMI, ExcHardFault, ExcSVCall, ExcDebugMonitor, ExcPendSV, ExcSysTick:
		return true
	}
	s := NonSecure
	if side {
		s = Secure
	}
	return excBit(ee.state.ExcEnable, exc, s, ee.banked(exc))
}

func (ee *ExceptionEngine) setEnable(exc int, side bool, v bool) {
	s := NonSecure
	if side {
		s = Secure
	}
	setExcBit(ee.state.ExcEnable, exc, s, ee.banked(exc), v)
}

func (ee *ExceptionEngine) isPending(exc int, side bool) bool {
	s := NonSecure
	if side {
		s = Secure
	}
	return excBit(ee.state.ExcPending, exc, s, ee.banked(exc))
}

func (ee *ExceptionEngine) setPending(exc int, side bool, v bool) {
	s := NonSecure
	if side {
		s = Secure
	}
	setExcBit(ee.state.ExcPending, exc, s, ee.banked(exc), v)
}

func (ee *ExceptionEngine) clearPending(exc int, side bool) { ee.setPending(exc, side, false) }

func (ee *ExceptionEngine) isActive(exc int, side bool) bool {
	s := NonSecure
	if side {
		s = Secure
	}
	return excBit(ee.state.ExcActive, exc, s, ee.banked(exc))
}

func (ee *ExceptionEngine) setActive(exc int, side bool, v bool) {
	s := NonSecure
	if side {
		s = Secure
	}
	setExcBit(ee.state.ExcActive, exc, s, ee.banked(exc), v)
}

// exceptionTargetsSecure resolves which side a banked exception's pend
// bits should affect for a software write that doesn't name a side
// explicitly (NVIC group writes always name a side via the alias
// window, so this is used only by higher-level convenience callers).
func (ee *ExceptionEngine) exceptionTargetsSecure(exc int) bool {
	if !ee.banked(exc) {
		return true
	}
	return ee.nest.Security()
}

// exceptionPriority implements spec §4.3's priority computation.
func (ee *ExceptionEngine) exceptionPriority(exc int, secure bool, applyPrigroup bool) int {
	var result int
	switch exc {
	case ExcReset:
		return -4
	case ExcNMI:
		return -2
	case ExcHardFault:
		if ee.nest.aircrBfhfnmins() && secure {
			return -3
		}
		return -1
	default:
		result = int(ee.configurablePriority(exc, secure))
	}

	if applyPrigroup {
		shift := ee.nest.aircrPrigroup() + 1
		if shift < 8 {
			result = result &^ ((1 << shift) - 1)
		} else {
			result = 0
		}
	}

	if ee.nest.aircrPris() && !secure {
		result = (result >> 1) + 0x80
	}

	return result
}

func (ee *ExceptionEngine) configurablePriority(exc int, secure bool) uint8 {
	side := NonSecure
	if secure {
		side = Secure
	}
	if exc >= 4 && exc <= 15 {
		return ee.nest.SHPR.get(side)[exc-4]
	}
	if exc >= 16 {
		return ee.nest.NVIC.priority(exc)
	}
	return 0
}

// boostedPriority implements PRIMASK/FAULTMASK/BASEPRI masking for the
// given side, applying the PRIS mapping to BASEPRI the same way
// exceptionPriority does for exception priorities.
func (ee *ExceptionEngine) boostedPriority(side Security) int {
	if ee.state.Faultmask.get(side) {
		if side == NonSecure && ee.nest.aircrPris() {
			return 0x80
		}
		return -1
	}
	if ee.state.Primask.get(side) {
		if side == NonSecure && ee.nest.aircrPris() {
			return 0x80
		}
		return 0
	}
	bp := ee.state.Basepri.get(side)
	if bp == 0 {
		return 256
	}
	v := int(bp)
	if side == NonSecure && ee.nest.aircrPris() {
		v = (v >> 1) + 0x80
	}
	return v
}

// rawExecutionPriority is the minimum priority over all active
// exceptions, defaulting to 256.
func (ee *ExceptionEngine) rawExecutionPriority() int {
	min := 256
	for exc := 1; exc < len(ee.state.ExcActive); exc++ {
		for _, secure := range [2]bool{true, false} {
			if !ee.isActive(exc, secure) {
				continue
			}
			p := ee.exceptionPriority(exc, secure, true)
			if p < min {
				min = p
			}
		}
	}
	return min
}

// executionPriority implements spec §4.3.
func (ee *ExceptionEngine) executionPriority(ignorePrimask bool) int {
	raw := ee.rawExecutionPriority()

	boosted := ee.boostedPriority(ee.state.CurrentSecurity)
	if !ee.cfg.Security {
		// single security state: only one bank is meaningful
	} else {
		other := ee.boostedPriority(otherSide(ee.state.CurrentSecurity))
		if other < boosted {
			boosted = other
		}
	}

	if ignorePrimask {
		// PRIMASK/FAULTMASK only gate taking the exception, not its
		// architectural priority for visibility purposes; BASEPRI
		// still applies.
		boosted = ee.basepriOnly()
	}

	if boosted < raw {
		return boosted
	}
	return raw
}

func (ee *ExceptionEngine) basepriOnly() int {
	bp := ee.state.Basepri.get(ee.state.CurrentSecurity)
	if bp == 0 {
		return 256
	}
	return int(bp)
}

func otherSide(s Security) Security {
	if s == Secure {
		return NonSecure
	}
	return Secure
}

// pendingDetails is the result of pendingExceptionDetails.
type pendingDetails struct {
	canTake bool
	excNo   int
	secure  bool
}

// pendingExceptionDetails implements spec §4.3's selection algorithm.
func (ee *ExceptionEngine) pendingExceptionDetails(ignorePrimask bool) pendingDetails {
	// 1. SysTick edges
	if ee.cfg.SysTick != SysTickNone {
		if ee.systickS != nil && ee.nest.SystCSR.get(Secure)&(1<<1) != 0 {
			if ee.systickS.PendingInterrupt(true) {
				ee.setPending(ExcSysTick, true, true)
			}
		}
		if ee.systickNS != nil && ee.cfg.SysTick == SysTickDual && ee.nest.SystCSR.get(NonSecure)&(1<<1) != 0 {
			if ee.systickNS.PendingInterrupt(true) {
				ee.setPending(ExcSysTick, false, true)
			}
		}
	}

	minPriority := 257
	excNo := 0
	secure := false

	// 2. exceptions 2..15
	for exc := 2; exc <= 15 && exc < len(ee.state.ExcPending); exc++ {
		for _, side := range [2]bool{true, false} {
			if !ee.isPending(exc, side) {
				continue
			}
			if !ee.isEnabled(exc, side) && exc != ExcNMI && exc != ExcHardFault {
				continue
			}
			p := ee.exceptionPriority(exc, side, true)
			if p < minPriority {
				minPriority, excNo, secure = p, exc, side
			}
		}
	}

	// 3. NVIC groups
	for exc := 16; exc < len(ee.state.ExcPending); exc++ {
		for _, side := range [2]bool{true, false} {
			if !ee.isPending(exc, side) || !ee.isEnabled(exc, side) {
				continue
			}
			p := ee.exceptionPriority(exc, side, true)
			if p < minPriority {
				minPriority, excNo, secure = p, exc, side
			}
		}
	}

	if excNo == 0 {
		return pendingDetails{}
	}

	return pendingDetails{
		canTake: ee.executionPriority(ignorePrimask) > minPriority,
		excNo:   excNo,
		secure:  secure,
	}
}

// IsExceptionPending reports whether any exception could be taken right
// now, used by the harness's WaitForInterrupt (spec §5).
func (ee *ExceptionEngine) IsExceptionPending(ignorePrimask bool) bool {
	return ee.pendingExceptionDetails(ignorePrimask).canTake
}

// raise builds an ExcInfo for a synchronous fault, pending it on the
// correct side. termInst matches spec §7's "faults with TermInst=true
// terminate the current instruction immediately".
func (ee *ExceptionEngine) raise(exc int, secure bool, kind FaultKind, termInst bool) ExcInfo {
	if exc == ExcBusFault && ee.nest.ccrBfhfnmign(Secure) && ee.executionPriority(true) < 0 {
		return noFault()
	}
	info := ExcInfo{Fault: exc, OrigFault: exc, Kind: kind, IsSecure: secure, TermInst: termInst}
	return ee.escalateAndPend(info)
}

// escalateAndPend pends info's exception, escalating to HardFault (and
// setting HFSR.FORCED) if the exception cannot be taken at its own
// priority, per spec §7.
func (ee *ExceptionEngine) escalateAndPend(info ExcInfo) ExcInfo {
	if !ee.isEnabled(info.Fault, info.IsSecure) || ee.exceptionPriority(info.Fault, info.IsSecure, true) >= ee.executionPriority(false) {
		if ee.exceptionPriority(ExcHardFault, info.IsSecure, true) >= ee.executionPriority(false) {
			logger.Logf("exception", "fault %d cannot be taken at any priority: lockup", info.Fault)
			ee.state.ThisInstrLength = 0
			return ExcInfo{Fault: ExcHardFault, OrigFault: info.Fault, Lockup: true, TermInst: true}
		}
		ee.nest.HFSR |= 1 << 30 // FORCED
		ee.setPending(ExcHardFault, info.IsSecure, true)
		return ExcInfo{Fault: ExcHardFault, OrigFault: info.Fault, IsSecure: info.IsSecure, TermInst: info.TermInst}
	}
	ee.setPending(info.Fault, info.IsSecure, true)
	return info
}

func priorityBitsMask(pb uint) uint8 {
	if pb >= 8 {
		return 0xFF
	}
	return uint8(0xFF) << (8 - pb)
}
