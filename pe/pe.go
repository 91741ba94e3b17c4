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

// Pe is one processing element: the full register file plus the nested
// components (system control register file, memory pipeline, exception
// engine, decoder/executor, monitors, SysTick) that together implement
// the stepping loop of spec §4.7. Multiple Pe values may share a single
// GlobalMonitor to model a multi-PE system; everything else is private
// to one Pe.
type Pe struct {
	cfg Config

	state    *State
	nest     *Nest
	mem      *MemoryPipeline
	exc      *ExceptionEngine
	decoder  *Decoder
	executor *Executor
	scs      *SCS

	local  *LocalMonitor
	global *GlobalMonitor

	systickS  *SysTickTimer
	systickNS *SysTickTimer

	dev Device

	peID int

	locked bool
}

// New validates cfg and wires a complete Pe around the caller-supplied
// Device. global may be nil for a single-PE system; a multi-PE system
// passes the same *GlobalMonitor to every Pe sharing the bus.
func New(cfg Config, dev Device, global *GlobalMonitor, peID int) (*Pe, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	state := NewState(cfg.MaxExc)
	nest := NewNest(cfg)
	exc := NewExceptionEngine(cfg, state, nest)
	scs := NewSCS(nest, exc, cfg)
	local := NewLocalMonitor(cfg.LocalMonitorCheckAddr)
	mem := NewMemoryPipeline(cfg, nest, dev, scs, global, local, peID)
	mem.exc = exc
	exc.attachMem(mem)

	var systickS, systickNS *SysTickTimer
	if cfg.SysTick != SysTickNone {
		systickS = NewSysTickTimer(cfg.SysTickIntFreq, cfg.SysTickExtFreq, nil)
		if cfg.SysTick == SysTickDual {
			systickNS = NewSysTickTimer(cfg.SysTickIntFreq, cfg.SysTickExtFreq, nil)
		}
	}
	exc.attachSysTick(systickS, systickNS)

	decoder := NewDecoder(mem, state, cfg)
	executor := NewExecutor(state, mem, exc, local, global, peID)

	pe := &Pe{
		cfg:       cfg,
		state:     state,
		nest:      nest,
		mem:       mem,
		exc:       exc,
		decoder:   decoder,
		executor:  executor,
		scs:       scs,
		local:     local,
		global:    global,
		systickS:  systickS,
		systickNS: systickNS,
		dev:       dev,
		peID:      peID,
	}

	pe.ColdReset()
	return pe, nil
}

// initialSecurity is the security state the PE starts in: Secure when
// the Security Extension is configured, NonSecure for a single-state
// implementation, matching the convention securityCheck already applies
// when cfg.Security is false.
func (pe *Pe) initialSecurity() Security {
	if pe.cfg.Security {
		return Secure
	}
	return NonSecure
}

// ColdReset implements spec §3's reset behavior: the initial SP and PC
// are read from the vector table pointed to by VTOR, privileged Thread
// mode with the Main stack selected, IPSR cleared. Failure to read
// either vector is a reset-time lockup.
func (pe *Pe) ColdReset() {
	side := pe.initialSecurity()
	s := pe.state

	*s = *NewState(pe.cfg.MaxExc)
	s.CurrentSecurity = side

	vtor := pe.nest.VTOR.get(side)

	initialSP, exc := pe.mem.MemAligned(vtor, 4, AccessVectorTable, true, side)
	if exc.hasFault() {
		pe.exc.lockup()
		pe.locked = true
		return
	}
	resetVector, exc := pe.mem.MemAligned(vtor+4, 4, AccessVectorTable, true, side)
	if exc.hasFault() {
		pe.exc.lockup()
		pe.locked = true
		return
	}

	s.MSP.set(side, initialSP&^0x3)
	s.PC = resetVector &^ 1
	s.XPSR.T = resetVector&1 != 0
	s.XPSR.Exception = 0
	s.ExitCause = ExitNormal
	pe.locked = false

	logger.Logf("pe", "cold reset: sp=%#x pc=%#x secure=%v", initialSP, resetVector, side == Secure)
}

// FetchCycles reports the fetch-latency hint a harness may use to model
// the MAM-style prefetch buffer; the core itself is timing-agnostic and
// always returns a constant.
func (pe *Pe) FetchCycles() int { return 1 }

// TriggerNMI pends NMI, the highest-priority maskable-by-nothing
// exception. It is safe to call from any goroutine only when routed
// through an InterruptMailbox; Pe itself holds no internal lock.
func (pe *Pe) TriggerNMI() {
	pe.exc.setPending(ExcNMI, true, true)
}

// TriggerExtInterrupt pends the external interrupt numbered irq
// (0-based, offset from ExcExtIRQ0).
func (pe *Pe) TriggerExtInterrupt(irq int) {
	pe.exc.setPending(ExcExtIRQ0+irq, true, true)
}

// IsExceptionPending reports whether an exception could be taken right
// now, used by WaitForInterrupt to resolve a WFI suspension.
func (pe *Pe) IsExceptionPending(ignorePrimask bool) bool {
	return pe.exc.IsExceptionPending(ignorePrimask)
}

// Step implements spec §4.7's TopLevel algorithm: fetch, decode,
// execute, then the exception-entry/tail-chain/instruction-advance
// sequence, returning why control is being handed back to the harness.
func (pe *Pe) Step() ExitCause {
	if pe.exc.resetRequested {
		pe.exc.resetRequested = false
		pe.ColdReset()
		return ExitNormal
	}

	if pe.locked {
		return pe.stepLocked()
	}

	s := pe.state
	s.PCChanged = false
	s.PendingReturnOperation = false
	s.ITStateChanged = false
	s.ExitCause = ExitNormal

	pe.refreshDebugAuth()

	// the stepping-debug latch fires after one instruction completes
	stepping := pe.cfg.HaltingDebug && pe.nest.DHCSR&(1<<0) != 0 && pe.nest.DHCSR&(1<<2) != 0

	// a cleared T bit on the next instruction is INVSTATE (spec §3)
	if !s.XPSR.T {
		exc := pe.mem.raiseUsageFault(FaultInvState, s.CurrentSecurity)
		return pe.finishStep(exc, 0)
	}

	// FPB instruction breakpoint fires before execution
	if pe.cfg.FPB && pe.nest.FPB.Match(s.PC) {
		pe.exc.debugEvent(DebugEventFPB)
		if s.ExitCause&ExitDebug != 0 {
			return s.ExitCause
		}
	}

	d := pe.decoder.fetch(s.PC)

	var exc ExcInfo
	if d.fault.hasFault() {
		exc = d.fault
	} else {
		var ab internalAbort
		exc, ab = pe.executor.Execute(d)
		switch ab {
		case abortSeeUndefined, abortUnpredictable:
			uf := pe.mem.raiseUsageFault(FaultUndefInstr, s.CurrentSecurity)
			exc = pe.exc.mergeExcInfo(exc, uf)
		}
	}

	// DWT instruction match after execution
	if pe.cfg.DWT && pe.nest.DWT.MatchInstr(s.PC) {
		pe.exc.debugEvent(DebugEventDWT)
	}

	cause := pe.finishStep(exc, d.length)

	if stepping && !pe.locked {
		pe.exc.debugEvent(DebugEventHalted)
		cause |= s.ExitCause
	}
	return cause
}

// finishStep performs the PC commit, pending-return and
// exception-selection phases shared by the normal and faulting paths.
func (pe *Pe) finishStep(exc ExcInfo, length int) ExitCause {
	s := pe.state

	if exc.Lockup {
		pe.exc.lockup()
		pe.locked = true
		return ExitDebug
	}

	if !exc.hasFault() || !exc.TermInst {
		if !s.PCChanged {
			s.PC += uint32(length)
		}
	}

	if s.PendingReturnOperation {
		rexc := pe.exc.exceptionReturn(s.NextInstrAddr)
		if rexc.Lockup {
			pe.exc.lockup()
			pe.locked = true
			return ExitDebug
		}
	}

	pend := pe.exc.pendingExceptionDetails(false)
	if pend.canTake {
		eexc := pe.exc.exceptionEntry(pend.excNo, pend.secure)
		if eexc.Lockup {
			pe.exc.lockup()
			pe.locked = true
			return ExitDebug
		}
	}

	return s.ExitCause
}

// refreshDebugAuth folds the external debug-authentication pins and the
// DAUTHCTRL internal overrides into the DHCSR.S_SDE freshness bit each
// cycle (spec §4.7 step 2).
func (pe *Pe) refreshDebugAuth() {
	pins := pe.dev.DebugPins()
	sde := pins&DebugPinSPIDEN != 0
	if pe.nest.DAUTHCTRL&(1<<0) != 0 { // SPIDENSEL
		sde = pe.nest.DAUTHCTRL&(1<<1) != 0 // INTSPIDEN
	}
	if sde {
		pe.nest.DHCSR |= 1 << 20 // S_SDE
	} else {
		pe.nest.DHCSR &^= 1 << 20
	}
}

// stepLocked handles the lockup state: no instruction executes, but a
// sufficiently high-priority exception (NMI, or anything above the
// current execution priority) still changes PC and thereby clears the
// lockup, per spec §4.3.
func (pe *Pe) stepLocked() ExitCause {
	pe.state.ThisInstrLength = 0

	pend := pe.exc.pendingExceptionDetails(false)
	if pend.canTake {
		exc := pe.exc.exceptionEntry(pend.excNo, pend.secure)
		if !exc.hasFault() && !exc.Lockup {
			pe.nest.DHCSR &^= 1 << 19 // S_LOCKUP
			pe.locked = false
			return ExitNormal
		}
	}
	return ExitDebug
}

// State exposes the architectural register file for inspection by a
// harness (register dumps, debugger front ends); it is the same pointer
// Step mutates, never a copy.
func (pe *Pe) State() *State { return pe.state }

// Nest exposes the system control register file for inspection.
func (pe *Pe) Nest() *Nest { return pe.nest }

// SysTick returns the timer bank for side, or nil if SysTick is not
// configured (or, for the Secure bank of a single-bank configuration,
// that one bank serves both sides — see ExceptionEngine.systick).
func (pe *Pe) SysTick(side Security) *SysTickTimer {
	return pe.exc.systick(side)
}
