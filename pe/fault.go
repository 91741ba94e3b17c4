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

// FaultKind enumerates the UFSR/MMFSR/BFSR/SFSR/HFSR bit this ExcInfo
// ultimately sets, beyond the exception number itself. It exists because
// several distinct architectural conditions (e.g. MemManage due to
// IACCVIOL vs. MSTKERR) share an exception number but set different
// status bits and, in some cases, different MMFAR validity.
type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultUnaligned
	FaultUndefInstr
	FaultInvState
	FaultInvPC
	FaultNoCP
	FaultStkOf
	FaultIAccViol
	FaultDAccViol
	FaultMStkErr
	FaultMUnstkErr
	FaultMLSPErr
	FaultPreciseErr
	FaultStkErr
	FaultUnstkErr
	FaultBFLSPErr
	FaultVectTbl
	FaultInvEP
	FaultInvTran
	FaultAuViol
	FaultLSPErrSecure
	FaultInvER
	FaultInvIS
	FaultLSErr
	FaultDivByZero
)

// ExcInfo is the tagged fault record of spec §7: every PE-visible failure
// takes this shape and flows as an ordinary return value until it is
// either handled locally (status register updated, exception pended) or
// taken immediately (terminating the current instruction).
type ExcInfo struct {
	Fault       int // exception number, 0 = no fault
	OrigFault   int // the fault number before any escalation
	Kind        FaultKind
	IsSecure    bool
	IsTerminal  bool
	InExcTaken  bool
	Lockup      bool
	TermInst    bool

	FaultAddr      uint32
	FaultAddrValid bool
}

func noFault() ExcInfo { return ExcInfo{} }

func (e ExcInfo) hasFault() bool { return e.Fault != 0 }

// priorityOf resolves e's pending priority through the owning engine so
// mergeExcInfo can compare two faults honoring PRIGROUP/PRIS.
func (ee *ExceptionEngine) priorityOf(e ExcInfo) int {
	return ee.exceptionPriority(e.Fault, e.IsSecure, true)
}

// mergeExcInfo implements spec §4.3's fault-merging rule: the
// higher-priority (numerically lower) of two faults is taken; the other
// is pended if cfg.OverriddenExceptionsPended allows it. Lockup results
// if both resolve to HardFault at the same (negative) priority.
func (ee *ExceptionEngine) mergeExcInfo(oe, de ExcInfo) ExcInfo {
	if !oe.hasFault() {
		return de
	}
	if !de.hasFault() {
		return oe
	}

	op := ee.priorityOf(oe)
	dp := ee.priorityOf(de)

	var winner, loser ExcInfo
	if dp <= op {
		winner, loser = de, oe
	} else {
		winner, loser = oe, de
	}

	if winner.Fault == ExcHardFault && loser.Fault == ExcHardFault && op == dp {
		winner.Lockup = true
		return winner
	}

	if ee.cfg.OverriddenExceptionsPended {
		ee.setPending(loser.Fault, loser.IsSecure, true)
	}
	return winner
}
