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

import "testing"

func setSHPR(ee *ExceptionEngine, side Security, exc int, p uint8) {
	arr := ee.nest.SHPR.get(side)
	arr[exc-4] = p
	ee.nest.SHPR.set(side, arr)
}

// TestExceptionPriorityOrderingPicksLowerNumber checks that of two
// simultaneously pending, enabled exceptions, the one with the
// numerically lower (higher-priority) SHPR/NVIC value is selected.
func TestExceptionPriorityOrderingPicksLowerNumber(t *testing.T) {
	p, _ := newTestPe(t, DefaultConfig())
	ee := p.exc

	setSHPR(ee, Secure, ExcSVCall, 0x80)
	ee.nest.NVIC.setPriority(ExcExtIRQ0, 0x00)
	ee.setEnable(ExcExtIRQ0, true, true)

	ee.setPending(ExcSVCall, true, true)
	ee.setPending(ExcExtIRQ0, true, true)

	pend := ee.pendingExceptionDetails(false)
	if !pend.canTake || pend.excNo != ExcExtIRQ0 {
		t.Fatalf("pend = %+v, want ExtIRQ0 selected (lower priority value wins)", pend)
	}
}

// TestDisabledConfigurableExceptionIsNotSelected checks that a pending
// MemManage fault is ignored until its SHCSR enable bit is set, unlike
// the always-enabled exceptions.
func TestDisabledConfigurableExceptionIsNotSelected(t *testing.T) {
	p, _ := newTestPe(t, DefaultConfig())
	ee := p.exc

	ee.setPending(ExcMemManage, true, true)
	if pend := ee.pendingExceptionDetails(false); pend.canTake {
		t.Fatalf("pend = %+v, want no exception selected while MemManage is disabled", pend)
	}

	ee.setEnable(ExcMemManage, true, true)
	pend := ee.pendingExceptionDetails(false)
	if !pend.canTake || pend.excNo != ExcMemManage {
		t.Fatalf("pend = %+v, want MemManage selected once enabled", pend)
	}
}

// TestPrimaskBlocksConfigurableButNotNMI exercises the boosted-priority
// computation: raising PRIMASK masks a priority-0 SVCall but NMI's fixed
// -2 priority still preempts it.
func TestPrimaskBlocksConfigurableButNotNMI(t *testing.T) {
	p, _ := newTestPe(t, DefaultConfig())
	ee := p.exc

	ee.state.Primask.set(Secure, true)

	setSHPR(ee, Secure, ExcSVCall, 0)
	ee.setPending(ExcSVCall, true, true)
	if pend := ee.pendingExceptionDetails(false); pend.canTake {
		t.Fatalf("pend = %+v, want SVCall masked by PRIMASK", pend)
	}

	ee.setPending(ExcNMI, true, true)
	pend := ee.pendingExceptionDetails(false)
	if !pend.canTake || pend.excNo != ExcNMI {
		t.Fatalf("pend = %+v, want NMI selected despite PRIMASK", pend)
	}
}

// TestEscalateAndPendForcesDisabledFaultToHardFault checks spec §7's
// escalation rule: a synchronous fault that cannot be taken at its own
// priority (here, MemManage still disabled) is re-tagged HardFault with
// OrigFault preserved, and is not a lockup since HardFault itself can
// still preempt.
func TestEscalateAndPendForcesDisabledFaultToHardFault(t *testing.T) {
	p, _ := newTestPe(t, DefaultConfig())
	ee := p.exc

	info := ee.raise(ExcMemManage, true, FaultIAccViol, true)
	if info.Fault != ExcHardFault || info.OrigFault != ExcMemManage {
		t.Fatalf("info = %+v, want escalated to HardFault with OrigFault=MemManage", info)
	}
	if info.Lockup {
		t.Fatalf("info = %+v, want no lockup: HardFault can still preempt", info)
	}
	if !ee.isPending(ExcHardFault, true) {
		t.Fatalf("expected HardFault pended after escalation")
	}
}

// TestEscalateAndPendLocksUpWhenHardFaultCannotPreempt checks that
// raising a disabled fault while FAULTMASK has already dropped execution
// priority to HardFault's own level (so HardFault cannot preempt either)
// produces a lockup.
func TestEscalateAndPendLocksUpWhenHardFaultCannotPreempt(t *testing.T) {
	p, _ := newTestPe(t, DefaultConfig())
	ee := p.exc

	ee.state.Faultmask.set(Secure, true)

	info := ee.raise(ExcMemManage, true, FaultIAccViol, true)
	if !info.Lockup || info.Fault != ExcHardFault {
		t.Fatalf("info = %+v, want a HardFault lockup", info)
	}
}

// TestMergeExcInfoPicksHigherPriorityFault checks spec §4.3's fault
// merge rule directly: of two simultaneous faults, the numerically
// lower-priority-value (higher priority) one wins, and with
// OverriddenExceptionsPended set the loser is still pended.
func TestMergeExcInfoPicksHigherPriorityFault(t *testing.T) {
	p, _ := newTestPe(t, DefaultConfig())
	ee := p.exc

	ee.setEnable(ExcMemManage, true, true)
	ee.setEnable(ExcBusFault, true, true)
	setSHPR(ee, Secure, ExcMemManage, 0x80)
	setSHPR(ee, Secure, ExcBusFault, 0x40)

	mm := ExcInfo{Fault: ExcMemManage, OrigFault: ExcMemManage, IsSecure: true, TermInst: true}
	bf := ExcInfo{Fault: ExcBusFault, OrigFault: ExcBusFault, IsSecure: true, TermInst: true}

	winner := ee.mergeExcInfo(mm, bf)
	if winner.Fault != ExcBusFault {
		t.Fatalf("winner = %+v, want BusFault (priority 0x40 beats 0x80)", winner)
	}
	if !ee.isPending(ExcMemManage, true) {
		t.Fatalf("expected the losing MemManage fault to be pended")
	}
}
