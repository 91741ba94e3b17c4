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

// TestExceptionEntryReturnRoundTrip checks spec §8's round-trip law:
// exception entry followed by an immediate return restores r0-r3, r12,
// LR, SP and the xPSR flags bit-for-bit.
func TestExceptionEntryReturnRoundTrip(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())
	mem.putWord(0x2C, 0x1201)   // SVCall vector
	mem.putHalf(0x1000, 0xDF00) // SVC #0
	// handler: BX LR immediately
	mem.putHalf(0x1200, uint16(0x4700|14<<3))

	p.state.R[0] = 0x10
	p.state.R[1] = 0x11
	p.state.R[2] = 0x12
	p.state.R[3] = 0x13
	p.state.R[12] = 0x1C
	p.state.LR = 0x0BAD_0001
	p.state.XPSR.N = true
	p.state.XPSR.C = true
	spBefore := p.state.SP()

	p.Step() // SVC, enters handler
	if p.state.Mode() != ModeHandler {
		t.Fatalf("expected Handler mode after SVC")
	}
	p.Step() // BX LR, returns

	if p.state.Mode() != ModeThread {
		t.Fatalf("expected Thread mode after return")
	}
	for i, want := range map[int]uint32{0: 0x10, 1: 0x11, 2: 0x12, 3: 0x13, 12: 0x1C} {
		if p.state.R[i] != want {
			t.Fatalf("R%d = %#x, want %#x", i, p.state.R[i], want)
		}
	}
	if p.state.LR != 0x0BAD_0001 {
		t.Fatalf("LR = %#x, want 0x0bad0001 restored", p.state.LR)
	}
	if p.state.SP() != spBefore {
		t.Fatalf("SP = %#x, want %#x restored", p.state.SP(), spBefore)
	}
	if !p.state.XPSR.N || !p.state.XPSR.C {
		t.Fatalf("flags = %+v, want N and C restored", p.state.XPSR)
	}
	if p.state.PC != 0x1002 {
		t.Fatalf("PC = %#x, want 0x1002 (instruction after SVC)", p.state.PC)
	}
	if p.state.XPSR.Exception != 0 {
		t.Fatalf("IPSR = %d, want 0 after return to Thread", p.state.XPSR.Exception)
	}
}

// TestExceptionReturnClearsLocalMonitorAndSetsEvent checks spec §8
// property 5 plus the event-register side effect of the return sequence.
func TestExceptionReturnClearsLocalMonitorAndSetsEvent(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())
	mem.putWord(0x2C, 0x1201)
	mem.putHalf(0x1000, 0xDF00)
	mem.putHalf(0x1200, uint16(0x4700|14<<3))

	p.local.MarkExclusive(0x100, 4)
	p.Step() // SVC
	p.Step() // BX LR

	if p.local.IsExclusive(0x100, 4) {
		t.Fatalf("expected local monitor cleared by exception return")
	}
	if !p.state.Event {
		t.Fatalf("expected event register set by exception return")
	}
}

// TestTailChainReusesFrame pends a second exception while the first
// handler runs; the return from the first must enter the second without
// popping, and only the final return restores the original SP.
func TestTailChainReusesFrame(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())
	mem.putWord(0x2C, 0x1201)   // SVCall vector  -> 0x1200
	mem.putWord(0x38, 0x1301)   // PendSV vector  -> 0x1300
	mem.putHalf(0x1000, 0xDF00) // SVC #0
	mem.putHalf(0x1200, uint16(0x4700|14<<3)) // handler 1: BX LR
	mem.putHalf(0x1300, uint16(0x4700|14<<3)) // handler 2: BX LR

	spBefore := p.state.SP()

	p.Step() // SVC entry
	spInHandler := p.state.SP()
	p.exc.setPending(ExcPendSV, true, true)

	p.Step() // BX LR: tail-chains into PendSV
	if p.state.XPSR.Exception != ExcPendSV {
		t.Fatalf("IPSR = %d, want %d (tail-chained PendSV)", p.state.XPSR.Exception, ExcPendSV)
	}
	if p.state.SP() != spInHandler {
		t.Fatalf("SP = %#x, want %#x (frame reused, not popped)", p.state.SP(), spInHandler)
	}

	p.Step() // BX LR from PendSV: real return
	if p.state.Mode() != ModeThread {
		t.Fatalf("expected Thread mode after final return")
	}
	if p.state.SP() != spBefore {
		t.Fatalf("SP = %#x, want %#x after final pop", p.state.SP(), spBefore)
	}
}

// TestStackOverflowOnEntryRaisesSTKOF drives exception entry with SP
// near the configured stack limit: the frame push must pin SP to the
// limit and record UsageFault(STKOF).
func TestStackOverflowOnEntryRaisesSTKOF(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())
	mem.putWord(0x2C, 0x1201)
	mem.putHalf(0x1000, 0xDF00)

	p.state.MSPLim.set(Secure, 0x1FF0) // only 0x10 bytes of headroom
	p.Step()

	if p.nest.CFSR.get(Secure)&(1<<20) == 0 {
		t.Fatalf("CFSR = %#x, want UFSR.STKOF set", p.nest.CFSR.get(Secure))
	}
}
