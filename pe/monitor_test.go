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

func TestLocalMonitorRequiresMatchingAddress(t *testing.T) {
	m := NewLocalMonitor(true)
	if m.IsExclusive(0x100, 4) {
		t.Fatalf("fresh monitor must not report exclusive")
	}

	m.MarkExclusive(0x100, 4)
	if !m.IsExclusive(0x100, 4) {
		t.Fatalf("expected exclusive at the marked address")
	}
	if m.IsExclusive(0x104, 4) {
		t.Fatalf("did not expect exclusive at a different address")
	}

	m.Clear()
	if m.IsExclusive(0x100, 4) {
		t.Fatalf("expected no exclusive after Clear")
	}
}

func TestLocalMonitorUncheckedAddressAlwaysSatisfies(t *testing.T) {
	m := NewLocalMonitor(false)
	m.MarkExclusive(0x100, 4)
	if !m.IsExclusive(0x200, 4) {
		t.Fatalf("checkAddr=false means any address satisfies IsExclusive while a reservation is held")
	}
}

func TestGlobalMonitorClearByAddressSkipsStoringPE(t *testing.T) {
	g := NewGlobalMonitor(true)
	g.MarkExclusive(0, 0x100, 4)
	g.MarkExclusive(1, 0x100, 4)

	g.ClearExclusiveByAddress(0x100, 4, 0)

	if !g.IsExclusive(0, 0x100, 4) {
		t.Fatalf("storing PE's own reservation must survive its own store")
	}
	if g.IsExclusive(1, 0x100, 4) {
		t.Fatalf("other PE's overlapping reservation must be cleared")
	}
}

// TestStrexSucceedsOnlyAfterMatchingLdrex drives the full pipeline:
// LDREX R1,[R0] followed by STREX R2,R1,[R0] must succeed (R2==0), and a
// bare STREX with no preceding LDREX must fail (R2==1) without touching
// memory.
func TestStrexSucceedsOnlyAfterMatchingLdrex(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())

	mem.putHalf(0x1000, 0xE850) // LDREX R1, [R0]
	mem.putHalf(0x1002, 0x1F00)
	mem.putHalf(0x1004, 0xE840) // STREX R2, R1, [R0]
	mem.putHalf(0x1006, 0x1200)

	p.state.R[0] = 0x100

	p.Step() // LDREX
	p.state.R[1] = 0xCAFEBABE

	p.Step() // STREX

	if p.state.R[2] != 0 {
		t.Fatalf("STREX status = %d, want 0 (success)", p.state.R[2])
	}
	v, exc := p.mem.MemAligned(0x100, 4, AccessNormal, true, Secure)
	if exc.hasFault() {
		t.Fatalf("unexpected fault reading back: %+v", exc)
	}
	if v != 0xCAFEBABE {
		t.Fatalf("memory at 0x100 = %#x, want 0xCAFEBABE", v)
	}
}

func TestStrexFailsWithoutPriorLdrex(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())

	mem.putHalf(0x1000, 0xE840) // STREX R2, R1, [R0]
	mem.putHalf(0x1002, 0x1200)

	p.state.R[0] = 0x100
	p.state.R[1] = 0x11111111

	p.Step()

	if p.state.R[2] != 1 {
		t.Fatalf("STREX status = %d, want 1 (no reservation)", p.state.R[2])
	}
	v, _ := p.mem.MemAligned(0x100, 4, AccessNormal, true, Secure)
	if v != 0 {
		t.Fatalf("memory at 0x100 = %#x, want untouched (0)", v)
	}
}
