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

func TestIs32bitPrefixClassifiesTopFiveBits(t *testing.T) {
	cases := []struct {
		hw   uint16
		want bool
	}{
		{0x2005, false}, // MOVS R0,#5 (top5 = 00100)
		{0xBF08, false}, // IT EQ (top5 = 10111)
		{0x4700, false}, // BX Rm (top5 = 01000)
		{0xE850, true},  // LDREX prefix (top5 = 11101)
		{0xE840, true},  // STREX prefix (top5 = 11101)
		{0xF000, true},  // BL/other 32-bit prefix (top5 = 11110)
		{0xE97F, true},  // SG prefix (top5 = 11101)
		{0xFFFF, true},  // top5 = 11111
	}
	for _, c := range cases {
		if got := is32bitPrefix(c.hw); got != c.want {
			t.Errorf("is32bitPrefix(%#04x) = %v, want %v", c.hw, got, c.want)
		}
	}
}

func TestFetchReturnsSixteenBitInstructionLength(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())
	mem.putHalf(0x1000, 0xBF00) // NOP

	d := p.decoder.fetch(0x1000)
	if d.fault.hasFault() {
		t.Fatalf("unexpected fault: %+v", d.fault)
	}
	if d.is32bit || d.length != 2 {
		t.Fatalf("decoded = %+v, want 16-bit length-2", d)
	}
	if d.opcode != 0xBF00 {
		t.Fatalf("opcode = %#x, want 0xbf00", d.opcode)
	}
}

func TestFetchAssemblesThirtyTwoBitInstructionFromBothHalfwords(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())
	mem.putHalf(0x1000, 0xE850) // LDREX prefix halfword
	mem.putHalf(0x1002, 0x1F00)

	d := p.decoder.fetch(0x1000)
	if d.fault.hasFault() {
		t.Fatalf("unexpected fault: %+v", d.fault)
	}
	if !d.is32bit || d.length != 4 {
		t.Fatalf("decoded = %+v, want 32-bit length-4", d)
	}
	if d.opcode != 0xE850_1F00 {
		t.Fatalf("opcode = %#x, want 0xe8501f00", d.opcode)
	}
}

func TestConditionPassedOverrideTakesPrecedenceOverITState(t *testing.T) {
	s := NewState(48)
	s.XPSR.ITSTATE = 0b0000_1000 // IT EQ, one instruction in the block
	s.XPSR.Z = false             // EQ would fail
	s.CurCondOverride = 0b1110   // AL: an explicit conditional-branch override

	if !conditionPassed(s, defaultCondFromIT(s.XPSR)) {
		t.Fatalf("expected override (AL) to pass despite ITSTATE EQ failing")
	}
}

func TestConditionPassedUsesITStateWhenNoOverride(t *testing.T) {
	s := NewState(48)
	s.XPSR.ITSTATE = 0b0000_1000 // IT EQ
	s.XPSR.Z = false
	s.CurCondOverride = -1

	if conditionPassed(s, defaultCondFromIT(s.XPSR)) {
		t.Fatalf("expected ITSTATE EQ to fail with Z clear")
	}
}

func TestDefaultCondFromITReportsAlwaysOutsideBlock(t *testing.T) {
	var x XPSR
	if got := defaultCondFromIT(x); got != 0b1110 {
		t.Fatalf("defaultCondFromIT outside IT block = %#x, want AL (0xe)", got)
	}
}

func TestDefaultCondFromITReportsBlockConditionInside(t *testing.T) {
	var x XPSR
	x.ITSTATE = 0b0001_1000 // NE, one instruction
	if got := defaultCondFromIT(x); got != 0b0001 {
		t.Fatalf("defaultCondFromIT inside IT block = %#x, want NE (0x1)", got)
	}
}
