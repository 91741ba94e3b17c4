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

func put32(mem *flatMemory, addr uint32, hi, lo uint16) {
	mem.putHalf(addr, hi)
	mem.putHalf(addr+2, lo)
}

func TestThumb32MovwMovt(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())

	put32(mem, 0x1000, 0xF241, 0x2034) // MOVW R0, #0x1234
	put32(mem, 0x1004, 0xF2C5, 0x6078) // MOVT R0, #0x5678

	run(t, p, 2)

	if p.state.R[0] != 0x5678_1234 {
		t.Fatalf("R0 = %#x, want 0x56781234", p.state.R[0])
	}
}

func TestThumb32ModifiedImmediateAnd(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())

	mem.putHalf(0x1000, 0x21FF)        // MOVS R1, #0xFF
	put32(mem, 0x1002, 0xF011, 0x00F0) // ANDS R0, R1, #0xF0

	run(t, p, 2)

	if p.state.R[0] != 0xF0 {
		t.Fatalf("R0 = %#x, want 0xf0", p.state.R[0])
	}
}

func TestThumb32MulAndDiv(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())

	mem.putHalf(0x1000, 0x262A)        // MOVS R6, #42
	mem.putHalf(0x1002, 0x2706)        // MOVS R7, #6
	put32(mem, 0x1004, 0xFBB6, 0xF2F7) // UDIV R2, R6, R7
	put32(mem, 0x1008, 0xFB02, 0xF307) // MUL R3, R2, R7

	run(t, p, 4)

	if p.state.R[2] != 7 {
		t.Fatalf("R2 = %d, want 7 (42/6)", p.state.R[2])
	}
	if p.state.R[3] != 42 {
		t.Fatalf("R3 = %d, want 42 (7*6)", p.state.R[3])
	}
}

func TestThumb32UdivByZeroYieldsZeroWithoutTrap(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())

	mem.putHalf(0x1000, 0x262A)        // MOVS R6, #42
	mem.putHalf(0x1002, 0x2700)        // MOVS R7, #0
	put32(mem, 0x1004, 0xFBB6, 0xF2F7) // UDIV R2, R6, R7

	p.state.R[2] = 0xDEAD
	run(t, p, 3)

	if p.state.R[2] != 0 {
		t.Fatalf("R2 = %#x, want 0 (division by zero, DIV_0_TRP clear)", p.state.R[2])
	}
}

func TestThumb32BranchAndLink(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())

	mem.putHalf(0x1000, 0xBF00)        // NOP
	put32(mem, 0x1002, 0xF000, 0xF87D) // BL 0x1100
	mem.putHalf(0x1100, 0x2001)        // MOVS R0, #1

	run(t, p, 3)

	if p.state.R[0] != 1 {
		t.Fatalf("R0 = %d, want 1 (BL target executed)", p.state.R[0])
	}
	if p.state.LR != 0x1007 {
		t.Fatalf("LR = %#x, want 0x1007 (return address with Thumb bit)", p.state.LR)
	}
}

func TestThumb32MsrMrsPrimaskIdentity(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())

	mem.putHalf(0x1000, 0x2001)        // MOVS R0, #1
	put32(mem, 0x1002, 0xF380, 0x8810) // MSR PRIMASK, R0
	put32(mem, 0x1006, 0xF3EF, 0x8110) // MRS R1, PRIMASK

	run(t, p, 3)

	if !p.state.Primask.get(Secure) {
		t.Fatalf("PRIMASK not set by MSR")
	}
	if p.state.R[1] != 1 {
		t.Fatalf("R1 = %d, want 1 (MRS reads PRIMASK back)", p.state.R[1])
	}
}

func TestThumb32LoadStoreWide(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())

	put32(mem, 0x1000, 0xF240, 0x3100) // MOVW R1, #0x300
	put32(mem, 0x1004, 0xF240, 0x5055) // MOVW R0, #0x555
	put32(mem, 0x1008, 0xF8C1, 0x0004) // STR.W R0, [R1, #4]
	put32(mem, 0x100C, 0xF8D1, 0x2004) // LDR.W R2, [R1, #4]

	run(t, p, 4)

	if p.state.R[2] != 0x555 {
		t.Fatalf("R2 = %#x, want 0x555", p.state.R[2])
	}
}

func TestThumb32DualLoadStore(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())

	put32(mem, 0x1000, 0xF240, 0x3200) // MOVW R2, #0x300
	mem.putHalf(0x1004, 0x2011)        // MOVS R0, #0x11
	mem.putHalf(0x1006, 0x2122)        // MOVS R1, #0x22
	put32(mem, 0x1008, 0xE9C2, 0x0102) // STRD R0, R1, [R2, #8]
	put32(mem, 0x100C, 0xE9D2, 0x3402) // LDRD R3, R4, [R2, #8]

	run(t, p, 5)

	if p.state.R[3] != 0x11 || p.state.R[4] != 0x22 {
		t.Fatalf("R3,R4 = %#x,%#x, want 0x11,0x22", p.state.R[3], p.state.R[4])
	}
	if got := mem.getWord(0x308); got != 0x11 {
		t.Fatalf("mem[0x308] = %#x, want 0x11", got)
	}
}

func TestThumb32ShiftedRegisterMov(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())

	mem.putHalf(0x1000, 0x2103)        // MOVS R1, #3
	put32(mem, 0x1002, 0xEA4F, 0x1541) // MOV.W R5, R1, LSL #5

	run(t, p, 2)

	if p.state.R[5] != 3<<5 {
		t.Fatalf("R5 = %#x, want %#x", p.state.R[5], 3<<5)
	}
}

func TestThumb32Clz(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())

	mem.putHalf(0x1000, 0x2101)        // MOVS R1, #1
	put32(mem, 0x1002, 0xFAB1, 0xF081) // CLZ R0, R1

	run(t, p, 2)

	if p.state.R[0] != 31 {
		t.Fatalf("R0 = %d, want 31", p.state.R[0])
	}
}

func TestThumb32BitfieldExtract(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())

	put32(mem, 0x1000, 0xF241, 0x2034) // MOVW R0, #0x1234
	put32(mem, 0x1004, 0xF3C0, 0x1103) // UBFX R1, R0, #4, #4

	run(t, p, 2)

	if p.state.R[1] != 0x3 {
		t.Fatalf("R1 = %#x, want 0x3 (bits [7:4] of 0x1234)", p.state.R[1])
	}
}

func TestThumb32VmovRoundTripThroughSRegister(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())
	p.nest.CPACR.set(Secure, 0xF<<20) // CP10/CP11 full access

	put32(mem, 0x1000, 0xF241, 0x2134) // MOVW R1, #0x1234
	put32(mem, 0x1004, 0xEE00, 0x1A10) // VMOV S0, R1
	put32(mem, 0x1008, 0xEE10, 0x2A10) // VMOV R2, S0

	run(t, p, 3)

	if p.state.R[2] != 0x1234 {
		t.Fatalf("R2 = %#x, want 0x1234 after S0 round trip", p.state.R[2])
	}
	if !p.state.Ctrl.get(Secure).FPCA {
		t.Fatalf("expected CONTROL.FPCA set after an FP instruction")
	}
}

func TestThumb32FPDisabledRaisesNoCP(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())
	// CPACR reset value leaves CP10 disabled

	put32(mem, 0x1000, 0xEE00, 0x1A10) // VMOV S0, R1

	p.Step()

	if p.nest.CFSR.get(Secure)&(1<<19) == 0 {
		t.Fatalf("CFSR = %#x, want UFSR.NOCP set", p.nest.CFSR.get(Secure))
	}
}

func TestThumb32LdrexStrexByte(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())

	put32(mem, 0x1000, 0xF240, 0x3000) // MOVW R0, #0x300
	mem.putHalf(0x1004, 0x217E)        // MOVS R1, #0x7E
	put32(mem, 0x1006, 0xE8D0, 0x2F4F) // LDREXB R2, [R0]
	put32(mem, 0x100A, 0xE8C0, 0x1F43) // STREXB R3, R1, [R0]

	mem.bytes[0x300] = 0x5A
	run(t, p, 4)

	if p.state.R[2] != 0x5A {
		t.Fatalf("R2 = %#x, want 0x5a from LDREXB", p.state.R[2])
	}
	if p.state.R[3] != 0 {
		t.Fatalf("STREXB status = %d, want 0 (success)", p.state.R[3])
	}
	if mem.bytes[0x300] != 0x7E {
		t.Fatalf("mem[0x300] = %#x, want 0x7e", mem.bytes[0x300])
	}
}
