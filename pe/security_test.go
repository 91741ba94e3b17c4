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

// newSecurityPe builds a Pe over a larger flat memory and programs the
// SAU with one NonSecure region (0x1800-0x18FF) and one Secure NSC
// gateway region (0x2000-0x20FF). Everything else stays Secure non-NSC
// since the SAU is enabled and no other region matches.
func newSecurityPe(t *testing.T) (*Pe, *flatMemory) {
	t.Helper()
	mem := newFlatMemory(0x4000)
	mem.putWord(0x0, 0x2000) // initial SP
	mem.putWord(0x4, 0x1001) // reset vector, Thumb bit set

	p, err := New(DefaultConfig(), mem, nil, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p.nest.SAU.Ctrl = 0x1 // ENABLE
	p.nest.SAU.Regions[0] = SAURegion{RBAR: 0x1800, RLAR: 0x18E0 | 0x1}
	p.nest.SAU.Regions[1] = SAURegion{RBAR: 0x2000, RLAR: 0x20E0 | 0x3} // NSC
	return p, mem
}

// TestSGEntersSecureStateFromNSCRegion drives the success path of the
// NS->S transition: a NonSecure branch into the NSC gateway finds the
// SG opcode, the fetch passes the security gate, and executing SG
// switches the PE to Secure with no SFSR bits set.
func TestSGEntersSecureStateFromNSCRegion(t *testing.T) {
	p, mem := newSecurityPe(t)

	mem.putHalf(0x2000, sgOpcodeHi)
	mem.putHalf(0x2002, sgOpcodeLo)
	mem.putHalf(0x2004, 0xBF00) // NOP past the gateway

	p.state.CurrentSecurity = NonSecure
	p.state.PC = 0x2000

	p.Step()

	if p.state.CurrentSecurity != Secure {
		t.Fatalf("security = %v, want Secure after SG", p.state.CurrentSecurity)
	}
	if p.nest.SFSR != 0 {
		t.Fatalf("SFSR = %#x, want 0 (legal gateway entry)", p.nest.SFSR)
	}
	if p.state.PC != 0x2004 {
		t.Fatalf("PC = %#x, want 0x2004", p.state.PC)
	}
}

// TestSGIsNopInNonSecureMemory checks the other half of the SG rule: an
// SG fetched from NonSecure-attributed memory executes as a NOP and
// must not grant Secure state.
func TestSGIsNopInNonSecureMemory(t *testing.T) {
	p, mem := newSecurityPe(t)

	mem.putHalf(0x1800, sgOpcodeHi)
	mem.putHalf(0x1802, sgOpcodeLo)

	p.state.CurrentSecurity = NonSecure
	p.state.PC = 0x1800

	p.Step()

	if p.state.CurrentSecurity != NonSecure {
		t.Fatalf("security = %v, want NonSecure (SG outside NSC is a NOP)", p.state.CurrentSecurity)
	}
}

// TestNSCEntryWithoutSGRaisesINVEP puts an ordinary instruction at the
// gateway address: the fetch itself is allowed through (the region is
// NSC) but the decoder must reject the missing SG with SFSR.INVEP.
func TestNSCEntryWithoutSGRaisesINVEP(t *testing.T) {
	p, mem := newSecurityPe(t)

	mem.putHalf(0x2010, 0xBF00) // NOP where an SG is required

	p.state.CurrentSecurity = NonSecure
	p.state.PC = 0x2010

	p.Step()

	if p.nest.SFSR&(1<<0) == 0 {
		t.Fatalf("SFSR = %#x, want INVEP set", p.nest.SFSR)
	}
}

// TestNSFetchIntoPlainSecureRaisesINVEP covers the non-NSC sibling:
// a NonSecure fetch into Secure memory with no gateway attribute is
// rejected by the memory pipeline before the decoder sees anything.
func TestNSFetchIntoPlainSecureRaisesINVEP(t *testing.T) {
	p, mem := newSecurityPe(t)

	mem.putHalf(0x1200, 0xBF00)

	p.state.CurrentSecurity = NonSecure
	p.state.PC = 0x1200

	p.Step()

	if p.nest.SFSR&(1<<0) == 0 {
		t.Fatalf("SFSR = %#x, want INVEP set", p.nest.SFSR)
	}
}

// TestSecureFetchIntoNonSecureRaisesINVTRAN checks spec §4.1 step 4:
// Secure execution falling through into NonSecure-attributed
// instructions is an illegal transition, not a silent domain switch.
func TestSecureFetchIntoNonSecureRaisesINVTRAN(t *testing.T) {
	p, mem := newSecurityPe(t)

	mem.putHalf(0x1800, 0xBF00)

	p.state.PC = 0x1800 // CurrentSecurity is Secure after reset

	p.Step()

	if p.nest.SFSR&(1<<1) == 0 {
		t.Fatalf("SFSR = %#x, want INVTRAN set", p.nest.SFSR)
	}
}

// TestNSDataAccessToSecureRaisesAUVIOL drives a NonSecure data store at
// a Secure address through the pipeline: SFSR.AUVIOL with SFARVALID and
// SFAR recording the faulting address.
func TestNSDataAccessToSecureRaisesAUVIOL(t *testing.T) {
	p, _ := newSecurityPe(t)

	exc := p.mem.MemAlignedStore(0x1200, 4, AccessNormal, true, NonSecure, 0x42)
	if !exc.hasFault() || exc.Fault != ExcSecureFault && exc.Fault != ExcHardFault {
		t.Fatalf("exc = %+v, want a SecureFault (possibly escalated)", exc)
	}
	if p.nest.SFSR&(1<<2) == 0 || p.nest.SFSR&(1<<7) == 0 {
		t.Fatalf("SFSR = %#x, want AUVIOL and SFARVALID set", p.nest.SFSR)
	}
	if p.nest.SFAR != 0x1200 {
		t.Fatalf("SFAR = %#x, want 0x1200", p.nest.SFAR)
	}
}
