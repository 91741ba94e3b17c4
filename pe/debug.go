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

import "github.com/armsim/pe/curated"

// DebugEvent classifies the source of a debug event for DFSR reporting.
type DebugEvent int

const (
	DebugEventHalted DebugEvent = iota
	DebugEventBKPT
	DebugEventDWT
	DebugEventFPB
	DebugEventVCatch
	DebugEventExternal
)

func (ev DebugEvent) dfsrBit() uint32 {
	switch ev {
	case DebugEventHalted:
		return 1 << 0
	case DebugEventBKPT, DebugEventFPB:
		return 1 << 1
	case DebugEventDWT:
		return 1 << 2
	case DebugEventVCatch:
		return 1 << 3
	default:
		return 1 << 4
	}
}

// debugEvent routes a debug event: halt if halting debug is enabled,
// else pend DebugMonitor if DEMCR.MON_EN, else (for BKPT only) escalate
// to HardFault since the instruction cannot complete. Watchpoint-style
// events with no debug consumer are simply dropped.
func (ee *ExceptionEngine) debugEvent(ev DebugEvent) ExcInfo {
	ee.nest.DFSR |= ev.dfsrBit()

	if ee.cfg.HaltingDebug && ee.nest.DHCSR&(1<<0) != 0 { // C_DEBUGEN
		ee.nest.DHCSR |= 1 << 17 // S_HALT
		ee.state.ExitCause |= ExitDebug
		return noFault()
	}

	if ee.nest.DEMCR&(1<<16) != 0 { // MON_EN
		ee.setPending(ExcDebugMonitor, ee.state.CurrentSecurity == Secure, true)
		return noFault()
	}

	if ev == DebugEventBKPT {
		return ee.raise(ExcHardFault, ee.state.CurrentSecurity == Secure, FaultNone, true)
	}
	return noFault()
}

// DebugLoad implements the debugger entry point of spec §6: a transfer
// that bypasses the SAU/MPU classification path, gated only by
// hprot[6] (non-secure select) and natural alignment.
func (pe *Pe) DebugLoad(addr uint32, size int, hprot uint8) (uint32, error) {
	if size != 1 && size != 2 && size != 4 {
		return 0, curated.Errorf("debug: bad transfer size: %d", size)
	}
	if addr%uint32(size) != 0 {
		return 0, curated.Errorf("debug: misaligned transfer at %#x", addr)
	}
	ns := hprot&(1<<6) != 0

	if addr >= 0xE000_0000 && addr < 0xE010_0000 {
		if size != 4 {
			return 0, curated.Errorf("debug: non-word SCS access at %#x", addr)
		}
		return pe.scs.Load(addr, !ns, true)
	}

	desc := AddressDescriptor{AccType: AccessNormal, Privileged: true, NonSecure: ns}
	desc.IsDevice, desc.DevType, desc.InnerAttrs, desc.Shareable, _ = pe.mem.defaultAttrs(addr)
	return pe.dev.Load(addr, size, desc)
}

// DebugStore is the store counterpart of DebugLoad.
func (pe *Pe) DebugStore(addr uint32, size int, hprot uint8, val uint32) error {
	if size != 1 && size != 2 && size != 4 {
		return curated.Errorf("debug: bad transfer size: %d", size)
	}
	if addr%uint32(size) != 0 {
		return curated.Errorf("debug: misaligned transfer at %#x", addr)
	}
	ns := hprot&(1<<6) != 0

	if addr >= 0xE000_0000 && addr < 0xE010_0000 {
		if size != 4 {
			return curated.Errorf("debug: non-word SCS access at %#x", addr)
		}
		return pe.scs.Store(addr, val, !ns, true)
	}

	desc := AddressDescriptor{AccType: AccessNormal, Privileged: true, NonSecure: ns, Write: true}
	desc.IsDevice, desc.DevType, desc.InnerAttrs, desc.Shareable, _ = pe.mem.defaultAttrs(addr)
	return pe.dev.Store(addr, size, desc, val)
}
