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

// SCS addresses, offsets from 0xE000_0000 per the Armv8-M PPB map. Only
// the subset of registers the core wires up is named here; everything
// else in [0xE000_0000, 0xE010_0000) that isn't matched below is
// RAZ/WI, matching the "unimplemented register" behavior of spec §4.2.
const (
	scsBase = 0xE000_0000
	nsAlias = 0xE002_0000

	offDWTBase     = 0x1000
	offFPBBase     = 0x2000
	offSysTickBase = 0xE010
	offNVICBase    = 0xE100
	offCPUID       = 0xED00
	offICSR        = 0xED04
	offVTOR        = 0xED08
	offAIRCR       = 0xED0C
	offSCR         = 0xED10
	offCCR         = 0xED14
	offSHPR1       = 0xED18
	offSHPR2       = 0xED1C
	offSHPR3       = 0xED20
	offSHCSR       = 0xED24
	offCFSR        = 0xED28
	offHFSR        = 0xED2C
	offDFSR        = 0xED30
	offMMFAR       = 0xED34
	offBFAR        = 0xED38
	offCPACR       = 0xED88
	offNSACR       = 0xED8C
	offMPUTYPE     = 0xED90
	offMPUCTRL     = 0xED94
	offMPURNR      = 0xED98
	offMPURBAR     = 0xED9C
	offMPURLAR     = 0xEDA0
	offMPUMAIR0    = 0xEDC0
	offMPUMAIR1    = 0xEDC4
	offSAUCTRL     = 0xEDD0
	offSAUTYPE     = 0xEDD4
	offSAURNR      = 0xEDD8
	offSAURBAR     = 0xEDDC
	offSAURLAR     = 0xEDE0
	offSFSR        = 0xEDE4
	offSFAR        = 0xEDE8
	offDHCSR       = 0xEDF0
	offDEMCR       = 0xEDFC
	offSTIR        = 0xEF00
	offFPCCR       = 0xEF34
	offFPCAR       = 0xEF38
	offFPDSCR      = 0xEF3C
)

// cpuidValue is the fixed CPUID word: an Armv8-M Mainline part with an
// implementation-defined part number.
const cpuidValue = 0x410F_D210

// SCS dispatches System Control Space accesses by access-class per
// spec §4.2: a software request is classified by
// (is_secure_requester, is_privileged, alt_alias_bit) into a Secure
// view, a NonSecure view, or RAZ/WI.
type SCS struct {
	nest *Nest
	exc  *ExceptionEngine
	cfg  Config
}

func NewSCS(nest *Nest, exc *ExceptionEngine, cfg Config) *SCS {
	return &SCS{nest: nest, exc: exc, cfg: cfg}
}

// resolve maps (addr, requester security, priv) to the (offset, target
// side, ok) the access actually touches, per the table in spec §4.2.
// ok=false means BusFault (unprivileged access to a non-STIR register).
func (s *SCS) resolve(addr uint32, secureRequester bool, priv bool) (offset uint32, target Security, raz bool, ok bool) {
	altAlias := addr >= nsAlias && addr < nsAlias+0x0001_0000
	offset = addr - scsBase
	if altAlias {
		offset = addr - nsAlias
	}

	if !priv && offset != offSTIR {
		return 0, Secure, false, false
	}

	if !s.cfg.Security {
		return offset, Secure, false, true
	}

	switch {
	case secureRequester && !altAlias:
		return offset, Secure, false, true
	case secureRequester && altAlias:
		return offset, NonSecure, false, true
	case !secureRequester && !altAlias:
		return offset, NonSecure, false, true
	default: // !secureRequester && altAlias
		return offset, Secure, true, true
	}
}

func (s *SCS) Load(addr uint32, secureRequester bool, priv bool) (uint32, error) {
	offset, side, raz, ok := s.resolve(addr, secureRequester, priv)
	if !ok {
		return 0, curated.Errorf("scs: unprivileged access to %#x", addr)
	}
	if raz {
		return 0, nil
	}
	return s.loadOffset(offset, side), nil
}

func (s *SCS) Store(addr uint32, value uint32, secureRequester bool, priv bool) error {
	offset, side, raz, ok := s.resolve(addr, secureRequester, priv)
	if !ok {
		return curated.Errorf("scs: unprivileged access to %#x", addr)
	}
	if raz {
		return nil // write ignored
	}
	s.storeOffset(offset, side, value)
	return nil
}

func (s *SCS) loadOffset(offset uint32, side Security) uint32 {
	n := s.nest
	switch {
	case offset == offCPUID:
		return cpuidValue
	case offset == offICSR:
		return s.loadICSR(side)
	case offset == offVTOR:
		return n.VTOR.get(side)
	case offset == offAIRCR:
		return n.AIRCR.get(side)
	case offset == offSCR:
		return n.SCR
	case offset == offCCR:
		return n.CCR.get(side)
	case offset == offSHPR1:
		shpr := n.SHPR.get(side)
		return shprWord(shpr[0:4])
	case offset == offSHPR2:
		shpr := n.SHPR.get(side)
		return shprWord(shpr[4:8])
	case offset == offSHPR3:
		shpr := n.SHPR.get(side)
		return shprWord(shpr[8:12])
	case offset == offSHCSR:
		return s.loadSHCSR(side)
	case offset == offCFSR:
		return n.CFSR.get(side)
	case offset == offHFSR:
		return n.HFSR
	case offset == offDFSR:
		return n.DFSR
	case offset == offMMFAR:
		return n.MMFAR.get(side)
	case offset == offBFAR:
		return n.BFAR.get(side)
	case offset == offNSACR:
		return n.NSACR
	case offset == offCPACR:
		return n.CPACR.get(side)
	case offset == offSFSR && side == Secure:
		return n.SFSR
	case offset == offSFAR && side == Secure:
		return n.SFAR
	case offset == offDHCSR:
		return n.DHCSR
	case offset == offDEMCR:
		return n.DEMCR
	case offset == offSAUCTRL && side == Secure:
		return n.SAU.Ctrl
	case offset == offSAUTYPE && side == Secure:
		return uint32(len(n.SAU.Regions))
	case offset == offSAURNR && side == Secure:
		return n.SAU.RNR
	case offset == offSAURBAR && side == Secure:
		return s.sauRegion().RBAR
	case offset == offSAURLAR && side == Secure:
		return s.sauRegion().RLAR
	case offset == offMPUTYPE:
		return n.MPU.get(side).Type
	case offset == offMPUCTRL:
		return n.MPU.get(side).Ctrl
	case offset == offMPURNR:
		return n.MPU.get(side).RNR
	case offset == offMPURBAR:
		return s.mpuRegion(side).RBAR
	case offset == offMPURLAR:
		return s.mpuRegion(side).RLAR
	case offset == offMPUMAIR0:
		return n.MPU.get(side).MAIR[0]
	case offset == offMPUMAIR1:
		return n.MPU.get(side).MAIR[1]
	case offset == offFPCCR:
		return n.FPCCR.get(side)
	case offset == offFPCAR:
		return n.FPCAR.get(side)
	case offset == offFPDSCR:
		return n.FPDSCR.get(side)
	case offset >= offSysTickBase && offset < offSysTickBase+0x10:
		return s.systickLoad(offset, side)
	case offset >= offNVICBase && offset < offNVICBase+0xBA0:
		return s.nvicLoad(offset, side)
	case offset >= offDWTBase && offset < offDWTBase+0x1000:
		return s.dwtLoad(offset)
	case offset >= offFPBBase && offset < offFPBBase+0x1000:
		return s.fpbLoad(offset)
	default:
		return 0
	}
}

func (s *SCS) storeOffset(offset uint32, side Security, value uint32) {
	n := s.nest
	switch {
	case offset == offICSR:
		s.storeICSR(value, side)
	case offset == offVTOR:
		n.VTOR.set(side, value&0xFFFF_FF80)
	case offset == offAIRCR:
		if value>>16 == 0x05FA {
			if value&(1<<2) != 0 {
				s.exc.requestReset()
			}
			n.AIRCR.set(side, (n.AIRCR.get(side) &^ 0x0000_FF00) | (value & 0x0000_FF00))
		}
	case offset == offSCR:
		n.SCR = value
	case offset == offCCR:
		n.CCR.set(side, value)
	case offset == offSHPR1:
		shpr := n.SHPR.get(side)
		setShprWord(shpr[0:4], value, s.cfg.priorityBits())
		n.SHPR.set(side, shpr)
	case offset == offSHPR2:
		shpr := n.SHPR.get(side)
		setShprWord(shpr[4:8], value, s.cfg.priorityBits())
		n.SHPR.set(side, shpr)
	case offset == offSHPR3:
		shpr := n.SHPR.get(side)
		setShprWord(shpr[8:12], value, s.cfg.priorityBits())
		n.SHPR.set(side, shpr)
	case offset == offSHCSR:
		s.storeSHCSR(value, side)
	case offset == offCFSR:
		n.CFSR.set(side, n.CFSR.get(side) &^ value) // w1c
	case offset == offHFSR:
		n.HFSR &^= value
	case offset == offDFSR:
		n.DFSR &^= value
	case offset == offNSACR:
		n.NSACR = value
	case offset == offCPACR:
		n.CPACR.set(side, value)
	case offset == offSFSR && side == Secure:
		n.SFSR &^= value
	case offset == offSFAR && side == Secure:
		n.SFAR = value
	case offset == offDHCSR:
		// control bits take effect only under the debug key; status
		// bits [31:16] are read-only through this path
		if value>>16 == 0xA05F {
			n.DHCSR = n.DHCSR&^0xFFFF | value&0xFFFF
		}
	case offset == offDEMCR:
		n.DEMCR = value
	case offset == offSAUCTRL && side == Secure:
		n.SAU.Ctrl = value
	case offset == offSAURNR && side == Secure:
		n.SAU.RNR = value % uint32(len(n.SAU.Regions)+1)
	case offset == offSAURBAR && side == Secure:
		s.setSauRegion(func(r *SAURegion) { r.RBAR = value })
	case offset == offSAURLAR && side == Secure:
		s.setSauRegion(func(r *SAURegion) { r.RLAR = value })
	case offset == offMPUCTRL:
		n.MPU.get(side).Ctrl = value
	case offset == offMPURNR:
		n.MPU.get(side).RNR = value
	case offset == offMPURBAR:
		s.setMpuRegion(side, func(r *MPURegion) { r.RBAR = value })
	case offset == offMPURLAR:
		s.setMpuRegion(side, func(r *MPURegion) { r.RLAR = value })
	case offset == offMPUMAIR0:
		n.MPU.get(side).MAIR[0] = value
	case offset == offMPUMAIR1:
		n.MPU.get(side).MAIR[1] = value
	case offset == offFPCCR:
		n.FPCCR.set(side, value)
	case offset == offFPCAR:
		n.FPCAR.set(side, value&^0x7)
	case offset == offFPDSCR:
		n.FPDSCR.set(side, value)
	case offset >= offSysTickBase && offset < offSysTickBase+0x10:
		s.systickStore(offset, side, value)
	case offset >= offNVICBase && offset < offNVICBase+0xBA0:
		s.nvicStore(offset, side, value)
	case offset >= offDWTBase && offset < offDWTBase+0x1000:
		s.dwtStore(offset, value)
	case offset >= offFPBBase && offset < offFPBBase+0x1000:
		s.fpbStore(offset, value)
	case offset == offSTIR:
		s.exc.setPending(ExcExtIRQ0+int(value&0x1FF), side == Secure, true)
	}
}

// loadICSR composes ICSR from live exception state: VECTACTIVE from
// IPSR, VECTPENDING and ISRPENDING from the pending scan, RETTOBASE
// when at most one exception is active.
func (s *SCS) loadICSR(side Security) uint32 {
	var v uint32
	v |= uint32(s.exc.state.XPSR.Exception) & 0x1FF

	active := 0
	for exc := 1; exc < len(s.exc.state.ExcActive); exc++ {
		if s.exc.state.ExcActive[exc] != 0 {
			active++
		}
	}
	if active <= 1 {
		v |= 1 << 11 // RETTOBASE
	}

	pend := s.exc.pendingExceptionDetails(true)
	if pend.excNo != 0 {
		v |= uint32(pend.excNo) << 12 // VECTPENDING
		if pend.excNo >= ExcExtIRQ0 {
			v |= 1 << 22 // ISRPENDING
		}
	}
	if s.exc.isPending(ExcSysTick, side == Secure) {
		v |= 1 << 26
	}
	if s.exc.isPending(ExcPendSV, side == Secure) {
		v |= 1 << 28
	}
	if s.exc.isPending(ExcNMI, true) {
		v |= 1 << 31
	}
	return v
}

// SHCSR bit positions, per side.
func (s *SCS) loadSHCSR(side Security) uint32 {
	var v uint32
	sec := side == Secure
	set := func(bit int, on bool) {
		if on {
			v |= 1 << uint(bit)
		}
	}
	set(0, s.exc.isActive(ExcMemManage, sec))
	set(1, s.exc.isActive(ExcBusFault, sec))
	set(2, s.exc.isActive(ExcHardFault, sec))
	set(3, s.exc.isActive(ExcUsageFault, sec))
	set(4, s.exc.isActive(ExcSecureFault, sec))
	set(5, s.exc.isActive(ExcNMI, sec))
	set(7, s.exc.isActive(ExcSVCall, sec))
	set(8, s.exc.isActive(ExcDebugMonitor, sec))
	set(10, s.exc.isActive(ExcPendSV, sec))
	set(11, s.exc.isActive(ExcSysTick, sec))
	set(12, s.exc.isPending(ExcUsageFault, sec))
	set(13, s.exc.isPending(ExcMemManage, sec))
	set(14, s.exc.isPending(ExcBusFault, sec))
	set(15, s.exc.isPending(ExcSVCall, sec))
	set(16, s.exc.isEnabled(ExcMemManage, sec))
	set(17, s.exc.isEnabled(ExcBusFault, sec))
	set(18, s.exc.isEnabled(ExcUsageFault, sec))
	set(19, s.exc.isEnabled(ExcSecureFault, sec))
	set(20, s.exc.isPending(ExcSecureFault, sec))
	set(21, s.exc.isPending(ExcHardFault, sec))
	return v
}

func (s *SCS) storeSHCSR(value uint32, side Security) {
	sec := side == Secure
	bit := func(b int) bool { return value&(1<<uint(b)) != 0 }
	s.exc.setActive(ExcMemManage, sec, bit(0))
	s.exc.setActive(ExcBusFault, sec, bit(1))
	s.exc.setActive(ExcUsageFault, sec, bit(3))
	s.exc.setActive(ExcSVCall, sec, bit(7))
	s.exc.setActive(ExcDebugMonitor, sec, bit(8))
	s.exc.setActive(ExcPendSV, sec, bit(10))
	s.exc.setActive(ExcSysTick, sec, bit(11))
	s.exc.setPending(ExcUsageFault, sec, bit(12))
	s.exc.setPending(ExcMemManage, sec, bit(13))
	s.exc.setPending(ExcBusFault, sec, bit(14))
	s.exc.setPending(ExcSVCall, sec, bit(15))
	s.exc.setEnable(ExcMemManage, sec, bit(16))
	s.exc.setEnable(ExcBusFault, sec, bit(17))
	s.exc.setEnable(ExcUsageFault, sec, bit(18))
	if s.cfg.Security {
		s.exc.setActive(ExcSecureFault, sec, bit(4))
		s.exc.setEnable(ExcSecureFault, sec, bit(19))
		s.exc.setPending(ExcSecureFault, sec, bit(20))
	}
	s.exc.setPending(ExcHardFault, sec, bit(21))
}

// dwtLoad/dwtStore expose the comparator bank at its PPB window.
// Reading a FUNCTION register clears MATCHED, except when the reader is
// the core itself acting through the internal path (spec §4.2); the
// software path modeled here always clears.
func (s *SCS) dwtLoad(offset uint32) uint32 {
	rel := offset - offDWTBase
	switch rel {
	case 0x0: // DWT_CTRL: number of comparators in [31:28]
		return uint32(len(s.nest.DWT.Comparators)) << 28
	case 0x4:
		return s.nest.DWT.CYCCNT
	}
	if rel >= 0x20 && rel < 0x20+uint32(len(s.nest.DWT.Comparators))*0x10 {
		i := (rel - 0x20) / 0x10
		c := &s.nest.DWT.Comparators[i]
		switch (rel - 0x20) % 0x10 {
		case 0x0:
			return c.Addr
		case 0x4:
			return uint32(c.Mask)
		case 0x8:
			v := s.dwtFunctionWord(c)
			c.Matched = false
			return v
		}
	}
	return 0
}

func (s *SCS) dwtFunctionWord(c *DWTComparator) uint32 {
	var v uint32
	switch {
	case c.OnExec:
		v = 0x2
	case c.OnRead && c.OnWrite:
		v = 0x7
	case c.OnRead:
		v = 0x5
	case c.OnWrite:
		v = 0x6
	}
	if !c.Enabled {
		v = 0
	}
	if c.Matched {
		v |= 1 << 24
	}
	return v
}

func (s *SCS) dwtStore(offset uint32, value uint32) {
	rel := offset - offDWTBase
	if rel == 0x4 {
		s.nest.DWT.CYCCNT = value
		return
	}
	if rel >= 0x20 && rel < 0x20+uint32(len(s.nest.DWT.Comparators))*0x10 {
		i := (rel - 0x20) / 0x10
		c := &s.nest.DWT.Comparators[i]
		switch (rel - 0x20) % 0x10 {
		case 0x0:
			c.Addr = value
		case 0x4:
			c.Mask = uint8(value) & 0x1F
		case 0x8:
			c.Enabled = value&0xF != 0
			c.OnExec = value&0xF == 0x2
			c.OnRead = value&0x1 != 0 && value&0x4 != 0
			c.OnWrite = value&0x2 != 0 && value&0x4 != 0
			c.Matched = false
		}
	}
}

func (s *SCS) fpbLoad(offset uint32) uint32 {
	rel := offset - offFPBBase
	switch rel {
	case 0x0: // FP_CTRL: comparator count in [7:4]
		return s.nest.FPB.Ctrl | uint32(len(s.nest.FPB.Comparators))<<4
	}
	if rel >= 0x8 && rel < 0x8+uint32(len(s.nest.FPB.Comparators))*4 {
		i := (rel - 0x8) / 4
		c := &s.nest.FPB.Comparators[i]
		v := c.Addr &^ 1
		if c.Enabled {
			v |= 1
		}
		return v
	}
	return 0
}

func (s *SCS) fpbStore(offset uint32, value uint32) {
	rel := offset - offFPBBase
	if rel == 0x0 {
		// KEY (bit1) must be set for the enable write to take effect
		if value&0x2 != 0 {
			s.nest.FPB.Ctrl = value & 0x1
		}
		return
	}
	if rel >= 0x8 && rel < 0x8+uint32(len(s.nest.FPB.Comparators))*4 {
		i := (rel - 0x8) / 4
		c := &s.nest.FPB.Comparators[i]
		c.Addr = value &^ 1
		c.Enabled = value&1 != 0
	}
}

func (s *SCS) sauRegion() SAURegion {
	if int(s.nest.SAU.RNR) >= len(s.nest.SAU.Regions) {
		return SAURegion{}
	}
	return s.nest.SAU.Regions[s.nest.SAU.RNR]
}

func (s *SCS) setSauRegion(f func(r *SAURegion)) {
	if int(s.nest.SAU.RNR) >= len(s.nest.SAU.Regions) {
		return
	}
	f(&s.nest.SAU.Regions[s.nest.SAU.RNR])
}

func (s *SCS) mpuRegion(side Security) MPURegion {
	bank := s.nest.MPU.get(side)
	if int(bank.RNR) >= len(bank.Regions) {
		return MPURegion{}
	}
	return bank.Regions[bank.RNR]
}

func (s *SCS) setMpuRegion(side Security, f func(r *MPURegion)) {
	bank := s.nest.MPU.get(side)
	if int(bank.RNR) >= len(bank.Regions) {
		return
	}
	f(&bank.Regions[bank.RNR])
}

func shprWord(b []uint8) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func setShprWord(b []uint8, value uint32, pb uint) {
	mask := uint8(0xFF) << (8 - pb)
	if pb >= 8 {
		mask = 0xFF
	}
	b[0] = uint8(value) & mask
	b[1] = uint8(value>>8) & mask
	b[2] = uint8(value>>16) & mask
	b[3] = uint8(value>>24) & mask
}

func (s *SCS) storeICSR(value uint32, side Security) {
	if value&(1<<31) != 0 {
		s.exc.setPending(ExcNMI, true, true)
	}
	if value&(1<<28) != 0 {
		s.exc.setPending(ExcPendSV, side == Secure, true)
	}
	if value&(1<<27) != 0 {
		s.exc.clearPending(ExcPendSV, side == Secure)
	}
	if value&(1<<26) != 0 {
		s.exc.setPending(ExcSysTick, side == Secure, true)
	}
	if value&(1<<25) != 0 {
		s.exc.clearPending(ExcSysTick, side == Secure)
	}
}

func (s *SCS) systickLoad(offset uint32, side Security) uint32 {
	t := s.exc.systick(side)
	if t == nil {
		return 0
	}
	switch offset - offSysTickBase {
	case 0x0:
		v := uint32(0)
		if t.enabled {
			v |= 1 << 0
		}
		if s.exc.nest.SystCSR.get(side)&(1<<1) != 0 {
			v |= 1 << 1
		}
		if t.clkSource {
			v |= 1 << 2
		}
		if t.CountFlagAndClear() {
			v |= 1 << 16
		}
		return v
	case 0x4:
		return t.reload
	case 0x8:
		return t.CurrentValue()
	case 0xC:
		return 0 // CALIB: not modeled precisely
	}
	return 0
}

func (s *SCS) systickStore(offset uint32, side Security, value uint32) {
	t := s.exc.systick(side)
	if t == nil {
		return
	}
	switch offset - offSysTickBase {
	case 0x0:
		s.exc.nest.SystCSR.set(side, value)
		t.SetEnabled(value&1 != 0)
		t.SetClockSource(value&(1<<2) != 0)
	case 0x4:
		t.SetReload(value & systickMax)
	case 0x8:
		t.SetCurrentValue()
	}
}

func (s *SCS) nvicLoad(offset uint32, side Security) uint32 {
	rel := offset - offNVICBase
	switch {
	case rel < 0x20: // ISER
		return s.groupLoad(rel, side, func(exc int) bool { return s.exc.isEnabled(exc, side == Secure) })
	case rel >= 0x80 && rel < 0xA0: // ICER
		return s.groupLoad(rel-0x80, side, func(exc int) bool { return s.exc.isEnabled(exc, side == Secure) })
	case rel >= 0x100 && rel < 0x120: // ISPR
		return s.groupLoad(rel-0x100, side, func(exc int) bool { return s.exc.isPending(exc, side == Secure) })
	case rel >= 0x180 && rel < 0x1A0: // ICPR
		return s.groupLoad(rel-0x180, side, func(exc int) bool { return s.exc.isPending(exc, side == Secure) })
	case rel >= 0x300 && rel < 0x400: // IPR
		irq := ExcExtIRQ0 + int(rel-0x300)
		return uint32(s.exc.nest.NVIC.priority(irq))
	}
	return 0
}

func (s *SCS) nvicStore(offset uint32, side Security, value uint32) {
	rel := offset - offNVICBase
	switch {
	case rel < 0x20: // ISER
		s.groupStore(rel, value, func(exc int) { s.exc.setEnable(exc, side == Secure, true) })
	case rel >= 0x80 && rel < 0xA0: // ICER
		s.groupStore(rel-0x80, value, func(exc int) { s.exc.setEnable(exc, side == Secure, false) })
	case rel >= 0x100 && rel < 0x120: // ISPR
		s.groupStore(rel-0x100, value, func(exc int) { s.exc.setPending(exc, side == Secure, true) })
	case rel >= 0x180 && rel < 0x1A0: // ICPR
		s.groupStore(rel-0x180, value, func(exc int) { s.exc.clearPending(exc, side == Secure) })
	case rel >= 0x300 && rel < 0x400: // IPR
		irq := ExcExtIRQ0 + int(rel-0x300)
		pb := s.cfg.priorityBits()
		mask := uint8(0xFF) << (8 - pb)
		if pb >= 8 {
			mask = 0xFF
		}
		s.exc.nest.NVIC.setPriority(irq, uint8(value)&mask)
	}
}

func (s *SCS) groupLoad(rel uint32, side Security, get func(exc int) bool) uint32 {
	var v uint32
	base := ExcExtIRQ0 + int(rel)*8
	for i := 0; i < 32; i++ {
		if get(base + i) {
			v |= 1 << uint(i)
		}
	}
	return v
}

func (s *SCS) groupStore(rel uint32, value uint32, set func(exc int)) {
	base := ExcExtIRQ0 + int(rel)*8
	for i := 0; i < 32; i++ {
		if value&(1<<uint(i)) != 0 {
			set(base + i)
		}
	}
}
