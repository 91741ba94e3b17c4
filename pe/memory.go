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

// MemoryPipeline composes SAU, MPU, permission checking, endianness, DWT
// matching and exclusive-monitor arbitration ahead of the Device or the
// nested SCS register file, per spec §4.1.
type MemoryPipeline struct {
	cfg Config
	nest *Nest
	dev  Device
	scs  *SCS

	global *GlobalMonitor
	local  *LocalMonitor
	peID   int

	exc *ExceptionEngine // back-reference for fault pending, set by Pe after construction
}

func NewMemoryPipeline(cfg Config, nest *Nest, dev Device, scs *SCS, global *GlobalMonitor, local *LocalMonitor, peID int) *MemoryPipeline {
	return &MemoryPipeline{cfg: cfg, nest: nest, dev: dev, scs: scs, global: global, local: local, peID: peID}
}

// secCheck is the result of SAU/IDAU classification, spec §4.1 step 2.
type secCheck struct {
	ns      bool
	nsc     bool
	sregion uint8
	srvalid bool
	iregion uint8
	irvalid bool
}

// fixedExempt reports whether addr falls in one of the fixed PPB-style
// windows that are exempt from SAU classification and inherit the
// requester's own security state.
func fixedExempt(addr uint32) bool {
	switch {
	case addr >= 0xE000_0000 && addr < 0xE000_1000:
		return true
	case addr >= 0xE002_0000 && addr < 0xE002_1000:
		return true
	case addr >= 0xE004_0000 && addr < 0xE004_1000:
		return true
	case addr >= 0xE00F_F000 && addr < 0xE010_0000:
		return true
	default:
		return false
	}
}

// securityCheck implements spec §4.1 step 2.
func (m *MemoryPipeline) securityCheck(addr uint32, isIFetch bool, curSecure Security) secCheck {
	if fixedExempt(addr) {
		return secCheck{ns: curSecure == NonSecure, srvalid: false, irvalid: false}
	}

	if !m.cfg.Security {
		return secCheck{ns: true}
	}

	idauExempt, idauNS, idauNSC, iregion, irvalid := m.dev.IDAUCheck(addr)
	if idauExempt {
		return secCheck{ns: curSecure == NonSecure}
	}

	sc := secCheck{iregion: iregion, irvalid: irvalid}

	sauEnabled := m.nest.SAU.Ctrl&0x1 != 0
	allNS := m.nest.SAU.Ctrl&0x2 != 0

	// SAU attribution: disabled, everything is Secure unless ALLNS;
	// enabled, regions mark NonSecure (or Secure-NSC via the RLAR NSC
	// bit) and anything not covered is Secure. A multi-region hit
	// invalidates the hit and classifies as Secure non-NSC, spec §4.1
	// step 2.
	sauNS, sauNSC := false, false
	if !sauEnabled {
		sauNS = allNS
	} else {
		hits := 0
		var hitIdx int
		for i, r := range m.nest.SAU.Regions {
			if !r.enabled() {
				continue
			}
			if addr >= r.base() && addr <= r.limit() {
				hits++
				hitIdx = i
			}
		}
		if hits == 1 {
			r := m.nest.SAU.Regions[hitIdx]
			sauNS = !r.nsc()
			sauNSC = r.nsc()
			sc.srvalid = true
			sc.sregion = uint8(hitIdx)
		}
	}

	// combine: the SAU NS flag is ANDed with the IDAU's, so the more
	// secure attribution wins. NSC survives only when no unit marks
	// the address plain Secure.
	sc.ns = sauNS && idauNS
	if !sc.ns {
		nsc := true
		if !sauNS && !sauNSC {
			nsc = false
		}
		if !idauNS && !idauNSC {
			nsc = false
		}
		sc.nsc = nsc
	}

	return sc
}

// defaultAttrs implements the address-decode table of spec §4.1.1.
func (m *MemoryPipeline) defaultAttrs(addr uint32) (isDevice bool, devType DeviceType, inner uint8, shareable bool, xn bool) {
	top := addr >> 29
	switch top {
	case 0b000:
		return false, DeviceNone, 0b10, false, false
	case 0b001:
		return false, DeviceNone, 0b01, false, false
	case 0b010:
		return true, DeviceNGnRE, 0b00, true, true
	case 0b011:
		return false, DeviceNone, 0b01, false, false
	case 0b100:
		return false, DeviceNone, 0b10, false, false
	case 0b101:
		return true, DeviceNGnRE, 0b00, true, true
	case 0b110:
		return true, DeviceNGnRE, 0b00, true, true
	default: // 0b111
		if (addr>>20)&0x1ff == 0 {
			return true, DeviceNGnRnE, 0b00, true, true
		}
		return true, DeviceNGnRE, 0b00, true, true
	}
}

// mpuResult is the outcome of the MPU walk.
type mpuResult struct {
	hit       bool
	ap        uint8
	xn        bool
	shareable bool
	region    uint8
}

func (m *MemoryPipeline) mpuCheck(addr uint32, side Security) mpuResult {
	bank := m.nest.MPU.get(side)
	if bank == nil || !bank.enabled() {
		_, _, _, shareable, xn := m.defaultAttrs(addr)
		return mpuResult{hit: true, ap: 0b01, xn: xn, shareable: shareable}
	}

	hits := 0
	var hit MPURegion
	var hitIdx int
	for i, r := range bank.Regions {
		if !r.enabled() {
			continue
		}
		if addr >= r.base() && addr <= r.limit() {
			hits++
			hit = r
			hitIdx = i
		}
	}

	switch hits {
	case 0:
		if m.nest.ccrPrivDefEna(side) {
			_, _, _, shareable, xn := m.defaultAttrs(addr)
			return mpuResult{hit: true, ap: 0b00, xn: xn, shareable: shareable}
		}
		return mpuResult{hit: false}
	case 1:
		return mpuResult{hit: true, ap: hit.ap(), xn: hit.xn(), region: uint8(hitIdx)}
	default:
		return mpuResult{hit: false} // multiple matches invalidate the hit
	}
}

// apPermitsRead reports whether the given RBAR.AP encoding allows a
// read: 00 RW-privileged, 01 RW-any, 10 RO-privileged, 11 RO-any.
func apPermitsRead(ap uint8, priv bool) bool {
	switch ap {
	case 0b00, 0b10:
		return priv
	default: // 0b01, 0b11
		return true
	}
}

// apPermitsWrite reports whether ap allows a write; only the two RW
// encodings ever do.
func apPermitsWrite(ap uint8, priv bool) bool {
	switch ap {
	case 0b00:
		return priv
	case 0b01:
		return true
	default: // 0b10, 0b11: read-only
		return false
	}
}

// byteReverse reverses the low `size` bytes of v.
func byteReverse(v uint32, size int) uint32 {
	switch size {
	case 2:
		return ((v & 0xff) << 8) | ((v >> 8) & 0xff)
	case 4:
		return ((v & 0xff) << 24) | ((v & 0xff00) << 8) | ((v >> 8) & 0xff00) | ((v >> 24) & 0xff)
	default:
		return v
	}
}

func inPPB(addr uint32) bool { return addr>>20 == 0xE00 }

// accessResult bundles the outcome of the full pipeline for one access.
type accessResult struct {
	value uint32
	exc   ExcInfo
}

// mem is the shared implementation behind MemAligned/MemAlignedStore and
// GetMemI: spec §4.1's numbered protocol in order.
func (m *MemoryPipeline) mem(addr uint32, size int, acc AccessType, priv bool, curSecure Security, write bool, storeVal uint32) accessResult {
	// 1. alignment
	if uint32(size) > 0 && addr%uint32(size) != 0 {
		if m.nest.ccrUnalignTrp(curSecure) {
			return accessResult{exc: m.raiseUsageFault(FaultUnaligned, curSecure)}
		}
		// CCR.UNALIGN_TRP==0: synthesize as a byte sequence
		return m.memAsBytes(addr, size, acc, priv, curSecure, write, storeVal)
	}

	// 2. SAU/IDAU
	sc := m.securityCheck(addr, acc == AccessIFetch, curSecure)
	requesterSecure := curSecure == Secure
	requestNS := !requesterSecure

	// 4. security fault detection
	if acc == AccessIFetch {
		// a Secure fetch falling through into NonSecure-attributed
		// instructions is an illegal transition, not a domain switch
		if !requestNS && sc.ns {
			return accessResult{exc: m.raiseSecureFault(FaultInvTran, addr)}
		}
		// a NonSecure fetch may enter Secure memory only through an
		// NSC region; the decoder then requires the SG opcode there
		if requestNS && !sc.ns && !sc.nsc {
			return accessResult{exc: m.raiseSecureFault(FaultInvEP, addr)}
		}
	} else {
		if !sc.ns && requestNS {
			kind := FaultAuViol
			if acc == AccessLazyFP {
				kind = FaultLSPErrSecure
			}
			return accessResult{exc: m.raiseSecureFault(kind, addr)}
		}
	}

	// resolve the access's own effective security: Secure requester to a
	// NonSecure-attributed address executes as NonSecure once past the
	// SAU gate; the reverse never reaches here undetected per the check
	// above.
	effSecure := curSecure
	if requesterSecure && sc.ns {
		effSecure = NonSecure
	}

	// 3. MPU
	mr := m.mpuCheck(addr, effSecure)
	if !mr.hit {
		kind := FaultDAccViol
		if acc == AccessIFetch {
			kind = FaultIAccViol
		} else if acc == AccessStack {
			kind = FaultMStkErr
			if !write {
				kind = FaultMUnstkErr
			}
		} else if acc == AccessLazyFP {
			kind = FaultMLSPErr
		}
		return accessResult{exc: m.raiseMemManage(kind, addr, effSecure)}
	}

	// 5. permission check
	xn := mr.xn
	if addr>>29 == 0b111 {
		xn = true
	}
	if acc == AccessIFetch && xn {
		return accessResult{exc: m.raiseMemManage(FaultIAccViol, addr, effSecure)}
	}
	if write && !apPermitsWrite(mr.ap, priv) {
		kind := FaultDAccViol
		if acc == AccessStack {
			kind = FaultMStkErr
		}
		return accessResult{exc: m.raiseMemManage(kind, addr, effSecure)}
	}
	if !write && !apPermitsRead(mr.ap, priv) {
		return accessResult{exc: m.raiseMemManage(FaultDAccViol, addr, effSecure)}
	}

	// 6. access: SCS or Device. Endianness (step 7) is applied to the
	// outgoing value before a store and to the incoming value after a
	// load, since the bus itself only ever carries the architecturally
	// little-endian representation the Device/SCS expect.
	bigEndian := m.nest.aircrEndianness() && !inPPB(addr)
	busStoreVal := storeVal
	if write && bigEndian {
		busStoreVal = byteReverse(storeVal, size)
	}

	var val uint32
	var err error
	if addr >= 0xE000_0000 && addr < 0xE010_0000 {
		if size != 4 {
			return accessResult{exc: m.raiseBusFault(FaultPreciseErr, addr, true)}
		}
		if write {
			err = m.scs.Store(addr, busStoreVal, effSecure == Secure, priv)
		} else {
			val, err = m.scs.Load(addr, effSecure == Secure, priv)
		}
	} else {
		desc := AddressDescriptor{AccType: acc, Privileged: priv, NonSecure: effSecure == NonSecure, Write: write}
		desc.IsDevice, desc.DevType, desc.InnerAttrs, desc.Shareable, _ = m.defaultAttrs(addr)
		if write {
			err = m.dev.Store(addr, size, desc, busStoreVal)
		} else {
			val, err = m.dev.Load(addr, size, desc)
		}
	}

	if err != nil {
		return accessResult{exc: m.busFaultFromDeviceError(acc, addr, write)}
	}

	// 7. endianness (load side)
	if !write && bigEndian {
		val = byteReverse(val, size)
	}

	// 8. DWT data match (data accesses only, not fetches)
	if m.cfg.DWT && acc != AccessIFetch && acc != AccessVectorTable {
		m.nest.DWT.Match(addr, write)
	}

	// 9. exclusive side effects: a successful shareable store clears
	// other PEs' reservations, never the storing PE's own. The
	// exclusive-store path (acc == AccessOrdered) performs this itself
	// while already holding the monitor lock.
	if write && m.global != nil && acc != AccessOrdered {
		_, _, _, sh, _ := m.defaultAttrs(addr)
		if sh {
			m.global.ClearExclusiveByAddress(addr, uint32(size), m.peID)
		}
	}

	return accessResult{value: val}
}

func (m *MemoryPipeline) memAsBytes(addr uint32, size int, acc AccessType, priv bool, curSecure Security, write bool, storeVal uint32) accessResult {
	var val uint32
	for i := 0; i < size; i++ {
		shift := uint(i * 8)
		r := m.mem(addr+uint32(i), 1, acc, priv, curSecure, write, (storeVal>>shift)&0xff)
		if r.exc.hasFault() {
			return r
		}
		val |= (r.value & 0xff) << shift
	}
	return accessResult{value: val}
}

func (m *MemoryPipeline) busFaultFromDeviceError(acc AccessType, addr uint32, write bool) ExcInfo {
	kind := FaultPreciseErr
	switch acc {
	case AccessStack:
		if write {
			kind = FaultStkErr
		} else {
			kind = FaultUnstkErr
		}
	case AccessLazyFP:
		kind = FaultBFLSPErr
	}
	return m.raiseBusFault(kind, addr, acc == AccessNormal || acc == AccessOrdered)
}

// MemAligned is the load entry point of spec §4.1.
func (m *MemoryPipeline) MemAligned(addr uint32, size int, acc AccessType, priv bool, curSecure Security) (uint32, ExcInfo) {
	r := m.mem(addr, size, acc, priv, curSecure, false, 0)
	return r.value, r.exc
}

// MemAlignedStore is the store entry point of spec §4.1.
func (m *MemoryPipeline) MemAlignedStore(addr uint32, size int, acc AccessType, priv bool, curSecure Security, value uint32) ExcInfo {
	r := m.mem(addr, size, acc, priv, curSecure, true, value)
	return r.exc
}

// MemOrdered is the load entry point for exclusive/acquire sequences.
// The single-threaded interpreter satisfies the ordering trivially, so
// it differs from MemAligned only in access-type tagging.
func (m *MemoryPipeline) MemOrdered(addr uint32, size int, priv bool, curSecure Security) (uint32, ExcInfo) {
	r := m.mem(addr, size, AccessOrdered, priv, curSecure, false, 0)
	return r.value, r.exc
}

// MemOrderedStore is the store counterpart of MemOrdered.
func (m *MemoryPipeline) MemOrderedStore(addr uint32, size int, priv bool, curSecure Security, value uint32) ExcInfo {
	r := m.mem(addr, size, AccessOrdered, priv, curSecure, true, value)
	return r.exc
}

// MemUnpriv forces an unprivileged access regardless of the current
// execution privilege, per the LDRT/STRT family.
func (m *MemoryPipeline) MemUnpriv(addr uint32, size int, curSecure Security, write bool, value uint32) (uint32, ExcInfo) {
	r := m.mem(addr, size, AccessUnpriv, false, curSecure, write, value)
	return r.value, r.exc
}

// GetMemI fetches one halfword for instruction fetch.
func (m *MemoryPipeline) GetMemI(addr uint32, priv bool, curSecure Security) (uint16, ExcInfo) {
	v, exc := m.MemAligned(addr, 2, AccessIFetch, priv, curSecure)
	return uint16(v), exc
}

// raiseUsageFault records the UFSR bit for kind (the UFSR occupies
// CFSR[31:16]) and pends UsageFault.
func (m *MemoryPipeline) raiseUsageFault(kind FaultKind, secure Security) ExcInfo {
	var bit uint32
	switch kind {
	case FaultUndefInstr:
		bit = 1 << 16
	case FaultInvState:
		bit = 1 << 17
	case FaultInvPC:
		bit = 1 << 18
	case FaultNoCP:
		bit = 1 << 19
	case FaultStkOf:
		bit = 1 << 20
	case FaultUnaligned:
		bit = 1 << 24
	case FaultDivByZero:
		bit = 1 << 25
	}
	m.nest.CFSR.set(secure, m.nest.CFSR.get(secure)|bit)
	return m.exc.raise(ExcUsageFault, secure == Secure, kind, true)
}

func (m *MemoryPipeline) raiseMemManage(kind FaultKind, addr uint32, secure Security) ExcInfo {
	var bit uint32
	marValid := false
	switch kind {
	case FaultIAccViol:
		bit = 1 << 0
	case FaultDAccViol:
		bit = 1 << 1
		marValid = true
		m.nest.MMFAR.set(secure, addr)
	case FaultMStkErr:
		bit = 1 << 4
	case FaultMUnstkErr:
		bit = 1 << 3
	case FaultMLSPErr:
		bit = 1 << 5
	}
	if marValid {
		bit |= 1 << 7
	}
	m.nest.CFSR.set(secure, m.nest.CFSR.get(secure)|bit)
	return m.exc.raise(ExcMemManage, secure == Secure, kind, true)
}

func (m *MemoryPipeline) raiseBusFault(kind FaultKind, addr uint32, setAddr bool) ExcInfo {
	if m.nest.ccrBfhfnmign(Secure) && m.exc.executionPriority(true) < 0 {
		return noFault()
	}
	var bit uint32
	switch kind {
	case FaultStkErr:
		bit = 1 << 12
	case FaultUnstkErr:
		bit = 1 << 11
	case FaultBFLSPErr:
		bit = 1 << 13
	case FaultPreciseErr:
		bit = 1<<9 | 1<<15
		if setAddr {
			m.nest.BFAR.set(Secure, addr)
		}
	}
	m.nest.CFSR.set(Secure, m.nest.CFSR.get(Secure)|bit)
	return m.exc.raise(ExcBusFault, true, kind, true)
}

func (m *MemoryPipeline) raiseSecureFault(kind FaultKind, addr uint32) ExcInfo {
	var bit uint32
	switch kind {
	case FaultInvEP:
		bit = 1 << 0
	case FaultInvTran:
		bit = 1 << 1
	case FaultAuViol:
		bit = 1 << 2
		m.nest.SFAR = addr
		bit |= 1 << 7
	case FaultLSPErrSecure:
		bit = 1 << 6
	case FaultInvER:
		bit = 1 << 3
	case FaultInvIS:
		bit = 1 << 4
	case FaultLSErr:
		bit = 1 << 5
	}
	m.nest.SFSR |= bit
	return m.exc.raise(ExcSecureFault, true, kind, true)
}
