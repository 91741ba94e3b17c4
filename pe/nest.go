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

// MPURegion is one MPU region entry: base/limit plus the attribute and
// enable bits (RBAR/RLAR).
type MPURegion struct {
	RBAR uint32
	RLAR uint32
}

func (r MPURegion) enabled() bool { return r.RLAR&0x1 != 0 }
func (r MPURegion) base() uint32  { return r.RBAR &^ 0x1f }
func (r MPURegion) limit() uint32 { return r.RLAR | 0x1f }
func (r MPURegion) xn() bool      { return r.RBAR&0x10 != 0 }
func (r MPURegion) ap() uint8     { return uint8(r.RBAR>>1) & 0x3 }

// SAURegion is one SAU region entry (RBAR/RLAR pair); NSC is bit1 of RLAR.
type SAURegion struct {
	RBAR uint32
	RLAR uint32
}

func (r SAURegion) enabled() bool { return r.RLAR&0x1 != 0 }
func (r SAURegion) nsc() bool     { return r.RLAR&0x2 != 0 }
func (r SAURegion) base() uint32  { return r.RBAR &^ 0x1f }
func (r SAURegion) limit() uint32 { return r.RLAR | 0x1f }

// MPUBank holds one security side's MPU register file.
type MPUBank struct {
	Type uint32
	Ctrl uint32
	RNR  uint32
	MAIR [2]uint32
	Regions []MPURegion
}

func (b *MPUBank) enabled() bool { return b.Ctrl&0x1 != 0 }
func (b *MPUBank) privDefEna() bool { return false } // always false; Nest.ccrPrivDefEna reads the CCR bit

// Nest is the system-control register file, banked S/NS, gated by the
// software/internal/external access classification of spec §4.2.
type Nest struct {
	cfg Config

	CFSR  banked[uint32]
	HFSR  uint32 // unbanked: a single HardFault status shared by both sides
	DFSR  uint32
	MMFAR banked[uint32]
	BFAR  banked[uint32]

	SHPR banked[[12]uint8] // SHPR1..3 flattened, indexed by (exc-4)

	CCR  banked[uint32]
	SCR  uint32
	AIRCR banked[uint32]

	CPACR banked[uint32]
	NSACR uint32

	MPU banked[*MPUBank]
	SAU struct {
		Ctrl    uint32
		RNR     uint32
		Regions []SAURegion
	}

	SFSR uint32
	SFAR uint32

	DAUTHCTRL uint32

	FPCCR banked[uint32]
	FPCAR banked[uint32]
	FPDSCR banked[uint32]

	VTOR banked[uint32]
	ICSR uint32
	DHCSR uint32
	DEMCR uint32

	SystCSR  banked[uint32]
	SystRVR  banked[uint32]
	SystCVR  banked[uint32]
	SystCalib banked[uint32]

	NVIC NVIC
	DWT  DWT
	FPB  FPB
}

// NewNest allocates register storage sized according to cfg.
func NewNest(cfg Config) *Nest {
	n := &Nest{cfg: cfg}
	n.MPU.set(Secure, &MPUBank{Regions: make([]MPURegion, cfg.NumMPURegionS)})
	n.MPU.set(NonSecure, &MPUBank{Regions: make([]MPURegion, cfg.NumMPURegionNS)})
	n.SAU.Regions = make([]SAURegion, cfg.NumSAURegion)
	n.VTOR.set(Secure, cfg.InitialVTOR)
	n.NVIC = NVIC{priorities: make([]uint8, cfg.MaxExc+1)}
	return n
}

// ccrPrivDefEna reports CCR.PRIVDEFENA for side, used by the MPU default
// map fallback in memory.go.
func (n *Nest) ccrPrivDefEna(side Security) bool {
	return n.CCR.get(side)&(1<<2) != 0
}

// ccrUnalignTrp reports CCR.UNALIGN_TRP for side.
func (n *Nest) ccrUnalignTrp(side Security) bool {
	return n.CCR.get(side)&(1<<3) != 0
}

// ccrStkOfHfNmiIgn reports CCR.STKOFHFNMIGN for side.
func (n *Nest) ccrStkOfHfNmiIgn(side Security) bool {
	return n.CCR.get(side)&(1<<10) != 0
}

// ccrBfhfnmign reports CCR.BFHFNMIGN for side.
func (n *Nest) ccrBfhfnmign(side Security) bool {
	return n.CCR.get(side)&(1<<8) != 0
}

// aircrEndianness reports the big-endian configuration bit, shared
// across banks (only the Secure copy is architecturally meaningful).
func (n *Nest) aircrEndianness() bool {
	return n.AIRCR.get(Secure)&(1<<15) != 0
}

func (n *Nest) aircrPrigroup() uint32 {
	return (n.AIRCR.get(Secure) >> 8) & 0x7
}

func (n *Nest) aircrPris() bool {
	return n.Security() && n.AIRCR.get(Secure)&(1<<14) != 0
}

func (n *Nest) aircrBfhfnmins() bool {
	return n.Security() && n.AIRCR.get(Secure)&(1<<13) != 0
}

func (n *Nest) Security() bool { return n.cfg.Security }

// NVIC holds the per-exception configurable priority, keyed by exception
// number directly (covering both the fixed/system exceptions and external
// IRQs) rather than split into IPR register words, since the
// register-word packing is a software-access-path concern (scs.go), not
// an architectural one. Enable/pending/active state lives in State's
// ExcEnable/ExcPending/ExcActive arrays.
type NVIC struct {
	priorities []uint8
}

func (v *NVIC) priority(exc int) uint8 {
	if exc < 0 || exc >= len(v.priorities) {
		return 0
	}
	return v.priorities[exc]
}

func (v *NVIC) setPriority(exc int, p uint8) {
	if exc < 0 || exc >= len(v.priorities) {
		return
	}
	v.priorities[exc] = p
}

// DWT is a minimal Data Watchpoint and Trace comparator bank: enough to
// detect an address/value match on a completed data access and report it
// to the exception engine as a debug event, per spec §4.1 step 8.
type DWT struct {
	Comparators [4]DWTComparator
	CYCCNT      uint32
}

type DWTComparator struct {
	Enabled bool
	Addr    uint32
	Mask    uint8 // ignored low address bits, as a power-of-two size
	OnWrite bool
	OnRead  bool
	OnExec  bool
	Matched bool
}

// Match feeds one completed data access to the comparator bank and
// returns true if any enabled comparator matched, setting its MATCHED
// bit (spec §4.1 step 8).
func (d *DWT) Match(addr uint32, write bool) bool {
	hit := false
	for i := range d.Comparators {
		c := &d.Comparators[i]
		if !c.Enabled {
			continue
		}
		if write && !c.OnWrite {
			continue
		}
		if !write && !c.OnRead {
			continue
		}
		ignoreMask := uint32(1)<<c.Mask - 1
		if (addr &^ ignoreMask) != (c.Addr &^ ignoreMask) {
			continue
		}
		c.Matched = true
		hit = true
	}
	return hit
}

// MatchInstr feeds a completed instruction address to the comparator
// bank, per spec §4.7 step 5.
func (d *DWT) MatchInstr(pc uint32) bool {
	hit := false
	for i := range d.Comparators {
		c := &d.Comparators[i]
		if !c.Enabled || !c.OnExec {
			continue
		}
		ignoreMask := uint32(1)<<c.Mask - 1
		if (pc &^ ignoreMask) != (c.Addr &^ ignoreMask) {
			continue
		}
		c.Matched = true
		hit = true
	}
	return hit
}

// FPB is the Flash Patch and Breakpoint comparator bank: instruction
// address comparators that raise a debug event when the fetched PC
// matches, per spec §4.7 step 4. The flash-patch remap function is not
// modeled; comparators act as breakpoints only.
type FPB struct {
	Ctrl        uint32
	Comparators [8]FPBComparator
}

type FPBComparator struct {
	Enabled bool
	Addr    uint32
}

func (f *FPB) enabled() bool { return f.Ctrl&0x1 != 0 }

// Match reports whether an enabled comparator covers the instruction
// at pc.
func (f *FPB) Match(pc uint32) bool {
	if !f.enabled() {
		return false
	}
	for i := range f.Comparators {
		c := &f.Comparators[i]
		if c.Enabled && c.Addr&^1 == pc&^1 {
			return true
		}
	}
	return false
}
