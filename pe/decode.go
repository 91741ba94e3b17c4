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

// internalAbort is the second error category of spec §7/§9: control
// transfers used only within decode/execute, never visible outside the
// top-level step.
type internalAbort int

const (
	abortNone internalAbort = iota
	abortSeeUndefined
	abortEndOfInstruction
	abortUnpredictable
)

// sgOpcode is the 32-bit Secure Gateway instruction, the only legal
// NS->S entry point other than an exception return (spec §4.6, §GLOSSARY).
const sgOpcodeHi, sgOpcodeLo = 0xE97F, 0xE97F

// is32bitPrefix reports whether a fetched halfword begins a 32-bit Thumb
// instruction, per spec §4.6 step 2.
func is32bitPrefix(hw uint16) bool {
	top5 := hw >> 11
	return top5 == 0b11101 || top5 == 0b11110 || top5 == 0b11111
}

// Decoder fetches and decodes one instruction from the given PC,
// honoring the SAU-gated two-step dispatch of spec §4.6.
type Decoder struct {
	mem   *MemoryPipeline
	state *State
	cfg   Config
}

func NewDecoder(mem *MemoryPipeline, state *State, cfg Config) *Decoder {
	return &Decoder{mem: mem, state: state, cfg: cfg}
}

// decoded is the fetch/decode result consumed by the executor. fromNSC
// records that the instruction was fetched from a Secure NSC region,
// which is what entitles an SG executed in NonSecure state to switch
// the PE to Secure (spec §4.6, §GLOSSARY).
type decoded struct {
	opcode  uint32 // for 16-bit instructions, the low 16 bits only
	is32bit bool
	length  int
	fromNSC bool
	fault   ExcInfo
}

// fetch implements spec §4.6: fetch the first halfword, detect a T->NS
// domain crossing that isn't an SG, then fetch the second halfword if
// the first indicated a 32-bit instruction. A NonSecure fetch landing
// in an NSC region passes the memory pipeline's security gate, so the
// SG requirement is enforced here: anything other than the SG opcode
// at such an address is an invalid entry point (SFSR.INVEP). With
// EarlySGCheck the first halfword is rejected before the second is
// fetched; otherwise both halfwords are read first.
func (d *Decoder) fetch(pc uint32) decoded {
	priv := !d.state.Ctrl.get(d.state.CurrentSecurity).NPriv

	sc := d.mem.securityCheck(pc, true, d.state.CurrentSecurity)
	fromNSC := !sc.ns && sc.nsc
	nscEntry := fromNSC && d.state.CurrentSecurity == NonSecure

	first, exc := d.mem.GetMemI(pc, priv, d.state.CurrentSecurity)
	if exc.hasFault() {
		return decoded{fault: exc}
	}

	if d.cfg.EarlySGCheck && nscEntry && first != sgOpcodeHi {
		return decoded{fault: d.mem.raiseSecureFault(FaultInvEP, pc)}
	}

	if !is32bitPrefix(first) {
		if nscEntry {
			// no 16-bit instruction can be an SG
			return decoded{fault: d.mem.raiseSecureFault(FaultInvEP, pc)}
		}
		return decoded{opcode: uint32(first), length: 2}
	}

	second, exc := d.mem.GetMemI(pc+2, priv, d.state.CurrentSecurity)
	if exc.hasFault() {
		return decoded{fault: exc}
	}

	if nscEntry && (first != sgOpcodeHi || second != sgOpcodeLo) {
		return decoded{fault: d.mem.raiseSecureFault(FaultInvEP, pc)}
	}

	return decoded{opcode: uint32(first)<<16 | uint32(second), is32bit: true, length: 4, fromNSC: fromNSC}
}

// conditionPassed implements spec §4.6's _ConditionPassed: an explicit
// override from a conditional-branch decoder takes precedence over the
// ITSTATE-derived default condition.
func conditionPassed(state *State, defaultCond uint8) bool {
	cond := defaultCond
	if state.CurCondOverride >= 0 {
		cond = uint8(state.CurCondOverride)
	}
	return state.XPSR.conditionHolds(cond)
}

// defaultCond derives this_instr_default_cond from ITSTATE, per spec §4.6.
func defaultCondFromIT(x XPSR) uint8 {
	if !x.inITBlock() {
		return 0b1110
	}
	return x.itCond()
}
