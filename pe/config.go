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

import (
	"github.com/armsim/pe/curated"
)

// SysTickVariant selects how many SysTick timers the implementation
// presents.
type SysTickVariant int

const (
	SysTickNone SysTickVariant = iota
	SysTickSingle
	SysTickDual
)

// Config is queried once at construction time (pe.New) and never
// mutated afterwards. See spec §6.
type Config struct {
	Main            bool
	Security        bool
	FPB             bool
	DWT             bool
	ITM             bool
	FPExt           bool
	SysTick         SysTickVariant
	HaltingDebug    bool
	DSPExt          bool
	NumMPURegionS   int
	NumMPURegionNS  int
	NumSAURegion    int
	MaxExc          int
	InitialVTOR     uint32
	ISAVersion      int
	SysTickIntFreq  uint64
	SysTickExtFreq  uint64
	PriorityBits    int

	// OverriddenExceptionsPended resolves the IMPL_DEF flag of the same
	// name: whether a derived exception that loses a fault-merge is left
	// pending rather than discarded. Default true.
	OverriddenExceptionsPended bool

	// EarlySGCheck resolves IMPL_DEF_EARLY_SG_CHECK: whether a T->NS
	// domain crossing with a non-SG first halfword is rejected before
	// the second halfword is fetched. Default true.
	EarlySGCheck bool

	// LocalMonitorCheckAddr resolves IMPL_DEF_LOCAL_MON_CHECK_ADDR:
	// whether an unchecked address participates in IsExclusive at all.
	// Default true (unchecked addresses do not satisfy the check).
	LocalMonitorCheckAddr bool
}

// DefaultConfig returns a Main+Security+FP Cortex-M33-class configuration,
// the most featureful combination the core supports.
func DefaultConfig() Config {
	return Config{
		Main:                       true,
		Security:                   true,
		FPB:                        true,
		DWT:                        true,
		ITM:                       true,
		FPExt:                      true,
		SysTick:                    SysTickDual,
		HaltingDebug:               true,
		DSPExt:                     true,
		NumMPURegionS:              8,
		NumMPURegionNS:             8,
		NumSAURegion:               8,
		MaxExc:                     48,
		InitialVTOR:                0,
		ISAVersion:                 8,
		SysTickIntFreq:             1_000_000,
		SysTickExtFreq:             0,
		PriorityBits:               3,
		OverriddenExceptionsPended: true,
		EarlySGCheck:               true,
		LocalMonitorCheckAddr:      true,
	}
}

// Validate checks the combination of fields for obvious contract
// violations. It does not mutate the receiver.
func (c Config) Validate() error {
	if c.NumMPURegionS < 0 || c.NumMPURegionS > 16 {
		return curated.Errorf("pe: NumMPURegionS out of range: %d", c.NumMPURegionS)
	}
	if c.NumMPURegionNS < 0 || c.NumMPURegionNS > 16 {
		return curated.Errorf("pe: NumMPURegionNS out of range: %d", c.NumMPURegionNS)
	}
	if c.NumSAURegion < 0 || c.NumSAURegion > 8 {
		return curated.Errorf("pe: NumSAURegion out of range: %d", c.NumSAURegion)
	}
	if c.MaxExc <= 0 || c.MaxExc >= 512 {
		return curated.Errorf("pe: MaxExc out of range: %d", c.MaxExc)
	}
	if c.Security && c.ISAVersion < 8 {
		return curated.Errorf("pe: Security extension requires ISAVersion >= 8")
	}
	pb := c.PriorityBits
	if !c.Main {
		pb = 2
	}
	if pb < 2 || pb > 8 {
		return curated.Errorf("pe: PriorityBits out of range: %d", c.PriorityBits)
	}
	return nil
}

// priorityBits returns the effective number of implemented priority bits,
// forcing 2 for the Baseline (non-Main) profile per spec §4.2.
func (c Config) priorityBits() uint {
	if !c.Main {
		return 2
	}
	return uint(c.PriorityBits)
}

// ExitCause is a bitset describing why step() returned control to the
// harness.
type ExitCause uint32

const (
	ExitNormal       ExitCause = 0
	ExitWFI          ExitCause = 1 << 0
	ExitWFE          ExitCause = 1 << 1
	ExitYield        ExitCause = 1 << 2
	ExitDebug        ExitCause = 1 << 3
	ExitSleepOnExit  ExitCause = 1 << 4
)

// Fixed exception numbers, per spec §6.
const (
	ExcReset        = 1
	ExcNMI          = 2
	ExcHardFault    = 3
	ExcMemManage    = 4
	ExcBusFault     = 5
	ExcUsageFault   = 6
	ExcSecureFault  = 7
	ExcSVCall       = 11
	ExcDebugMonitor = 12
	ExcPendSV       = 14
	ExcSysTick      = 15
	ExcExtIRQ0      = 16
)

// Security identifies which side of the Security Attribution boundary a
// requester, register bank, or exception belongs to.
type Security int

const (
	Secure Security = iota
	NonSecure
)

func (s Security) String() string {
	if s == Secure {
		return "Secure"
	}
	return "NonSecure"
}

// sideIndex maps Security to the 0/1 index used by banked arrays, with
// Secure conventionally at index 0 to match the bit0=Secure, bit1=NonSecure
// encoding spec §3 assigns to banked exception byte arrays.
func (s Security) sideIndex() int {
	if s == Secure {
		return 0
	}
	return 1
}
