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
	"sync"
	"time"

	"github.com/armsim/pe/logger"
)

const systickMax = 0x00ff_ffff // 24-bit down-counter

// SysTickTimer models the 24-bit down-counter as an epoch-anchored linear
// mapping between wall-clock time and counter value, per spec §4.4,
// rather than ticking on every Pe cycle.
type SysTickTimer struct {
	cfgMu sync.Mutex // guards epoch/reload/freq/enable/era cursors
	cbMu  sync.Mutex // held while a callback runs; SetCallback waits on it

	enabled bool
	clkSource bool // CSR.CLKSOURCE: true = processor clock (internal)

	intFreq uint64
	extFreq uint64

	reload uint32 // RVR, 24 bits
	epoch  time.Time
	initialCur uint32

	countEra int64
	intrEra  int64
	callbackEra int64

	callback func()
	now      func() time.Time // injectable for deterministic tests
}

// NewSysTickTimer constructs a disabled timer using the configured
// internal/external frequencies. A nil now defaults to time.Now.
func NewSysTickTimer(intFreq, extFreq uint64, now func() time.Time) *SysTickTimer {
	if now == nil {
		now = time.Now
	}
	t := &SysTickTimer{intFreq: intFreq, extFreq: extFreq, now: now}
	t.epoch = now()
	return t
}

func (t *SysTickTimer) freq() uint64 {
	if t.clkSource && t.extFreq != 0 {
		return t.extFreq
	}
	return t.intFreq
}

// SetClockSource sets CSR.CLKSOURCE; selecting the external source when
// its configured frequency is zero forces the internal source instead,
// per spec §4.4.
func (t *SysTickTimer) SetClockSource(external bool) {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	if external && t.extFreq == 0 {
		external = false
	}
	t.clkSource = external
	t.reanchorLocked()
}

func (t *SysTickTimer) SetEnabled(en bool) {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	t.enabled = en
	t.reanchorLocked()
	logger.Logf("systick", "enabled=%v reload=%d freq=%d", en, t.reload, t.freq())
}

func (t *SysTickTimer) SetReload(rvr uint32) {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	t.reload = rvr & systickMax
	t.reanchorLocked()
}

// SetCurrentValue implements the "write any value to CVR clears it to
// zero and reloads on the next tick" behavior, modeled here as resetting
// the epoch with an explicit initial value.
func (t *SysTickTimer) SetCurrentValue() {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	t.initialCur = 0
	t.epoch = t.now()
	t.countEra = 0
	t.intrEra = 0
	t.callbackEra = 0
}

// reanchorLocked resets the epoch to now and initialCur to the counter's
// current reading, per spec §4.4's reconfiguration rule. Callers must
// hold cfgMu.
func (t *SysTickTimer) reanchorLocked() {
	cur, era := t.readLocked(t.now())
	t.epoch = t.now()
	t.initialCur = cur
	t.countEra = era
	t.intrEra = era
	t.callbackEra = era
}

// readLocked computes (current_value, era) at instant now per the
// fixed-point mapping of spec §4.4. Callers must hold cfgMu.
func (t *SysTickTimer) readLocked(now time.Time) (uint32, int64) {
	period := uint64(t.reload) + 1
	if !t.enabled || t.freq() == 0 || period == 0 {
		return t.initialCur, t.countEra
	}
	elapsed := now.Sub(t.epoch)
	if elapsed < 0 {
		elapsed = 0
	}
	cyclesSinceEpoch := uint64(elapsed.Seconds()*float64(t.freq())) + uint64(t.reload-t.initialCur)
	era := int64(cyclesSinceEpoch / period)
	cur := t.reload - uint32(cyclesSinceEpoch%period)
	return cur, t.countEra + era
}

// CurrentValue returns the live 24-bit counter reading.
func (t *SysTickTimer) CurrentValue() uint32 {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	cur, _ := t.readLocked(t.now())
	return cur
}

// CountFlagAndClear reads COUNTFLAG (CSR bit 16), which is cleared by
// any CSR read per the architecture; the era cursor used for it is
// distinct from the one used for interrupt delivery so that a software
// poll does not suppress the interrupt-edge detection.
func (t *SysTickTimer) CountFlagAndClear() bool {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	now := t.now()
	cur, era := t.readLocked(now)
	fired := era > t.countEra
	// countEra is also the era base readLocked counts from, so the epoch
	// moves with it to keep the counter reading and the other cursors intact
	t.epoch = now
	t.initialCur = cur
	t.countEra = era
	return fired
}

// PendingInterrupt reports (and consumes) whether an era boundary was
// crossed since the last call, used by the exception engine to pend
// SysTick, per spec §4.3 step 1.
func (t *SysTickTimer) PendingInterrupt(tickint bool) bool {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	if !tickint {
		return false
	}
	_, era := t.readLocked(t.now())
	fired := era > t.intrEra
	t.intrEra = era
	return fired
}

// SetCallback installs cb, which the deadline goroutine invokes once per
// era boundary crossed on the external thread. Passing nil is ordered:
// this call does not return until any in-flight callback has completed,
// enforced by acquiring cbMu after releasing cfgMu so a callback that is
// itself trying to read the config does not deadlock against this call.
func (t *SysTickTimer) SetCallback(cb func()) {
	t.cfgMu.Lock()
	t.callback = cb
	t.cfgMu.Unlock()

	t.cbMu.Lock()
	defer t.cbMu.Unlock()
}

// FireDueCallbacks is invoked by the harness's deadline goroutine (not
// modeled here as an actual goroutine, to keep the core free of
// background state) whenever wall-clock time may have crossed the armed
// deadline. It is safe to call spuriously.
func (t *SysTickTimer) FireDueCallbacks() {
	t.cfgMu.Lock()
	_, era := t.readLocked(t.now())
	due := era > t.callbackEra
	t.callbackEra = era
	cb := t.callback
	t.cfgMu.Unlock()

	if !due || cb == nil {
		return
	}

	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	cb()
}

// Deadline returns the wall-clock instant of the next era boundary, for a
// harness that wants to arm a real timer rather than poll
// FireDueCallbacks.
func (t *SysTickTimer) Deadline() time.Time {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()

	period := uint64(t.reload) + 1
	if !t.enabled || t.freq() == 0 || period == 0 {
		return t.epoch.Add(24 * time.Hour)
	}
	_, era := t.readLocked(t.now())
	eraNext := era - t.countEra + 1
	cyclesToBoundary := uint64(eraNext)*period - uint64(t.reload-t.initialCur)
	secs := float64(cyclesToBoundary) / float64(t.freq())
	return t.epoch.Add(time.Duration(secs * float64(time.Second)))
}
