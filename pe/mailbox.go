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

import "sync"

// InterruptMailbox serializes calls into a single-threaded Pe from
// asynchronous sources: the SysTick deadline thread and a harness thread
// injecting NMI/external interrupts, per spec §5. It holds one mutex
// around TriggerNMI, TriggerExtInterrupt and Step.
type InterruptMailbox struct {
	mu sync.Mutex
	pe *Pe
}

func NewInterruptMailbox(pe *Pe) *InterruptMailbox {
	return &InterruptMailbox{pe: pe}
}

func (m *InterruptMailbox) Step() ExitCause {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pe.Step()
}

func (m *InterruptMailbox) TriggerNMI() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pe.TriggerNMI()
}

func (m *InterruptMailbox) TriggerExtInterrupt(irq int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pe.TriggerExtInterrupt(irq)
}

// WaitForInterrupt blocks the calling goroutine until an exception is
// pending at the ignore-PRIMASK execution priority, implementing the
// harness side of the WFI suspension point described in spec §5. It is
// a simple spin with no backoff; a production harness would instead
// park on a condition variable signaled by TriggerNMI/TriggerExtInterrupt
// and the SysTick deadline callback.
func (m *InterruptMailbox) WaitForInterrupt() {
	for {
		m.mu.Lock()
		pending := m.pe.IsExceptionPending(true)
		m.mu.Unlock()
		if pending {
			return
		}
	}
}
