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
	"testing"
	"time"
)

// TestMailboxTriggerNMIUnblocksWaitForInterrupt checks the harness-facing
// WFI suspension point: a goroutine parked in WaitForInterrupt returns
// once another goroutine injects an NMI through the same mailbox.
func TestMailboxTriggerNMIUnblocksWaitForInterrupt(t *testing.T) {
	p, mem := newTestPe(t, DefaultConfig())
	mem.putHalf(0x1000, 0xBF30) // WFI
	box := NewInterruptMailbox(p)

	if cause := box.Step(); cause&ExitWFI == 0 {
		t.Fatalf("ExitCause = %#x, want ExitWFI set", cause)
	}

	done := make(chan struct{})
	go func() {
		box.WaitForInterrupt()
		close(done)
	}()

	box.TriggerNMI()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("WaitForInterrupt did not return after TriggerNMI")
	}
}
