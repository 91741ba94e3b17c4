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

package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/armsim/pe/pe"
)

// uartAddr is the memory-mapped console register this harness wires
// below the SCS window: a single byte-wide data register where a store
// writes a character to consoleOut and a load returns the next byte read
// from consoleIn, waiting until one arrives (0 once input has ended or
// failed).
const uartAddr = 0x4000_0000

// flatDevice backs a Pe with a single flat RAM/flash array plus one
// UART-style console register, the same two-region shape the teacher's
// own emulator main loop wires up for its console device. Every address
// is reported NonSecure with no IDAU regions, matching a single-state
// evaluation board image.
type flatDevice struct {
	mem []byte

	consoleOut *bufio.Writer
	consoleIn  *bufio.Reader
}

func newFlatDevice(size int, out *os.File, in *os.File) *flatDevice {
	return &flatDevice{
		mem:        make([]byte, size),
		consoleOut: bufio.NewWriter(out),
		consoleIn:  bufio.NewReader(in),
	}
}

func (d *flatDevice) loadImage(data []byte) error {
	if len(data) > len(d.mem) {
		return fmt.Errorf("image of %d bytes does not fit in %d bytes of memory", len(data), len(d.mem))
	}
	copy(d.mem, data)
	return nil
}

func (d *flatDevice) Load(addr uint32, size int, desc pe.AddressDescriptor) (uint32, error) {
	if addr == uartAddr {
		b, err := d.consoleIn.ReadByte()
		if err != nil {
			return 0, nil
		}
		return uint32(b), nil
	}
	if int(addr)+size > len(d.mem) {
		return 0, fmt.Errorf("load out of range: %#x", addr)
	}
	var v uint32
	for i := 0; i < size; i++ {
		v |= uint32(d.mem[int(addr)+i]) << uint(i*8)
	}
	return v, nil
}

func (d *flatDevice) Store(addr uint32, size int, desc pe.AddressDescriptor, val uint32) error {
	if addr == uartAddr {
		d.consoleOut.WriteByte(byte(val))
		d.consoleOut.Flush()
		return nil
	}
	if int(addr)+size > len(d.mem) {
		return fmt.Errorf("store out of range: %#x", addr)
	}
	for i := 0; i < size; i++ {
		d.mem[int(addr)+i] = byte(val >> uint(i*8))
	}
	return nil
}

func (d *flatDevice) IDAUCheck(addr uint32) (exempt, ns, nsc bool, iregion uint8, irvalid bool) {
	return false, true, false, 0, false
}

func (d *flatDevice) DebugPins() uint32 {
	return pe.DebugPinDBGEN | pe.DebugPinNIDEN
}
