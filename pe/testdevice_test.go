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

import "testing"

// flatMemory is a minimal Device backing a single flat byte array,
// little-endian, with every address reported NonSecure and no IDAU
// regions. It exists only to drive the stepping-loop tests; it does not
// model any real bus timing or faulting behavior.
type flatMemory struct {
	bytes []byte
}

func newFlatMemory(size int) *flatMemory {
	return &flatMemory{bytes: make([]byte, size)}
}

func (f *flatMemory) putWord(addr, v uint32) {
	f.bytes[addr] = byte(v)
	f.bytes[addr+1] = byte(v >> 8)
	f.bytes[addr+2] = byte(v >> 16)
	f.bytes[addr+3] = byte(v >> 24)
}

func (f *flatMemory) putHalf(addr uint32, v uint16) {
	f.bytes[addr] = byte(v)
	f.bytes[addr+1] = byte(v >> 8)
}

// getWord reads the raw little-endian bus bytes back as a word, used by
// tests that need to inspect what was actually stored rather than what
// round-trips back out through the pipeline.
func (f *flatMemory) getWord(addr uint32) uint32 {
	return uint32(f.bytes[addr]) | uint32(f.bytes[addr+1])<<8 | uint32(f.bytes[addr+2])<<16 | uint32(f.bytes[addr+3])<<24
}

func (f *flatMemory) Load(addr uint32, size int, desc AddressDescriptor) (uint32, error) {
	var v uint32
	for i := 0; i < size; i++ {
		v |= uint32(f.bytes[int(addr)+i]) << uint(i*8)
	}
	return v, nil
}

func (f *flatMemory) Store(addr uint32, size int, desc AddressDescriptor, val uint32) error {
	for i := 0; i < size; i++ {
		f.bytes[int(addr)+i] = byte(val >> uint(i*8))
	}
	return nil
}

func (f *flatMemory) IDAUCheck(addr uint32) (exempt, ns, nsc bool, iregion uint8, irvalid bool) {
	return false, true, false, 0, false
}

func (f *flatMemory) DebugPins() uint32 { return DebugPinDBGEN | DebugPinNIDEN }

// newTestPe builds a Pe over a flatMemory large enough for a vector
// table plus a small code/stack region, with the reset vector pointing
// at address 0x1000 (Thumb) and the initial SP at the top of the
// memory, and returns both so tests can poke code bytes in directly.
func newTestPe(t *testing.T, cfg Config) (*Pe, *flatMemory) {
	t.Helper()
	mem := newFlatMemory(0x2000)
	mem.putWord(0x0, 0x2000) // initial SP
	mem.putWord(0x4, 0x1001) // reset vector, Thumb bit set

	p, err := New(cfg, mem, nil, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, mem
}
