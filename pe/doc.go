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

// Package pe implements the architecturally visible core of a single
// ARMv8-M processing element: register state, the SAU/MPU/monitor memory
// pipeline, the banked system-control register file, the exception
// entry/return state machine, the Thumb decode/execute tables, and the
// per-cycle stepping loop.
//
// Floating-point arithmetic and the host bus are external collaborators:
// the extension registers are carried as raw bit storage and the bus is
// reached through the Device interface. The FP data-processing encodings
// report UNDEFINED; register transfers, load/stores and lazy-stacking
// control are implemented.
package pe
