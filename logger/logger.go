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

// Package logger implements a simple ring-buffer of tagged log entries.
//
// Entries are written with Log/Logf and accumulate until Clear empties
// the log; Write and Tail copy them to an io.Writer without removing
// them. The core uses this for diagnostic
// trails (fault escalation, lockup, vector fetch failures) that a harness
// may want to surface without the core depending on any particular UI.
package logger

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

type entry struct {
	tag     string
	message string
}

func (e entry) String() string {
	return fmt.Sprintf("%s: %s", e.tag, e.message)
}

var (
	crit    sync.Mutex
	entries []entry

	// maxEntries bounds the ring buffer. the oldest entries are dropped once
	// the limit is reached.
	maxEntries = 1000
)

// Log adds a plain message to the log under the given tag.
func Log(tag string, message string) {
	add(tag, message)
}

// Logf is like Log but accepts a fmt.Sprintf pattern.
func Logf(tag string, pattern string, values ...interface{}) {
	add(tag, fmt.Sprintf(pattern, values...))
}

func add(tag string, message string) {
	crit.Lock()
	defer crit.Unlock()

	entries = append(entries, entry{tag: tag, message: message})
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}
}

// Write writes all accumulated entries to w, one per line. The entries
// stay in the log.
func Write(w io.Writer) {
	crit.Lock()
	defer crit.Unlock()

	s := strings.Builder{}
	for _, e := range entries {
		s.WriteString(e.String())
		s.WriteRune('\n')
	}
	io.WriteString(w, s.String())
}

// Tail writes at most the last n entries to w, one per line. Asking for more
// entries than are available is not an error.
func Tail(w io.Writer, n int) {
	crit.Lock()
	defer crit.Unlock()

	if n > len(entries) {
		n = len(entries)
	}

	s := strings.Builder{}
	for _, e := range entries[len(entries)-n:] {
		s.WriteString(e.String())
		s.WriteRune('\n')
	}
	io.WriteString(w, s.String())
}

// Clear empties the log.
func Clear() {
	crit.Lock()
	defer crit.Unlock()
	entries = entries[:0]
}
