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

// Package curated is a helper package for the plain Go language error type.
//
// Curated errors are created with Errorf(), which behaves like fmt.Errorf
// but remembers the formatting pattern. Is() and Has() can then check
// whether an error (or anything it wraps) was created from a particular
// pattern, without string-matching the rendered message.
package curated

import (
	"errors"
	"fmt"
	"strings"
)

// Values is the type used to specify arguments for Errorf.
type Values []interface{}

type curated struct {
	message string
	values  Values
	wrapped error
}

// Errorf creates a new curated error.
func Errorf(message string, values ...interface{}) error {
	c := curated{
		message: message,
		values:  values,
	}
	for _, v := range values {
		if e, ok := v.(error); ok {
			c.wrapped = e
			break
		}
	}
	return c
}

// Error implements the go language error interface.
func (er curated) Error() string {
	s := fmt.Errorf(er.message, er.values...).Error()

	p := strings.SplitN(s, ": ", 3)
	if len(p) > 1 && p[0] == p[1] {
		return strings.Join(p[1:], ": ")
	}
	return strings.Join(p, ": ")
}

// Unwrap supports errors.Is/errors.As over curated errors that wrap another
// error value among their formatting arguments.
func (er curated) Unwrap() error {
	return er.wrapped
}

// Is returns true if err (or anything it wraps) was created by Errorf with
// the given pattern.
func Is(err error, pattern string) bool {
	for err != nil {
		if er, ok := err.(curated); ok && er.message == pattern {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Has is an alias of Is kept for readability at call sites that are
// scanning a chain rather than testing a single error.
func Has(err error, pattern string) bool {
	return Is(err, pattern)
}
