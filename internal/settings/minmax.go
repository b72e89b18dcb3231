/**
 * Copyright (c) 2024 Peking University and Peking University
 * Changsha Institute for Computing and Digital Economy
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package settings

import (
	"cmp"
	"fmt"

	"CranePowerCtl/internal/persist"
)

type MinMax[T cmp.Ordered] struct {
	Min T `json:"min"`
	Max T `json:"max"`
}

// NewMinMax orders its arguments so that Min <= Max.
func NewMinMax[T cmp.Ordered](a, b T) MinMax[T] {
	if a > b {
		a, b = b, a
	}
	return MinMax[T]{Min: a, Max: b}
}

func (m MinMax[T]) Contains(v T) bool {
	return v >= m.Min && v <= m.Max
}

func (m MinMax[T]) String() string {
	return fmt.Sprintf("%v-%v", m.Min, m.Max)
}

// MinMaxFromJSON converts a persisted clock range, nil when both bounds are
// missing. A single missing bound takes the value of the other one. Version 0
// writers did not order the pair, so it is ordered here; later versions are
// kept as written unless inverted.
func MinMaxFromJSON(j persist.MinMaxJSON, version uint64) *MinMax[uint64] {
	var lo, hi uint64
	switch {
	case j.Min != nil && j.Max != nil:
		lo, hi = *j.Min, *j.Max
	case j.Min != nil:
		lo, hi = *j.Min, *j.Min
	case j.Max != nil:
		lo, hi = *j.Max, *j.Max
	default:
		return nil
	}

	m := MinMax[uint64]{Min: lo, Max: hi}
	if version == 0 || lo > hi {
		m = NewMinMax(lo, hi)
	}
	return &m
}

func MinMaxToJSON(m MinMax[uint64]) persist.MinMaxJSON {
	lo, hi := m.Min, m.Max
	return persist.MinMaxJSON{Min: &lo, Max: &hi}
}
