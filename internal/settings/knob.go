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
	"math"

	"CranePowerCtl/internal/limits"
)

// Supported is the single capability gate: a knob exists only when every
// range it depends on is present in the descriptor.
func Supported(first *limits.RangeLimit, rest ...*limits.RangeLimit) bool {
	if first == nil {
		return false
	}
	for _, r := range rest {
		if r == nil {
			return false
		}
	}
	return true
}

// Clamp constrains v to r, treating a missing bound as 0 or MaxUint64.
func Clamp(v uint64, r *limits.RangeLimit) uint64 {
	return min(max(v, r.MinOr(0)), r.MaxOr(math.MaxUint64))
}

// Knob is a numeric setting that is either unsupported (no bounds) or
// supported with an optional value. Values stored through Set lie within the
// bounds, a restored initial value is kept as given.
type Knob struct {
	bounds *limits.RangeLimit
	value  *uint64
}

// NewKnob gates initial by capability without clamping it, matching how
// persisted records are restored.
func NewKnob(bounds *limits.RangeLimit, initial *uint64) Knob {
	k := Knob{bounds: bounds}
	if Supported(bounds) {
		k.value = copyUint(initial)
	}
	return k
}

func (k Knob) Supported() bool {
	return Supported(k.bounds)
}

func (k Knob) Get() *uint64 {
	return copyUint(k.value)
}

// Set stores the clamped value, or clears it when v is nil. It reports false
// and leaves the knob untouched when the knob is unsupported.
func (k *Knob) Set(v *uint64) bool {
	if !k.Supported() {
		return false
	}
	if v == nil {
		k.value = nil
		return true
	}
	clamped := Clamp(*v, k.bounds)
	k.value = &clamped
	return true
}

func copyUint(v *uint64) *uint64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
