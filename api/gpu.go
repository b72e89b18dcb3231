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

package api

// RangeLimit is an inclusive [Min, Max] range shown to UI consumers.
type RangeLimit[T any] struct {
	Min T `json:"min"`
	Max T `json:"max"`
}

func NewRangeLimit[T any](min, max T) RangeLimit[T] {
	return RangeLimit[T]{Min: min, Max: max}
}

// GpuLimits is the read-only capability snapshot of a GPU backend.
// A nil range means the backend does not support that knob.
type GpuLimits struct {
	FastPPTLimits        *RangeLimit[uint64] `json:"fast_ppt_limits"`
	SlowPPTLimits        *RangeLimit[uint64] `json:"slow_ppt_limits"`
	PPTStep              uint64              `json:"ppt_step"`
	TDPLimits            *RangeLimit[uint64] `json:"tdp_limits"`
	TDPBoostLimits       *RangeLimit[uint64] `json:"tdp_boost_limits"`
	TDPStep              uint64              `json:"tdp_step"`
	ClockMinLimits       *RangeLimit[uint64] `json:"clock_min_limits"`
	ClockMaxLimits       *RangeLimit[uint64] `json:"clock_max_limits"`
	ClockStep            uint64              `json:"clock_step"`
	MemoryControlCapable bool                `json:"memory_control_capable"`
}
