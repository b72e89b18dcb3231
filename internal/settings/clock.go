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
	"fmt"
	"math"
	"strings"

	"CranePowerCtl/internal/limits"
)

type ClockClampMode uint8

const (
	// Requested min is clamped to clock_min, requested max to clock_max.
	ClockClampIndependent ClockClampMode = iota
	// Reproduces the historical behavior: min is clamped to clock_min while
	// max is pinned to the upper bound of clock_max.
	// TODO: drop once the pinned max is confirmed unintended on real hardware.
	ClockClampLegacy
)

func (m ClockClampMode) String() string {
	switch m {
	case ClockClampLegacy:
		return "legacy"
	default:
		return "independent"
	}
}

func ParseClockClampMode(s string) (ClockClampMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "independent":
		return ClockClampIndependent, nil
	case "legacy":
		return ClockClampLegacy, nil
	default:
		return ClockClampIndependent, fmt.Errorf("unknown clock clamp mode %q", s)
	}
}

// ClampClockLimits fits req into the clock capability ranges. If the result
// would have Min above Max, Min is lowered to Max.
func ClampClockLimits(req MinMax[uint64], minRange, maxRange *limits.RangeLimit, mode ClockClampMode) MinMax[uint64] {
	out := MinMax[uint64]{Min: Clamp(req.Min, minRange)}
	switch mode {
	case ClockClampLegacy:
		top := maxRange.MaxOr(math.MaxUint64)
		out.Max = min(max(req.Max, top), top)
	default:
		out.Max = Clamp(req.Max, maxRange)
	}
	if out.Min > out.Max {
		out.Min = out.Max
	}
	return out
}
