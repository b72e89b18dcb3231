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

package parser

import (
	"fmt"
	"math"
	"strings"

	"CranePowerCtl/internal/settings"
)

// Change is one requested knob value. Value nil with Set true clears it.
type Change struct {
	Set   bool
	Value *uint64
}

type ClockChange struct {
	Set   bool
	Value *settings.MinMax[uint64]
}

// Changes holds power values in µW and clocks in MHz.
type Changes struct {
	TDP     Change
	FastPPT Change
	SlowPPT Change
	Clocks  ClockChange
	Preset  string
}

func (c *Changes) Empty() bool {
	return !c.TDP.Set && !c.FastPPT.Set && !c.SlowPPT.Set && !c.Clocks.Set && c.Preset == ""
}

// PowerKnobs tells whether any of tdp, fast_ppt or slow_ppt was given.
func (c *Changes) PowerKnobs() bool {
	return c.TDP.Set || c.FastPPT.Set || c.SlowPPT.Set
}

var keyAliases = map[string]string{
	"tdp":          "tdp",
	"stapm":        "tdp",
	"stapm_ppt":    "tdp",
	"fast":         "fast_ppt",
	"fast_ppt":     "fast_ppt",
	"slow":         "slow_ppt",
	"slow_ppt":     "slow_ppt",
	"clock":        "clock_limits",
	"clocks":       "clock_limits",
	"clock_limits": "clock_limits",
	"preset":       "preset",
}

var powerScale = map[string]float64{
	"":   1_000_000,
	"w":  1_000_000,
	"mw": 1_000,
	"uw": 1,
	"µw": 1,
}

var clockScale = map[string]float64{
	"":    1,
	"mhz": 1,
	"ghz": 1_000,
}

// ParseSettings parses one or more expressions into Changes. A bare power
// number is read as watts and a bare clock as MHz.
func ParseSettings(exprs ...string) (*Changes, error) {
	cmd, err := Parse(strings.Join(exprs, " "))
	if err != nil {
		return nil, err
	}

	changes := &Changes{}
	seen := make(map[string]bool)
	for _, a := range cmd.Assignments {
		key, ok := keyAliases[strings.ToLower(a.Key)]
		if !ok {
			return nil, fmt.Errorf("%s: unknown setting %q", a.Pos, a.Key)
		}
		if seen[key] {
			return nil, fmt.Errorf("%s: %s given more than once", a.Pos, key)
		}
		seen[key] = true

		switch key {
		case "tdp":
			err = powerChange(&changes.TDP, a.Value)
		case "fast_ppt":
			err = powerChange(&changes.FastPPT, a.Value)
		case "slow_ppt":
			err = powerChange(&changes.SlowPPT, a.Value)
		case "clock_limits":
			err = clockChange(&changes.Clocks, a.Value)
		case "preset":
			err = presetChange(changes, a.Value)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", a.Pos, key, err)
		}
	}
	return changes, nil
}

func powerChange(c *Change, v *Value) error {
	c.Set = true
	if v.None {
		return nil
	}
	if v.Range == nil {
		return fmt.Errorf("expected a power value, got %q", v.Name)
	}
	if v.Range.Max != nil {
		return fmt.Errorf("expected a single value, got a range")
	}
	uw, err := scale(v.Range.Min, powerScale)
	if err != nil {
		return err
	}
	c.Value = &uw
	return nil
}

func clockChange(c *ClockChange, v *Value) error {
	c.Set = true
	if v.None {
		return nil
	}
	if v.Range == nil || v.Range.Max == nil {
		return fmt.Errorf("expected min-max")
	}
	lo, err := scale(v.Range.Min, clockScale)
	if err != nil {
		return err
	}
	hi, err := scale(v.Range.Max, clockScale)
	if err != nil {
		return err
	}
	// Clamping is left to the backend.
	m := settings.NewMinMax(lo, hi)
	c.Value = &m
	return nil
}

func presetChange(c *Changes, v *Value) error {
	switch {
	case v.Name != "":
		c.Preset = v.Name
	case v.Range != nil && v.Range.Max == nil && v.Range.Min.Unit == "":
		c.Preset = fmt.Sprintf("%g", v.Range.Min.Number)
	default:
		return fmt.Errorf("expected a preset name or id")
	}
	return nil
}

func scale(q *Quantity, units map[string]float64) (uint64, error) {
	factor, ok := units[strings.ToLower(q.Unit)]
	if !ok {
		return 0, fmt.Errorf("unit %q not allowed here", q.Unit)
	}
	v := math.Round(q.Number * factor)
	if v >= math.MaxUint64 {
		return 0, fmt.Errorf("%s is out of range", q)
	}
	return uint64(v), nil
}

// FormatMicrowatts renders µW in watts, e.g. "15W" or "15.5W".
func FormatMicrowatts(uw uint64) string {
	if uw%1_000_000 == 0 {
		return fmt.Sprintf("%dW", uw/1_000_000)
	}
	return fmt.Sprintf("%gW", float64(uw)/1_000_000)
}
