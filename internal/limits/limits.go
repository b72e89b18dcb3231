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

package limits

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RangeLimit is an inclusive range where either bound may be left out.
type RangeLimit struct {
	Min *uint64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *uint64 `yaml:"max,omitempty" json:"max,omitempty"`
}

func NewRange(min, max uint64) *RangeLimit {
	return &RangeLimit{Min: &min, Max: &max}
}

func (r *RangeLimit) MinOr(def uint64) uint64 {
	if r == nil || r.Min == nil {
		return def
	}
	return *r.Min
}

func (r *RangeLimit) MaxOr(def uint64) uint64 {
	if r == nil || r.Max == nil {
		return def
	}
	return *r.Max
}

// GenericGpuLimit describes which GPU knobs a backend exposes. A nil range or
// step means the knob is not supported. Power values are in uW, clocks in MHz.
type GenericGpuLimit struct {
	FastPPT   *RangeLimit `yaml:"fast_ppt,omitempty" json:"fast_ppt,omitempty"`
	SlowPPT   *RangeLimit `yaml:"slow_ppt,omitempty" json:"slow_ppt,omitempty"`
	PPTStep   *uint64     `yaml:"ppt_step,omitempty" json:"ppt_step,omitempty"`
	TDP       *RangeLimit `yaml:"tdp,omitempty" json:"tdp,omitempty"`
	TDPBoost  *RangeLimit `yaml:"tdp_boost,omitempty" json:"tdp_boost,omitempty"`
	TDPStep   *uint64     `yaml:"tdp_step,omitempty" json:"tdp_step,omitempty"`
	ClockMin  *RangeLimit `yaml:"clock_min,omitempty" json:"clock_min,omitempty"`
	ClockMax  *RangeLimit `yaml:"clock_max,omitempty" json:"clock_max,omitempty"`
	ClockStep *uint64     `yaml:"clock_step,omitempty" json:"clock_step,omitempty"`
}

func (l *GenericGpuLimit) ranges() map[string]*RangeLimit {
	return map[string]*RangeLimit{
		"fast_ppt":  l.FastPPT,
		"slow_ppt":  l.SlowPPT,
		"tdp":       l.TDP,
		"tdp_boost": l.TDPBoost,
		"clock_min": l.ClockMin,
		"clock_max": l.ClockMax,
	}
}

// Validate rejects ranges whose lower bound is above the upper bound.
func (l *GenericGpuLimit) Validate() error {
	for name, r := range l.ranges() {
		if r == nil || r.Min == nil || r.Max == nil {
			continue
		}
		if *r.Min > *r.Max {
			return fmt.Errorf("%s: min %d is greater than max %d", name, *r.Min, *r.Max)
		}
	}
	for name, step := range map[string]*uint64{
		"ppt_step":   l.PPTStep,
		"tdp_step":   l.TDPStep,
		"clock_step": l.ClockStep,
	} {
		if step != nil && *step == 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// Parse decodes a descriptor from YAML. JSON input is accepted as well.
func Parse(data []byte) (*GenericGpuLimit, error) {
	l := &GenericGpuLimit{}
	if err := yaml.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("failed to parse gpu limits: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gpu limits: %w", err)
	}
	return l, nil
}

func Load(path string) (*GenericGpuLimit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gpu limits file: %w", err)
	}
	return Parse(data)
}

func Uint(v uint64) *uint64 {
	return &v
}
