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

package preset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"CranePowerCtl/api"
	"CranePowerCtl/internal/hooks"
	"CranePowerCtl/internal/settings"
)

const (
	SlowPPTWatts uint64 = 25
	FastPPTWatts uint64 = 30

	microwattPerWatt uint64 = 1_000_000
)

const (
	IDSilent uint64 = iota
	IDPerformance
	IDTurbo25
	IDTurbo30
	IDManual
	IDPerformance20
	IDOverdrive40
)

// Preset is a named tdp/ppt triple in watts. A Manual preset only records
// its id and leaves the held values alone.
type Preset struct {
	ID      uint64 `mapstructure:"id" yaml:"id" json:"id"`
	Name    string `mapstructure:"name" yaml:"name" json:"name"`
	Label   string `mapstructure:"label" yaml:"label" json:"label"`
	TDP     uint64 `mapstructure:"tdp" yaml:"tdp" json:"tdp"`
	SlowPPT uint64 `mapstructure:"slow_ppt" yaml:"slow_ppt" json:"slow_ppt"`
	FastPPT uint64 `mapstructure:"fast_ppt" yaml:"fast_ppt" json:"fast_ppt"`
	Manual  bool   `mapstructure:"manual" yaml:"manual" json:"manual"`
}

func (p Preset) String() string {
	if p.Manual {
		return p.Label
	}
	return fmt.Sprintf("%s (tdp %dW, slow %dW, fast %dW)", p.Label, p.TDP, p.SlowPPT, p.FastPPT)
}

var builtin = []Preset{
	{ID: IDSilent, Name: "silent", Label: "Silent 10W", TDP: 10, SlowPPT: SlowPPTWatts, FastPPT: SlowPPTWatts},
	{ID: IDPerformance, Name: "performance", Label: "Performance 15W", TDP: 15, SlowPPT: SlowPPTWatts, FastPPT: FastPPTWatts},
	{ID: IDPerformance20, Name: "performance20", Label: "Performance 20W", TDP: 20, SlowPPT: SlowPPTWatts, FastPPT: FastPPTWatts},
	{ID: IDTurbo25, Name: "turbo25", Label: "Turbo 25W", TDP: 25, SlowPPT: SlowPPTWatts, FastPPT: FastPPTWatts},
	{ID: IDTurbo30, Name: "turbo30", Label: "Turbo 30W", TDP: 30, SlowPPT: SlowPPTWatts, FastPPT: FastPPTWatts},
	{ID: IDManual, Name: "manual", Label: "Manual", Manual: true},
	{ID: IDOverdrive40, Name: "overdrive40", Label: "40W Overdrive", TDP: 40, SlowPPT: 45, FastPPT: 53},
}

// Table holds presets in display order.
type Table struct {
	presets []Preset
}

func Default() *Table {
	return &Table{presets: append([]Preset(nil), builtin...)}
}

// Add appends p. Ids and names must be unique, names are matched
// case-insensitively.
func (t *Table) Add(p Preset) error {
	p.Name = strings.ToLower(strings.TrimSpace(p.Name))
	if p.Name == "" {
		return fmt.Errorf("preset %d has no name", p.ID)
	}
	if _, err := strconv.ParseUint(p.Name, 10, 64); err == nil {
		return fmt.Errorf("preset name %q must not be numeric", p.Name)
	}
	for _, q := range t.presets {
		if q.ID == p.ID {
			return fmt.Errorf("preset id %d already used by %s", p.ID, q.Name)
		}
		if q.Name == p.Name {
			return fmt.Errorf("preset %s already defined", p.Name)
		}
	}
	if p.Label == "" {
		p.Label = p.Name
	}
	t.presets = append(t.presets, p)
	return nil
}

func (t *Table) All() []Preset {
	return append([]Preset(nil), t.presets...)
}

// SortedByID is handy for tables, All keeps display order.
func (t *Table) SortedByID() []Preset {
	ps := t.All()
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
	return ps
}

func (t *Table) ByID(id uint64) (Preset, bool) {
	for _, p := range t.presets {
		if p.ID == id {
			return p, true
		}
	}
	return Preset{}, false
}

// Lookup accepts a preset name or its numeric id.
func (t *Table) Lookup(s string) (Preset, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if id, err := strconv.ParseUint(s, 10, 64); err == nil {
		if p, ok := t.ByID(id); ok {
			return p, nil
		}
		return Preset{}, fmt.Errorf("unknown preset id %d", id)
	}
	for _, p := range t.presets {
		if p.Name == s {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("unknown preset %q", s)
}

func Watts(w uint64) uint64 {
	return w * microwattPerWatt
}

// Apply records p on gpu and, unless p is manual, requests its values.
// The backend clamps them to what the gpu supports.
func Apply(gpu settings.Gpu, p Preset) {
	id := p.ID
	gpu.SetPreset(&id)
	if p.Manual {
		return
	}
	tdp, slow, fast := Watts(p.TDP), Watts(p.SlowPPT), Watts(p.FastPPT)
	gpu.SetPPTWithTDP(&tdp, &fast, &slow)
}

func (t *Table) Apply(gpu settings.Gpu, id uint64) error {
	p, ok := t.ByID(id)
	if !ok {
		return fmt.Errorf("unknown preset id %d", id)
	}
	Apply(gpu, p)
	return nil
}

// PowerHandler switches gpu to the preset configured for the new power
// source before the rest of the chain pushes it. Sources without an entry
// leave the settings untouched.
func PowerHandler(t *Table, gpu settings.Gpu, bySource map[api.PowerSource]uint64) hooks.Handler {
	logger := logrus.WithField("component", "Preset")
	return func(c *hooks.Context) {
		if c.Type != api.PowerSourceChangedHook {
			return
		}
		id, ok := bySource[c.Source]
		if !ok {
			return
		}
		if err := t.Apply(gpu, id); err != nil {
			logger.Warnf("No preset for %s: %v", c.Source, err)
			return
		}
		logger.Infof("Switched to preset %d on %s", id, c.Source)
	}
}
