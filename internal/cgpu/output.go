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

package cgpu

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/xlab/treeprint"

	"CranePowerCtl/api"
	"CranePowerCtl/internal/parser"
	"CranePowerCtl/internal/power"
	"CranePowerCtl/internal/preset"
	"CranePowerCtl/internal/settings"
	"CranePowerCtl/internal/util"
)

const unsupported = "unsupported"

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return util.NewCmdError(util.ErrorInvalidFormat, "failed to encode output: %v", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

type limitRow struct {
	name  string
	rng   *api.RangeLimit[uint64]
	step  uint64
	power bool
}

func limitRows(l api.GpuLimits) []limitRow {
	return []limitRow{
		{"tdp", l.TDPLimits, l.TDPStep, true},
		{"tdp_boost", l.TDPBoostLimits, l.TDPStep, true},
		{"fast_ppt", l.FastPPTLimits, l.PPTStep, true},
		{"slow_ppt", l.SlowPPTLimits, l.PPTStep, true},
		{"clock_min", l.ClockMinLimits, l.ClockStep, false},
		{"clock_max", l.ClockMaxLimits, l.ClockStep, false},
	}
}

func formatValue(v uint64, power bool) string {
	if power {
		return parser.FormatMicrowatts(v)
	}
	return fmt.Sprintf("%dMHz", v)
}

func formatOpt(v *uint64, power bool) string {
	if v == nil {
		return "-"
	}
	return formatValue(*v, power)
}

func printLimitsTable(w io.Writer, l api.GpuLimits) {
	rows := make([][]string, 0, 7)
	for _, r := range limitRows(l) {
		if r.rng == nil {
			rows = append(rows, []string{r.name, "-", "-", "-", unsupported})
			continue
		}
		rows = append(rows, []string{
			r.name,
			formatValue(r.rng.Min, r.power),
			formatValue(r.rng.Max, r.power),
			formatValue(r.step, r.power),
			"",
		})
	}
	rows = append(rows, []string{"memory_control", "-", "-", "-", strconv.FormatBool(l.MemoryControlCapable)})
	util.RenderTable(w, []string{"Knob", "Min", "Max", "Step", "Note"}, rows, false)
}

func printLimitsTree(w io.Writer, provider string, l api.GpuLimits) {
	tree := treeprint.NewWithRoot(provider)
	for _, r := range limitRows(l) {
		branch := tree.AddBranch(r.name)
		if r.rng == nil {
			branch.AddNode(unsupported)
			continue
		}
		branch.AddNode("min: " + formatValue(r.rng.Min, r.power))
		branch.AddNode("max: " + formatValue(r.rng.Max, r.power))
		branch.AddNode("step: " + formatValue(r.step, r.power))
	}
	tree.AddNode(fmt.Sprintf("memory_control: %v", l.MemoryControlCapable))
	fmt.Fprint(w, tree.String())
}

func presetName(t *preset.Table, id *uint64) string {
	if id == nil {
		return "-"
	}
	if p, ok := t.ByID(*id); ok {
		return p.Label
	}
	return strconv.FormatUint(*id, 10)
}

func printSettings(w io.Writer, s *Session) {
	g := s.Gpu
	tdp, fast, slow := g.PPTWithTDP()
	clocks := "-"
	if c := g.ClockLimits(); c != nil {
		clocks = c.String() + "MHz"
	}
	rows := [][]string{
		{"provider", string(g.Provider())},
		{"device", g.DevicePath().Path()},
		{"preset", presetName(s.Presets, g.Preset())},
		{"tdp", formatOpt(tdp, true)},
		{"fast_ppt", formatOpt(fast, true)},
		{"slow_ppt", formatOpt(slow, true)},
		{"clock_limits", clocks},
		{"slow_memory", strconv.FormatBool(*g.SlowMemory())},
	}
	util.RenderTable(w, []string{"Setting", "Value"}, rows, false)
}

// queryJSON extracts a gjson path from v's JSON encoding.
func queryJSON(w io.Writer, v any, path string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return util.NewCmdError(util.ErrorInvalidFormat, "failed to encode output: %v", err)
	}
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return util.NewCmdError(util.ErrorCmdArg, "no value at %q", path)
	}
	_, err = fmt.Fprintln(w, res.String())
	return err
}

func printPresets(w io.Writer, t *preset.Table) {
	rows := make([][]string, 0)
	for _, p := range t.SortedByID() {
		if p.Manual {
			rows = append(rows, []string{strconv.FormatUint(p.ID, 10), p.Name, p.Label, "-", "-", "-"})
			continue
		}
		rows = append(rows, []string{
			strconv.FormatUint(p.ID, 10), p.Name, p.Label,
			fmt.Sprintf("%dW", p.TDP), fmt.Sprintf("%dW", p.SlowPPT), fmt.Sprintf("%dW", p.FastPPT),
		})
	}
	util.RenderTable(w, []string{"Id", "Name", "Label", "Tdp", "Slow", "Fast"}, rows, false)
}

func printSupplies(w io.Writer, src api.PowerSource, supplies []power.Supply) {
	rows := make([][]string, 0, len(supplies))
	for _, s := range supplies {
		capacity := "-"
		if s.Capacity >= 0 {
			capacity = fmt.Sprintf("%d%%", s.Capacity)
		}
		rows = append(rows, []string{s.Name, s.Type, strconv.FormatBool(s.Online), s.Status, capacity})
	}
	fmt.Fprintf(w, "Power source: %s\n", src)
	if len(rows) > 0 {
		util.RenderTable(w, []string{"Name", "Type", "Online", "Status", "Capacity"}, rows, false)
	}
}

type settingsView struct {
	Provider string                   `json:"provider"`
	Device   string                   `json:"device"`
	Preset   *uint64                  `json:"preset"`
	TDP      *uint64                  `json:"tdp"`
	FastPPT  *uint64                  `json:"fast_ppt"`
	SlowPPT  *uint64                  `json:"slow_ppt"`
	Clocks   *settings.MinMax[uint64] `json:"clock_limits"`
}

func viewOf(g settings.Gpu) settingsView {
	tdp, fast, slow := g.PPTWithTDP()
	return settingsView{
		Provider: string(g.Provider()),
		Device:   g.DevicePath().Path(),
		Preset:   g.Preset(),
		TDP:      tdp,
		FastPPT:  fast,
		SlowPPT:  slow,
		Clocks:   g.ClockLimits(),
	}
}
