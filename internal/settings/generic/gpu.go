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

package generic

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"CranePowerCtl/api"
	"CranePowerCtl/internal/limits"
	"CranePowerCtl/internal/persist"
	"CranePowerCtl/internal/settings"
	"CranePowerCtl/internal/sysfs"
)

const (
	defaultPPTMax   uint64 = 15_000_000
	defaultClockMax uint64 = 3_000

	defaultPPTStep   uint64 = 1_000_000
	defaultTDPStep   uint64 = 42
	defaultClockStep uint64 = 100
)

// Gpu holds the requested GPU settings of a backend that is described only by
// its capability descriptor.
type Gpu struct {
	// The generic backend has no writer, values are pushed to the hardware
	// elsewhere, so every lifecycle hook is intentionally empty.
	settings.NoopHooks

	preset      *uint64
	slowMemory  bool
	stapmPPT    settings.Knob
	fastPPT     settings.Knob
	slowPPT     settings.Knob
	clockLimits *settings.MinMax[uint64]

	limits    *limits.GenericGpuLimit
	sysfs     sysfs.EntityPath
	clockMode settings.ClockClampMode
	log       logrus.FieldLogger
}

var _ settings.Gpu = (*Gpu)(nil)

type options struct {
	locator   *sysfs.Locator
	filter    sysfs.Filter
	logger    logrus.FieldLogger
	clockMode settings.ClockClampMode
}

type Option func(*options)

// WithLocator sets the locator used when the record carries no root hint.
func WithLocator(l *sysfs.Locator) Option {
	return func(o *options) { o.locator = l }
}

// WithFilter narrows the drm scan, the default accepts every entry.
func WithFilter(f sysfs.Filter) Option {
	return func(o *options) { o.filter = f }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

func WithClockClampMode(m settings.ClockClampMode) Option {
	return func(o *options) { o.clockMode = m }
}

func buildOptions(opts []Option) *options {
	o := &options{filter: sysfs.AlwaysSatisfied}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logrus.WithField("component", "GenericGpu")
	}
	return o
}

func (o *options) findCardSysfs(root *string) sysfs.EntityPath {
	locator := o.locator
	if root != nil || locator == nil {
		hint := ""
		if root != nil {
			hint = *root
		}
		locator = sysfs.NewLocator(hint, o.logger)
	}
	return locator.Locate(o.filter)
}

func newGpu(desc *limits.GenericGpuLimit, o *options) *Gpu {
	if desc == nil {
		desc = &limits.GenericGpuLimit{}
	}
	return &Gpu{
		stapmPPT:  settings.NewKnob(desc.TDP, nil),
		fastPPT:   settings.NewKnob(desc.FastPPT, nil),
		slowPPT:   settings.NewKnob(desc.SlowPPT, nil),
		limits:    desc,
		clockMode: o.clockMode,
		log:       o.logger,
	}
}

// FromLimits creates empty settings for desc.
func FromLimits(desc *limits.GenericGpuLimit, opts ...Option) *Gpu {
	o := buildOptions(opts)
	g := newGpu(desc, o)
	g.sysfs = o.findCardSysfs(nil)
	return g
}

// FromJSONAndLimits restores settings from a persisted record. Values for
// knobs that desc does not support are dropped, so a record written for a
// different GPU cannot leak through.
func FromJSONAndLimits(rec persist.GpuJSON, version uint64, desc *limits.GenericGpuLimit, opts ...Option) *Gpu {
	o := buildOptions(opts)
	g := newGpu(desc, o)

	g.preset = copyUint(rec.Preset)
	g.stapmPPT = settings.NewKnob(g.limits.TDP, rec.StapmPPT)
	g.fastPPT = settings.NewKnob(g.limits.FastPPT, rec.FastPPT)
	g.slowPPT = settings.NewKnob(g.limits.SlowPPT, rec.SlowPPT)
	if settings.Supported(g.limits.ClockMin, g.limits.ClockMax) && rec.ClockLimits != nil {
		g.clockLimits = settings.MinMaxFromJSON(*rec.ClockLimits, version)
	}

	g.sysfs = o.findCardSysfs(rec.Root)
	return g
}

func (g *Gpu) Limits() api.GpuLimits {
	return api.GpuLimits{
		FastPPTLimits:        displayRange(g.limits.FastPPT, defaultPPTMax),
		SlowPPTLimits:        displayRange(g.limits.SlowPPT, defaultPPTMax),
		PPTStep:              stepOr(g.limits.PPTStep, defaultPPTStep),
		TDPLimits:            displayRange(g.limits.TDP, defaultPPTMax),
		TDPBoostLimits:       displayRange(g.limits.TDPBoost, defaultPPTMax),
		TDPStep:              stepOr(g.limits.TDPStep, defaultTDPStep),
		ClockMinLimits:       displayRange(g.limits.ClockMin, defaultClockMax),
		ClockMaxLimits:       displayRange(g.limits.ClockMax, defaultClockMax),
		ClockStep:            stepOr(g.limits.ClockStep, defaultClockStep),
		MemoryControlCapable: false,
	}
}

func (g *Gpu) JSON() persist.GpuJSON {
	j := persist.GpuJSON{
		Preset:     copyUint(g.preset),
		StapmPPT:   g.stapmPPT.Get(),
		FastPPT:    g.fastPPT.Get(),
		SlowPPT:    g.slowPPT.Get(),
		SlowMemory: false,
	}
	if g.clockLimits != nil {
		clocks := settings.MinMaxToJSON(*g.clockLimits)
		j.ClockLimits = &clocks
	}
	if root, custom := g.sysfs.Root(); custom {
		j.Root = &root
	}
	return j
}

func (g *Gpu) Provider() persist.DriverJSON {
	return persist.DriverGeneric
}

func (g *Gpu) DevicePath() sysfs.EntityPath {
	return g.sysfs
}

func (g *Gpu) SetPPT(fast, slow *uint64) {
	g.log.Infof("Setting GPU PPT: fast: %s, slow: %s", fmtOpt(fast), fmtOpt(slow))
	if !g.fastPPT.Set(fast) && fast != nil {
		g.log.Debug("fast_ppt is not supported by this gpu, ignoring")
	}
	if !g.slowPPT.Set(slow) && slow != nil {
		g.log.Debug("slow_ppt is not supported by this gpu, ignoring")
	}
}

func (g *Gpu) PPT() (fast, slow *uint64) {
	return g.fastPPT.Get(), g.slowPPT.Get()
}

func (g *Gpu) SetPPTWithTDP(tdp, fast, slow *uint64) {
	g.SetPPT(fast, slow)
	if !g.stapmPPT.Set(tdp) && tdp != nil {
		g.log.Debug("tdp is not supported by this gpu, ignoring")
	}
}

func (g *Gpu) PPTWithTDP() (tdp, fast, slow *uint64) {
	return g.stapmPPT.Get(), g.fastPPT.Get(), g.slowPPT.Get()
}

// SetClockLimits applies only when both clock_min and clock_max are supported.
func (g *Gpu) SetClockLimits(req *settings.MinMax[uint64]) {
	if !settings.Supported(g.limits.ClockMin, g.limits.ClockMax) {
		if req != nil {
			g.log.Debug("clock limits are not supported by this gpu, ignoring")
		}
		return
	}
	if req == nil {
		g.clockLimits = nil
		return
	}
	clamped := settings.ClampClockLimits(*req, g.limits.ClockMin, g.limits.ClockMax, g.clockMode)
	g.clockLimits = &clamped
}

func (g *Gpu) ClockLimits() *settings.MinMax[uint64] {
	if g.clockLimits == nil {
		return nil
	}
	c := *g.clockLimits
	return &c
}

func (g *Gpu) Preset() *uint64 {
	return copyUint(g.preset)
}

func (g *Gpu) SetPreset(preset *uint64) {
	g.preset = copyUint(preset)
}

func (g *Gpu) SlowMemory() *bool {
	return &g.slowMemory
}

func displayRange(r *limits.RangeLimit, defMax uint64) *api.RangeLimit[uint64] {
	if r == nil {
		return nil
	}
	rl := api.NewRangeLimit(r.MinOr(0), r.MaxOr(defMax))
	return &rl
}

func stepOr(step *uint64, def uint64) uint64 {
	if step == nil {
		return def
	}
	return *step
}

func copyUint(v *uint64) *uint64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func fmtOpt(v *uint64) string {
	if v == nil {
		return "None"
	}
	return fmt.Sprintf("%d", *v)
}
