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

package nvidia

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"CranePowerCtl/api"
	"CranePowerCtl/internal/limits"
	"CranePowerCtl/internal/persist"
	"CranePowerCtl/internal/settings"
	"CranePowerCtl/internal/settings/generic"
)

const (
	microwattPerMilliwatt uint64 = 1_000
	tdpStep               uint64 = 1_000_000
	clockStep             uint64 = 15
)

// DiscoverLimits builds a capability descriptor from what the driver reports.
// Only tdp and clocks are tunable through NVML, ppt knobs stay unsupported.
func DiscoverLimits(dev Device) (*limits.GenericGpuLimit, error) {
	lo, hi, err := dev.PowerLimitConstraints()
	if err != nil {
		return nil, err
	}
	if lo > hi {
		return nil, fmt.Errorf("invalid power limit constraints %d-%d mW", lo, hi)
	}

	desc := &limits.GenericGpuLimit{
		TDP:     limits.NewRange(uint64(lo)*microwattPerMilliwatt, uint64(hi)*microwattPerMilliwatt),
		TDPStep: limits.Uint(tdpStep),
	}
	if maxClock, err := dev.MaxGraphicsClock(); err == nil && maxClock > 0 {
		desc.ClockMin = limits.NewRange(0, uint64(maxClock))
		desc.ClockMax = limits.NewRange(0, uint64(maxClock))
		desc.ClockStep = limits.Uint(clockStep)
	}
	return desc, nil
}

// Gpu keeps its state in a generic.Gpu and pushes it to the device from the
// lifecycle hooks.
type Gpu struct {
	*generic.Gpu

	dev          Device
	clocksLocked bool
	log          logrus.FieldLogger
}

var _ settings.Gpu = (*Gpu)(nil)

// New queries dev for its limits and restores rec on top of them. A nil rec
// starts from empty settings. Restored values are clamped to what dev accepts
// since a record may come from a different card.
func New(dev Device, rec *persist.GpuJSON, version uint64, opts ...generic.Option) (*Gpu, error) {
	desc, err := DiscoverLimits(dev)
	if err != nil {
		return nil, fmt.Errorf("failed to discover nvidia limits: %w", err)
	}

	g := &Gpu{
		dev: dev,
		log: logrus.WithField("component", "NvidiaGpu"),
	}
	if name, err := dev.Name(); err == nil && name != "" {
		g.log = g.log.WithField("device", name)
	}
	opts = append([]generic.Option{generic.WithLogger(g.log)}, opts...)

	if rec == nil {
		g.Gpu = generic.FromLimits(desc, opts...)
	} else {
		g.Gpu = generic.FromJSONAndLimits(*rec, version, desc, opts...)
		g.SetPPTWithTDP(g.PPTWithTDP())
		g.SetClockLimits(g.ClockLimits())
	}
	return g, nil
}

func (g *Gpu) Device() Device {
	return g.dev
}

func (g *Gpu) Provider() persist.DriverJSON {
	return persist.DriverNvidia
}

// OnSet pushes the held tdp and clock limits. Every knob is attempted, the
// failures are returned together.
func (g *Gpu) OnSet() []api.SettingError {
	var errs []api.SettingError

	tdp, _, _ := g.PPTWithTDP()
	if tdp != nil {
		mw := uint32(*tdp / microwattPerMilliwatt)
		if err := g.dev.SetPowerLimit(mw); err != nil {
			g.log.Errorf("Failed to set power limit to %d mW: %v", mw, err)
			errs = append(errs, api.SettingError{Setting: api.SettingStapmPPT, Msg: err.Error()})
		} else {
			g.log.Debugf("Power limit set to %d mW", mw)
		}
	}

	if clocks := g.ClockLimits(); clocks != nil {
		if err := g.dev.SetLockedClocks(uint32(clocks.Min), uint32(clocks.Max)); err != nil {
			g.log.Errorf("Failed to lock clocks to %s MHz: %v", clocks, err)
			errs = append(errs, api.SettingError{Setting: api.SettingClockLimits, Msg: err.Error()})
		} else {
			g.clocksLocked = true
		}
	} else if g.clocksLocked {
		if err := g.dev.ResetLockedClocks(); err != nil {
			g.log.Errorf("Failed to reset locked clocks: %v", err)
			errs = append(errs, api.SettingError{Setting: api.SettingClockLimits, Msg: err.Error()})
		} else {
			g.clocksLocked = false
		}
	}

	return errs
}

// OnResume re-applies everything, the driver drops limits across suspend.
func (g *Gpu) OnResume() []api.SettingError {
	g.clocksLocked = false
	return g.OnSet()
}

func (g *Gpu) OnPowerEvent(src api.PowerSource) []api.SettingError {
	g.log.Debugf("Power source changed to %s, re-applying", src)
	return g.OnSet()
}
