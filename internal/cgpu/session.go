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
	"context"
	"errors"
	"io/fs"

	log "github.com/sirupsen/logrus"

	"CranePowerCtl/api"
	"CranePowerCtl/internal/config"
	"CranePowerCtl/internal/hooks"
	"CranePowerCtl/internal/limits"
	"CranePowerCtl/internal/parser"
	"CranePowerCtl/internal/persist"
	"CranePowerCtl/internal/preset"
	"CranePowerCtl/internal/settings"
	"CranePowerCtl/internal/settings/driver"
	"CranePowerCtl/internal/settings/nvidia"
	"CranePowerCtl/internal/sysfs"
	"CranePowerCtl/internal/util"
)

// Session is the gpu state one command works on.
type Session struct {
	Config  *config.Config
	Gpu     settings.Gpu
	Record  *persist.SettingsJSON
	Presets *preset.Table
	Locator *sysfs.Locator

	powerPresets map[api.PowerSource]uint64
	release      func()
}

// OpenSession loads the descriptor and the saved record, then selects the
// backend. lib overrides the NVML entry point, nil uses the system one.
func OpenSession(cfg *config.Config, lib nvidia.Library) (*Session, error) {
	s := &Session{
		Config:  cfg,
		Locator: sysfs.NewLocator(cfg.SysfsRoot, log.WithField("component", "Sysfs")),
	}

	var desc *limits.GenericGpuLimit
	if cfg.LimitsFile != "" {
		d, err := limits.Load(cfg.LimitsFile)
		if err != nil {
			return nil, util.NewCmdError(util.ErrorConfig, "%v", err)
		}
		desc = d
	} else {
		log.Debug("No limits file configured, generic gpu has no tunable knobs")
	}

	rec, err := persist.ReadFile(cfg.SettingsFile)
	switch {
	case err == nil:
		s.Record = rec
	case errors.Is(err, fs.ErrNotExist):
		log.Debugf("No saved settings at %s", cfg.SettingsFile)
	default:
		return nil, util.NewCmdError(util.ErrorConfig, "%v", err)
	}

	table, err := cfg.PresetTable()
	if err != nil {
		return nil, util.NewCmdError(util.ErrorConfig, "%v", err)
	}
	s.Presets = table
	if s.powerPresets, err = cfg.PowerPresetIDs(table); err != nil {
		return nil, util.NewCmdError(util.ErrorConfig, "%v", err)
	}

	s.Gpu, s.release = driver.New(desc, s.Record, driver.Options{
		Root:           cfg.SysfsRoot,
		Provider:       cfg.DriverKind(),
		ClockClampMode: cfg.ClampMode(),
		Library:        lib,
		Logger:         log.WithField("component", "Gpu"),
	})
	return s, nil
}

func (s *Session) Close() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
}

// Dispatch runs hook t through the preset switcher and the gpu backend. Both
// are skipped while gpu tuning is switched off.
func (s *Session) Dispatch(ctx context.Context, t api.HookType, src api.PowerSource) error {
	enabled := s.Record.Tuning()
	if !enabled {
		log.Infof("GPU tuning is disabled, skipping %s", t)
	}
	d := hooks.NewDispatcher(log.WithField("component", "Hooks")).Use(
		hooks.TuningGate(enabled),
		preset.PowerHandler(s.Presets, s.Gpu, s.powerPresets),
		hooks.GpuHandler(s.Gpu),
	)
	if err := api.JoinSettingErrors(d.Dispatch(ctx, t, src)); err != nil {
		return util.NewCmdError(util.ErrorHardware, "%v", err)
	}
	return nil
}

func (s *Session) Save() error {
	if err := persist.WriteGpu(s.Config.SettingsFile, s.Gpu.JSON(), s.Gpu.Provider()); err != nil {
		return util.NewCmdError(util.ErrorGeneric, "%v", err)
	}
	log.Infof("Settings saved to %s", s.Config.SettingsFile)
	return nil
}

// Apply sets the preset first so that explicit knobs in the same request
// override it.
func (s *Session) Apply(c *parser.Changes) error {
	if c.Preset != "" {
		p, err := s.Presets.Lookup(c.Preset)
		if err != nil {
			return util.NewCmdError(util.ErrorCmdArg, "%v", err)
		}
		preset.Apply(s.Gpu, p)
	}

	if c.PowerKnobs() {
		tdp, fast, slow := s.Gpu.PPTWithTDP()
		if c.TDP.Set {
			tdp = c.TDP.Value
		}
		if c.FastPPT.Set {
			fast = c.FastPPT.Value
		}
		if c.SlowPPT.Set {
			slow = c.SlowPPT.Value
		}
		s.Gpu.SetPPTWithTDP(tdp, fast, slow)
		if c.Preset == "" {
			manual := preset.IDManual
			s.Gpu.SetPreset(&manual)
		}
	}
	if c.Clocks.Set {
		s.Gpu.SetClockLimits(c.Clocks.Value)
	}
	return nil
}

func sysfsLocator(o *options) *sysfs.Locator {
	return sysfs.NewLocator(o.cfg.SysfsRoot, log.WithField("component", "Sysfs"))
}
