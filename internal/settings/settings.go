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
	"CranePowerCtl/api"
	"CranePowerCtl/internal/persist"
	"CranePowerCtl/internal/sysfs"
)

type OnSet interface {
	OnSet() []api.SettingError
}

type OnResume interface {
	OnResume() []api.SettingError
}

type OnPowerEvent interface {
	OnPowerEvent(src api.PowerSource) []api.SettingError
}

// Gpu is the contract shared by every GPU backend. Setters clamp against the
// backend's capability descriptor and silently drop unsupported knobs.
// Implementations are not safe for concurrent use.
type Gpu interface {
	OnSet
	OnResume
	OnPowerEvent

	Limits() api.GpuLimits
	JSON() persist.GpuJSON
	Provider() persist.DriverJSON
	DevicePath() sysfs.EntityPath

	SetPPT(fast, slow *uint64)
	PPT() (fast, slow *uint64)
	SetPPTWithTDP(tdp, fast, slow *uint64)
	PPTWithTDP() (tdp, fast, slow *uint64)

	SetClockLimits(limits *MinMax[uint64])
	ClockLimits() *MinMax[uint64]

	Preset() *uint64
	SetPreset(preset *uint64)
	SlowMemory() *bool
}

// NoopHooks implements the lifecycle hooks as successful no-ops. Backends
// without a hardware writer of their own embed it.
type NoopHooks struct{}

func (NoopHooks) OnSet() []api.SettingError {
	return nil
}

func (NoopHooks) OnResume() []api.SettingError {
	return nil
}

func (NoopHooks) OnPowerEvent(api.PowerSource) []api.SettingError {
	return nil
}
