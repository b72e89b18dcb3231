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

import (
	"fmt"
	"strings"
)

type HookType uint8

const (
	// Fired after a batch of setters, the backend should push its values.
	SettingsAppliedHook HookType = iota
	// Fired after the OS resumed the device from suspend.
	ResumeHook
	// Fired when the machine switches between AC and battery.
	PowerSourceChangedHook
)

func (t HookType) String() string {
	switch t {
	case SettingsAppliedHook:
		return "settings-applied"
	case ResumeHook:
		return "resume"
	case PowerSourceChangedHook:
		return "power-source-changed"
	default:
		return fmt.Sprintf("hook(%d)", uint8(t))
	}
}

type PowerSource uint8

const (
	PowerSourceUnknown PowerSource = iota
	PowerSourceAC
	PowerSourceBattery
)

func (s PowerSource) String() string {
	switch s {
	case PowerSourceAC:
		return "ac"
	case PowerSourceBattery:
		return "battery"
	default:
		return "unknown"
	}
}

// SettingVariant names the knob a SettingError refers to.
type SettingVariant string

const (
	SettingGpu         SettingVariant = "gpu"
	SettingStapmPPT    SettingVariant = "stapm_ppt"
	SettingFastPPT     SettingVariant = "fast_ppt"
	SettingSlowPPT     SettingVariant = "slow_ppt"
	SettingClockLimits SettingVariant = "clock_limits"
	SettingSlowMemory  SettingVariant = "slow_memory"
)

// A SettingError reports that one knob could not be applied. Hooks return a
// list of them so partial application stays visible.
type SettingError struct {
	Setting SettingVariant `json:"setting"`
	Msg     string         `json:"msg"`
}

func (e SettingError) Error() string {
	return fmt.Sprintf("%s: %s", e.Setting, e.Msg)
}

// JoinSettingErrors flattens errs into a single error, nil when errs is empty.
func JoinSettingErrors(errs []SettingError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return fmt.Errorf("%d setting(s) failed: %s", len(errs), strings.Join(msgs, "; "))
}
