//go:build !nonvml
// +build !nonvml

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

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

type nvmlLibrary struct{}

func NewLibrary() Library {
	return &nvmlLibrary{}
}

func (l *nvmlLibrary) Init() error {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return fmt.Errorf("NVML init failed: %v", nvml.ErrorString(ret))
	}
	return nil
}

func (l *nvmlLibrary) Shutdown() error {
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("NVML shutdown failed: %v", nvml.ErrorString(ret))
	}
	return nil
}

func (l *nvmlLibrary) DeviceByPciBusID(busID string) (Device, error) {
	dev, ret := nvml.DeviceGetHandleByPciBusId(busID)
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("failed to get device %s: %v", busID, nvml.ErrorString(ret))
	}
	return &nvmlDevice{dev: dev}, nil
}

func (l *nvmlLibrary) DeviceByIndex(index int) (Device, error) {
	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("failed to get device %d: %v", index, nvml.ErrorString(ret))
	}
	return &nvmlDevice{dev: dev}, nil
}

type nvmlDevice struct {
	dev nvml.Device
}

func (d *nvmlDevice) Name() (string, error) {
	name, ret := d.dev.GetName()
	if ret != nvml.SUCCESS {
		return "", fmt.Errorf("failed to get name: %v", nvml.ErrorString(ret))
	}
	return name, nil
}

func (d *nvmlDevice) PowerLimitConstraints() (uint32, uint32, error) {
	lo, hi, ret := d.dev.GetPowerManagementLimitConstraints()
	if ret != nvml.SUCCESS {
		return 0, 0, fmt.Errorf("failed to get power limit constraints: %v", nvml.ErrorString(ret))
	}
	return lo, hi, nil
}

func (d *nvmlDevice) SetPowerLimit(milliwatt uint32) error {
	if ret := d.dev.SetPowerManagementLimit(milliwatt); ret != nvml.SUCCESS {
		return fmt.Errorf("failed to set power limit: %v", nvml.ErrorString(ret))
	}
	return nil
}

func (d *nvmlDevice) MaxGraphicsClock() (uint32, error) {
	clock, ret := d.dev.GetMaxClockInfo(nvml.CLOCK_GRAPHICS)
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("failed to get max graphics clock: %v", nvml.ErrorString(ret))
	}
	return clock, nil
}

func (d *nvmlDevice) SetLockedClocks(minMHz, maxMHz uint32) error {
	if ret := d.dev.SetGpuLockedClocks(minMHz, maxMHz); ret != nvml.SUCCESS {
		return fmt.Errorf("failed to lock clocks: %v", nvml.ErrorString(ret))
	}
	return nil
}

func (d *nvmlDevice) ResetLockedClocks() error {
	if ret := d.dev.ResetGpuLockedClocks(); ret != nvml.SUCCESS {
		return fmt.Errorf("failed to reset locked clocks: %v", nvml.ErrorString(ret))
	}
	return nil
}

func (d *nvmlDevice) PowerUsage() (uint32, error) {
	power, ret := d.dev.GetPowerUsage()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("failed to get power usage: %v", nvml.ErrorString(ret))
	}
	return power, nil
}

func (d *nvmlDevice) Temperature() (uint32, error) {
	temp, ret := d.dev.GetTemperature(nvml.TEMPERATURE_GPU)
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("failed to get temperature: %v", nvml.ErrorString(ret))
	}
	return temp, nil
}

func (d *nvmlDevice) Utilization() (uint32, uint32, error) {
	util, ret := d.dev.GetUtilizationRates()
	if ret != nvml.SUCCESS {
		return 0, 0, fmt.Errorf("failed to get utilization: %v", nvml.ErrorString(ret))
	}
	return util.Gpu, util.Memory, nil
}

// Compile-time interface check
var (
	_ Library = (*nvmlLibrary)(nil)
	_ Device  = (*nvmlDevice)(nil)
)
