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

import "fmt"

// MockDevice records the values pushed to it. Set*Err make the matching call
// fail.
type MockDevice struct {
	DeviceName    string
	MinPower      uint32
	MaxPower      uint32
	MaxClock      uint32
	ConstraintErr error
	PowerErr      error
	ClockErr      error

	Power   uint32
	Temp    uint32
	GpuUtil uint32
	MemUtil uint32
	ReadErr error

	PowerLimit   *uint32
	LockedClocks *[2]uint32
	Resets       int
}

func (d *MockDevice) Name() (string, error) {
	return d.DeviceName, nil
}

func (d *MockDevice) PowerLimitConstraints() (uint32, uint32, error) {
	if d.ConstraintErr != nil {
		return 0, 0, d.ConstraintErr
	}
	return d.MinPower, d.MaxPower, nil
}

func (d *MockDevice) SetPowerLimit(milliwatt uint32) error {
	if d.PowerErr != nil {
		return d.PowerErr
	}
	d.PowerLimit = &milliwatt
	return nil
}

func (d *MockDevice) MaxGraphicsClock() (uint32, error) {
	if d.MaxClock == 0 {
		return 0, fmt.Errorf("clock info not supported")
	}
	return d.MaxClock, nil
}

func (d *MockDevice) SetLockedClocks(minMHz, maxMHz uint32) error {
	if d.ClockErr != nil {
		return d.ClockErr
	}
	d.LockedClocks = &[2]uint32{minMHz, maxMHz}
	return nil
}

func (d *MockDevice) ResetLockedClocks() error {
	if d.ClockErr != nil {
		return d.ClockErr
	}
	d.LockedClocks = nil
	d.Resets++
	return nil
}

func (d *MockDevice) PowerUsage() (uint32, error) {
	return d.Power, d.ReadErr
}

func (d *MockDevice) Temperature() (uint32, error) {
	return d.Temp, d.ReadErr
}

func (d *MockDevice) Utilization() (uint32, uint32, error) {
	return d.GpuUtil, d.MemUtil, d.ReadErr
}

// MockLibrary hands out Devices keyed by PCI bus id, falling back to index 0.
type MockLibrary struct {
	Devices map[string]Device
	Ordered []Device
	InitErr error

	Inited bool
}

func (l *MockLibrary) Init() error {
	if l.InitErr != nil {
		return l.InitErr
	}
	l.Inited = true
	return nil
}

func (l *MockLibrary) Shutdown() error {
	l.Inited = false
	return nil
}

func (l *MockLibrary) DeviceByPciBusID(busID string) (Device, error) {
	if dev, ok := l.Devices[busID]; ok {
		return dev, nil
	}
	return nil, fmt.Errorf("no device at %s", busID)
}

func (l *MockLibrary) DeviceByIndex(index int) (Device, error) {
	if index < 0 || index >= len(l.Ordered) {
		return nil, fmt.Errorf("no device %d", index)
	}
	return l.Ordered[index], nil
}

// Compile-time interface check
var (
	_ Device  = (*MockDevice)(nil)
	_ Library = (*MockLibrary)(nil)
)
