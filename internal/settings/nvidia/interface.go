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

// Device is the subset of NVML used to tune one GPU. Power is in mW, clocks
// in MHz.
type Device interface {
	Name() (string, error)
	PowerLimitConstraints() (minMilliwatt, maxMilliwatt uint32, err error)
	SetPowerLimit(milliwatt uint32) error
	MaxGraphicsClock() (uint32, error)
	SetLockedClocks(minMHz, maxMHz uint32) error
	ResetLockedClocks() error

	PowerUsage() (milliwatt uint32, err error)
	Temperature() (celsius uint32, err error)
	Utilization() (gpu, memory uint32, err error)
}

type Library interface {
	Init() error
	Shutdown() error
	DeviceByPciBusID(busID string) (Device, error)
	DeviceByIndex(index int) (Device, error)
}
