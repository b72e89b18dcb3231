//go:build nonvml
// +build nonvml

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

// nvmlLibrary stub - used when building without NVIDIA libraries
type nvmlLibrary struct{}

func NewLibrary() Library {
	return &nvmlLibrary{}
}

func (l *nvmlLibrary) Init() error {
	return fmt.Errorf("NVML not available (built with nonvml tag)")
}

func (l *nvmlLibrary) Shutdown() error {
	return nil
}

func (l *nvmlLibrary) DeviceByPciBusID(string) (Device, error) {
	return nil, fmt.Errorf("NVML not available")
}

func (l *nvmlLibrary) DeviceByIndex(int) (Device, error) {
	return nil, fmt.Errorf("NVML not available")
}

// Compile-time interface check
var _ Library = (*nvmlLibrary)(nil)
