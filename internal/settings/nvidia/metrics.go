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
	"time"
)

// Metrics is one sample. Energy is integrated since the previous sample of
// the same Reader and is zero on the first one.
type Metrics struct {
	Power   float64 `json:"power_w"`
	Energy  float64 `json:"energy_j"`
	Temp    uint32  `json:"temp_c"`
	Util    uint32  `json:"util"`
	MemUtil uint32  `json:"mem_util"`
}

type Reader struct {
	dev Device
	now func() time.Time

	lastPowerTime time.Time
	lastPower     float64
}

func NewReader(dev Device) *Reader {
	return &Reader{dev: dev, now: time.Now}
}

// Read samples dev. A failed power reading fails the sample, the other
// counters are best effort.
func (r *Reader) Read() (*Metrics, error) {
	power, err := r.dev.PowerUsage()
	if err != nil {
		return nil, fmt.Errorf("failed to read power usage: %w", err)
	}

	m := &Metrics{Power: float64(power) / 1000.0} // mW -> W
	if temp, err := r.dev.Temperature(); err == nil {
		m.Temp = temp
	}
	if gpuUtil, memUtil, err := r.dev.Utilization(); err == nil {
		m.Util, m.MemUtil = gpuUtil, memUtil
	}

	current := r.now()
	if !r.lastPowerTime.IsZero() {
		duration := current.Sub(r.lastPowerTime).Seconds()
		m.Energy = (m.Power + r.lastPower) / 2 * duration
	}
	r.lastPowerTime = current
	r.lastPower = m.Power

	return m, nil
}
