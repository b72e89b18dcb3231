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

package power

import (
	"strings"

	"CranePowerCtl/api"
	"CranePowerCtl/internal/sysfs"
)

const class = "power_supply"

// Supply is one power_supply entry. Capacity is a percentage, -1 when the
// entry does not report it.
type Supply struct {
	Name     string
	Type     string
	Online   bool
	Status   string
	Capacity int
}

func isType(t string) sysfs.Filter {
	return func(e sysfs.EntityPath) bool {
		v, err := e.ReadAttribute("type")
		return err == nil && strings.EqualFold(v, t)
	}
}

// Detect reports AC when any Mains supply is online, Battery when Mains
// supplies exist but none is online, Unknown otherwise.
func Detect(l *sysfs.Locator) api.PowerSource {
	mains, err := sysfs.RootOrDefault(l.Root).Class(class, isType("Mains"))
	if err != nil {
		if l.Logger != nil {
			l.Logger.Debugf("Cannot list %s: %v", class, err)
		}
		return api.PowerSourceUnknown
	}

	readable := false
	for _, m := range mains {
		online, err := m.ReadUint("online")
		if err != nil {
			continue
		}
		readable = true
		if online == 1 {
			return api.PowerSourceAC
		}
	}
	if !readable {
		return api.PowerSourceUnknown
	}
	return api.PowerSourceBattery
}

// List returns every supply under the class, in name order.
func List(l *sysfs.Locator) ([]Supply, error) {
	entries, err := sysfs.RootOrDefault(l.Root).Class(class, nil)
	if err != nil {
		return nil, err
	}

	supplies := make([]Supply, 0, len(entries))
	for _, e := range entries {
		s := Supply{Name: e.Name(), Capacity: -1}
		s.Type, _ = e.ReadAttribute("type")
		s.Status, _ = e.ReadAttribute("status")
		if v, err := e.ReadUint("online"); err == nil {
			s.Online = v == 1
		}
		if v, err := e.ReadUint("capacity"); err == nil {
			s.Capacity = int(v)
		}
		supplies = append(supplies, s)
	}
	return supplies, nil
}
