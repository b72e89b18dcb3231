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

package sysfs

import (
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Locator resolves device directories under an injectable sysfs root.
type Locator struct {
	Root   string
	Logger logrus.FieldLogger
}

func NewLocator(root string, logger logrus.FieldLogger) *Locator {
	if logger == nil {
		logger = logrus.WithField("component", "Sysfs")
	}
	return &Locator{Root: root, Logger: logger}
}

func (l *Locator) logger() logrus.FieldLogger {
	if l.Logger == nil {
		return logrus.WithField("component", "Sysfs")
	}
	return l.Logger
}

// Find returns the first entry of class accepted by filter.
func (l *Locator) Find(class string, filter Filter) (EntityPath, error) {
	entries, err := RootOrDefault(l.Root).Class(class, filter)
	if err != nil {
		return EntityPath{}, err
	}
	if len(entries) == 0 {
		return EntityPath{}, errNoMatch
	}
	return entries[0], nil
}

// Locate never fails: when the drm scan errors or matches nothing it logs and
// falls back to <root>/sys/class/drm/card0, which may not exist.
func (l *Locator) Locate(filter Filter) EntityPath {
	root := RootOrDefault(l.Root)
	entry, err := l.Find("drm", filter)
	if err == nil {
		return entry
	}

	if IsNoMatch(err) {
		l.logger().Error("Failed to find gpu drm in sysfs (no results), using naive fallback")
	} else {
		l.logger().Errorf("Failed to find gpu drm in sysfs (%v), using naive fallback", err)
	}
	return EntityPath{
		root: root.Root(),
		path: filepath.Join(root.ClassDir("drm"), "card0"),
	}
}
