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
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const DefaultRoot = "/"

// EntityPath is a device directory under <root>/sys/class, remembering the
// root it was resolved against.
type EntityPath struct {
	root string
	path string
}

func NewEntityPath(root, path string) EntityPath {
	return EntityPath{root: RootOrDefault(root).Root(), path: path}
}

func (e EntityPath) Path() string {
	return e.path
}

func (e EntityPath) Name() string {
	return filepath.Base(e.path)
}

// Root returns the sysfs root and whether it differs from DefaultRoot.
func (e EntityPath) Root() (string, bool) {
	return e.root, e.root != DefaultRoot
}

func (e EntityPath) Attribute(name string) string {
	return filepath.Join(e.path, name)
}

func (e EntityPath) Exists() bool {
	_, err := os.Stat(e.path)
	return err == nil
}

func (e EntityPath) ReadAttribute(name string) (string, error) {
	data, err := os.ReadFile(e.Attribute(name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (e EntityPath) ReadUint(name string) (uint64, error) {
	s, err := e.ReadAttribute(name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", name, err)
	}
	return v, nil
}

// Writable reports whether the attribute may be written by this process.
func (e EntityPath) Writable(name string) bool {
	return unix.Access(e.Attribute(name), unix.W_OK) == nil
}

type Filter func(EntityPath) bool

func AlwaysSatisfied(EntityPath) bool {
	return true
}

var cardPattern = regexp.MustCompile(`^card[0-9]+$`)

// CardsOnly skips connector entries such as card0-eDP-1 and renderD nodes.
func CardsOnly(e EntityPath) bool {
	return cardPattern.MatchString(e.Name())
}

// VendorIs matches entries whose device/vendor equals the PCI vendor id,
// e.g. "0x10de".
func VendorIs(id string) Filter {
	id = strings.ToLower(id)
	return func(e EntityPath) bool {
		vendor, err := e.ReadAttribute("device/vendor")
		if err != nil {
			return false
		}
		return strings.ToLower(vendor) == id
	}
}

func All(filters ...Filter) Filter {
	return func(e EntityPath) bool {
		for _, f := range filters {
			if !f(e) {
				return false
			}
		}
		return true
	}
}

type SysPath struct {
	root string
}

func RootOrDefault(root string) SysPath {
	if root == "" {
		root = DefaultRoot
	}
	return SysPath{root: root}
}

func (s SysPath) Root() string {
	return s.root
}

func (s SysPath) ClassDir(class string) string {
	return filepath.Join(s.root, "sys", "class", class)
}

// Class lists the entries of a device class in name order, keeping those the
// filter accepts.
func (s SysPath) Class(class string, filter Filter) ([]EntityPath, error) {
	dir := s.ClassDir(class)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	result := make([]EntityPath, 0, len(names))
	for _, name := range names {
		e := EntityPath{root: s.root, path: filepath.Join(dir, name)}
		if filter == nil || filter(e) {
			result = append(result, e)
		}
	}
	return result, nil
}
