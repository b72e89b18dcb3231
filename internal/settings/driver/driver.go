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

package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"CranePowerCtl/internal/limits"
	"CranePowerCtl/internal/persist"
	"CranePowerCtl/internal/settings"
	"CranePowerCtl/internal/settings/generic"
	"CranePowerCtl/internal/settings/nvidia"
	"CranePowerCtl/internal/sysfs"
)

const (
	VendorAMD    = "0x1002"
	VendorNvidia = "0x10de"
	VendorIntel  = "0x8086"
)

type Options struct {
	// Root is the filesystem root holding sys/, empty means "/".
	Root string
	// Provider forces a backend. Empty or AutoDetect picks by vendor id.
	Provider       persist.DriverJSON
	ClockClampMode settings.ClockClampMode
	// Library is the NVML entry point, nil uses the system one.
	Library nvidia.Library
	Logger  logrus.FieldLogger
}

// ParseDriver accepts the provider names case-insensitively, "" is AutoDetect.
func ParseDriver(s string) (persist.DriverJSON, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto", "autodetect":
		return persist.DriverAutoDetect, nil
	case "generic":
		return persist.DriverGeneric, nil
	case "nvidia":
		return persist.DriverNvidia, nil
	default:
		return "", fmt.Errorf("unknown driver %q", s)
	}
}

// New picks the backend for the first drm card under opt.Root and restores
// rec into it. The returned func releases the vendor library and must be
// called once the Gpu is no longer used. New never fails, when the vendor
// backend is unavailable the generic one is returned.
func New(desc *limits.GenericGpuLimit, rec *persist.SettingsJSON, opt Options) (settings.Gpu, func()) {
	logger := opt.Logger
	if logger == nil {
		logger = logrus.WithField("component", "Driver")
	}

	locator := sysfs.NewLocator(opt.Root, logger)
	gopts := []generic.Option{
		generic.WithLocator(locator),
		generic.WithClockClampMode(opt.ClockClampMode),
	}
	if opt.Logger != nil {
		gopts = append(gopts, generic.WithLogger(opt.Logger))
	}

	provider := opt.Provider
	if (provider == "" || provider == persist.DriverAutoDetect) && rec != nil && rec.Provider != "" {
		provider = rec.Provider
	}

	card := locator.Locate(sysfs.CardsOnly)
	if wantNvidia(provider, card, logger) {
		gpu, release, err := newNvidia(card, rec, opt.Library, gopts)
		if err == nil {
			logger.Infof("Using nvidia backend for %s", card.Name())
			return gpu, release
		}
		logger.Warnf("Nvidia backend unavailable, using generic: %v", err)
	}

	logger.Debugf("Using generic backend for %s", card.Name())
	if rec == nil {
		return generic.FromLimits(desc, gopts...), func() {}
	}
	return generic.FromJSONAndLimits(rec.Gpu, rec.Version, desc, gopts...), func() {}
}

func wantNvidia(provider persist.DriverJSON, card sysfs.EntityPath, logger logrus.FieldLogger) bool {
	switch provider {
	case persist.DriverNvidia:
		return true
	case persist.DriverGeneric:
		return false
	}
	if !sysfs.VendorIs(VendorNvidia)(card) {
		logger.Debugf("%s is not an nvidia card", card.Name())
		return false
	}
	return true
}

func newNvidia(card sysfs.EntityPath, rec *persist.SettingsJSON, lib nvidia.Library,
	gopts []generic.Option) (settings.Gpu, func(), error) {
	if lib == nil {
		lib = nvidia.NewLibrary()
	}
	if err := lib.Init(); err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := lib.Shutdown(); err != nil {
			logrus.Warn(err)
		}
	}

	dev, err := deviceFor(lib, card)
	if err != nil {
		release()
		return nil, nil, err
	}

	var gpuRec *persist.GpuJSON
	version := persist.LatestVersion
	if rec != nil {
		gpuRec = &rec.Gpu
		version = rec.Version
	}
	gpu, err := nvidia.New(dev, gpuRec, version, gopts...)
	if err != nil {
		release()
		return nil, nil, err
	}
	return gpu, release, nil
}

// deviceFor matches the card by PCI bus id, falling back to the first device
// when the card has no resolvable device link.
func deviceFor(lib nvidia.Library, card sysfs.EntityPath) (nvidia.Device, error) {
	if busID, err := pciBusID(card); err == nil {
		if dev, err := lib.DeviceByPciBusID(busID); err == nil {
			return dev, nil
		}
	}
	return lib.DeviceByIndex(0)
}

func pciBusID(card sysfs.EntityPath) (string, error) {
	target, err := os.Readlink(card.Attribute("device"))
	if err != nil {
		return "", err
	}
	return filepath.Base(target), nil
}
