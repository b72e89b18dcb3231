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

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"CranePowerCtl/api"
	"CranePowerCtl/internal/persist"
	"CranePowerCtl/internal/preset"
	"CranePowerCtl/internal/settings"
	"CranePowerCtl/internal/settings/driver"
	"CranePowerCtl/internal/util"
)

const (
	DefaultConfigPath   = "/etc/cgpu/config.yaml"
	DefaultSettingsPath = "/var/lib/cgpu/settings.json"
	EnvPrefix           = "CGPU"
)

type Config struct {
	SysfsRoot      string          `mapstructure:"sysfs_root"`
	LimitsFile     string          `mapstructure:"limits_file"`
	SettingsFile   string          `mapstructure:"settings_file"`
	Driver         string          `mapstructure:"driver"`
	ClockClampMode string          `mapstructure:"clock_clamp_mode"`
	Log            LogConfig       `mapstructure:"log"`
	Presets        []preset.Preset `mapstructure:"presets"`
	PowerPresets   PowerPresets    `mapstructure:"power_presets"`
	InfluxDB       *InfluxDBConfig `mapstructure:"influxdb"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// PowerPresets names the preset applied when the power source switches.
// Empty entries leave the settings alone.
type PowerPresets struct {
	AC      string `mapstructure:"ac"`
	Battery string `mapstructure:"battery"`
}

// InfluxDBConfig is where `cgpu stats --influx` writes its samples.
type InfluxDBConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token" json:"-"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

// LoadConfig reads path on top of the defaults. Keys can be overridden with
// CGPU_ prefixed environment variables, e.g. CGPU_LOG_LEVEL. A missing file
// at the default location is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !(path == DefaultConfigPath && errors.Is(err, fs.ErrNotExist)) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
			log.Debugf("No config file at %s, using defaults", path)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("sysfs_root", "/")
	v.SetDefault("limits_file", "")
	v.SetDefault("settings_file", DefaultSettingsPath)
	v.SetDefault("driver", string(persist.DriverAutoDetect))
	v.SetDefault("clock_clamp_mode", settings.ClockClampIndependent.String())

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("power_presets.ac", "")
	v.SetDefault("power_presets.battery", "")
}

func validateConfig(cfg *Config) error {
	if err := util.CheckLogLevel(cfg.Log.Level); err != nil {
		return err
	}
	if _, err := driver.ParseDriver(cfg.Driver); err != nil {
		return err
	}
	if _, err := settings.ParseClockClampMode(cfg.ClockClampMode); err != nil {
		return err
	}
	if cfg.SettingsFile == "" {
		return fmt.Errorf("settings file must be specified")
	}

	table, err := cfg.PresetTable()
	if err != nil {
		return err
	}
	if _, err := cfg.PowerPresetIDs(table); err != nil {
		return err
	}

	if cfg.InfluxDB != nil {
		if cfg.InfluxDB.URL == "" || cfg.InfluxDB.Token == "" ||
			cfg.InfluxDB.Org == "" || cfg.InfluxDB.Bucket == "" {
			return fmt.Errorf("incomplete influxdb configuration")
		}
	}
	return nil
}

func (c *Config) DriverKind() persist.DriverJSON {
	d, _ := driver.ParseDriver(c.Driver)
	return d
}

func (c *Config) ClampMode() settings.ClockClampMode {
	m, _ := settings.ParseClockClampMode(c.ClockClampMode)
	return m
}

// PresetTable is the built-in table extended by the configured presets.
func (c *Config) PresetTable() (*preset.Table, error) {
	table := preset.Default()
	for _, p := range c.Presets {
		if err := table.Add(p); err != nil {
			return nil, fmt.Errorf("invalid preset in config: %w", err)
		}
	}
	return table, nil
}

// PowerPresetIDs resolves the power_presets entries against table.
func (c *Config) PowerPresetIDs(table *preset.Table) (map[api.PowerSource]uint64, error) {
	ids := make(map[api.PowerSource]uint64)
	for src, name := range map[api.PowerSource]string{
		api.PowerSourceAC:      c.PowerPresets.AC,
		api.PowerSourceBattery: c.PowerPresets.Battery,
	} {
		if name == "" {
			continue
		}
		p, err := table.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("power_presets.%s: %w", src, err)
		}
		ids[src] = p.ID
	}
	return ids, nil
}

func PrintConfig(cfg *Config) {
	log.Printf("\033[32m[cgpu] === Current Configuration Start ===\033[0m")

	log.Printf("Sysfs Root: %s", cfg.SysfsRoot)
	log.Printf("Limits File: %s", cfg.LimitsFile)
	log.Printf("Settings File: %s", cfg.SettingsFile)
	log.Printf("Driver: %s", cfg.Driver)
	log.Printf("Clock Clamp Mode: %s", cfg.ClockClampMode)

	log.Printf("Log Configuration:")
	log.Printf("  Level: %s", cfg.Log.Level)
	log.Printf("  File: %s", cfg.Log.File)

	if len(cfg.Presets) > 0 {
		log.Printf("Custom Presets:")
		for _, p := range cfg.Presets {
			log.Printf("  %d %s: %s", p.ID, p.Name, p)
		}
	}
	log.Printf("Power Presets:")
	log.Printf("  AC: %s", cfg.PowerPresets.AC)
	log.Printf("  Battery: %s", cfg.PowerPresets.Battery)

	if cfg.InfluxDB != nil {
		log.Printf("InfluxDB Settings:")
		log.Printf("  URL: %s", cfg.InfluxDB.URL)
		log.Printf("  Organization: %s", cfg.InfluxDB.Org)
		log.Printf("  Bucket: %s", cfg.InfluxDB.Bucket)
	}

	log.Printf("\033[32m[cgpu] === Current Configuration End ===\033[0m")
}
