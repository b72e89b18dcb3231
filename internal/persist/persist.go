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

package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// LatestVersion is stamped on every record this package writes.
// Version 0 stored clock_limits as a bare [min, max] array.
const LatestVersion uint64 = 1

type DriverJSON string

const (
	DriverGeneric    DriverJSON = "Generic"
	DriverNvidia     DriverJSON = "Nvidia"
	DriverAutoDetect DriverJSON = "AutoDetect"
)

type MinMaxJSON struct {
	Min *uint64 `json:"min"`
	Max *uint64 `json:"max"`
}

type GpuJSON struct {
	Preset      *uint64     `json:"preset,omitempty"`
	StapmPPT    *uint64     `json:"stapm_ppt"`
	FastPPT     *uint64     `json:"fast_ppt"`
	SlowPPT     *uint64     `json:"slow_ppt"`
	ClockLimits *MinMaxJSON `json:"clock_limits"`
	SlowMemory  bool        `json:"slow_memory"`
	Root        *string     `json:"root,omitempty"`
}

// SettingsJSON is the on-disk settings record. Only the gpu section is
// interpreted here, other sections are carried through untouched by MergeGpu.
type SettingsJSON struct {
	Version  uint64     `json:"version"`
	Name     string     `json:"name"`
	Provider DriverJSON `json:"provider,omitempty"`
	// TuningEnabled nil means enabled, records written before the toggle
	// existed keep pushing their values.
	TuningEnabled *bool   `json:"gpu_tuning_enabled,omitempty"`
	Gpu           GpuJSON `json:"gpu"`
}

func (s *SettingsJSON) Tuning() bool {
	return s == nil || s.TuningEnabled == nil || *s.TuningEnabled
}

// Decode parses a settings record, rewriting version 0 clock arrays into the
// current object form. The returned Version is the one found in data.
func Decode(data []byte) (*SettingsJSON, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("settings record is not valid json")
	}

	clocks := gjson.GetBytes(data, "gpu.clock_limits")
	if clocks.IsArray() {
		pair := clocks.Array()
		if len(pair) != 2 {
			return nil, fmt.Errorf("gpu.clock_limits: expected [min, max], got %d values", len(pair))
		}
		var err error
		data, err = sjson.SetBytes(data, "gpu.clock_limits", map[string]uint64{
			"min": pair[0].Uint(),
			"max": pair[1].Uint(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to migrate gpu.clock_limits: %w", err)
		}
	}

	s := &SettingsJSON{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode settings record: %w", err)
	}
	return s, nil
}

func Encode(s *SettingsJSON) ([]byte, error) {
	s.Version = LatestVersion
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings record: %w", err)
	}
	return data, nil
}

// MergeGpu replaces the gpu section of an existing record, keeping every other
// key as it was. An empty existing record yields a fresh one.
func MergeGpu(existing []byte, gpu GpuJSON, provider DriverJSON) ([]byte, error) {
	if len(existing) == 0 {
		existing = []byte("{}")
	}
	if !gjson.ValidBytes(existing) {
		return nil, fmt.Errorf("settings record is not valid json")
	}

	raw, err := json.Marshal(gpu)
	if err != nil {
		return nil, fmt.Errorf("failed to encode gpu section: %w", err)
	}

	out, err := sjson.SetRawBytes(existing, "gpu", raw)
	if err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "provider", provider); err != nil {
		return nil, err
	}
	return sjson.SetBytes(out, "version", LatestVersion)
}

// MergeTuning sets gpu_tuning_enabled, keeping every other key as it was.
func MergeTuning(existing []byte, enabled bool) ([]byte, error) {
	if len(existing) == 0 {
		existing = []byte("{}")
	}
	if !gjson.ValidBytes(existing) {
		return nil, fmt.Errorf("settings record is not valid json")
	}
	out, err := sjson.SetBytes(existing, "gpu_tuning_enabled", enabled)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(out, "version", LatestVersion)
}

func ReadFile(path string) (*SettingsJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return Decode(data)
}

// WriteGpu merges gpu into the record at path, creating the file if needed.
func WriteGpu(path string, gpu GpuJSON, provider DriverJSON) error {
	return update(path, func(existing []byte) ([]byte, error) {
		return MergeGpu(existing, gpu, provider)
	})
}

func WriteTuning(path string, enabled bool) error {
	return update(path, func(existing []byte) ([]byte, error) {
		return MergeTuning(existing, enabled)
	})
}

func update(path string, merge func([]byte) ([]byte, error)) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	out, err := merge(existing)
	if err != nil {
		return fmt.Errorf("failed to update settings file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}
