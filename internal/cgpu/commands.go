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

package cgpu

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"CranePowerCtl/api"
	"CranePowerCtl/internal/config"
	"CranePowerCtl/internal/db"
	"CranePowerCtl/internal/parser"
	"CranePowerCtl/internal/persist"
	"CranePowerCtl/internal/power"
	"CranePowerCtl/internal/settings/driver"
	"CranePowerCtl/internal/settings/nvidia"
	"CranePowerCtl/internal/util"
)

func newLimitsCmd(o *options) *cobra.Command {
	var tree bool
	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Show what the gpu can be tuned to",
		Args:  argsError(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withSession(func(s *Session) error {
				l := s.Gpu.Limits()
				w := cmd.OutOrStdout()
				switch {
				case o.json:
					return printJSON(w, l)
				case tree:
					printLimitsTree(w, string(s.Gpu.Provider()), l)
				default:
					printLimitsTable(w, l)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&tree, "tree", false, "Show limits as a tree")
	return cmd
}

func newShowCmd(o *options) *cobra.Command {
	var query string
	var record bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the held settings",
		Args:  argsError(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withSession(func(s *Session) error {
				w := cmd.OutOrStdout()
				var v any = viewOf(s.Gpu)
				if record {
					v = s.Gpu.JSON()
				}
				switch {
				case query != "":
					return queryJSON(w, v, query)
				case o.json || record:
					return printJSON(w, v)
				default:
					printSettings(w, s)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "Print a single value, e.g. clock_limits.max")
	cmd.Flags().BoolVar(&record, "record", false, "Show the gpu section as it would be saved")
	return cmd
}

func newSetCmd(o *options) *cobra.Command {
	var save, noApply bool
	cmd := &cobra.Command{
		Use:   "set EXPR...",
		Short: "Request new settings, e.g. tdp=15W clock=800-1600",
		Long: `Request new settings. Power values accept W, mW and uW (bare numbers are
watts), clocks accept MHz and GHz as min-max. "none" clears a knob.
Values are clamped to the gpu limits.`,
		Args: argsError(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := parser.ParseSettings(args...)
			if err != nil {
				return util.NewCmdError(util.ErrorCmdArg, "%v", err)
			}
			return o.withSession(func(s *Session) error {
				if err := s.Apply(changes); err != nil {
					return err
				}
				if !noApply {
					if err := s.Dispatch(cmd.Context(), api.SettingsAppliedHook, api.PowerSourceUnknown); err != nil {
						return err
					}
				}
				if save {
					if err := s.Save(); err != nil {
						return err
					}
				}
				if o.json {
					return printJSON(cmd.OutOrStdout(), viewOf(s.Gpu))
				}
				printSettings(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Save the result to the settings file")
	cmd.Flags().BoolVar(&noApply, "no-apply", false, "Only record the values, do not push them to the gpu")
	return cmd
}

func newPresetCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preset",
		Short: "List or apply performance presets",
		Args:  argsError(cobra.NoArgs),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List presets",
		Args:  argsError(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := o.cfg.PresetTable()
			if err != nil {
				return util.NewCmdError(util.ErrorConfig, "%v", err)
			}
			if o.json {
				return printJSON(cmd.OutOrStdout(), table.SortedByID())
			}
			printPresets(cmd.OutOrStdout(), table)
			return nil
		},
	}

	var save bool
	apply := &cobra.Command{
		Use:   "apply NAME|ID",
		Short: "Apply a preset",
		Args:  argsError(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withSession(func(s *Session) error {
				if err := s.Apply(&parser.Changes{Preset: args[0]}); err != nil {
					return err
				}
				if err := s.Dispatch(cmd.Context(), api.SettingsAppliedHook, api.PowerSourceUnknown); err != nil {
					return err
				}
				if save {
					if err := s.Save(); err != nil {
						return err
					}
				}
				printSettings(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
	apply.Flags().BoolVar(&save, "save", false, "Save the result to the settings file")

	cmd.AddCommand(list, apply)
	return cmd
}

func newHookCmd(o *options) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Run lifecycle hooks, meant for system scripts",
		Args:  argsError(cobra.NoArgs),
	}

	resume := &cobra.Command{
		Use:   "resume",
		Short: "Re-apply the saved settings after resume",
		Args:  argsError(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withSession(func(s *Session) error {
				if err := s.Dispatch(cmd.Context(), api.ResumeHook, api.PowerSourceUnknown); err != nil {
					return err
				}
				o.reportHook(cmd.OutOrStdout(), s, api.ResumeHook)
				return nil
			})
		},
	}

	powerCmd := &cobra.Command{
		Use:       "power [ac|battery]",
		Short:     "Handle a power source change, detected when not given",
		Args:      argsError(cobra.MaximumNArgs(1)),
		ValidArgs: []string{"ac", "battery"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withSession(func(s *Session) error {
				src := power.Detect(s.Locator)
				if len(args) == 1 {
					var err error
					if src, err = parseSource(args[0]); err != nil {
						return err
					}
				}
				log.Infof("Power source: %s", src)
				if err := s.Dispatch(cmd.Context(), api.PowerSourceChangedHook, src); err != nil {
					return err
				}
				if save {
					if err := s.Save(); err != nil {
						return err
					}
				}
				o.reportHook(cmd.OutOrStdout(), s, api.PowerSourceChangedHook)
				return nil
			})
		},
	}
	powerCmd.Flags().BoolVar(&save, "save", false, "Save the resulting settings")

	cmd.AddCommand(resume, powerCmd)
	return cmd
}

// reportHook prints the resulting settings when run from a terminal. Hooks
// started in the background, e.g. by a resume script, only log a summary.
func (o *options) reportHook(w io.Writer, s *Session, t api.HookType) {
	if o.foreground != nil && o.foreground() {
		printSettings(w, s)
		return
	}
	tdp, _, _ := s.Gpu.PPTWithTDP()
	log.Infof("Hook %s done: preset %s, tdp %s", t, presetName(s.Presets, s.Gpu.Preset()), formatOpt(tdp, true))
}

func parseSource(s string) (api.PowerSource, error) {
	switch strings.ToLower(s) {
	case "ac":
		return api.PowerSourceAC, nil
	case "battery", "bat":
		return api.PowerSourceBattery, nil
	default:
		return api.PowerSourceUnknown, util.NewCmdError(util.ErrorCmdArg, "unknown power source %q", s)
	}
}

func newPowerCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "power",
		Short: "Show power supplies and the detected power source",
		Args:  argsError(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			locator := sysfsLocator(o)
			supplies, err := power.List(locator)
			if err != nil {
				log.Debugf("Cannot list power supplies: %v", err)
			}
			src := power.Detect(locator)
			if o.json {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"source":   src.String(),
					"supplies": supplies,
				})
			}
			printSupplies(cmd.OutOrStdout(), src, supplies)
			return nil
		},
	}
}

var probedAttributes = []string{
	"device/vendor",
	"device/power_dpm_force_performance_level",
	"device/pp_od_clk_voltage",
	"device/power1_cap",
}

func newLocateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "locate",
		Short: "Show the device directory the settings are bound to",
		Args:  argsError(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withSession(func(s *Session) error {
				dev := s.Gpu.DevicePath()
				w := cmd.OutOrStdout()
				root, custom := dev.Root()

				rows := make([][]string, 0, len(probedAttributes))
				for _, attr := range probedAttributes {
					value := "-"
					if v, err := dev.ReadAttribute(attr); err == nil {
						value = v
					}
					rows = append(rows, []string{attr, value, fmt.Sprintf("%v", dev.Writable(attr))})
				}

				if o.json {
					attrs := make(map[string]any, len(rows))
					for _, r := range rows {
						attrs[r[0]] = map[string]string{"value": r[1], "writable": r[2]}
					}
					return printJSON(w, map[string]any{
						"path":        dev.Path(),
						"root":        root,
						"custom_root": custom,
						"exists":      dev.Exists(),
						"attributes":  attrs,
					})
				}

				fmt.Fprintf(w, "Device: %s (exists: %v)\n", dev.Path(), dev.Exists())
				fmt.Fprintf(w, "Root: %s (custom: %v)\n", root, custom)
				util.RenderTable(w, []string{"Attribute", "Value", "Writable"}, rows, false)
				return nil
			})
		},
	}
}

func newInfoCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show host and backend information",
		Args:  argsError(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			hi, err := host.InfoWithContext(cmd.Context())
			if err != nil {
				return util.NewCmdError(util.ErrorGeneric, "failed to read host info: %v", err)
			}
			return o.withSession(func(s *Session) error {
				vendor, _ := s.Gpu.DevicePath().ReadAttribute("device/vendor")
				info := map[string]string{
					"hostname": hi.Hostname,
					"platform": fmt.Sprintf("%s %s", hi.Platform, hi.PlatformVersion),
					"kernel":   fmt.Sprintf("%s (%s)", hi.KernelVersion, hi.KernelArch),
					"provider": string(s.Gpu.Provider()),
					"vendor":   vendorName(vendor),
					"device":   s.Gpu.DevicePath().Path(),
					"power":    power.Detect(s.Locator).String(),
					"version":  util.VERSION,
				}
				if o.json {
					return printJSON(cmd.OutOrStdout(), info)
				}
				rows := make([][]string, 0, len(info))
				for _, k := range []string{"hostname", "platform", "kernel", "provider", "vendor", "device", "power", "version"} {
					rows = append(rows, []string{k, info[k]})
				}
				util.RenderTable(cmd.OutOrStdout(), []string{"Key", "Value"}, rows, false)
				return nil
			})
		},
	}
}

func vendorName(id string) string {
	switch strings.ToLower(id) {
	case driver.VendorAMD:
		return "AMD (" + id + ")"
	case driver.VendorNvidia:
		return "NVIDIA (" + id + ")"
	case driver.VendorIntel:
		return "Intel (" + id + ")"
	case "":
		return "unknown"
	default:
		return id
	}
}

func newConfigCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  argsError(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.json {
				return printJSON(cmd.OutOrStdout(), o.cfg)
			}
			config.PrintConfig(o.cfg)
			return nil
		},
	}
}

type deviceHolder interface {
	Device() nvidia.Device
}

func newTuningCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:       "tuning [on|off]",
		Short:     "Show or switch gpu tuning, hooks push nothing while it is off",
		Args:      argsError(cobra.MaximumNArgs(1)),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := o.cfg.SettingsFile
			if len(args) == 1 {
				var enabled bool
				switch strings.ToLower(args[0]) {
				case "on", "enable", "true":
					enabled = true
				case "off", "disable", "false":
				default:
					return util.NewCmdError(util.ErrorCmdArg, "expected on or off, got %q", args[0])
				}
				if err := persist.WriteTuning(path, enabled); err != nil {
					return util.NewCmdError(util.ErrorGeneric, "%v", err)
				}
				log.Infof("GPU tuning %s", onOff(enabled))
			}

			rec, err := persist.ReadFile(path)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return util.NewCmdError(util.ErrorConfig, "%v", err)
			}
			if o.json {
				return printJSON(cmd.OutOrStdout(), map[string]bool{"enabled": rec.Tuning()})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "GPU tuning: %s\n", onOff(rec.Tuning()))
			return nil
		},
	}
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

func newStatsCmd(o *options) *cobra.Command {
	var samples int
	var interval time.Duration
	var influx bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Sample gpu power draw, temperature and utilization",
		Args:  argsError(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if samples < 1 {
				return util.NewCmdError(util.ErrorCmdArg, "--samples must be at least 1")
			}
			if interval <= 0 {
				return util.NewCmdError(util.ErrorCmdArg, "--interval must be positive")
			}
			if influx && o.cfg.InfluxDB == nil {
				return util.NewCmdError(util.ErrorConfig, "--influx needs an influxdb section in the config")
			}
			return o.withSession(func(s *Session) error {
				holder, ok := s.Gpu.(deviceHolder)
				if !ok {
					return util.NewCmdError(util.ErrorHardware, "%s backend reports no telemetry", s.Gpu.Provider())
				}
				dev := holder.Device()
				reader := nvidia.NewReader(dev)

				var sink db.Sink
				if influx {
					influxDB, err := db.NewInfluxDB(cmd.Context(), o.cfg.InfluxDB)
					if err != nil {
						return util.NewCmdError(util.ErrorGeneric, "%v", err)
					}
					defer influxDB.Close()
					sink = influxDB
				}
				hostname, _ := os.Hostname()
				deviceName, _ := dev.Name()

				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				rows := make([][]string, 0, samples)
				all := make([]*nvidia.Metrics, 0, samples)
				for i := 0; i < samples; i++ {
					if i > 0 {
						select {
						case <-cmd.Context().Done():
							return cmd.Context().Err()
						case <-ticker.C:
						}
					}
					m, err := reader.Read()
					if err != nil {
						return util.NewCmdError(util.ErrorHardware, "%v", err)
					}
					if sink != nil {
						err := sink.SaveGpuMetrics(cmd.Context(), &db.Sample{
							Host:    hostname,
							Card:    s.Gpu.DevicePath().Name(),
							Device:  deviceName,
							Time:    time.Now(),
							Metrics: m,
						})
						if err != nil {
							return util.NewCmdError(util.ErrorGeneric, "%v", err)
						}
					}
					all = append(all, m)
					rows = append(rows, []string{
						fmt.Sprintf("%.2fW", m.Power),
						fmt.Sprintf("%.2fJ", m.Energy),
						fmt.Sprintf("%dC", m.Temp),
						fmt.Sprintf("%d%%", m.Util),
						fmt.Sprintf("%d%%", m.MemUtil),
					})
				}

				if o.json {
					return printJSON(cmd.OutOrStdout(), all)
				}
				util.RenderTable(cmd.OutOrStdout(), []string{"Power", "Energy", "Temp", "Util", "MemUtil"}, rows, false)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&samples, "samples", "n", 1, "Number of samples")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "Time between samples")
	cmd.Flags().BoolVar(&influx, "influx", false, "Also write every sample to the configured InfluxDB")
	return cmd
}
