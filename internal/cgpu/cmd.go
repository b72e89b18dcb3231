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
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"CranePowerCtl/internal/config"
	"CranePowerCtl/internal/settings/driver"
	"CranePowerCtl/internal/settings/nvidia"
	"CranePowerCtl/internal/util"
)

type options struct {
	configPath   string
	json         bool
	sysfsRoot    string
	limitsFile   string
	settingsFile string
	driver       string
	logLevel     string

	cfg     *config.Config
	library nvidia.Library
	// foreground reports whether output goes to an interactive terminal.
	foreground func() bool
}

// ParseCmdArgs executes the root command and exits with its code.
func ParseCmdArgs() {
	if err := NewRootCmd(nil).Execute(); err != nil {
		log.Error(err)
		os.Exit(util.ExitCodeOf(err))
	}
}

func argsError(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return util.NewCmdError(util.ErrorCmdArg, "%v", err)
		}
		return nil
	}
}

// NewRootCmd builds the command tree. lib overrides the NVML entry point.
func NewRootCmd(lib nvidia.Library) *cobra.Command {
	return newRootCmd(&options{library: lib, foreground: util.IsForeground})
}

func newRootCmd(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "cgpu",
		Short:         "Inspect and tune GPU power and clock limits",
		Version:       util.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.loadConfig(cmd)
		},
	}
	root.SetVersionTemplate(util.VersionTemplate())
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return util.NewCmdError(util.ErrorCmdArg, "%v", err)
	})

	flags := root.PersistentFlags()
	flags.StringVarP(&o.configPath, "config", "C", config.DefaultConfigPath, "Path to configuration file")
	flags.BoolVar(&o.json, "json", false, "Output in JSON format")
	flags.StringVar(&o.sysfsRoot, "root", "", "Filesystem root holding sys/")
	flags.StringVar(&o.limitsFile, "limits", "", "Path to the gpu limits descriptor")
	flags.StringVar(&o.settingsFile, "settings", "", "Path to the saved settings record")
	flags.StringVar(&o.driver, "driver", "", "Backend: auto, generic or nvidia")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	root.AddCommand(
		newLimitsCmd(o),
		newShowCmd(o),
		newSetCmd(o),
		newPresetCmd(o),
		newHookCmd(o),
		newPowerCmd(o),
		newLocateCmd(o),
		newInfoCmd(o),
		newTuningCmd(o),
		newStatsCmd(o),
		newConfigCmd(o),
	)
	return root
}

func (o *options) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return util.NewCmdError(util.ErrorConfig, "%v", err)
	}

	flags := cmd.Flags()
	override(flags, "root", &cfg.SysfsRoot, o.sysfsRoot)
	override(flags, "limits", &cfg.LimitsFile, o.limitsFile)
	override(flags, "settings", &cfg.SettingsFile, o.settingsFile)
	override(flags, "log-level", &cfg.Log.Level, o.logLevel)
	if flags.Changed("driver") {
		if _, err := driver.ParseDriver(o.driver); err != nil {
			return util.NewCmdError(util.ErrorCmdArg, "%v", err)
		}
		cfg.Driver = o.driver
	}

	if err := util.InitLogger(cfg.Log.Level, cfg.Log.File); err != nil {
		return util.NewCmdError(util.ErrorCmdArg, "%v", err)
	}
	o.cfg = cfg
	return nil
}

// override replaces dst with val only when the flag was given.
func override(flags *pflag.FlagSet, name string, dst *string, val string) {
	if flags.Changed(name) {
		*dst = val
	}
}

// withSession opens the gpu session for the duration of fn.
func (o *options) withSession(fn func(*Session) error) error {
	s, err := OpenSession(o.cfg, o.library)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}
