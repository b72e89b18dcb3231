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

package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	nested "github.com/antonfisher/nested-logrus-formatter"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logMaxSizeMB  = 10
	logMaxBackups = 3
	logMaxAgeDays = 28
)

var validLogLevels = []string{"trace", "debug", "info", "warn", "error"}

func CheckLogLevel(level string) error {
	for _, l := range validLogLevels {
		if strings.EqualFold(level, l) {
			return nil
		}
	}
	return fmt.Errorf("unknown log level %q", level)
}

// InitLogger configures the standard logger. When logFile is set, output is
// also written to a size-rotated file.
func InitLogger(level string, logFile string) error {
	if err := CheckLogLevel(level); err != nil {
		return err
	}
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}

	log.SetLevel(lvl)
	log.SetReportCaller(lvl >= log.DebugLevel)
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		FieldsOrder:     []string{"component", "device"},
		TimestampFormat: "2006-01-02 15:04:05",
		NoColors:        !IsTerminal(os.Stderr),
	})

	var out io.Writer = os.Stderr
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
			Compress:   true,
		})
	}
	log.SetOutput(out)
	return nil
}
