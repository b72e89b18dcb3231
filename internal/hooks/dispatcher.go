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

package hooks

import (
	"context"

	"github.com/sirupsen/logrus"

	"CranePowerCtl/api"
	"CranePowerCtl/internal/settings"
)

// Dispatcher runs its handlers, in registration order, for every hook.
type Dispatcher struct {
	handlers []Handler
	log      logrus.FieldLogger
}

func NewDispatcher(logger logrus.FieldLogger) *Dispatcher {
	if logger == nil {
		logger = logrus.WithField("component", "Hooks")
	}
	return &Dispatcher{log: logger}
}

func (d *Dispatcher) Use(hs ...Handler) *Dispatcher {
	d.handlers = append(d.handlers, hs...)
	return d
}

// Dispatch returns every knob failure reported along the chain, nil when all
// handlers succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, t api.HookType, src api.PowerSource) []api.SettingError {
	if ctx == nil {
		ctx = context.Background()
	}
	hs := append([]Handler{d.report}, d.handlers...)
	c := newContext(ctx, t, src, hs)
	d.log.Debugf("Dispatching %s to %d handler(s)", t, len(d.handlers))
	c.start()

	errs := c.Errors()
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// report runs ahead of the registered handlers and logs what they reported.
func (d *Dispatcher) report(c *Context) {
	c.Next()
	for _, e := range c.errs {
		d.log.Warnf("Hook %s: %v", c.Type, e)
	}
}

// GpuHandler forwards the hook to gpu's lifecycle method.
func GpuHandler(gpu settings.Gpu) Handler {
	return func(c *Context) {
		switch c.Type {
		case api.SettingsAppliedHook:
			c.AddErrors(gpu.OnSet()...)
		case api.ResumeHook:
			c.AddErrors(gpu.OnResume()...)
		case api.PowerSourceChangedHook:
			c.AddErrors(gpu.OnPowerEvent(c.Source)...)
		}
	}
}

// TuningGate stops the chain when gpu tuning is switched off, so no handler
// after it touches the device.
func TuningGate(enabled bool) Handler {
	return func(c *Context) {
		if !enabled {
			c.Abort()
		}
	}
}
