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

	"CranePowerCtl/api"
)

type Handler func(*Context)

// Context is passed along the handler chain of one dispatch. Handlers record
// knob failures with AddErrors and may stop the chain with Abort.
type Context struct {
	Ctx    context.Context
	Type   api.HookType
	Source api.PowerSource

	errs     []api.SettingError
	index    int
	handlers []Handler
}

func newContext(ctx context.Context, t api.HookType, src api.PowerSource, hs []Handler) *Context {
	return &Context{
		Ctx:      ctx,
		Type:     t,
		Source:   src,
		handlers: hs,
	}
}

func (c *Context) AddErrors(errs ...api.SettingError) {
	c.errs = append(c.errs, errs...)
}

func (c *Context) Errors() []api.SettingError {
	return append([]api.SettingError(nil), c.errs...)
}

func (c *Context) start() {
	c.index = 0
	c.run()
}

// Next runs the rest of the chain. When it returns the caller may continue.
func (c *Context) Next() {
	c.index++
	c.run()
}

func (c *Context) run() {
	for c.index < len(c.handlers) {
		if c.Ctx.Err() != nil {
			c.Abort()
			continue
		}
		if c.handlers[c.index] == nil {
			c.Abort()
			continue
		}
		c.handlers[c.index](c)
		c.index++
	}
}

// Abort prevents the following handlers from being called.
func (c *Context) Abort() {
	c.index = len(c.handlers)
}
