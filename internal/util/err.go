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
	"errors"
	"fmt"
)

type CmdErrorCode = int

const (
	ErrorSuccess       CmdErrorCode = 0
	ErrorCmdArg        CmdErrorCode = 1
	ErrorGeneric       CmdErrorCode = 2
	ErrorConfig        CmdErrorCode = 3
	ErrorHardware      CmdErrorCode = 4
	ErrorInvalidFormat CmdErrorCode = 5
)

// CmdError carries the exit code a command should terminate with.
type CmdError struct {
	Code    CmdErrorCode
	Message string
}

func (e *CmdError) Error() string {
	return e.Message
}

func NewCmdError(code CmdErrorCode, format string, args ...any) *CmdError {
	return &CmdError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ExitCodeOf maps err to an exit code, ErrorGeneric for plain errors.
func ExitCodeOf(err error) CmdErrorCode {
	if err == nil {
		return ErrorSuccess
	}
	var cmdErr *CmdError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code
	}
	return ErrorGeneric
}
