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

package parser

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	cmdLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Unit", Pattern: `(?i)(uW|µW|mW|W|MHz|GHz)\b`},
		{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
		{Name: "Number", Pattern: `\d+(?:\.\d+)?`},
		{Name: "Operator", Pattern: `[=-]`},
		{Name: "Whitespace", Pattern: `\s+`},
	})
)

// Command is a list of assignments such as "tdp=15W clock=800-1600".
type Command struct {
	Assignments []*Assignment `parser:"@@+"`
}

type Assignment struct {
	Pos   lexer.Position
	Key   string `parser:"@Ident '='"`
	Value *Value `parser:"@@"`
}

type Value struct {
	None  bool   `parser:"  @('none' | 'off')"`
	Range *Range `parser:"| @@"`
	Name  string `parser:"| @Ident"`
}

type Range struct {
	Min *Quantity `parser:"@@"`
	Max *Quantity `parser:"( '-' @@ )?"`
}

type Quantity struct {
	Number float64 `parser:"@Number"`
	Unit   string  `parser:"@Unit?"`
}

func (q *Quantity) String() string {
	return fmt.Sprintf("%g%s", q.Number, q.Unit)
}

var cmdParser = participle.MustBuild[Command](
	participle.Lexer(cmdLexer),
	participle.Elide("Whitespace"),
)

func Parse(s string) (*Command, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty setting expression")
	}
	cmd, err := cmdParser.ParseString("", s)
	if err != nil {
		return nil, err
	}
	return cmd, nil
}
