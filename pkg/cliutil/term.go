// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package cliutil

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// GetTerminalWidth returns the width of the terminal that you should wrap text to.
func GetTerminalWidth() int {
	// Obey COLUMNS if the shell or user sets it.
	if cols, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil {
		return cols
	}

	// Try to detect the size of the stdout file descriptor.
	if cols, _, err := term.GetSize(1); err == nil {
		return cols
	}

	// If stdout is a terminal but we were unable to get its size, then fall back to assuming
	// 80.
	if term.IsTerminal(1) {
		return 80
	}

	// If stdout isn't a terminal, then we leave cols as 0, meaning "don't wrap it".
	return 0
}

// Wrap the string `s` to a maximum width `w`.  Pass `w` == 0 to do no wrapping.
//
// In order to have some room for slop to avoid things like a short word being on a line by itself,
// most lines are actually wrapped to `w - 5`.
func Wrap(w int, s string) string {
	return wrap(0, w, s)
}

// WrapIndent wraps the string `s` to a maximum width `w` with leading indent `i`.  The first line
// is not indented (this is assumed to be done by caller).  Pass `w` == 0 to do no wrapping.
//
// In order to have some room for slop to avoid things like a short word being on a line by itself,
// most lines are actually wrapped to `w - 5`.
func WrapIndent(i, w int, s string) string {
	return wrap(i, w, s)
}

func wrap(indent, width int, str string) string {
	if width == 0 {
		return str
	}
	limit := width - 5
	indentStr := strings.Repeat(" ", indent)

	var ret strings.Builder
	for lineNum, line := range strings.Split(str, "\n") {
		if lineNum > 0 {
			ret.WriteByte('\n')
		}
		col := indent
		rest := line
		for rest != "" {
			// Keep inter-word whitespace as-authored unless we break the line there;
			// double-spaced sentences and indented example blocks must survive.
			ws := rest[:len(rest)-len(strings.TrimLeft(rest, " \t"))]
			rest = rest[len(ws):]
			word := rest
			if idx := strings.IndexAny(rest, " \t"); idx >= 0 {
				word = rest[:idx]
			}
			rest = rest[len(word):]

			if col > indent && col+len(ws)+len(word) >= limit {
				ret.WriteByte('\n')
				ret.WriteString(indentStr)
				ret.WriteString(word)
				col = indent + len(word)
			} else {
				ret.WriteString(ws)
				ret.WriteString(word)
				col += len(ws) + len(word)
			}
		}
	}
	return ret.String()
}
