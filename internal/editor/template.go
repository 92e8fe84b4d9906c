package editor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParseCommand decodes an editor command given as a JSON array of strings,
// e.g. `["gvim", "-f", "+call cursor(%l,%c)"]`.
func ParseCommand(raw string) ([]string, error) {
	var tokens []string
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return nil, fmt.Errorf("parse editor command %q: %w", raw, err)
	}
	if len(tokens) == 0 || tokens[0] == "" {
		return nil, errors.New("editor command is empty")
	}
	return tokens, nil
}

// OffsetToLineColumn converts a caret offset, counted in characters, into a
// zero-based line and column. The offset is clamped into [0, len(text)].
func OffsetToLineColumn(text string, offset int) (line, column int) {
	runes := []rune(text)
	offset = max(0, min(len(runes), offset))

	before := runes[:offset]
	for i, r := range before {
		if r == '\n' {
			line++
			column = offset - i - 1
		}
	}
	if line == 0 {
		column = offset
	}
	return line, column
}

// ExpandArgs substitutes placeholders in every token:
//
//	%s  absolute file path
//	%l  1-based line    %L  0-based line
//	%c  1-based column  %C  0-based column
//
// line and column are zero-based. When no token contains %s the path is
// appended as the last argument.
func ExpandArgs(tokens []string, absPath string, line, column int) []string {
	r := strings.NewReplacer(
		"%s", absPath,
		"%l", strconv.Itoa(line+1),
		"%L", strconv.Itoa(line),
		"%c", strconv.Itoa(column+1),
		"%C", strconv.Itoa(column),
	)

	args := make([]string, 0, len(tokens)+1)
	pathAdded := false
	for _, tok := range tokens {
		if strings.Contains(tok, "%s") {
			pathAdded = true
		}
		args = append(args, r.Replace(tok))
	}
	if !pathAdded {
		args = append(args, absPath)
	}
	return args
}
