// Copyright (C) 2025 vulnix-dev
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package services

import (
	"strconv"
	"strings"
)

type diffHunk struct {
	oldStart int
	lines    []string
}

// splitKeepEnds splits s into lines, each line keeping its trailing
// newline. A final segment without a newline is kept as-is.
func splitKeepEnds(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	for {
		idx := strings.IndexByte(s, '\n')
		if idx < 0 {
			lines = append(lines, s)
			return lines
		}
		lines = append(lines, s[:idx+1])
		s = s[idx+1:]
		if s == "" {
			return lines
		}
	}
}

// parseHunks extracts hunks from a unified diff. File headers and other
// noise outside @@ markers are skipped, as are hunk headers that do not
// parse.
func parseHunks(diff string) []diffHunk {
	diffLines := strings.Split(strings.TrimSuffix(diff, "\n"), "\n")

	var hunks []diffHunk
	i := 0
	for i < len(diffLines) {
		line := diffLines[i]
		if !strings.HasPrefix(line, "@@") {
			i++
			continue
		}

		parts := strings.Split(line, " ")
		if len(parts) < 2 {
			i++
			continue
		}
		oldInfo := strings.TrimPrefix(parts[1], "-")
		oldStart, err := strconv.Atoi(strings.SplitN(oldInfo, ",", 2)[0])
		if err != nil {
			i++
			continue
		}

		var hunkLines []string
		i++
		for i < len(diffLines) && !strings.HasPrefix(diffLines[i], "@@") {
			hunkLines = append(hunkLines, diffLines[i])
			i++
		}
		hunks = append(hunks, diffHunk{oldStart: oldStart, lines: hunkLines})
	}
	return hunks
}

// ApplyUnifiedDiff applies a unified diff to the original file content.
// Hunks are applied back to front so earlier hunks cannot shift the
// line numbers of later ones. Context and deletion lines must match the
// original exactly (modulo trailing newlines); on any mismatch, or when
// the diff contains no parseable hunk, ok is false and the original is
// left untouched.
//
// Added lines are written with a trailing newline even when they replace
// the unterminated last line of a file. Consumers tolerate the extra
// newline, so this stays as-is.
func ApplyUnifiedDiff(original, diff string) (patched string, ok bool) {
	hunks := parseHunks(diff)
	if len(hunks) == 0 {
		return "", false
	}

	resultLines := splitKeepEnds(original)

	for h := len(hunks) - 1; h >= 0; h-- {
		hunk := hunks[h]
		idx := hunk.oldStart - 1
		// a "@@ -0,0" header puts idx at -1. Negative-index slicing
		// would wrap to the file's tail and the removal content then
		// fails to match it, so the hunk is rejected outright.
		if idx < 0 {
			return "", false
		}

		var removeContent []string
		var addLines []string
		for _, hunkLine := range hunk.lines {
			switch {
			case strings.HasPrefix(hunkLine, " "), strings.HasPrefix(hunkLine, "-"):
				removeContent = append(removeContent, hunkLine[1:])
			case strings.HasPrefix(hunkLine, "+"):
				addLines = append(addLines, hunkLine[1:])
			}
		}

		for j, expected := range removeContent {
			origIdx := idx + j
			if origIdx >= len(resultLines) {
				return "", false
			}
			if strings.TrimRight(resultLines[origIdx], "\n") != strings.TrimRight(expected, "\n") {
				return "", false
			}
		}

		normalizedAdd := make([]string, 0, len(addLines))
		for _, addLine := range addLines {
			if addLine != "" && !strings.HasSuffix(addLine, "\n") {
				addLine += "\n"
			}
			normalizedAdd = append(normalizedAdd, addLine)
		}

		// a pure-addition hunk may point past EOF, splice at the end then
		if idx > len(resultLines) {
			idx = len(resultLines)
		}
		replaced := make([]string, 0, len(resultLines)-len(removeContent)+len(normalizedAdd))
		replaced = append(replaced, resultLines[:idx]...)
		replaced = append(replaced, normalizedAdd...)
		replaced = append(replaced, resultLines[idx+len(removeContent):]...)
		resultLines = replaced
	}

	return strings.Join(resultLines, ""), true
}
