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

// Finding is a single raw static scanner detection. Findings are
// in-memory only: they travel from the scanner through the false positive
// filter into the adjudicator and are never persisted as-is.
type Finding struct {
	RuleID string `json:"ruleId"`
	// Severity is the engine native level (ERROR, WARNING, INFO).
	Severity string `json:"severity"`
	// FilePath is relative to the working tree root.
	FilePath  string   `json:"filePath"`
	StartLine int      `json:"startLine"`
	EndLine   int      `json:"endLine"`
	Snippet   string   `json:"snippet"`
	Message   string   `json:"message"`
	CWE       []string `json:"cwe"`
}
