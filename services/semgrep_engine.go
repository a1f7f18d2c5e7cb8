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
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// scannerWallClock caps a single engine run.
	scannerWallClock = 600 * time.Second
	// scanTempPrefix is where per-job working trees live.
	scanTempPrefix = "/tmp/vulnix-scan-"
)

// SemgrepEngine drives the external pattern match engine over a local
// working tree and parses its JSON output into Finding records.
type SemgrepEngine struct {
	// rules is the --config argument, a rules path or registry ref.
	rules string
}

func NewSemgrepEngine() *SemgrepEngine {
	rules := os.Getenv("SEMGREP_RULES")
	if rules == "" {
		rules = "auto"
	}
	return &SemgrepEngine{rules: rules}
}

// PrepareTempDir creates the per-job working directory.
func (e *SemgrepEngine) PrepareTempDir(jobID string) (string, error) {
	dir := scanTempPrefix + jobID
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "could not create scan working dir")
	}
	return dir, nil
}

// CleanupTempDir removes the working directory. Safe to call on every
// exit path.
func (e *SemgrepEngine) CleanupTempDir(dir string) {
	if dir == "" || !strings.HasPrefix(dir, scanTempPrefix) {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("could not remove scan working dir", "dir", dir, "err", err)
	}
}

// semgrepOutput is the engine's JSON shape, reduced to what the pipeline reads.
type semgrepOutput struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
		} `json:"start"`
		End struct {
			Line int `json:"line"`
		} `json:"end"`
		Extra struct {
			Severity string `json:"severity"`
			Message  string `json:"message"`
			Lines    string `json:"lines"`
			Metadata struct {
				CWE json.RawMessage `json:"cwe"`
			} `json:"metadata"`
		} `json:"extra"`
	} `json:"results"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Scan runs the engine over workDir. Exit code 0 means clean, 1 means
// findings present; anything above is an engine failure.
func (e *SemgrepEngine) Scan(ctx context.Context, workDir string) ([]Finding, error) {
	ctx, cancel := context.WithTimeout(ctx, scannerWallClock)
	defer cancel()

	cmd := exec.CommandContext(ctx, "semgrep",
		"--config", e.rules,
		"--json",
		"--quiet",
		"--timeout", "300",
		"--max-target-bytes", "1000000",
		"--jobs", "4",
		workDir,
	)
	// the engine phones home unless told otherwise, and needs a writable HOME
	cmd.Env = append(os.Environ(), "HOME=/tmp", "SEMGREP_SEND_METRICS=off")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	slog.Debug("semgrep finished", "duration", time.Since(start), "workDir", workDir)

	if ctx.Err() == context.DeadlineExceeded {
		return nil, errors.Wrapf(ErrScannerTimedOut, "scan exceeded %s", scannerWallClock)
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			// exit code 1 just signals findings
			if exitErr.ExitCode() >= 2 {
				return nil, errors.Wrapf(ErrScannerFailed, "semgrep exited %d: %s", exitErr.ExitCode(), firstLine(stderr.String()))
			}
		case errors.Is(err, exec.ErrNotFound):
			return nil, errors.Wrap(ErrScannerNotInstalled, "semgrep binary not found")
		default:
			return nil, errors.Wrap(ErrScannerFailed, err.Error())
		}
	}

	// some engine versions print the report to stderr when stdout was
	// redirected away, salvage it
	raw := stdout.Bytes()
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = stderr.Bytes()
	}

	return e.parseOutput(raw, workDir)
}

func (e *SemgrepEngine) parseOutput(raw []byte, workDir string) ([]Finding, error) {
	var out semgrepOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrapf(ErrScannerFailed, "could not parse engine output: %v", err)
	}

	// partial rule errors are tolerated, the surviving results still count
	for _, engineErr := range out.Errors {
		slog.Warn("semgrep reported a partial error", "message", engineErr.Message)
	}

	findings := make([]Finding, 0, len(out.Results))
	for _, r := range out.Results {
		path := r.Path
		if rel, err := filepath.Rel(workDir, path); err == nil && !strings.HasPrefix(rel, "..") {
			path = rel
		}

		findings = append(findings, Finding{
			RuleID:    r.CheckID,
			Severity:  r.Extra.Severity,
			FilePath:  filepath.ToSlash(path),
			StartLine: r.Start.Line,
			EndLine:   r.End.Line,
			Snippet:   r.Extra.Lines,
			Message:   r.Extra.Message,
			CWE:       parseCWEList(r.Extra.Metadata.CWE),
		})
	}
	return findings, nil
}

// parseCWEList accepts the metadata's cwe field as either a string or a
// list of strings. A finding without CWE metadata carries an empty list.
func parseCWEList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return []string{}
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}

	return []string{}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
