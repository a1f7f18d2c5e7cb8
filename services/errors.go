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

import "github.com/pkg/errors"

var (
	// ErrSignatureInvalid marks a webhook whose signature header is
	// missing or does not match. The payload is never parsed in that case.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrScannerNotInstalled surfaces a missing semgrep binary.
	ErrScannerNotInstalled = errors.New("scanner not installed")
	// ErrScannerTimedOut surfaces a scan exceeding the wall clock cap.
	ErrScannerTimedOut = errors.New("scanner timed out")
	// ErrScannerFailed surfaces an engine exit code >= 2.
	ErrScannerFailed = errors.New("scanner failed")

	// ErrLLMAdjudicationFailed marks a per-file adjudication failure. The
	// file contributes zero results, the scan proceeds.
	ErrLLMAdjudicationFailed = errors.New("llm adjudication failed")
)
