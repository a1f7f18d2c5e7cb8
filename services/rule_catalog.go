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
	"path/filepath"
	"strings"

	"github.com/vulnix-dev/vulnix/database/models"
)

// RuleInfo is the out-of-band metadata of a scanner rule: the normalized
// vulnerability class plus its CWE and OWASP references and the severity
// to fall back to when the adjudicator does not override it.
type RuleInfo struct {
	VulnerabilityType string
	CWEID             *string
	OWASPCategory     *string
	DefaultSeverity   models.Severity
}

func strPtr(s string) *string { return &s }

var ruleCatalog = map[string]RuleInfo{
	"vulnix.python.injection.sql_format_string": {
		VulnerabilityType: "sql_injection",
		CWEID:             strPtr("CWE-89"),
		OWASPCategory:     strPtr("A03:2021-Injection"),
		DefaultSeverity:   models.SeverityCritical,
	},
	"vulnix.javascript.injection.sql_string_concat": {
		VulnerabilityType: "sql_injection",
		CWEID:             strPtr("CWE-89"),
		OWASPCategory:     strPtr("A03:2021-Injection"),
		DefaultSeverity:   models.SeverityCritical,
	},
	"vulnix.go.injection.command_exec": {
		VulnerabilityType: "command_injection",
		CWEID:             strPtr("CWE-78"),
		OWASPCategory:     strPtr("A03:2021-Injection"),
		DefaultSeverity:   models.SeverityCritical,
	},
	"vulnix.python.xss.flask_render_html": {
		VulnerabilityType: "xss",
		CWEID:             strPtr("CWE-79"),
		OWASPCategory:     strPtr("A03:2021-Injection"),
		DefaultSeverity:   models.SeverityHigh,
	},
	"vulnix.java.xss.servlet_print_unsanitized": {
		VulnerabilityType: "xss",
		CWEID:             strPtr("CWE-79"),
		OWASPCategory:     strPtr("A03:2021-Injection"),
		DefaultSeverity:   models.SeverityHigh,
	},
	"vulnix.go.crypto.hardcoded_key": {
		VulnerabilityType: "hardcoded_credentials",
		CWEID:             strPtr("CWE-798"),
		OWASPCategory:     strPtr("A07:2021-Identification and Authentication Failures"),
		DefaultSeverity:   models.SeverityHigh,
	},
	"vulnix.javascript.auth.jwt_no_verify": {
		VulnerabilityType: "insecure_jwt",
		CWEID:             strPtr("CWE-347"),
		OWASPCategory:     strPtr("A02:2021-Cryptographic Failures"),
		DefaultSeverity:   models.SeverityHigh,
	},
	"vulnix.java.crypto.weak_hash": {
		VulnerabilityType: "weak_crypto",
		CWEID:             strPtr("CWE-328"),
		OWASPCategory:     strPtr("A02:2021-Cryptographic Failures"),
		DefaultSeverity:   models.SeverityMedium,
	},
	"vulnix.python.crypto.weak_hash_md5": {
		VulnerabilityType: "weak_crypto",
		CWEID:             strPtr("CWE-328"),
		OWASPCategory:     strPtr("A02:2021-Cryptographic Failures"),
		DefaultSeverity:   models.SeverityMedium,
	},
	"vulnix.go.crypto.weak_hash_md5": {
		VulnerabilityType: "weak_crypto",
		CWEID:             strPtr("CWE-328"),
		OWASPCategory:     strPtr("A02:2021-Cryptographic Failures"),
		DefaultSeverity:   models.SeverityMedium,
	},
	"vulnix.java.crypto.insecure_random": {
		VulnerabilityType: "insecure_random",
		CWEID:             strPtr("CWE-330"),
		OWASPCategory:     strPtr("A02:2021-Cryptographic Failures"),
		DefaultSeverity:   models.SeverityMedium,
	},
	"vulnix.python.deserialization.pickle_load": {
		VulnerabilityType: "insecure_deserialization",
		CWEID:             strPtr("CWE-502"),
		OWASPCategory:     strPtr("A08:2021-Software and Data Integrity Failures"),
		DefaultSeverity:   models.SeverityCritical,
	},
	"vulnix.javascript.misconfig.cors_wildcard": {
		VulnerabilityType: "security_misconfiguration",
		CWEID:             strPtr("CWE-942"),
		OWASPCategory:     strPtr("A05:2021-Security Misconfiguration"),
		DefaultSeverity:   models.SeverityMedium,
	},
}

// LookupRule resolves a rule id against the catalog. Unknown rules map to
// the "unknown" class with no CWE/OWASP references and the severity the
// engine reported.
func LookupRule(ruleID, engineSeverity string) RuleInfo {
	if info, ok := ruleCatalog[ruleID]; ok {
		return info
	}
	return RuleInfo{
		VulnerabilityType: "unknown",
		DefaultSeverity:   engineSeverityToModel(engineSeverity),
	}
}

// engineSeverityToModel maps semgrep's native levels onto the persisted scale.
func engineSeverityToModel(engineSeverity string) models.Severity {
	switch strings.ToUpper(engineSeverity) {
	case "ERROR":
		return models.SeverityHigh
	case "WARNING":
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// DetectLanguageFromRule extracts the language tag out of a
// "vulnix.<lang>.<category>.<name>" rule id. Unknown shapes yield "".
func DetectLanguageFromRule(ruleID string) string {
	parts := strings.Split(ruleID, ".")
	if len(parts) < 3 || parts[0] != "vulnix" {
		return ""
	}
	return parts[1]
}

// LanguageFromExtension resolves the human readable language name the
// adjudication prompt embeds for a file.
func LanguageFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return "Python"
	case ".js":
		return "JavaScript"
	case ".jsx":
		return "JavaScript (React)"
	case ".ts":
		return "TypeScript"
	case ".tsx":
		return "TypeScript (React)"
	case ".java":
		return "Java"
	case ".go":
		return "Go"
	default:
		return "source"
	}
}

// supportedExtensions are the file extensions the scanner has rules for.
var supportedExtensions = map[string]struct{}{
	".py":   {},
	".js":   {},
	".jsx":  {},
	".ts":   {},
	".tsx":  {},
	".java": {},
	".go":   {},
}

// IsSupportedFile reports whether the scanner can do anything useful with
// the file.
func IsSupportedFile(path string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// CanonicalSeverity lowercases and validates an adjudicator supplied
// severity; anything outside the known scale becomes medium.
func CanonicalSeverity(s string) models.Severity {
	switch models.Severity(strings.ToLower(strings.TrimSpace(s))) {
	case models.SeverityCritical:
		return models.SeverityCritical
	case models.SeverityHigh:
		return models.SeverityHigh
	case models.SeverityMedium:
		return models.SeverityMedium
	case models.SeverityLow:
		return models.SeverityLow
	default:
		return models.SeverityMedium
	}
}
