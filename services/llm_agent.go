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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"
	"github.com/vulnix-dev/vulnix/monitoring"
)

const claudeModel = "claude-sonnet-4-6"

const analysisSystemPrompt = `You are a senior security engineer with more than ten years of experience.
You verify static analysis results and separate real vulnerabilities from false positives.
Respond with JSON only.`

const patchSystemPrompt = `You are a senior security engineer. You produce minimal patches for security vulnerabilities.`

// AnalysisResult is the adjudicated verdict for a single finding.
type AnalysisResult struct {
	FindingID         string
	IsTruePositive    bool
	Confidence        float64
	Severity          string
	Reasoning         string
	PatchDiff         *string
	PatchDescription  string
	OWASPCategory     *string
	VulnerabilityType *string
	References        []string
	TestSuggestion    *string
}

// LLMAgent batches findings per source file, asks the model to separate
// true positives from false positives, and requests a patch for every
// confirmed finding. Findings-free files never trigger a call.
type LLMAgent struct {
	client anthropic.Client
}

func NewLLMAgent() *LLMAgent {
	// retries are handled here, the SDK's built-in retry would stack on top
	client := anthropic.NewClient(
		option.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")),
		option.WithMaxRetries(0),
	)
	return &LLMAgent{client: client}
}

type analysisItem struct {
	RuleID            string  `json:"rule_id"`
	IsTruePositive    bool    `json:"is_true_positive"`
	Confidence        float64 `json:"confidence"`
	Severity          string  `json:"severity"`
	Reasoning         string  `json:"reasoning"`
	OWASPCategory     string  `json:"owasp_category"`
	VulnerabilityType string  `json:"vulnerability_type"`
	CWEID             string  `json:"cwe_id"`
}

type analysisResponse struct {
	Results []analysisItem `json:"results"`
}

type patchResponse struct {
	PatchDiff        *string  `json:"patch_diff"`
	PatchDescription string   `json:"patch_description"`
	References       []string `json:"references"`
	TestSuggestion   *string  `json:"test_suggestion"`
}

// AnalyzeFindings adjudicates all findings of one file in a single call
// and follows up with one patch call per true positive.
func (a *LLMAgent) AnalyzeFindings(ctx context.Context, fileContent, filePath string, findings []Finding) ([]AnalysisResult, error) {
	if len(findings) == 0 {
		return nil, nil
	}

	optimized := prepareFileContent(fileContent, findings)
	prompt := buildAnalysisPrompt(optimized, filePath, findings)

	raw, err := a.callWithRetry(ctx, analysisSystemPrompt, prompt)
	if err != nil {
		return nil, errors.Wrap(ErrLLMAdjudicationFailed, err.Error())
	}

	items := parseAnalysisResponse(raw)

	results := make([]AnalysisResult, 0, len(items))
	for _, item := range items {
		result := AnalysisResult{
			FindingID:      item.RuleID,
			IsTruePositive: item.IsTruePositive,
			Confidence:     item.Confidence,
			Severity:       item.Severity,
			Reasoning:      item.Reasoning,
			References:     buildReferences(item.CWEID, item.OWASPCategory),
		}
		if item.OWASPCategory != "" {
			result.OWASPCategory = &item.OWASPCategory
		}
		if item.VulnerabilityType != "" {
			result.VulnerabilityType = &item.VulnerabilityType
		}

		if item.IsTruePositive {
			ruleID := item.RuleID
			finding, found := findByRuleID(findings, ruleID)
			if found {
				a.generatePatch(ctx, finding, fileContent, &result)
			}
		}

		results = append(results, result)
	}
	return results, nil
}

func findByRuleID(findings []Finding, ruleID string) (Finding, bool) {
	for _, f := range findings {
		if f.RuleID == ruleID {
			return f, true
		}
	}
	return Finding{}, false
}

// generatePatch fills the patch fields of result. Patch failures never
// fail adjudication, the finding is simply reported as unpatchable.
func (a *LLMAgent) generatePatch(ctx context.Context, finding Finding, fileContent string, result *AnalysisResult) {
	prompt := buildPatchPrompt(finding, fileContent)

	raw, err := a.callWithRetry(ctx, patchSystemPrompt, prompt)
	if err != nil {
		slog.Warn("patch generation failed", "ruleID", finding.RuleID, "err", err)
		return
	}

	var parsed patchResponse
	if err := json.Unmarshal([]byte(stripJSONFence(raw)), &parsed); err != nil {
		slog.Warn("could not parse patch response", "ruleID", finding.RuleID, "err", err)
		return
	}

	result.PatchDiff = parsed.PatchDiff
	result.PatchDescription = parsed.PatchDescription
	result.TestSuggestion = parsed.TestSuggestion
	if len(parsed.References) > 0 {
		result.References = append(result.References, parsed.References...)
	}
}

// callWithRetry performs one model call with the retry ladder: rate
// limits and server errors back off 2, 4, 8 seconds, timeouts retry
// after a fixed 2 seconds, any other client error fails immediately.
func (a *LLMAgent) callWithRetry(ctx context.Context, system, prompt string) (string, error) {
	const maxRetries = 3

	params := anthropic.MessageNewParams{
		Model:       claudeModel,
		MaxTokens:   4096,
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		start := time.Now()
		message, err := a.client.Messages.New(ctx, params)
		monitoring.LLMCallDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			if len(message.Content) == 0 {
				monitoring.LLMCallsTotal.WithLabelValues("empty").Inc()
				return "", errors.New("model returned no content")
			}
			monitoring.LLMCallsTotal.WithLabelValues("ok").Inc()
			return message.Content[0].Text, nil
		}
		lastErr = err

		var apiErr *anthropic.Error
		switch {
		case errors.As(err, &apiErr) && apiErr.StatusCode == 429:
			monitoring.LLMCallsTotal.WithLabelValues("rate_limited").Inc()
			if attempt == maxRetries {
				return "", err
			}
			wait := time.Duration(2<<attempt) * time.Second
			slog.Warn("model rate limited", "wait", wait, "attempt", attempt+1)
			if err := sleepCtx(ctx, wait); err != nil {
				return "", err
			}
		case errors.As(err, &apiErr) && apiErr.StatusCode >= 500:
			monitoring.LLMCallsTotal.WithLabelValues("server_error").Inc()
			if attempt == maxRetries {
				return "", err
			}
			wait := time.Duration(2<<attempt) * time.Second
			slog.Warn("model server error", "status", apiErr.StatusCode, "wait", wait, "attempt", attempt+1)
			if err := sleepCtx(ctx, wait); err != nil {
				return "", err
			}
		case errors.As(err, &apiErr):
			// 401, 403 and friends do not heal with retries
			monitoring.LLMCallsTotal.WithLabelValues("client_error").Inc()
			return "", err
		case isTimeout(err):
			monitoring.LLMCallsTotal.WithLabelValues("timeout").Inc()
			if attempt == maxRetries {
				return "", err
			}
			slog.Warn("model call timed out", "attempt", attempt+1)
			if err := sleepCtx(ctx, 2*time.Second); err != nil {
				return "", err
			}
		default:
			monitoring.LLMCallsTotal.WithLabelValues("error").Inc()
			return "", err
		}
	}
	return "", lastErr
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return os.IsTimeout(err)
}

// sleepCtx is a variable so tests can observe the backoff schedule
// without waiting it out.
var sleepCtx = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// prepareFileContent trims what gets sent to the model. Small files and
// files with many findings go out whole, everything else is reduced to
// numbered windows of 50 lines around each finding with elision markers
// at the gaps.
func prepareFileContent(content string, findings []Finding) string {
	const maxLines = 500

	lines := strings.Split(content, "\n")
	if len(lines) <= maxLines || len(findings) >= 5 {
		return content
	}

	relevant := map[int]struct{}{}
	for _, f := range findings {
		start := f.StartLine - 50
		if start < 0 {
			start = 0
		}
		end := f.EndLine + 50
		if end > len(lines) {
			end = len(lines)
		}
		for i := start; i < end; i++ {
			relevant[i] = struct{}{}
		}
	}

	sortedLines := make([]int, 0, len(relevant))
	for i := range relevant {
		sortedLines = append(sortedLines, i)
	}
	sort.Ints(sortedLines)

	var parts []string
	prev := -2
	for _, lineNum := range sortedLines {
		if lineNum-prev > 1 && prev >= 0 {
			parts = append(parts, fmt.Sprintf("\n... (elided: lines %d-%d) ...\n", prev+2, lineNum))
		}
		parts = append(parts, fmt.Sprintf("%d: %s", lineNum+1, lines[lineNum]))
		prev = lineNum
	}
	return strings.Join(parts, "\n")
}

func buildAnalysisPrompt(fileContent, filePath string, findings []Finding) string {
	var findingsText strings.Builder
	for i, f := range findings {
		if i > 0 {
			findingsText.WriteByte('\n')
		}
		fmt.Fprintf(&findingsText, "- Rule: %s, Line %d-%d: %s\n  Code: %s", f.RuleID, f.StartLine, f.EndLine, f.Message, f.Snippet)
	}

	language := LanguageFromExtension(filePath)

	return fmt.Sprintf(`The following %s code was flagged by a static analysis tool. For each item:
1. Judge whether it is a real vulnerability or a false positive, considering the full context of the code
2. If it is real, rate its severity
3. Explain your reasoning
4. Map it to an OWASP Top 10 category

Judgment criteria:
- Check whether user input actually reaches the flagged code through a controllable path
- Check whether validation or escaping logic already exists in the code
- Classify test code, comments and constant assignments as false positives
- Values read from environment variables are not hardcoded credentials

--- File: %s ---
%s

--- Findings ---
%s

JSON response format:
{
  "results": [
    {
      "rule_id": "the matching rule id",
      "is_true_positive": true,
      "confidence": 0.95,
      "severity": "Critical/High/Medium/Low/Informational",
      "reasoning": "two or three sentences of reasoning",
      "owasp_category": "A03:2021 - Injection",
      "vulnerability_type": "sql_injection"
    }
  ]
}`, language, filePath, fileContent, findingsText.String())
}

func buildPatchPrompt(finding Finding, fileContent string) string {
	return fmt.Sprintf(`Produce a patch for the following vulnerability.
Rules:
- Keep the existing code style (indentation, naming conventions)
- Fix only the vulnerability, with the smallest possible change
- Do not change functional behavior
- Output the change as a unified diff
- Add a short description of the patch

--- Vulnerability ---
Rule: %s
File: %s (Line %d-%d)
Description: %s
Code: %s

--- Original code ---
%s

JSON response format:
{
  "patch_diff": "--- a/file.py\n+++ b/file.py\n@@ ... @@\n...",
  "patch_description": "what the patch does",
  "references": ["https://cwe.mitre.org/..."]
}`, finding.RuleID, finding.FilePath, finding.StartLine, finding.EndLine, finding.Message, finding.Snippet, fileContent)
}

func parseAnalysisResponse(response string) []analysisItem {
	cleaned := stripJSONFence(response)
	var data analysisResponse
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		preview := cleaned
		if len(preview) > 200 {
			preview = preview[:200]
		}
		slog.Warn("could not parse analysis response", "err", err, "response", preview)
		return nil
	}
	return data.Results
}

func buildReferences(cweID, owaspCategory string) []string {
	var refs []string
	if cweID != "" {
		refs = append(refs, fmt.Sprintf("https://cwe.mitre.org/data/definitions/%s.html", strings.TrimPrefix(cweID, "CWE-")))
	}
	if owaspCategory != "" {
		refs = append(refs, "https://owasp.org/Top10/")
	}
	return refs
}

// stripJSONFence removes a surrounding ```json or ``` code fence.
func stripJSONFence(text string) string {
	stripped := strings.TrimSpace(text)
	if strings.HasPrefix(stripped, "```json") {
		stripped = stripped[7:]
	} else if strings.HasPrefix(stripped, "```") {
		stripped = stripped[3:]
	}
	stripped = strings.TrimSuffix(stripped, "```")
	return strings.TrimSpace(stripped)
}
