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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedFile(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line%d", i+1)
	}
	return strings.Join(lines, "\n")
}

func TestPrepareFileContent(t *testing.T) {
	t.Run("should send a small file whole", func(t *testing.T) {
		content := numberedFile(500)
		out := prepareFileContent(content, []Finding{{StartLine: 10, EndLine: 10}})
		assert.Equal(t, content, out)
	})

	t.Run("should send a large file whole when it has five or more findings", func(t *testing.T) {
		content := numberedFile(600)
		findings := make([]Finding, 5)
		for i := range findings {
			findings[i] = Finding{StartLine: i + 1, EndLine: i + 1}
		}
		out := prepareFileContent(content, findings)
		assert.Equal(t, content, out)
	})

	t.Run("should window a large file around the finding", func(t *testing.T) {
		content := numberedFile(600)
		out := prepareFileContent(content, []Finding{{StartLine: 300, EndLine: 300}})

		// 50 lines either side of the finding, 1-based numbered
		assert.Contains(t, out, "251: line251")
		assert.Contains(t, out, "300: line300")
		assert.Contains(t, out, "350: line350")
		assert.NotContains(t, out, "line100")
		assert.NotContains(t, out, "line500")
		// a single window has no gaps to elide
		assert.NotContains(t, out, "elided")
	})

	t.Run("should mark the gap between two windows", func(t *testing.T) {
		content := numberedFile(600)
		out := prepareFileContent(content, []Finding{
			{StartLine: 100, EndLine: 100},
			{StartLine: 500, EndLine: 500},
		})

		assert.Contains(t, out, "100: line100")
		assert.Contains(t, out, "500: line500")
		assert.Contains(t, out, "... (elided: lines 151-450) ...")
	})

	t.Run("should clamp windows at the file boundaries", func(t *testing.T) {
		content := numberedFile(600)
		out := prepareFileContent(content, []Finding{{StartLine: 2, EndLine: 2}})

		assert.Contains(t, out, "1: line1")
		assert.Contains(t, out, "52: line52")
		assert.NotContains(t, out, "53: line53")
	})
}

func TestStripJSONFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripJSONFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripJSONFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripJSONFence(`{"a":1}`))
	assert.Equal(t, `{"a":1}`, stripJSONFence("  {\"a\":1}  "))
}

func TestParseAnalysisResponse(t *testing.T) {
	t.Run("should parse a fenced response", func(t *testing.T) {
		items := parseAnalysisResponse("```json\n{\"results\":[{\"rule_id\":\"r1\",\"is_true_positive\":true,\"confidence\":0.9,\"severity\":\"High\"}]}\n```")
		assert.Len(t, items, 1)
		assert.Equal(t, "r1", items[0].RuleID)
		assert.True(t, items[0].IsTruePositive)
		assert.InDelta(t, 0.9, items[0].Confidence, 1e-9)
	})

	t.Run("should return nothing for garbage", func(t *testing.T) {
		assert.Nil(t, parseAnalysisResponse("the model rambled instead of answering"))
	})
}

func TestBuildReferences(t *testing.T) {
	refs := buildReferences("CWE-89", "A03:2021-Injection")
	assert.Equal(t, []string{
		"https://cwe.mitre.org/data/definitions/89.html",
		"https://owasp.org/Top10/",
	}, refs)

	assert.Empty(t, buildReferences("", ""))
	assert.Equal(t, []string{"https://owasp.org/Top10/"}, buildReferences("", "A01:2021"))
}

func TestFindByRuleID(t *testing.T) {
	findings := []Finding{{RuleID: "a"}, {RuleID: "b"}}

	f, ok := findByRuleID(findings, "b")
	assert.True(t, ok)
	assert.Equal(t, "b", f.RuleID)

	_, ok = findByRuleID(findings, "c")
	assert.False(t, ok)
}

// scriptedTransport answers each model call from a fixed script. An
// entry with err set fails the round trip, everything else becomes an
// HTTP response with the given status and body.
type scriptedTransport struct {
	mu     sync.Mutex
	calls  int
	script []scriptedReply
}

type scriptedReply struct {
	status int
	body   string
	err    error
}

func (s *scriptedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply := s.script[len(s.script)-1]
	if s.calls < len(s.script) {
		reply = s.script[s.calls]
	}
	s.calls++

	if reply.err != nil {
		return nil, reply.err
	}
	return &http.Response{
		StatusCode: reply.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(reply.body)),
		Request:    r,
	}, nil
}

const modelOKBody = `{
	"id": "msg_01",
	"type": "message",
	"role": "assistant",
	"model": "claude-sonnet-4-6",
	"content": [{"type": "text", "text": "{\"results\":[]}"}],
	"stop_reason": "end_turn",
	"usage": {"input_tokens": 10, "output_tokens": 5}
}`

const rateLimitBody = `{"type": "error", "error": {"type": "rate_limit_error", "message": "rate limited"}}`
const serverErrorBody = `{"type": "error", "error": {"type": "api_error", "message": "overloaded"}}`
const authErrorBody = `{"type": "error", "error": {"type": "authentication_error", "message": "bad key"}}`

func newScriptedAgent(script ...scriptedReply) (*LLMAgent, *scriptedTransport) {
	transport := &scriptedTransport{script: script}
	client := anthropic.NewClient(
		option.WithAPIKey("test-key"),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Transport: transport}),
	)
	return &LLMAgent{client: client}, transport
}

// recordSleeps replaces the backoff sleep for the duration of the test
// and returns the waits the retry loop asked for.
func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	original := sleepCtx
	sleepCtx = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	t.Cleanup(func() { sleepCtx = original })
	return &waits
}

func TestCallWithRetry(t *testing.T) {
	t.Run("should back off 2 then 4 seconds across rate limits", func(t *testing.T) {
		waits := recordSleeps(t)
		agent, transport := newScriptedAgent(
			scriptedReply{status: 429, body: rateLimitBody},
			scriptedReply{status: 429, body: rateLimitBody},
			scriptedReply{status: 200, body: modelOKBody},
		)

		raw, err := agent.callWithRetry(context.Background(), analysisSystemPrompt, "prompt")

		require.NoError(t, err)
		assert.Equal(t, `{"results":[]}`, raw)
		assert.Equal(t, 3, transport.calls)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *waits)
	})

	t.Run("should give up after three retries of a server error", func(t *testing.T) {
		waits := recordSleeps(t)
		agent, transport := newScriptedAgent(scriptedReply{status: 503, body: serverErrorBody})

		_, err := agent.callWithRetry(context.Background(), analysisSystemPrompt, "prompt")

		require.Error(t, err)
		var apiErr *anthropic.Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 503, apiErr.StatusCode)
		// first call plus three retries, backing off 2-4-8
		assert.Equal(t, 4, transport.calls)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, *waits)
	})

	t.Run("should fail a client error immediately", func(t *testing.T) {
		waits := recordSleeps(t)
		agent, transport := newScriptedAgent(scriptedReply{status: 401, body: authErrorBody})

		_, err := agent.callWithRetry(context.Background(), analysisSystemPrompt, "prompt")

		require.Error(t, err)
		assert.Equal(t, 1, transport.calls)
		assert.Empty(t, *waits)
	})

	t.Run("should retry a timeout after a fixed two seconds", func(t *testing.T) {
		waits := recordSleeps(t)
		timeoutErr := &url.Error{Op: "Post", URL: "https://api.anthropic.com/v1/messages", Err: context.DeadlineExceeded}
		agent, transport := newScriptedAgent(
			scriptedReply{err: timeoutErr},
			scriptedReply{status: 200, body: modelOKBody},
		)

		raw, err := agent.callWithRetry(context.Background(), analysisSystemPrompt, "prompt")

		require.NoError(t, err)
		assert.Equal(t, `{"results":[]}`, raw)
		assert.Equal(t, 2, transport.calls)
		assert.Equal(t, []time.Duration{2 * time.Second}, *waits)
	})
}

func TestBuildAnalysisPrompt(t *testing.T) {
	prompt := buildAnalysisPrompt("code here", "app/db.py", []Finding{
		{RuleID: "r1", StartLine: 3, EndLine: 4, Message: "sql injection", Snippet: "cursor.execute(q)"},
	})

	assert.Contains(t, prompt, "The following Python code")
	assert.Contains(t, prompt, "--- File: app/db.py ---")
	assert.Contains(t, prompt, "- Rule: r1, Line 3-4: sql injection")
	assert.Contains(t, prompt, `"is_true_positive": true`)
}
