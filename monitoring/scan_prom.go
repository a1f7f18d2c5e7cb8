// Copyright 2025 vulnix-dev.
// SPDX-License-Identifier: 	AGPL-3.0-or-later
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "vulnix_scan_duration_seconds",
	Help:    "End to end duration of scan jobs in seconds",
	Buckets: prometheus.ExponentialBuckets(1, 2, 12),
})

var ScanJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vulnix_scan_jobs_total",
	Help: "Scan jobs by terminal status",
}, []string{"status"})

var FindingsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vulnix_findings_total",
	Help: "Raw findings reported by the static scanner",
})

var LLMCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vulnix_llm_calls_total",
	Help: "LLM API calls by outcome",
}, []string{"outcome"})

var LLMCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "vulnix_llm_call_duration_seconds",
	Help:    "Duration of single LLM API calls in seconds",
	Buckets: prometheus.DefBuckets,
})

var WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vulnix_webhook_events_total",
	Help: "Received webhook events by platform and outcome",
}, []string{"platform", "outcome"})

var PatchPRsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vulnix_patch_prs_total",
	Help: "Patch pull requests by outcome",
}, []string{"outcome"})
