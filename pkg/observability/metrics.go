// Copyright 2026 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	globalMetrics *Metrics
	metricsMu     sync.RWMutex
)

// Metrics collects application metrics via Prometheus.
//
// Tracked concerns:
//   - HTTP request counts and latencies per route
//   - Ingestion job outcomes
//   - LLM token consumption per model
type Metrics struct {
	// HTTPRequests counts HTTP requests.
	// Labels: method, path, status
	HTTPRequests *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP request latency in seconds.
	// Labels: method, path, status
	HTTPRequestDuration *prometheus.HistogramVec

	// IngestJobs counts ingestion jobs by outcome.
	// Labels: result (indexed|failed|retried)
	IngestJobs *prometheus.CounterVec

	// IngestJobDuration measures ingestion job duration in seconds.
	IngestJobDuration prometheus.Histogram

	// LLMTokens tracks token consumption.
	// Labels: model, kind (prompt|completion)
	LLMTokens *prometheus.CounterVec

	// LLMRequestDuration measures LLM request latency in seconds.
	// Labels: model
	LLMRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
// Call once at startup; metrics register with the default registry and are
// served by Handler().
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axon_http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "axon_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"method", "path", "status"},
		),

		IngestJobs: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axon_ingest_jobs_total",
				Help: "Total number of ingestion jobs by result",
			},
			[]string{"result"},
		),

		IngestJobDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "axon_ingest_job_duration_seconds",
				Help:    "Duration of ingestion jobs in seconds",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
		),

		LLMTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axon_llm_tokens_total",
				Help: "Total number of LLM tokens by model and kind",
			},
			[]string{"model", "kind"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "axon_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model"},
		),
	}
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(durationSeconds)
}

// RecordIngestJob records one completed ingestion job.
func (m *Metrics) RecordIngestJob(result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.IngestJobs.WithLabelValues(result).Inc()
	m.IngestJobDuration.Observe(durationSeconds)
}

// RecordLLMTokens records token consumption for a model.
func (m *Metrics) RecordLLMTokens(model string, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	if promptTokens > 0 {
		m.LLMTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// RecordLLMRequest records the latency of one LLM request.
func (m *Metrics) RecordLLMRequest(model string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.LLMRequestDuration.WithLabelValues(model).Observe(durationSeconds)
}

// SetGlobalMetrics installs the process-wide metrics instance.
func SetGlobalMetrics(m *Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics instance, or nil when
// metrics are disabled.
func GetGlobalMetrics() *Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
