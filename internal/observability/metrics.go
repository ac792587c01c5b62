package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests/submissions/commands take
// - Traffic: Request and submission throughput
// - Errors: Rate of failures by error kind
// - Saturation: Scheduler commands in flight
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Submission metrics (Latency, Traffic, Errors)
	SubmissionDuration    metric.Float64Histogram
	SubmissionsTotal      metric.Int64Counter
	SubmissionErrorsTotal metric.Int64Counter
	CleanupsSkippedTotal  metric.Int64Counter
	StagingBytesIngested  metric.Int64Counter

	// Query metrics (Latency, Traffic)
	QueryDuration       metric.Float64Histogram
	QueriesTotal        metric.Int64Counter
	HistoryFilesScanned metric.Int64Counter
	HistoryFilesSkipped metric.Int64Counter

	// Scheduler command metrics (Latency, Errors, Saturation)
	CommandDuration metric.Float64Histogram
	CommandFailures metric.Int64Counter
	CommandsActive  metric.Int64UpDownCounter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("condoragent")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Submission metrics
	m.SubmissionDuration, err = meter.Float64Histogram(
		"submission_duration_seconds",
		metric.WithDescription("End-to-end submission latency in seconds (ingest, submit, record)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SubmissionsTotal, err = meter.Int64Counter(
		"submissions_total",
		metric.WithDescription("Total number of submission attempts"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SubmissionErrorsTotal, err = meter.Int64Counter(
		"submission_errors_total",
		metric.WithDescription("Total number of failed submissions by error kind"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CleanupsSkippedTotal, err = meter.Int64Counter(
		"submission_cleanups_skipped_total",
		metric.WithDescription("Failed-submission cleanups skipped by the trusted prefix check"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StagingBytesIngested, err = meter.Int64Counter(
		"staging_bytes_ingested_total",
		metric.WithDescription("Bytes of uploaded archives written to staging"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Query metrics
	m.QueryDuration, err = meter.Float64Histogram(
		"query_duration_seconds",
		metric.WithDescription("Queue and history query latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, nil, err
	}

	m.QueriesTotal, err = meter.Int64Counter(
		"queries_total",
		metric.WithDescription("Total number of queue queries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HistoryFilesScanned, err = meter.Int64Counter(
		"history_files_scanned_total",
		metric.WithDescription("History files passed to condor_history"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HistoryFilesSkipped, err = meter.Int64Counter(
		"history_files_skipped_total",
		metric.WithDescription("History files skipped because they predate the watermark"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Command metrics
	m.CommandDuration, err = meter.Float64Histogram(
		"scheduler_command_duration_seconds",
		metric.WithDescription("Scheduler command latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CommandFailures, err = meter.Int64Counter(
		"scheduler_command_failures_total",
		metric.WithDescription("Scheduler commands that failed to launch, timed out or exited non-zero"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CommandsActive, err = meter.Int64UpDownCounter(
		"scheduler_commands_active",
		metric.WithDescription("Scheduler commands currently running"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordSubmission records a finished submission attempt.
// kind is empty on success, otherwise the error kind.
func (m *Metrics) RecordSubmission(ctx context.Context, queue, kind string, durationSeconds float64) {
	success := kind == ""
	attrs := metric.WithAttributes(queueAttr(queue), successAttr(success))
	m.SubmissionDuration.Record(ctx, durationSeconds, attrs)
	m.SubmissionsTotal.Add(ctx, 1, attrs)

	if !success {
		m.SubmissionErrorsTotal.Add(ctx, 1, metric.WithAttributes(queueAttr(queue), kindAttr(kind)))
	}
}

// RecordCleanupSkipped records a cleanup that the trusted prefix check refused.
func (m *Metrics) RecordCleanupSkipped(ctx context.Context) {
	m.CleanupsSkippedTotal.Add(ctx, 1)
}

// RecordStagingBytes records the size of an ingested archive.
func (m *Metrics) RecordStagingBytes(ctx context.Context, n int64) {
	m.StagingBytesIngested.Add(ctx, n)
}

// RecordQuery records a finished queue query.
func (m *Metrics) RecordQuery(ctx context.Context, history, success bool, durationSeconds float64) {
	attrs := metric.WithAttributes(historyAttr(history), successAttr(success))
	m.QueryDuration.Record(ctx, durationSeconds, attrs)
	m.QueriesTotal.Add(ctx, 1, attrs)
}

// RecordHistoryFiles records how many history files were scanned and skipped.
func (m *Metrics) RecordHistoryFiles(ctx context.Context, scanned, skipped int) {
	m.HistoryFilesScanned.Add(ctx, int64(scanned))
	m.HistoryFilesSkipped.Add(ctx, int64(skipped))
}

// CommandStarted increments the in-flight command gauge.
func (m *Metrics) CommandStarted(ctx context.Context, name string) {
	m.CommandsActive.Add(ctx, 1, metric.WithAttributes(commandAttr(name)))
}

// CommandFinished decrements the in-flight command gauge.
func (m *Metrics) CommandFinished(ctx context.Context, name string) {
	m.CommandsActive.Add(ctx, -1, metric.WithAttributes(commandAttr(name)))
}

// RecordCommand records a scheduler command execution.
// exitCode is -1 when the command could not be launched or was killed.
func (m *Metrics) RecordCommand(ctx context.Context, name string, exitCode int, durationSeconds float64) {
	success := exitCode == 0
	attrs := metric.WithAttributes(commandAttr(name), successAttr(success))
	m.CommandDuration.Record(ctx, durationSeconds, attrs)

	if !success {
		m.CommandFailures.Add(ctx, 1, metric.WithAttributes(commandAttr(name)))
	}
}
