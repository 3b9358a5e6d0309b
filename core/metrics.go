package core

import "context"

// Metric names emitted by the connector. Operation metrics are built with
// OperationCounter and OperationHistogram.
const (
	MetricPrefix           = "salla."
	MetricExecuteRetry     = MetricPrefix + "execute.retry"
	MetricResourceTotal    = MetricPrefix + "resource.total"
	MetricResourceDuration = MetricPrefix + "resource.duration_ms"
	MetricWebhookTotal     = MetricPrefix + "webhook.total"
)

// OperationCounter names the per-operation call counter, for example
// salla.token.refresh.total.
func OperationCounter(operation string) string {
	return MetricPrefix + normalizeOperation(operation) + ".total"
}

// OperationHistogram names the per-operation latency histogram.
func OperationHistogram(operation string) string {
	return MetricPrefix + normalizeOperation(operation) + ".duration_ms"
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for key, value := range tags {
		out[key] = value
	}
	return out
}
