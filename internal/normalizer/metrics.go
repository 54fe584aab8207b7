package normalizer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// normalizerMetrics holds the OTel instruments for this package, registered
// against the global delegating provider at init time (see the ipcserver
// and platformmanager siblings).
var normalizerMetrics struct {
	ingestLatencyMs metric.Float64Histogram
}

func init() {
	m := otel.Meter("github.com/steveyegge/messaged/normalizer")
	normalizerMetrics.ingestLatencyMs, _ = m.Float64Histogram("messaged.normalizer.ingest_latency_ms",
		metric.WithDescription("Time to normalize and store one adapter payload"),
		metric.WithUnit("ms"),
	)
}

func recordIngest(platform string, start time.Time) {
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	normalizerMetrics.ingestLatencyMs.Record(context.Background(), elapsed,
		metric.WithAttributes(attribute.String("platform", platform)),
	)
}
