package platformmanager

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// managerMetrics holds the OTel instruments for this package, registered
// against the global delegating provider at init time (see the ipcserver
// and normalizer siblings).
var managerMetrics struct {
	reconnectAttempts metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/steveyegge/messaged/platformmanager")
	managerMetrics.reconnectAttempts, _ = m.Int64Counter("messaged.platform.reconnect_attempts",
		metric.WithDescription("Reconnect attempts scheduled per platform"),
		metric.WithUnit("{attempt}"),
	)
}

func recordReconnectAttempt(platform string) {
	managerMetrics.reconnectAttempts.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("platform", platform)),
	)
}
