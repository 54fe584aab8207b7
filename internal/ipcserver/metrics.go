package ipcserver

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ipcMetrics holds the OTel instruments for this package. Registered
// against the global delegating provider at init time, so they forward to
// the real provider once observability.New installs one; until then every
// recording is a no-op.
var ipcMetrics struct {
	requests metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/steveyegge/messaged/ipcserver")
	ipcMetrics.requests, _ = m.Int64Counter("messaged.ipc.requests",
		metric.WithDescription("IPC requests handled, by command and outcome"),
		metric.WithUnit("{request}"),
	)
}

func recordRequest(ctx context.Context, command string, success bool) {
	outcome := "error"
	if success {
		outcome = "ok"
	}
	ipcMetrics.requests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("outcome", outcome),
		),
	)
}
