package ports

import (
	"context"
	"time"
)

// MetricsExporter exports experiment operation metrics to an external observability system.
type MetricsExporter interface {
	// RecordOperation records one service call and how it ended.
	RecordOperation(ctx context.Context, op, outcome string, elapsed time.Duration)
	// Close shuts down the exporter and flushes any pending metrics.
	Close(ctx context.Context) error
}
