package otel

import (
	"context"
	"time"
)

// NoOpExporter drops every measurement. It stands in when OTLP is disabled.
type NoOpExporter struct{}

func NewNoOpExporter() *NoOpExporter {
	return &NoOpExporter{}
}

func (e *NoOpExporter) RecordOperation(ctx context.Context, op, outcome string, elapsed time.Duration) {}

func (e *NoOpExporter) Close(ctx context.Context) error {
	return nil
}
