package ports

import "context"

// InsightGenerator turns an analysis prompt into free-text recommendations.
type InsightGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
