package ports

import (
	"context"

	"github.com/emiliopalmerini/mltrackr/internal/domain"
)

// ExperimentRepository persists experiments. Every method is scoped to ownerID
// and sees only active records; anything else is reported as domain.ErrNotFound.
// Driver failures come back as *domain.StoreError.
type ExperimentRepository interface {
	Insert(ctx context.Context, experiment *domain.Experiment) error
	Get(ctx context.Context, ownerID, id string) (*domain.Experiment, error)
	// List expects a normalized query.
	List(ctx context.Context, ownerID string, q domain.ListQuery) (domain.Page, error)
	// GetMany silently skips ids that are unknown, inactive or foreign.
	GetMany(ctx context.Context, ownerID string, ids []string) ([]*domain.Experiment, error)
	// Replace writes experiment only if the stored revision still equals
	// expectedRevision. It returns domain.ErrConflict when the revision moved.
	Replace(ctx context.Context, experiment *domain.Experiment, expectedRevision int64) error
	Stats(ctx context.Context, ownerID string) (domain.Stats, error)
}
