package experiments

import (
	"context"

	"github.com/emiliopalmerini/mltrackr/internal/domain"
)

// MockRepository is a mock implementation of ports.ExperimentRepository for testing.
// Unset funcs behave like an empty store.
type MockRepository struct {
	InsertFunc  func(ctx context.Context, e *domain.Experiment) error
	GetFunc     func(ctx context.Context, ownerID, id string) (*domain.Experiment, error)
	ListFunc    func(ctx context.Context, ownerID string, q domain.ListQuery) (domain.Page, error)
	GetManyFunc func(ctx context.Context, ownerID string, ids []string) ([]*domain.Experiment, error)
	ReplaceFunc func(ctx context.Context, e *domain.Experiment, expectedRevision int64) error
	StatsFunc   func(ctx context.Context, ownerID string) (domain.Stats, error)
}

func (m *MockRepository) Insert(ctx context.Context, e *domain.Experiment) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, e)
	}
	return nil
}

func (m *MockRepository) Get(ctx context.Context, ownerID, id string) (*domain.Experiment, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, ownerID, id)
	}
	return nil, domain.ErrNotFound
}

func (m *MockRepository) List(ctx context.Context, ownerID string, q domain.ListQuery) (domain.Page, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, ownerID, q)
	}
	return domain.Page{Items: []*domain.Experiment{}, Pagination: domain.Paginate(0, q.Page, q.Limit)}, nil
}

func (m *MockRepository) GetMany(ctx context.Context, ownerID string, ids []string) ([]*domain.Experiment, error) {
	if m.GetManyFunc != nil {
		return m.GetManyFunc(ctx, ownerID, ids)
	}
	return []*domain.Experiment{}, nil
}

func (m *MockRepository) Replace(ctx context.Context, e *domain.Experiment, expectedRevision int64) error {
	if m.ReplaceFunc != nil {
		return m.ReplaceFunc(ctx, e, expectedRevision)
	}
	return domain.ErrNotFound
}

func (m *MockRepository) Stats(ctx context.Context, ownerID string) (domain.Stats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx, ownerID)
	}
	return domain.Stats{TopTags: []domain.TagCount{}}, nil
}
