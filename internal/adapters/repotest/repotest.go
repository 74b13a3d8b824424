// Package repotest holds the behavior every ports.ExperimentRepository must
// share. Each adapter runs it against a fresh store.
package repotest

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emiliopalmerini/mltrackr/internal/domain"
	"github.com/emiliopalmerini/mltrackr/internal/ports"
)

// Factory returns an empty repository owned by the test.
type Factory func(t *testing.T) ports.ExperimentRepository

var base = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

// Run executes the contract against repositories produced by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("InsertAndGet", func(t *testing.T) { testInsertAndGet(t, newRepo(t)) })
	t.Run("GetScopesByOwnerAndActive", func(t *testing.T) { testGetScoping(t, newRepo(t)) })
	t.Run("ListFilters", func(t *testing.T) { testListFilters(t, newRepo(t)) })
	t.Run("ListSearchFoldsCase", func(t *testing.T) { testListSearchFolding(t, newRepo(t)) })
	t.Run("ListSortAndPaginate", func(t *testing.T) { testListSortAndPaginate(t, newRepo(t)) })
	t.Run("ListPastLastPage", func(t *testing.T) { testListPastLastPage(t, newRepo(t)) })
	t.Run("GetMany", func(t *testing.T) { testGetMany(t, newRepo(t)) })
	t.Run("ReplaceCompareAndSwap", func(t *testing.T) { testReplace(t, newRepo(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newRepo(t)) })
}

// Fixture builds a valid active experiment created offset after a fixed base time.
func Fixture(owner, id, model string, accuracy, loss float64, offset time.Duration, tags ...string) *domain.Experiment {
	now := base.Add(offset)
	return &domain.Experiment{
		ID:        id,
		OwnerID:   owner,
		ModelName: model,
		Accuracy:  accuracy,
		Loss:      loss,
		Tags:      domain.NormalizeTags(tags),
		Versions:  []domain.Version{},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func insertAll(t *testing.T, repo ports.ExperimentRepository, items ...*domain.Experiment) {
	t.Helper()
	for _, e := range items {
		require.NoError(t, repo.Insert(context.Background(), e))
	}
}

func ids(items []*domain.Experiment) []string {
	out := make([]string, 0, len(items))
	for _, e := range items {
		out = append(out, e.ID)
	}
	return out
}

func normalized(t *testing.T, q domain.ListQuery) domain.ListQuery {
	t.Helper()
	q, err := q.Normalize()
	require.NoError(t, err)
	return q
}

func testInsertAndGet(t *testing.T, repo ports.ExperimentRepository) {
	ctx := context.Background()
	e := Fixture("user-a", "exp-1", "ResNet-50", 91.2, 0.08, 0, "cv", "resnet")
	e.Notes = "baseline"
	e.Versions = []domain.Version{{ModelName: "ResNet-34", Accuracy: 88, Loss: 0.1, CapturedAt: base.Add(-time.Hour)}}
	insertAll(t, repo, e)

	got, err := repo.Get(ctx, "user-a", "exp-1")
	require.NoError(t, err)

	assert.Equal(t, "exp-1", got.ID)
	assert.Equal(t, "user-a", got.OwnerID)
	assert.Equal(t, "ResNet-50", got.ModelName)
	assert.Equal(t, 91.2, got.Accuracy)
	assert.Equal(t, 0.08, got.Loss)
	assert.Equal(t, "baseline", got.Notes)
	assert.Equal(t, []string{"cv", "resnet"}, got.Tags)
	assert.True(t, got.IsActive)
	assert.True(t, got.CreatedAt.Equal(e.CreatedAt), "createdAt %v != %v", got.CreatedAt, e.CreatedAt)
	assert.True(t, got.UpdatedAt.Equal(e.UpdatedAt))

	require.Len(t, got.Versions, 1)
	assert.Equal(t, "ResNet-34", got.Versions[0].ModelName)
	assert.True(t, got.Versions[0].CapturedAt.Equal(base.Add(-time.Hour)))
}

func testGetScoping(t *testing.T, repo ports.ExperimentRepository) {
	ctx := context.Background()
	e := Fixture("user-a", "exp-1", "m", 50, 1, 0)
	insertAll(t, repo, e)

	_, err := repo.Get(ctx, "user-a", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.Get(ctx, "user-b", "exp-1")
	assert.ErrorIs(t, err, domain.ErrNotFound, "foreign records must look absent")

	deleted := *e
	deleted.SoftDelete(base.Add(time.Minute))
	require.NoError(t, repo.Replace(ctx, &deleted, e.Revision))

	_, err = repo.Get(ctx, "user-a", "exp-1")
	assert.ErrorIs(t, err, domain.ErrNotFound, "soft-deleted records must look absent")
}

func testListFilters(t *testing.T, repo ports.ExperimentRepository) {
	ctx := context.Background()
	notes := Fixture("user-a", "exp-3", "BERT-base", 75, 0.4, 2*time.Minute, "nlp")
	notes.Notes = "Tried a ResNet-style stem"
	insertAll(t, repo,
		Fixture("user-a", "exp-1", "ResNet-50", 91.2, 0.08, 0, "cv", "resnet"),
		Fixture("user-a", "exp-2", "ViT-small", 85, 0.2, time.Minute, "cv", "transformer"),
		notes,
		Fixture("user-a", "exp-4", "GPT-2", 60, 1.2, 3*time.Minute, "NLP", "generative"),
		Fixture("user-b", "exp-5", "ResNet-101", 95, 0.05, 4*time.Minute, "cv"),
	)

	tests := []struct {
		name string
		q    domain.ListQuery
		want []string
	}{
		{"no filter", domain.ListQuery{}, []string{"exp-4", "exp-3", "exp-2", "exp-1"}},
		{"search model name and notes", domain.ListQuery{Search: "resnet"}, []string{"exp-3", "exp-1"}},
		{"search matches tag case-insensitively", domain.ListQuery{Search: "nlp"}, []string{"exp-4", "exp-3"}},
		{"search matches tag substring", domain.ListQuery{Search: "transform"}, []string{"exp-2"}},
		{"search no match", domain.ListQuery{Search: "llama"}, []string{}},
		{"tags any-of", domain.ListQuery{Tags: []string{"transformer", "generative"}}, []string{"exp-4", "exp-2"}},
		{"tags are case-sensitive", domain.ListQuery{Tags: []string{"nlp"}}, []string{"exp-3"}},
		{"min accuracy inclusive", domain.ListQuery{MinAccuracy: ptr(85.0)}, []string{"exp-2", "exp-1"}},
		{"max accuracy inclusive", domain.ListQuery{MaxAccuracy: ptr(75.0)}, []string{"exp-4", "exp-3"}},
		{"combined filters", domain.ListQuery{Tags: []string{"cv"}, MaxAccuracy: ptr(90.0)}, []string{"exp-2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := repo.List(ctx, "user-a", normalized(t, tt.q))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(page.Items))
			assert.Equal(t, int64(len(tt.want)), page.Pagination.Total)
		})
	}
}

func testListSearchFolding(t *testing.T, repo ports.ExperimentRepository) {
	ctx := context.Background()
	ecole := Fixture("user-a", "exp-1", "ÉCOLE-Net", 70, 0.3, 0, "computer-vision")
	accents := Fixture("user-a", "exp-2", "plain", 60, 0.4, time.Minute, "Ünicode")
	accents.Notes = "Résumé of the SWEEP"
	insertAll(t, repo, ecole, accents)

	tests := []struct {
		search string
		want   []string
	}{
		{"école", []string{"exp-1"}},
		{"ÉCOLE-NET", []string{"exp-1"}},
		{"VISION", []string{"exp-1"}},
		{"computer-vision", []string{"exp-1"}},
		{"RÉSUMÉ", []string{"exp-2"}},
		{"sweep", []string{"exp-2"}},
		{"ünic", []string{"exp-2"}},
		{"ecole", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			page, err := repo.List(ctx, "user-a", normalized(t, domain.ListQuery{Search: tt.search}))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(page.Items))
		})
	}

	renamed := *ecole
	require.NoError(t, renamed.Apply(domain.ExperimentPatch{ModelName: ptr("ÖLBERG")}, base.Add(time.Hour), 0))
	require.NoError(t, repo.Replace(ctx, &renamed, ecole.Revision))

	page, err := repo.List(ctx, "user-a", normalized(t, domain.ListQuery{Search: "ölberg"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"exp-1"}, ids(page.Items))

	page, err = repo.List(ctx, "user-a", normalized(t, domain.ListQuery{Search: "école"}))
	require.NoError(t, err)
	assert.Empty(t, page.Items, "search must follow the replaced model name")
}

func testListSortAndPaginate(t *testing.T, repo ports.ExperimentRepository) {
	ctx := context.Background()
	for i := range 25 {
		insertAll(t, repo, Fixture("user-a", fmt.Sprintf("exp-%02d", i), fmt.Sprintf("model-%02d", i),
			float64(i*3), float64(25-i)/10, time.Duration(i)*time.Minute))
	}

	page, err := repo.List(ctx, "user-a", normalized(t, domain.ListQuery{Page: 3}))
	require.NoError(t, err)
	assert.Equal(t, []string{"exp-04", "exp-03", "exp-02", "exp-01", "exp-00"}, ids(page.Items))
	assert.Equal(t, domain.Pagination{Page: 3, Limit: 10, Total: 25, Pages: 3}, page.Pagination)

	page, err = repo.List(ctx, "user-a", normalized(t, domain.ListQuery{Page: 4}))
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, int64(25), page.Pagination.Total)

	page, err = repo.List(ctx, "user-a", normalized(t, domain.ListQuery{SortBy: domain.SortByAccuracy, Limit: 3}))
	require.NoError(t, err)
	assert.Equal(t, []string{"exp-24", "exp-23", "exp-22"}, ids(page.Items))

	page, err = repo.List(ctx, "user-a", normalized(t, domain.ListQuery{SortBy: domain.SortByLoss, SortOrder: domain.SortAsc, Limit: 2}))
	require.NoError(t, err)
	assert.Equal(t, []string{"exp-24", "exp-23"}, ids(page.Items))

	page, err = repo.List(ctx, "user-a", normalized(t, domain.ListQuery{SortBy: domain.SortByModelName, SortOrder: domain.SortAsc, Limit: 2}))
	require.NoError(t, err)
	assert.Equal(t, []string{"exp-00", "exp-01"}, ids(page.Items))
}

func testListPastLastPage(t *testing.T, repo ports.ExperimentRepository) {
	ctx := context.Background()
	for i := range 3 {
		insertAll(t, repo, Fixture("user-a", fmt.Sprintf("exp-%d", i), "m", 50, 1, time.Duration(i)*time.Minute))
	}

	tests := []struct {
		name string
		q    domain.ListQuery
		want domain.Pagination
	}{
		{"max page", domain.ListQuery{Page: math.MaxInt, Limit: 10}, domain.Pagination{Page: math.MaxInt, Limit: 10, Total: 3, Pages: 1}},
		{"max page and limit", domain.ListQuery{Page: math.MaxInt, Limit: math.MaxInt}, domain.Pagination{Page: math.MaxInt, Limit: math.MaxInt, Total: 3, Pages: 1}},
		{"second page of max limit", domain.ListQuery{Page: 2, Limit: math.MaxInt}, domain.Pagination{Page: 2, Limit: math.MaxInt, Total: 3, Pages: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := repo.List(ctx, "user-a", normalized(t, tt.q))
			require.NoError(t, err)
			assert.Empty(t, page.Items)
			assert.Equal(t, tt.want, page.Pagination)
		})
	}

	page, err := repo.List(ctx, "user-a", normalized(t, domain.ListQuery{Limit: 250}))
	require.NoError(t, err)
	assert.Equal(t, []string{"exp-2", "exp-1", "exp-0"}, ids(page.Items))
	assert.Equal(t, domain.Pagination{Page: 1, Limit: 250, Total: 3, Pages: 1}, page.Pagination)
}

func testGetMany(t *testing.T, repo ports.ExperimentRepository) {
	ctx := context.Background()
	insertAll(t, repo,
		Fixture("user-a", "exp-1", "a", 10, 1, 0),
		Fixture("user-a", "exp-2", "b", 20, 1, time.Minute),
		Fixture("user-b", "exp-3", "c", 30, 1, 2*time.Minute),
	)

	got, err := repo.GetMany(ctx, "user-a", []string{"exp-1", "exp-2", "exp-3", "nope"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"exp-1", "exp-2"}, ids(got))

	got, err = repo.GetMany(ctx, "user-a", []string{"nope"})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func testReplace(t *testing.T, repo ports.ExperimentRepository) {
	ctx := context.Background()
	e := Fixture("user-a", "exp-1", "ResNet-50", 91.2, 0.08, 0)
	insertAll(t, repo, e)

	updated := *e
	require.NoError(t, updated.Apply(domain.ExperimentPatch{Accuracy: ptr(93.5)}, base.Add(time.Hour), 0))
	require.NoError(t, repo.Replace(ctx, &updated, 0))

	got, err := repo.Get(ctx, "user-a", "exp-1")
	require.NoError(t, err)
	assert.Equal(t, 93.5, got.Accuracy)
	assert.Equal(t, int64(1), got.Revision)
	require.Len(t, got.Versions, 1)
	assert.Equal(t, 91.2, got.Versions[0].Accuracy)

	stale := *e
	require.NoError(t, stale.Apply(domain.ExperimentPatch{Loss: ptr(0.5)}, base.Add(2*time.Hour), 0))
	assert.ErrorIs(t, repo.Replace(ctx, &stale, 0), domain.ErrConflict)

	got, err = repo.Get(ctx, "user-a", "exp-1")
	require.NoError(t, err)
	assert.Equal(t, 0.08, got.Loss, "a lost race must not write")

	missing := Fixture("user-a", "ghost", "m", 1, 1, 0)
	assert.ErrorIs(t, repo.Replace(ctx, missing, 0), domain.ErrNotFound)

	foreign := *got
	foreign.OwnerID = "user-b"
	assert.ErrorIs(t, repo.Replace(ctx, &foreign, got.Revision), domain.ErrNotFound)
}

func testStats(t *testing.T, repo ports.ExperimentRepository) {
	ctx := context.Background()

	empty, err := repo.Stats(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{TopTags: []domain.TagCount{}}, empty)

	gone := Fixture("user-a", "exp-4", "gone", 10, 9, 3*time.Minute, "cv")
	insertAll(t, repo,
		Fixture("user-a", "exp-1", "a", 70, 0.5, 0, "cv", "resnet"),
		Fixture("user-a", "exp-2", "b", 80, 0.3, time.Minute, "cv"),
		Fixture("user-a", "exp-3", "c", 90, 0.1, 2*time.Minute, "nlp", "cv"),
		gone,
		Fixture("user-b", "exp-5", "d", 99, 0.01, 4*time.Minute, "other"),
	)
	deleted := *gone
	deleted.SoftDelete(base.Add(time.Hour))
	require.NoError(t, repo.Replace(ctx, &deleted, 0))

	s, err := repo.Stats(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.TotalExperiments)
	assert.InDelta(t, 80, s.AvgAccuracy, 1e-9)
	assert.InDelta(t, 0.3, s.AvgLoss, 1e-9)
	assert.Equal(t, 90.0, s.MaxAccuracy)
	assert.Equal(t, 0.1, s.MinLoss)
	assert.Equal(t, []domain.TagCount{{Tag: "cv", Count: 3}, {Tag: "nlp", Count: 1}, {Tag: "resnet", Count: 1}}, s.TopTags)
}

func ptr[T any](v T) *T { return &v }
