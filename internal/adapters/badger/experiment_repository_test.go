package badger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emiliopalmerini/mltrackr/internal/adapters/badger"
	"github.com/emiliopalmerini/mltrackr/internal/adapters/repotest"
	"github.com/emiliopalmerini/mltrackr/internal/domain"
	"github.com/emiliopalmerini/mltrackr/internal/ports"
)

func openInMemory(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestExperimentRepository_Contract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) ports.ExperimentRepository {
		return badger.NewExperimentRepository(openInMemory(t))
	})
}

func TestExperimentRepository_InsertDuplicate(t *testing.T) {
	repo := badger.NewExperimentRepository(openInMemory(t))
	ctx := context.Background()

	e := repotest.Fixture("user-a", "exp-1", "m", 50, 1, 0)
	require.NoError(t, repo.Insert(ctx, e))

	err := repo.Insert(ctx, e)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestExperimentRepository_OwnerPrefixesDoNotOverlap(t *testing.T) {
	repo := badger.NewExperimentRepository(openInMemory(t))
	ctx := context.Background()

	// Without encoding, "a" would be a prefix of "a/b".
	require.NoError(t, repo.Insert(ctx, repotest.Fixture("a", "exp-1", "m", 50, 1, 0)))
	require.NoError(t, repo.Insert(ctx, repotest.Fixture("a/b", "exp-2", "m", 50, 1, time.Minute)))

	q, err := domain.ListQuery{}.Normalize()
	require.NoError(t, err)

	page, err := repo.List(ctx, "a", q)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "exp-1", page.Items[0].ID)
}

func TestExperimentRepository_CancelledContext(t *testing.T) {
	repo := badger.NewExperimentRepository(openInMemory(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Get(ctx, "user-a", "exp-1")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestExperimentRepository_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := badger.Open(badger.DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, badger.NewExperimentRepository(db).Insert(ctx, repotest.Fixture("user-a", "exp-1", "ResNet-50", 91.2, 0.08, 0, "cv")))
	require.NoError(t, db.Close())

	db, err = badger.Open(badger.DefaultConfig(dir))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	got, err := badger.NewExperimentRepository(db).Get(ctx, "user-a", "exp-1")
	require.NoError(t, err)
	assert.Equal(t, "ResNet-50", got.ModelName)
	assert.Equal(t, []string{"cv"}, got.Tags)
}

func TestOpen(t *testing.T) {
	_, err := badger.Open(badger.Config{})
	require.ErrorContains(t, err, "path is required")

	db := openInMemory(t)
	assert.True(t, db.InMemory())
}

func TestRunGC(t *testing.T) {
	t.Run("returns at once when disabled", func(t *testing.T) {
		db := openInMemory(t)
		assert.NoError(t, db.RunGC(context.Background()))
	})

	t.Run("stops with the context", func(t *testing.T) {
		cfg := badger.DefaultConfig(t.TempDir())
		cfg.SyncWrites = false
		cfg.GCInterval = 5 * time.Millisecond
		db, err := badger.Open(cfg)
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		assert.NoError(t, db.RunGC(ctx))
	})

	t.Run("rejects a bad ratio", func(t *testing.T) {
		cfg := badger.DefaultConfig(t.TempDir())
		cfg.GCDiscardRatio = 1.5
		db, err := badger.Open(cfg)
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		assert.ErrorContains(t, db.RunGC(context.Background()), "discard ratio")
	})
}
