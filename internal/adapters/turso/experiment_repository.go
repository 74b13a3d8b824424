package turso

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/emiliopalmerini/mltrackr/internal/domain"
	"github.com/emiliopalmerini/mltrackr/internal/util"
)

const experimentColumns = `id, owner_id, model_name, accuracy, loss, notes, tags, versions, is_active, revision, created_at, updated_at`

// streamRetries is how often reads are retried on a stale Turso stream.
const streamRetries = 2

var sortColumns = map[domain.SortKey]string{
	domain.SortByCreatedAt: "created_at",
	domain.SortByAccuracy:  "accuracy",
	domain.SortByLoss:      "loss",
	domain.SortByModelName: "model_name",
}

// ExperimentRepository stores one row per experiment; tags and versions are
// embedded JSON arrays. SQLite's lower() folds ASCII only, so the search_*
// columns hold text folded by domain.FoldSearch at write time.
type ExperimentRepository struct {
	db *sql.DB
}

func NewExperimentRepository(db *sql.DB) *ExperimentRepository {
	return &ExperimentRepository{db: db}
}

func (r *ExperimentRepository) Insert(ctx context.Context, e *domain.Experiment) error {
	tags, versions, err := encodeDocuments(e)
	if err != nil {
		return err
	}
	searchTags, err := encodeSearchTags(e.Tags)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO experiments (`+experimentColumns+`, search_model, search_notes, search_tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerID, e.ModelName, e.Accuracy, e.Loss, e.Notes, tags, versions,
		util.BoolToInt64(e.IsActive), e.Revision,
		util.FormatTimestamp(e.CreatedAt), util.FormatTimestamp(e.UpdatedAt),
		domain.FoldSearch(e.ModelName), domain.FoldSearch(e.Notes), searchTags,
	)
	return domain.StoreFailure("insert experiment", err)
}

func (r *ExperimentRepository) Get(ctx context.Context, ownerID, id string) (*domain.Experiment, error) {
	e, err := WithRetry(ctx, streamRetries, func() (*domain.Experiment, error) {
		row := r.db.QueryRowContext(ctx, `
			SELECT `+experimentColumns+` FROM experiments
			WHERE id = ? AND owner_id = ? AND is_active = 1`, id, ownerID)
		return scanExperiment(row)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.StoreFailure("get experiment", err)
	}
	return e, nil
}

func (r *ExperimentRepository) List(ctx context.Context, ownerID string, q domain.ListQuery) (domain.Page, error) {
	where, args := listFilter(ownerID, q)

	total, err := WithRetry(ctx, streamRetries, func() (int64, error) {
		var n int64
		err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiments WHERE `+where, args...).Scan(&n)
		return n, err
	})
	if err != nil {
		return domain.Page{}, domain.StoreFailure("count experiments", err)
	}

	column, ok := sortColumns[q.SortBy]
	if !ok {
		column = sortColumns[domain.SortByCreatedAt]
	}
	direction := "DESC"
	if q.SortOrder == domain.SortAsc {
		direction = "ASC"
	}

	query := fmt.Sprintf(`SELECT %s FROM experiments WHERE %s ORDER BY %s %s, id %s LIMIT ? OFFSET ?`,
		experimentColumns, where, column, direction, direction)
	pageArgs := append(append([]any{}, args...), q.Limit, q.Offset())

	items, err := WithRetry(ctx, streamRetries, func() ([]*domain.Experiment, error) {
		return r.queryExperiments(ctx, query, pageArgs...)
	})
	if err != nil {
		return domain.Page{}, domain.StoreFailure("list experiments", err)
	}

	return domain.Page{Items: items, Pagination: domain.Paginate(total, q.Page, q.Limit)}, nil
}

func (r *ExperimentRepository) GetMany(ctx context.Context, ownerID string, ids []string) ([]*domain.Experiment, error) {
	if len(ids) == 0 {
		return []*domain.Experiment{}, nil
	}

	args := []any{ownerID}
	for _, id := range ids {
		args = append(args, id)
	}
	query := `SELECT ` + experimentColumns + ` FROM experiments
		WHERE owner_id = ? AND is_active = 1 AND id IN (` + placeholders(len(ids)) + `)
		ORDER BY created_at DESC, id DESC`

	items, err := WithRetry(ctx, streamRetries, func() ([]*domain.Experiment, error) {
		return r.queryExperiments(ctx, query, args...)
	})
	if err != nil {
		return nil, domain.StoreFailure("get experiments", err)
	}
	return items, nil
}

// Replace is a single conditional UPDATE, so the snapshot append and the field
// overwrite land together or not at all.
func (r *ExperimentRepository) Replace(ctx context.Context, e *domain.Experiment, expectedRevision int64) error {
	tags, versions, err := encodeDocuments(e)
	if err != nil {
		return err
	}
	searchTags, err := encodeSearchTags(e.Tags)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE experiments
		SET model_name = ?, accuracy = ?, loss = ?, notes = ?, tags = ?, versions = ?,
		    is_active = ?, revision = ?, updated_at = ?,
		    search_model = ?, search_notes = ?, search_tags = ?
		WHERE id = ? AND owner_id = ? AND is_active = 1 AND revision = ?`,
		e.ModelName, e.Accuracy, e.Loss, e.Notes, tags, versions,
		util.BoolToInt64(e.IsActive), e.Revision, util.FormatTimestamp(e.UpdatedAt),
		domain.FoldSearch(e.ModelName), domain.FoldSearch(e.Notes), searchTags,
		e.ID, e.OwnerID, expectedRevision,
	)
	if err != nil {
		return domain.StoreFailure("replace experiment", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return domain.StoreFailure("replace experiment", err)
	}
	if n == 1 {
		return nil
	}

	var current int64
	err = r.db.QueryRowContext(ctx, `
		SELECT revision FROM experiments
		WHERE id = ? AND owner_id = ? AND is_active = 1`, e.ID, e.OwnerID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return domain.StoreFailure("replace experiment", err)
	}
	return domain.ErrConflict
}

func (r *ExperimentRepository) Stats(ctx context.Context, ownerID string) (domain.Stats, error) {
	var s domain.Stats
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(AVG(accuracy), 0),
		       COALESCE(AVG(loss), 0),
		       COALESCE(MAX(accuracy), 0),
		       COALESCE(MIN(loss), 0)
		FROM experiments
		WHERE owner_id = ? AND is_active = 1`, ownerID,
	).Scan(&s.TotalExperiments, &s.AvgAccuracy, &s.AvgLoss, &s.MaxAccuracy, &s.MinLoss)
	if err != nil {
		return domain.Stats{}, domain.StoreFailure("aggregate experiments", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT t.value, COUNT(*) AS n
		FROM experiments e, json_each(e.tags) t
		WHERE e.owner_id = ? AND e.is_active = 1
		GROUP BY t.value
		ORDER BY n DESC, t.value ASC
		LIMIT ?`, ownerID, domain.TopTagLimit)
	if err != nil {
		return domain.Stats{}, domain.StoreFailure("aggregate tags", err)
	}
	defer func() { _ = rows.Close() }()

	s.TopTags = []domain.TagCount{}
	for rows.Next() {
		var tc domain.TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return domain.Stats{}, domain.StoreFailure("aggregate tags", err)
		}
		s.TopTags = append(s.TopTags, tc)
	}
	if err := rows.Err(); err != nil {
		return domain.Stats{}, domain.StoreFailure("aggregate tags", err)
	}
	return s, nil
}

func (r *ExperimentRepository) queryExperiments(ctx context.Context, query string, args ...any) ([]*domain.Experiment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	items := []*domain.Experiment{}
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// listFilter builds the WHERE clause shared by the count and page queries.
func listFilter(ownerID string, q domain.ListQuery) (string, []any) {
	clauses := []string{"owner_id = ?", "is_active = 1"}
	args := []any{ownerID}

	if q.Search != "" {
		needle := domain.FoldSearch(q.Search)
		clauses = append(clauses, `(instr(search_model, ?) > 0
			OR instr(search_notes, ?) > 0
			OR EXISTS (SELECT 1 FROM json_each(experiments.search_tags) WHERE instr(json_each.value, ?) > 0))`)
		args = append(args, needle, needle, needle)
	}
	if len(q.Tags) > 0 {
		clauses = append(clauses, `EXISTS (SELECT 1 FROM json_each(experiments.tags) WHERE json_each.value IN (`+placeholders(len(q.Tags))+`))`)
		for _, t := range q.Tags {
			args = append(args, t)
		}
	}
	if q.MinAccuracy != nil {
		clauses = append(clauses, "accuracy >= ?")
		args = append(args, *q.MinAccuracy)
	}
	if q.MaxAccuracy != nil {
		clauses = append(clauses, "accuracy <= ?")
		args = append(args, *q.MaxAccuracy)
	}
	return strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*domain.Experiment, error) {
	var (
		e                    domain.Experiment
		tags, versions       string
		isActive             int64
		createdAt, updatedAt string
	)
	if err := row.Scan(&e.ID, &e.OwnerID, &e.ModelName, &e.Accuracy, &e.Loss, &e.Notes,
		&tags, &versions, &isActive, &e.Revision, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(versions), &e.Versions); err != nil {
		return nil, fmt.Errorf("decode versions of %s: %w", e.ID, err)
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	if e.Versions == nil {
		e.Versions = []domain.Version{}
	}

	var err error
	if e.CreatedAt, err = util.ParseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = util.ParseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	e.IsActive = isActive == 1
	return &e, nil
}

func encodeSearchTags(tags []string) (string, error) {
	folded := make([]string, 0, len(tags))
	for _, t := range tags {
		folded = append(folded, domain.FoldSearch(t))
	}
	b, err := json.Marshal(folded)
	if err != nil {
		return "", fmt.Errorf("encode search tags: %w", err)
	}
	return string(b), nil
}

func encodeDocuments(e *domain.Experiment) (string, string, error) {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	versions := e.Versions
	if versions == nil {
		versions = []domain.Version{}
	}

	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("encode tags: %w", err)
	}
	versionsJSON, err := json.Marshal(versions)
	if err != nil {
		return "", "", fmt.Errorf("encode versions: %w", err)
	}
	return string(tagsJSON), string(versionsJSON), nil
}
