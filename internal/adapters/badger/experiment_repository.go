package badger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/emiliopalmerini/mltrackr/internal/domain"
)

// Keys are exp/<base64url(owner)>/<id>, so a prefix scan reads one owner's
// records and two owners can never share a key.
const keyPrefix = "exp/"

// ExperimentRepository keeps each experiment as one JSON document. Filtering,
// sorting and aggregation happen in Go with the domain helpers.
type ExperimentRepository struct {
	db *DB
}

func NewExperimentRepository(db *DB) *ExperimentRepository {
	return &ExperimentRepository{db: db}
}

type document struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner"`
	ModelName string          `json:"model"`
	Accuracy  float64         `json:"acc"`
	Loss      float64         `json:"loss"`
	Notes     string          `json:"notes,omitempty"`
	Tags      []string        `json:"tags"`
	Versions  []versionRecord `json:"versions"`
	IsActive  bool            `json:"active"`
	Revision  int64           `json:"rev"`
	CreatedAt time.Time       `json:"created"`
	UpdatedAt time.Time       `json:"updated"`
}

type versionRecord struct {
	ModelName  string    `json:"model"`
	Accuracy   float64   `json:"acc"`
	Loss       float64   `json:"loss"`
	Notes      string    `json:"notes,omitempty"`
	CapturedAt time.Time `json:"at"`
}

func ownerPrefix(ownerID string) []byte {
	return []byte(keyPrefix + base64.RawURLEncoding.EncodeToString([]byte(ownerID)) + "/")
}

func experimentKey(ownerID, id string) []byte {
	return append(ownerPrefix(ownerID), id...)
}

func (r *ExperimentRepository) Insert(ctx context.Context, e *domain.Experiment) error {
	value, err := json.Marshal(toDocument(e))
	if err != nil {
		return fmt.Errorf("encode experiment %s: %w", e.ID, err)
	}
	key := experimentKey(e.OwnerID, e.ID)

	err = r.db.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("experiment %s already exists", e.ID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, value)
	})
	return domain.StoreFailure("insert experiment", err)
}

func (r *ExperimentRepository) Get(ctx context.Context, ownerID, id string) (*domain.Experiment, error) {
	var e *domain.Experiment
	err := r.db.view(ctx, func(txn *badger.Txn) error {
		var err error
		e, err = getActive(txn, experimentKey(ownerID, id))
		return err
	})
	if err != nil {
		return nil, domain.StoreFailure("get experiment", err)
	}
	return e, nil
}

func (r *ExperimentRepository) List(ctx context.Context, ownerID string, q domain.ListQuery) (domain.Page, error) {
	var matches []*domain.Experiment
	err := r.scan(ctx, ownerID, func(e *domain.Experiment) {
		if q.Matches(e) {
			matches = append(matches, e)
		}
	})
	if err != nil {
		return domain.Page{}, domain.StoreFailure("list experiments", err)
	}

	domain.SortExperiments(matches, q.SortBy, q.SortOrder)
	page := domain.PageOf(matches, q)
	if page.Items == nil {
		page.Items = []*domain.Experiment{}
	}
	return page, nil
}

func (r *ExperimentRepository) GetMany(ctx context.Context, ownerID string, ids []string) ([]*domain.Experiment, error) {
	items := []*domain.Experiment{}
	err := r.db.view(ctx, func(txn *badger.Txn) error {
		for _, id := range ids {
			e, err := getActive(txn, experimentKey(ownerID, id))
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			items = append(items, e)
		}
		return nil
	})
	if err != nil {
		return nil, domain.StoreFailure("get experiments", err)
	}
	domain.SortExperiments(items, domain.SortByCreatedAt, domain.SortDesc)
	return items, nil
}

// Replace checks the stored revision inside the write transaction. Badger's
// own optimistic transactions catch a writer that commits in between.
func (r *ExperimentRepository) Replace(ctx context.Context, e *domain.Experiment, expectedRevision int64) error {
	value, err := json.Marshal(toDocument(e))
	if err != nil {
		return fmt.Errorf("encode experiment %s: %w", e.ID, err)
	}
	key := experimentKey(e.OwnerID, e.ID)

	err = r.db.update(ctx, func(txn *badger.Txn) error {
		current, err := getActive(txn, key)
		if err != nil {
			return err
		}
		if current.Revision != expectedRevision {
			return domain.ErrConflict
		}
		return txn.Set(key, value)
	})
	if errors.Is(err, badger.ErrConflict) {
		return domain.ErrConflict
	}
	return domain.StoreFailure("replace experiment", err)
}

func (r *ExperimentRepository) Stats(ctx context.Context, ownerID string) (domain.Stats, error) {
	var records []*domain.Experiment
	err := r.scan(ctx, ownerID, func(e *domain.Experiment) {
		records = append(records, e)
	})
	if err != nil {
		return domain.Stats{}, domain.StoreFailure("aggregate experiments", err)
	}
	return domain.ComputeStats(records), nil
}

// scan calls fn for every active experiment of ownerID.
func (r *ExperimentRepository) scan(ctx context.Context, ownerID string, fn func(*domain.Experiment)) error {
	prefix := ownerPrefix(ownerID)
	return r.db.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			e, err := decode(it.Item())
			if err != nil {
				return err
			}
			if e.IsActive {
				fn(e)
			}
		}
		return nil
	})
}

func getActive(txn *badger.Txn, key []byte) (*domain.Experiment, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e, err := decode(item)
	if err != nil {
		return nil, err
	}
	if !e.IsActive {
		return nil, domain.ErrNotFound
	}
	return e, nil
}

func decode(item *badger.Item) (*domain.Experiment, error) {
	var doc document
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	})
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", item.Key(), err)
	}
	return doc.toDomain(), nil
}

func toDocument(e *domain.Experiment) document {
	doc := document{
		ID:        e.ID,
		OwnerID:   e.OwnerID,
		ModelName: e.ModelName,
		Accuracy:  e.Accuracy,
		Loss:      e.Loss,
		Notes:     e.Notes,
		Tags:      e.Tags,
		Versions:  make([]versionRecord, 0, len(e.Versions)),
		IsActive:  e.IsActive,
		Revision:  e.Revision,
		CreatedAt: e.CreatedAt.UTC(),
		UpdatedAt: e.UpdatedAt.UTC(),
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	for _, v := range e.Versions {
		doc.Versions = append(doc.Versions, versionRecord{
			ModelName:  v.ModelName,
			Accuracy:   v.Accuracy,
			Loss:       v.Loss,
			Notes:      v.Notes,
			CapturedAt: v.CapturedAt.UTC(),
		})
	}
	return doc
}

func (d document) toDomain() *domain.Experiment {
	e := &domain.Experiment{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		ModelName: d.ModelName,
		Accuracy:  d.Accuracy,
		Loss:      d.Loss,
		Notes:     d.Notes,
		Tags:      d.Tags,
		Versions:  make([]domain.Version, 0, len(d.Versions)),
		IsActive:  d.IsActive,
		Revision:  d.Revision,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	for _, v := range d.Versions {
		e.Versions = append(e.Versions, domain.Version{
			ModelName:  v.ModelName,
			Accuracy:   v.Accuracy,
			Loss:       v.Loss,
			Notes:      v.Notes,
			CapturedAt: v.CapturedAt,
		})
	}
	return e
}
