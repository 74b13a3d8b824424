// Package experiments is the record lifecycle and aggregation service. Every
// operation takes the caller id explicitly; nothing reads identity from context.
package experiments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emiliopalmerini/mltrackr/internal/domain"
	"github.com/emiliopalmerini/mltrackr/internal/ports"
)

const (
	DefaultStoreTimeout      = 5 * time.Second
	DefaultMaxUpdateAttempts = 3
)

// Service coordinates validation, the repository and the optional insight
// generator.
type Service struct {
	repo     ports.ExperimentRepository
	insights ports.InsightGenerator
	metrics  []ports.MetricsExporter
	log      *slog.Logger

	now   func() time.Time
	newID func() string

	storeTimeout time.Duration
	maxAttempts  int
	retain       int
}

type Option func(*Service)

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithInsights enables Insights. Without it Insights reports
// domain.ErrInsightsUnavailable.
func WithInsights(g ports.InsightGenerator) Option {
	return func(s *Service) { s.insights = g }
}

func WithMetrics(exporters ...ports.MetricsExporter) Option {
	return func(s *Service) { s.metrics = append(s.metrics, exporters...) }
}

func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func WithMaxUpdateAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithVersionRetention keeps only the newest n versions per record. Zero keeps all.
func WithVersionRetention(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.retain = n
		}
	}
}

func NewService(repo ports.ExperimentRepository, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		log:          slog.New(slog.DiscardHandler),
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
		storeTimeout: DefaultStoreTimeout,
		maxAttempts:  DefaultMaxUpdateAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates in and stores a new active experiment owned by callerID.
func (s *Service) Create(ctx context.Context, callerID string, in domain.NewExperiment) (e *domain.Experiment, err error) {
	defer s.observe(ctx, "create", callerID, time.Now(), &err)

	e, err = domain.Build(callerID, in, s.newID(), s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store(ctx, "insert experiment", func(ctx context.Context) error {
		return s.repo.Insert(ctx, e)
	}); err != nil {
		return nil, err
	}
	return e, nil
}

// Get returns one active experiment of callerID.
func (s *Service) Get(ctx context.Context, callerID, id string) (e *domain.Experiment, err error) {
	defer s.observe(ctx, "get", callerID, time.Now(), &err)
	return s.get(ctx, callerID, id)
}

// Update snapshots the current state and applies patch. A lost race re-reads and
// retries; after the last attempt it reports domain.ErrConflict.
func (s *Service) Update(ctx context.Context, callerID, id string, patch domain.ExperimentPatch) (e *domain.Experiment, err error) {
	defer s.observe(ctx, "update", callerID, time.Now(), &err)

	return s.mutate(ctx, callerID, id, func(e *domain.Experiment) error {
		return e.Apply(patch, s.now(), s.retain)
	})
}

// Delete soft-deletes the experiment. Deleting it again reports domain.ErrNotFound.
func (s *Service) Delete(ctx context.Context, callerID, id string) (err error) {
	defer s.observe(ctx, "delete", callerID, time.Now(), &err)

	_, err = s.mutate(ctx, callerID, id, func(e *domain.Experiment) error {
		e.SoftDelete(s.now())
		return nil
	})
	return err
}

// List returns one page of callerID's experiments.
func (s *Service) List(ctx context.Context, callerID string, q domain.ListQuery) (page domain.Page, err error) {
	defer s.observe(ctx, "list", callerID, time.Now(), &err)

	q, err = q.Normalize()
	if err != nil {
		return domain.Page{}, err
	}
	err = s.store(ctx, "list experiments", func(ctx context.Context) error {
		var err error
		page, err = s.repo.List(ctx, callerID, q)
		return err
	})
	if err != nil {
		return domain.Page{}, err
	}
	return page, nil
}

// Compare fetches the experiments named in a comma-separated id list. Ids that
// are unknown, deleted or foreign are dropped without error.
func (s *Service) Compare(ctx context.Context, callerID, ids string) (items []*domain.Experiment, err error) {
	defer s.observe(ctx, "compare", callerID, time.Now(), &err)

	list, err := domain.ParseIDList(ids)
	if err != nil {
		return nil, err
	}
	err = s.store(ctx, "get experiments", func(ctx context.Context) error {
		var err error
		items, err = s.repo.GetMany(ctx, callerID, list)
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Stats aggregates callerID's active experiments.
func (s *Service) Stats(ctx context.Context, callerID string) (stats domain.Stats, err error) {
	defer s.observe(ctx, "stats", callerID, time.Now(), &err)

	err = s.store(ctx, "aggregate experiments", func(ctx context.Context) error {
		var err error
		stats, err = s.repo.Stats(ctx, callerID)
		return err
	})
	if err != nil {
		return domain.Stats{}, err
	}
	if stats.TopTags == nil {
		stats.TopTags = []domain.TagCount{}
	}
	return stats, nil
}

// Insights asks the configured generator for advice on one experiment.
func (s *Service) Insights(ctx context.Context, callerID, id string) (insight *domain.Insight, err error) {
	defer s.observe(ctx, "insights", callerID, time.Now(), &err)

	if s.insights == nil {
		return nil, domain.ErrInsightsUnavailable
	}
	e, err := s.get(ctx, callerID, id)
	if err != nil {
		return nil, err
	}

	text, err := s.insights.Generate(ctx, domain.InsightPrompt(e))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInsightsUnavailable, err)
	}
	return &domain.Insight{ExperimentID: e.ID, Insights: text, GeneratedAt: s.now()}, nil
}

func (s *Service) get(ctx context.Context, callerID, id string) (*domain.Experiment, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrNotFound
	}
	var e *domain.Experiment
	err := s.store(ctx, "get experiment", func(ctx context.Context) error {
		var err error
		e, err = s.repo.Get(ctx, callerID, id)
		return err
	})
	return e, err
}

// mutate runs a read, change, compare-and-swap cycle up to maxAttempts times.
func (s *Service) mutate(ctx context.Context, callerID, id string, change func(*domain.Experiment) error) (*domain.Experiment, error) {
	for attempt := 1; ; attempt++ {
		e, err := s.get(ctx, callerID, id)
		if err != nil {
			return nil, err
		}
		expected := e.Revision
		if err := change(e); err != nil {
			return nil, err
		}

		err = s.store(ctx, "replace experiment", func(ctx context.Context) error {
			return s.repo.Replace(ctx, e, expected)
		})
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= s.maxAttempts {
			return nil, err
		}
		s.log.Debug("revision moved, retrying",
			slog.String("id", id), slog.Int("attempt", attempt), slog.Int64("revision", expected))
	}
}

// store runs one repository call under the store timeout. Anything that is not
// already a domain error is reported as domain.ErrStoreUnavailable.
func (s *Service) store(ctx context.Context, op string, call func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return domain.StoreFailure(op, call(ctx))
}

func (s *Service) observe(ctx context.Context, op, callerID string, start time.Time, errp *error) {
	elapsed := time.Since(start)
	outcome := Outcome(*errp)

	for _, m := range s.metrics {
		m.RecordOperation(ctx, op, outcome, elapsed)
	}

	attrs := []slog.Attr{
		slog.String("op", op),
		slog.String("caller", callerID),
		slog.String("outcome", outcome),
		slog.Duration("elapsed", elapsed),
	}
	switch outcome {
	case "ok", "validation", "not_found":
		s.log.LogAttrs(ctx, slog.LevelDebug, "experiment operation", attrs...)
	case "error":
		s.log.LogAttrs(ctx, slog.LevelError, "experiment operation failed", append(attrs, slog.String("error", (*errp).Error()))...)
	default:
		s.log.LogAttrs(ctx, slog.LevelWarn, "experiment operation failed", append(attrs, slog.String("error", (*errp).Error()))...)
	}
}

// Outcome names the class of err for logs and metric labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsValidation(err):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrInsightsUnavailable):
		return "insights_unavailable"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}
