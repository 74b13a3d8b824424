package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/emiliopalmerini/mltrackr/internal/domain"
	"github.com/emiliopalmerini/mltrackr/internal/shared/middleware"
)

// ExperimentService is the part of experiments.Service the API exposes.
type ExperimentService interface {
	Create(ctx context.Context, callerID string, in domain.NewExperiment) (*domain.Experiment, error)
	Get(ctx context.Context, callerID, id string) (*domain.Experiment, error)
	Update(ctx context.Context, callerID, id string, patch domain.ExperimentPatch) (*domain.Experiment, error)
	Delete(ctx context.Context, callerID, id string) error
	List(ctx context.Context, callerID string, q domain.ListQuery) (domain.Page, error)
	Compare(ctx context.Context, callerID, ids string) ([]*domain.Experiment, error)
	Stats(ctx context.Context, callerID string) (domain.Stats, error)
	Insights(ctx context.Context, callerID, id string) (*domain.Insight, error)
}

// Metrics is the HTTP side of the Prometheus adapter.
type Metrics interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
	Handler() http.Handler
}

// Options wires the server. Metrics and Limiter are optional.
type Options struct {
	Port            int
	Service         ExperimentService
	Verifier        middleware.TokenVerifier
	Metrics         Metrics
	Limiter         *middleware.RateLimiter
	AllowedOrigins  []string
	Logger          *slog.Logger
	ShutdownTimeout time.Duration
	Now             func() time.Time
}

type Server struct {
	router  *http.ServeMux
	handler http.Handler
	port    int
	svc     ExperimentService
	log     *slog.Logger
	now     func() time.Time

	shutdownTimeout time.Duration
}

func NewServer(opts Options) *Server {
	s := &Server{
		router:          http.NewServeMux(),
		port:            opts.Port,
		svc:             opts.Service,
		log:             opts.Logger,
		now:             opts.Now,
		shutdownTimeout: opts.ShutdownTimeout,
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 10 * time.Second
	}

	s.setupRoutes(opts)

	var observe middleware.Observer
	if opts.Metrics != nil {
		observe = opts.Metrics.ObserveRequest
	}
	s.handler = middleware.Chain(s.router,
		middleware.RequestLog(s.log, observe),
		middleware.Recover(s.log, s.deny),
		middleware.CORS(opts.AllowedOrigins, s.deny),
	)
	return s
}

func (s *Server) setupRoutes(opts Options) {
	protected := []func(http.Handler) http.Handler{
		middleware.Authenticate(opts.Verifier, s.log, s.deny),
	}
	if opts.Limiter != nil {
		protected = append(protected, opts.Limiter.Middleware(s.deny))
	}
	api := func(pattern string, h http.HandlerFunc) {
		s.router.Handle(pattern, middleware.Chain(h, protected...))
	}

	s.router.HandleFunc("GET /api/health", s.handleHealth)
	if opts.Metrics != nil {
		s.router.Handle("GET /metrics", opts.Metrics.Handler())
	}

	api("GET /api/experiments", s.handleList)
	api("POST /api/experiments", s.handleCreate)
	api("GET /api/experiments/stats", s.handleStats)
	api("GET /api/experiments/compare", s.handleCompare)
	api("GET /api/experiments/{id}", s.handleGet)
	api("PUT /api/experiments/{id}", s.handleUpdate)
	api("DELETE /api/experiments/{id}", s.handleDelete)
	api("GET /api/experiments/{id}/insights", s.handleInsights)

	s.router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.deny(w, r, http.StatusNotFound, kindNotFound, "Route not found")
	})
}

// Handler returns the full middleware chain around the routes.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.log.Info("server listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("server stopped")
	return nil
}
