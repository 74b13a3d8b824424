package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/emiliopalmerini/mltrackr/internal/adapters/openai"
	"github.com/emiliopalmerini/mltrackr/internal/adapters/otel"
	"github.com/emiliopalmerini/mltrackr/internal/adapters/prometheus"
	"github.com/emiliopalmerini/mltrackr/internal/auth"
	"github.com/emiliopalmerini/mltrackr/internal/experiments"
	"github.com/emiliopalmerini/mltrackr/internal/ports"
	"github.com/emiliopalmerini/mltrackr/internal/shared/middleware"
	"github.com/emiliopalmerini/mltrackr/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the experiment tracking HTTP API.

Examples:
  mltrackr serve              # Listen on MLTRACKR_PORT (default 8080)
  mltrackr serve --port 3000  # Listen on port 3000`,
	RunE: runServe,
}

var servePort int

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on, overrides MLTRACKR_PORT")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			app.Log.Warn("close store", slog.String("error", err.Error()))
		}
	}()

	cfg := app.Config
	if err := cfg.RequireJWTSecret(); err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Port = servePort
	}

	promMetrics := prometheus.NewMetrics()
	exporter, err := newOTelExporter(ctx, app)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := exporter.Close(shutdownCtx); err != nil {
			app.Log.Warn("flush metrics", slog.String("error", err.Error()))
		}
	}()

	opts := []experiments.Option{
		experiments.WithLogger(app.Log.With(slog.String("component", "experiments"))),
		experiments.WithMetrics(promMetrics, exporter),
		experiments.WithStoreTimeout(cfg.StoreTimeout),
		experiments.WithMaxUpdateAttempts(cfg.MaxUpdateAttempts),
		experiments.WithVersionRetention(cfg.VersionRetention),
	}
	if cfg.OpenAIAPIKey != "" {
		client, err := openai.NewClient(openai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}, app.Log.With(slog.String("component", "insights")))
		if err != nil {
			return fmt.Errorf("create insights client: %w", err)
		}
		opts = append(opts, experiments.WithInsights(client))
	}

	server := web.NewServer(web.Options{
		Port:            cfg.Port,
		Service:         experiments.NewService(app.Repo, opts...),
		Verifier:        auth.NewVerifier(cfg.JWTSecret),
		Metrics:         promMetrics,
		Limiter:         middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		AllowedOrigins:  cfg.AllowedOrigins,
		Logger:          app.Log.With(slog.String("component", "http")),
		ShutdownTimeout: cfg.ShutdownTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	if app.Badger != nil {
		g.Go(func() error { return app.Badger.RunGC(gctx) })
	}

	app.Log.Info("mltrackr started", slog.String("store", cfg.Store), slog.Int("port", cfg.Port))
	return g.Wait()
}

func newOTelExporter(ctx context.Context, app *AppContext) (ports.MetricsExporter, error) {
	oc := otel.Config{
		Endpoint: app.Config.OTelEndpoint,
		Enabled:  app.Config.OTelEnabled,
		Insecure: app.Config.OTelInsecure,
	}
	if !oc.Active() {
		return otel.NewNoOpExporter(), nil
	}
	exp, err := otel.NewExporter(ctx, oc)
	if err != nil {
		return nil, fmt.Errorf("create otel exporter: %w", err)
	}
	app.Log.Info("exporting metrics over OTLP", slog.String("endpoint", oc.Endpoint))
	return exp, nil
}
