package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emiliopalmerini/mltrackr/internal/adapters/badger"
	"github.com/emiliopalmerini/mltrackr/internal/adapters/prometheus"
	"github.com/emiliopalmerini/mltrackr/internal/auth"
	"github.com/emiliopalmerini/mltrackr/internal/domain"
	"github.com/emiliopalmerini/mltrackr/internal/experiments"
	"github.com/emiliopalmerini/mltrackr/internal/ports"
	"github.com/emiliopalmerini/mltrackr/internal/shared/middleware"
	"github.com/emiliopalmerini/mltrackr/internal/web"
)

const testSecret = "0123456789abcdef-test-secret"

type response struct {
	Success    bool               `json:"success"`
	Data       json.RawMessage    `json:"data"`
	Message    string             `json:"message"`
	Error      string             `json:"error"`
	Field      string             `json:"field"`
	Pagination *domain.Pagination `json:"pagination"`
}

type harness struct {
	t       *testing.T
	handler http.Handler
	issuer  *auth.Issuer
	metrics *prometheus.Metrics
}

type insightFunc func(ctx context.Context, prompt string) (string, error)

func (f insightFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func newHarness(t *testing.T, svcOpts ...experiments.Option) *harness {
	t.Helper()
	db, err := badger.Open(badger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return newHarnessWith(t, badger.NewExperimentRepository(db), svcOpts...)
}

func newHarnessWith(t *testing.T, repo ports.ExperimentRepository, svcOpts ...experiments.Option) *harness {
	t.Helper()
	issuer, err := auth.NewIssuer(testSecret)
	require.NoError(t, err)
	metrics := prometheus.NewMetrics()

	svc := experiments.NewService(repo, append(svcOpts, experiments.WithMetrics(metrics))...)
	srv := web.NewServer(web.Options{
		Service:        svc,
		Verifier:       auth.NewVerifier(testSecret),
		Metrics:        metrics,
		Limiter:        middleware.NewRateLimiter(1000, 1000),
		AllowedOrigins: []string{"http://localhost:3000"},
		Now:            func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	return &harness{t: t, handler: srv.Handler(), issuer: issuer, metrics: metrics}
}

func (h *harness) token(user string) string {
	h.t.Helper()
	tok, err := h.issuer.Issue(user, time.Hour)
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(method, path, user, body string) (*httptest.ResponseRecorder, response) {
	h.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+h.token(user))
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var resp response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func (h *harness) create(user, body string) domain.Experiment {
	h.t.Helper()
	rec, resp := h.do(http.MethodPost, "/api/experiments", user, body)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	var e domain.Experiment
	require.NoError(h.t, json.Unmarshal(resp.Data, &e))
	return e
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	rec, resp := h.do(http.MethodGet, "/api/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "MLTrackr API is running!", resp.Message)
	assert.JSONEq(t, `{"timestamp":"2026-03-01T12:00:00.000000000Z"}`, string(resp.Data))
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t)

	rec, resp := h.do(http.MethodGet, "/api/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "Route not found", resp.Message)
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t)

	rec, resp := h.do(http.MethodGet, "/api/experiments", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "No token, authorization denied", resp.Message)

	req := httptest.NewRequest(http.MethodGet, "/api/experiments", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Token is not valid")
}

func TestCreateAndGet(t *testing.T) {
	h := newHarness(t)

	created := h.create("alice", `{"modelName":"ResNet-50","accuracy":91.5,"loss":0.21,"notes":"baseline","tags":["cv","cv","resnet"]}`)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "alice", created.OwnerID)
	assert.Equal(t, []string{"cv", "resnet"}, created.Tags)
	assert.True(t, created.IsActive)
	assert.Empty(t, created.Versions)

	rec, resp := h.do(http.MethodGet, "/api/experiments/"+created.ID, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Experiment
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "ResNet-50", got.ModelName)
	assert.InDelta(t, 91.5, got.Accuracy, 1e-9)

	// Another caller cannot see it.
	rec, resp = h.do(http.MethodGet, "/api/experiments/"+created.ID, "bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Experiment not found", resp.Message)
}

func TestCreate_Validation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing model name", `{"accuracy":50,"loss":1}`, "modelName"},
		{"blank model name", `{"modelName":"  ","accuracy":50,"loss":1}`, "modelName"},
		{"accuracy above range", `{"modelName":"m","accuracy":101,"loss":1}`, "accuracy"},
		{"negative loss", `{"modelName":"m","accuracy":50,"loss":-0.1}`, "loss"},
		{"wrong type", `{"modelName":"m","accuracy":"high","loss":1}`, "accuracy"},
		{"unknown field", `{"modelName":"m","accuracy":50,"loss":1,"owner":"x"}`, "owner"},
		{"malformed", `{"modelName":`, "body"},
		{"trailing data", `{"modelName":"m","accuracy":50,"loss":1}{}`, "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := h.do(http.MethodPost, "/api/experiments", "alice", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.False(t, resp.Success)
			assert.Equal(t, "validation", resp.Error)
			assert.Equal(t, tt.field, resp.Field)
		})
	}
}

func TestCreate_BodyTooLarge(t *testing.T) {
	h := newHarness(t)

	notes := strings.Repeat("x", 1<<20)
	rec, resp := h.do(http.MethodPost, "/api/experiments", "alice", `{"modelName":"m","accuracy":1,"loss":1,"notes":"`+notes+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "body", resp.Field)
}

func TestUpdate_AppendsVersion(t *testing.T) {
	h := newHarness(t)
	created := h.create("alice", `{"modelName":"v1","accuracy":80,"loss":0.5}`)

	rec, resp := h.do(http.MethodPut, "/api/experiments/"+created.ID, "alice", `{"accuracy":85,"tags":["tuned"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Experiment updated successfully", resp.Message)

	var updated domain.Experiment
	require.NoError(t, json.Unmarshal(resp.Data, &updated))
	assert.Equal(t, "v1", updated.ModelName)
	assert.InDelta(t, 85, updated.Accuracy, 1e-9)
	assert.Equal(t, []string{"tuned"}, updated.Tags)
	require.Len(t, updated.Versions, 1)
	assert.InDelta(t, 80, updated.Versions[0].Accuracy, 1e-9)

	rec, resp = h.do(http.MethodPut, "/api/experiments/"+created.ID, "alice", `{"modelName":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "modelName", resp.Field)

	rec, _ = h.do(http.MethodPut, "/api/experiments/"+created.ID, "bob", `{"accuracy":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	created := h.create("alice", `{"modelName":"m","accuracy":50,"loss":1}`)

	rec, resp := h.do(http.MethodDelete, "/api/experiments/"+created.ID, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Experiment deleted successfully", resp.Message)

	rec, _ = h.do(http.MethodDelete, "/api/experiments/"+created.ID, "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = h.do(http.MethodGet, "/api/experiments/"+created.ID, "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestList(t *testing.T) {
	h := newHarness(t)
	h.create("alice", `{"modelName":"bert-base","accuracy":88,"loss":0.3,"tags":["nlp"]}`)
	h.create("alice", `{"modelName":"resnet","accuracy":92,"loss":0.2,"tags":["cv"]}`)
	h.create("alice", `{"modelName":"vit","accuracy":95,"loss":0.1,"tags":["cv","transformer"]}`)
	h.create("bob", `{"modelName":"other","accuracy":99,"loss":0.01}`)

	t.Run("pagination", func(t *testing.T) {
		rec, resp := h.do(http.MethodGet, "/api/experiments?limit=2&sortBy=accuracy&sortOrder=asc", "alice", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var items []domain.Experiment
		require.NoError(t, json.Unmarshal(resp.Data, &items))
		require.Len(t, items, 2)
		assert.Equal(t, "bert-base", items[0].ModelName)
		assert.Equal(t, "resnet", items[1].ModelName)
		require.NotNil(t, resp.Pagination)
		assert.Equal(t, domain.Pagination{Page: 1, Limit: 2, Total: 3, Pages: 2}, *resp.Pagination)
	})

	t.Run("filters", func(t *testing.T) {
		_, resp := h.do(http.MethodGet, "/api/experiments?tags=cv&minAccuracy=93", "alice", "")
		var items []domain.Experiment
		require.NoError(t, json.Unmarshal(resp.Data, &items))
		require.Len(t, items, 1)
		assert.Equal(t, "vit", items[0].ModelName)
	})

	t.Run("empty page is an empty array", func(t *testing.T) {
		_, resp := h.do(http.MethodGet, "/api/experiments?page=5", "alice", "")
		assert.Equal(t, "[]", string(resp.Data))
	})

	t.Run("large page and limit are accepted", func(t *testing.T) {
		rec, resp := h.do(http.MethodGet, "/api/experiments?page=9223372036854775807&limit=10", "alice", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "[]", string(resp.Data))
		require.NotNil(t, resp.Pagination)
		assert.Equal(t, int64(1), resp.Pagination.Pages)

		rec, resp = h.do(http.MethodGet, "/api/experiments?limit=250", "alice", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.NotNil(t, resp.Pagination)
		assert.Equal(t, 250, resp.Pagination.Limit)
	})

	t.Run("bad params", func(t *testing.T) {
		for _, q := range []string{"page=0", "page=x", "limit=0", "limit=-1", "minAccuracy=abc", "sortBy=owner", "sortOrder=sideways", "minAccuracy=90&maxAccuracy=10"} {
			rec, resp := h.do(http.MethodGet, "/api/experiments?"+q, "alice", "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, q)
			assert.Equal(t, "validation", resp.Error, q)
		}
	})
}

func TestCompare(t *testing.T) {
	h := newHarness(t)
	a := h.create("alice", `{"modelName":"a","accuracy":50,"loss":1}`)
	b := h.create("alice", `{"modelName":"b","accuracy":60,"loss":1}`)
	foreign := h.create("bob", `{"modelName":"c","accuracy":70,"loss":1}`)

	rec, resp := h.do(http.MethodGet, "/api/experiments/compare?ids="+a.ID+","+b.ID+","+foreign.ID+",missing", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []domain.Experiment
	require.NoError(t, json.Unmarshal(resp.Data, &items))
	assert.Len(t, items, 2)

	rec, resp = h.do(http.MethodGet, "/api/experiments/compare", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ids", resp.Field)
}

func TestStats(t *testing.T) {
	h := newHarness(t)

	_, resp := h.do(http.MethodGet, "/api/experiments/stats", "alice", "")
	var empty domain.Stats
	require.NoError(t, json.Unmarshal(resp.Data, &empty))
	assert.Zero(t, empty.TotalExperiments)
	assert.Contains(t, string(resp.Data), `"topTags":[]`)

	h.create("alice", `{"modelName":"a","accuracy":80,"loss":0.4,"tags":["cv"]}`)
	h.create("alice", `{"modelName":"b","accuracy":90,"loss":0.2,"tags":["cv","nlp"]}`)

	rec, resp := h.do(http.MethodGet, "/api/experiments/stats", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats domain.Stats
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.EqualValues(t, 2, stats.TotalExperiments)
	assert.InDelta(t, 85, stats.AvgAccuracy, 1e-9)
	assert.InDelta(t, 90, stats.MaxAccuracy, 1e-9)
	assert.InDelta(t, 0.2, stats.MinLoss, 1e-9)
	require.NotEmpty(t, stats.TopTags)
	assert.Equal(t, domain.TagCount{Tag: "cv", Count: 2}, stats.TopTags[0])
}

func TestInsights(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		h := newHarness(t)
		e := h.create("alice", `{"modelName":"m","accuracy":50,"loss":1}`)

		rec, resp := h.do(http.MethodGet, "/api/experiments/"+e.ID+"/insights", "alice", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "insights_unavailable", resp.Error)
	})

	t.Run("generated", func(t *testing.T) {
		var prompt string
		h := newHarness(t, experiments.WithInsights(insightFunc(func(_ context.Context, p string) (string, error) {
			prompt = p
			return "Try a lower learning rate.", nil
		})))
		e := h.create("alice", `{"modelName":"ResNet-50","accuracy":50,"loss":1}`)

		rec, resp := h.do(http.MethodGet, "/api/experiments/"+e.ID+"/insights", "alice", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var insight domain.Insight
		require.NoError(t, json.Unmarshal(resp.Data, &insight))
		assert.Equal(t, e.ID, insight.ExperimentID)
		assert.Equal(t, "Try a lower learning rate.", insight.Insights)
		assert.Contains(t, prompt, "ResNet-50")
	})
}

func TestStoreUnavailable(t *testing.T) {
	repo := &experiments.MockRepository{
		GetFunc: func(ctx context.Context, ownerID, id string) (*domain.Experiment, error) {
			return nil, errors.New("connection reset by peer")
		},
	}
	h := newHarnessWith(t, repo)

	rec, resp := h.do(http.MethodGet, "/api/experiments/exp-1", "alice", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store_unavailable", resp.Error)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestConflict(t *testing.T) {
	repo := &experiments.MockRepository{
		GetFunc: func(ctx context.Context, ownerID, id string) (*domain.Experiment, error) {
			return &domain.Experiment{ID: id, OwnerID: ownerID, ModelName: "m", IsActive: true, Revision: 1}, nil
		},
		ReplaceFunc: func(ctx context.Context, e *domain.Experiment, expectedRevision int64) error {
			return domain.ErrConflict
		},
	}
	h := newHarnessWith(t, repo)

	rec, resp := h.do(http.MethodPut, "/api/experiments/exp-1", "alice", `{"accuracy":10}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", resp.Error)
}

func TestCORS(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/experiments", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.create("alice", `{"modelName":"m","accuracy":50,"loss":1}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `mltrackr_http_requests_total{code="201",method="POST",route="POST /api/experiments"} 1`)
	assert.Contains(t, body, `mltrackr_experiments_operations_total{operation="create",outcome="ok"} 1`)
}

func TestRateLimit(t *testing.T) {
	db, err := badger.Open(badger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	issuer, err := auth.NewIssuer(testSecret)
	require.NoError(t, err)
	srv := web.NewServer(web.Options{
		Service:  experiments.NewService(badger.NewExperimentRepository(db)),
		Verifier: auth.NewVerifier(testSecret),
		Limiter:  middleware.NewRateLimiter(0.001, 2),
	})
	tok, err := issuer.Issue("alice", time.Hour)
	require.NoError(t, err)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/api/experiments", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestServe_GracefulShutdown(t *testing.T) {
	db, err := badger.Open(badger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	srv := web.NewServer(web.Options{
		Service:         experiments.NewService(badger.NewExperimentRepository(db)),
		Verifier:        auth.NewVerifier(testSecret),
		ShutdownTimeout: time.Second,
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
	require.NoError(t, err)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, buf.String(), "MLTrackr API is running!")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
