package web

import (
	"net/http"
	"strings"

	"github.com/emiliopalmerini/mltrackr/internal/domain"
	"github.com/emiliopalmerini/mltrackr/internal/shared/middleware"
	"github.com/emiliopalmerini/mltrackr/internal/util"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "MLTrackr API is running!",
		Data:    map[string]string{"timestamp": util.FormatTimestamp(s.now())},
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in domain.NewExperiment
	if err := decodeJSON(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	e, err := s.svc.Create(r.Context(), middleware.CallerID(r), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, e, "Experiment created successfully")
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	e, err := s.svc.Get(r.Context(), middleware.CallerID(r), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, e, "")
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch domain.ExperimentPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}
	e, err := s.svc.Update(r.Context(), middleware.CallerID(r), r.PathValue("id"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, e, "Experiment updated successfully")
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), middleware.CallerID(r), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, nil, "Experiment deleted successfully")
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.svc.List(r.Context(), middleware.CallerID(r), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := page.Items
	if items == nil {
		items = []*domain.Experiment{}
	}
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: items, Pagination: &page.Pagination})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Compare(r.Context(), middleware.CallerID(r), r.URL.Query().Get("ids"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if items == nil {
		items = []*domain.Experiment{}
	}
	s.ok(w, http.StatusOK, items, "")
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context(), middleware.CallerID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, stats, "")
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	insight, err := s.svc.Insights(r.Context(), middleware.CallerID(r), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, insight, "")
}

// parseListQuery reads the list filters from the query string. Range and enum
// checks happen in ListQuery.Normalize.
func parseListQuery(r *http.Request) (domain.ListQuery, error) {
	v := r.URL.Query()
	q := domain.ListQuery{
		Search:    v.Get("search"),
		Tags:      domain.ParseTagList(v.Get("tags")),
		SortBy:    domain.SortKey(v.Get("sortBy")),
		SortOrder: domain.SortOrder(strings.ToLower(v.Get("sortOrder"))),
	}

	var err error
	if q.MinAccuracy, err = parseFloatParam(v.Get("minAccuracy"), "minAccuracy"); err != nil {
		return q, err
	}
	if q.MaxAccuracy, err = parseFloatParam(v.Get("maxAccuracy"), "maxAccuracy"); err != nil {
		return q, err
	}
	if q.Page, err = parseIntParam(v.Get("page"), "page"); err != nil {
		return q, err
	}
	if v.Get("page") != "" && q.Page < 1 {
		return q, domain.Invalid("page", "must be at least 1")
	}
	if q.Limit, err = parseIntParam(v.Get("limit"), "limit"); err != nil {
		return q, err
	}
	if v.Get("limit") != "" && q.Limit < 1 {
		return q, domain.Invalid("limit", "must be at least 1")
	}
	return q, nil
}
