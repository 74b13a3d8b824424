package domain

import (
	"cmp"
	"math"
	"slices"
	"strings"
)

type SortKey string

const (
	SortByCreatedAt SortKey = "createdAt"
	SortByAccuracy  SortKey = "accuracy"
	SortByLoss      SortKey = "loss"
	SortByModelName SortKey = "modelName"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

const DefaultPageLimit = 10

// ListQuery selects a page of one owner's active experiments.
type ListQuery struct {
	Search      string
	Tags        []string
	MinAccuracy *float64
	MaxAccuracy *float64
	SortBy      SortKey
	SortOrder   SortOrder
	Page        int
	Limit       int
}

// Normalize fills defaults and rejects values no store could honor.
// Zero Page and Limit mean "use the default".
func (q ListQuery) Normalize() (ListQuery, error) {
	q.Search = strings.TrimSpace(q.Search)
	q.Tags = NormalizeTags(q.Tags)

	if q.SortBy == "" {
		q.SortBy = SortByCreatedAt
	}
	switch q.SortBy {
	case SortByCreatedAt, SortByAccuracy, SortByLoss, SortByModelName:
	default:
		return q, Invalid("sortBy", "must be one of createdAt, accuracy, loss, modelName")
	}

	if q.SortOrder == "" {
		q.SortOrder = SortDesc
	}
	if q.SortOrder != SortAsc && q.SortOrder != SortDesc {
		return q, Invalid("sortOrder", "must be asc or desc")
	}

	if q.Page == 0 {
		q.Page = 1
	}
	if q.Page < 1 {
		return q, Invalid("page", "must be at least 1")
	}
	if q.Limit == 0 {
		q.Limit = DefaultPageLimit
	}
	if q.Limit < 1 {
		return q, Invalid("limit", "must be at least 1")
	}

	if q.MinAccuracy != nil && q.MaxAccuracy != nil && *q.MinAccuracy > *q.MaxAccuracy {
		return q, Invalid("minAccuracy", "must not exceed maxAccuracy")
	}
	return q, nil
}

// Offset is the number of matching records before the requested page. It
// saturates at math.MaxInt instead of overflowing.
func (q ListQuery) Offset() int {
	if q.Page <= 1 || q.Limit <= 0 {
		return 0
	}
	if q.Page-1 > math.MaxInt/q.Limit {
		return math.MaxInt
	}
	return (q.Page - 1) * q.Limit
}

// Matches reports whether e passes every filter of q. Ownership and the active
// flag are checked by the store, not here.
func (q ListQuery) Matches(e *Experiment) bool {
	if q.Search != "" {
		needle := FoldSearch(q.Search)
		if !strings.Contains(FoldSearch(e.ModelName), needle) &&
			!strings.Contains(FoldSearch(e.Notes), needle) &&
			!slices.ContainsFunc(e.Tags, func(t string) bool { return strings.Contains(FoldSearch(t), needle) }) {
			return false
		}
	}
	if len(q.Tags) > 0 && !slices.ContainsFunc(e.Tags, func(t string) bool { return slices.Contains(q.Tags, t) }) {
		return false
	}
	if q.MinAccuracy != nil && e.Accuracy < *q.MinAccuracy {
		return false
	}
	if q.MaxAccuracy != nil && e.Accuracy > *q.MaxAccuracy {
		return false
	}
	return true
}

// FoldSearch is the case folding applied to both sides of a search. Stores
// that cannot fold Unicode themselves persist its output next to the raw text.
func FoldSearch(s string) string {
	return strings.ToLower(s)
}

// SortExperiments orders items by key, breaking ties by ID so that pages are
// stable across requests.
func SortExperiments(items []*Experiment, key SortKey, order SortOrder) {
	slices.SortStableFunc(items, func(a, b *Experiment) int {
		var c int
		switch key {
		case SortByAccuracy:
			c = cmp.Compare(a.Accuracy, b.Accuracy)
		case SortByLoss:
			c = cmp.Compare(a.Loss, b.Loss)
		case SortByModelName:
			c = strings.Compare(a.ModelName, b.ModelName)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if order == SortDesc {
			c = -c
		}
		return c
	})
}

// Pagination describes one page of a larger result.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// Paginate computes page metadata; Pages is ceil(total / limit).
func Paginate(total int64, page, limit int) Pagination {
	p := Pagination{Page: page, Limit: limit, Total: total}
	if limit > 0 {
		p.Pages = total / int64(limit)
		if total%int64(limit) != 0 {
			p.Pages++
		}
	}
	return p
}

// Page is one window of experiments plus its metadata.
type Page struct {
	Items      []*Experiment
	Pagination Pagination
}

// PageOf cuts the window described by q out of matches, which must already be
// filtered and sorted.
func PageOf(matches []*Experiment, q ListQuery) Page {
	total := len(matches)
	start := min(q.Offset(), total)
	end := start + min(q.Limit, total-start)
	return Page{
		Items:      matches[start:end],
		Pagination: Paginate(int64(total), q.Page, q.Limit),
	}
}

// ParseIDList splits a comma-separated id list. An empty list is invalid.
func ParseIDList(csv string) ([]string, error) {
	ids := splitList(csv)
	if len(ids) == 0 {
		return nil, Invalid("ids", "at least one experiment id is required")
	}
	return ids, nil
}

// ParseTagList splits a comma-separated tag filter.
func ParseTagList(csv string) []string {
	return splitList(csv)
}

func splitList(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part != "" && !slices.Contains(out, part) {
			out = append(out, part)
		}
	}
	return out
}
