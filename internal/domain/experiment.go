package domain

import (
	"slices"
	"strings"
	"time"
)

// Experiment is one tracked ML experiment run. Top-level fields hold the current
// state; Versions holds every earlier state, oldest first.
type Experiment struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	ModelName string    `json:"modelName"`
	Accuracy  float64   `json:"accuracy"`
	Loss      float64   `json:"loss"`
	Notes     string    `json:"notes"`
	Tags      []string  `json:"tags"`
	Versions  []Version `json:"versions"`
	IsActive  bool      `json:"isActive"`
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Version is a snapshot of an experiment taken right before an update.
// CapturedAt is the UpdatedAt of the state it preserves.
type Version struct {
	ModelName  string    `json:"modelName"`
	Accuracy   float64   `json:"accuracy"`
	Loss       float64   `json:"loss"`
	Notes      string    `json:"notes"`
	CapturedAt time.Time `json:"capturedAt"`
}

// NewExperiment is the creation payload.
type NewExperiment struct {
	ModelName *string  `json:"modelName" validate:"required,notblank"`
	Accuracy  *float64 `json:"accuracy" validate:"required,gte=0,lte=100"`
	Loss      *float64 `json:"loss" validate:"required,gte=0"`
	Notes     *string  `json:"notes"`
	Tags      []string `json:"tags"`
}

// ExperimentPatch is a partial update. A nil field is left untouched; a non-nil
// field is applied even when it points at a zero value.
type ExperimentPatch struct {
	ModelName *string   `json:"modelName" validate:"omitnil,notblank"`
	Accuracy  *float64  `json:"accuracy" validate:"omitnil,gte=0,lte=100"`
	Loss      *float64  `json:"loss" validate:"omitnil,gte=0"`
	Notes     *string   `json:"notes"`
	Tags      *[]string `json:"tags"`
}

// Build validates in and returns a fresh active experiment owned by ownerID.
func Build(ownerID string, in NewExperiment, id string, now time.Time) (*Experiment, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, Invalid("ownerId", "is required")
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	e := &Experiment{
		ID:        id,
		OwnerID:   ownerID,
		ModelName: strings.TrimSpace(*in.ModelName),
		Accuracy:  *in.Accuracy,
		Loss:      *in.Loss,
		Tags:      NormalizeTags(in.Tags),
		Versions:  []Version{},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Notes != nil {
		e.Notes = *in.Notes
	}
	return e, nil
}

// Validate checks the patch without touching any experiment.
func (p ExperimentPatch) Validate() error {
	return validateStruct(p)
}

// Apply snapshots the current state into Versions and then overwrites the fields
// present in p. Nothing changes when p is invalid. retain > 0 keeps only the
// newest retain versions; 0 keeps all of them.
func (e *Experiment) Apply(p ExperimentPatch, now time.Time, retain int) error {
	if err := p.Validate(); err != nil {
		return err
	}

	e.Versions = append(e.Versions, e.snapshot())
	if retain > 0 && len(e.Versions) > retain {
		e.Versions = slices.Clone(e.Versions[len(e.Versions)-retain:])
	}

	if p.ModelName != nil {
		e.ModelName = strings.TrimSpace(*p.ModelName)
	}
	if p.Accuracy != nil {
		e.Accuracy = *p.Accuracy
	}
	if p.Loss != nil {
		e.Loss = *p.Loss
	}
	if p.Notes != nil {
		e.Notes = *p.Notes
	}
	if p.Tags != nil {
		e.Tags = NormalizeTags(*p.Tags)
	}

	e.UpdatedAt = now
	e.Revision++
	return nil
}

// SoftDelete marks the experiment inactive.
func (e *Experiment) SoftDelete(now time.Time) {
	e.IsActive = false
	e.UpdatedAt = now
	e.Revision++
}

func (e *Experiment) snapshot() Version {
	return Version{
		ModelName:  e.ModelName,
		Accuracy:   e.Accuracy,
		Loss:       e.Loss,
		Notes:      e.Notes,
		CapturedAt: e.UpdatedAt,
	}
}

// NormalizeTags trims every tag, drops blanks and duplicates, and keeps the
// order of first appearance. The result is never nil.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}
