package scope

// Package scope maps a query shape (one subject, one cohort, everyone) onto a
// numeric sample. Resolvers only fetch, order and select records; they never
// decide what is an outlier. Detection is shared by every scope, so the same
// sample gives the same verdicts whichever resolver produced it.
//
// Record ordering is normalized so results do not depend on the store:
//   - user:   chronological, ties kept in store order
//   - group:  by subject, then chronological
//   - global: by subject, then chronological (group boundaries ignored)

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/soulsense/soulsense-outliers/internal/analytics/stats"
	"github.com/soulsense/soulsense-outliers/internal/models"
)

// ScoreStore is the read-only source of score records.
type ScoreStore interface {
	// ScoresForSubject returns every record of one subject.
	ScoresForSubject(ctx context.Context, subjectID string) ([]models.ScoreRecord, error)

	// ScoresForGroup returns every record whose group key matches.
	ScoresForGroup(ctx context.Context, groupKey string) ([]models.ScoreRecord, error)

	// AllScores returns the whole population.
	AllScores(ctx context.Context) ([]models.ScoreRecord, error)
}

// Meta describes which subset of the population a sample covers.
type Meta struct {
	ScopeType models.ScopeType      `json:"scope_type" yaml:"scope_type"`
	ScopeKey  string                `json:"scope_key" yaml:"scope_key"`
	Dimension models.Dimension      `json:"dimension" yaml:"dimension"`
	Selection models.GroupSelection `json:"selection,omitempty" yaml:"selection,omitempty"`
}

// Resolution is a resolved scope: the records used and the sample built
// from them.
type Resolution struct {
	Meta    Meta
	Records []models.ScoreRecord
	Sample  stats.Sample
}

// ParseSelection normalizes a group selection; "" means SelectAll.
func ParseSelection(s string) (models.GroupSelection, error) {
	switch models.GroupSelection(strings.ToLower(strings.TrimSpace(s))) {
	case "", models.SelectAll:
		return models.SelectAll, nil
	case models.SelectLatest:
		return models.SelectLatest, nil
	}
	return "", &models.ConfigError{Field: "selection", Message: fmt.Sprintf("unknown group selection %q", s)}
}

// ResolveUser builds the sample of one subject's history.
func ResolveUser(ctx context.Context, store ScoreStore, subjectID string, d models.Dimension) (Resolution, error) {
	if strings.TrimSpace(subjectID) == "" {
		return Resolution{}, &models.ConfigError{Field: "subject_id", Message: "must not be empty"}
	}
	records, err := store.ScoresForSubject(ctx, subjectID)
	if err != nil {
		return Resolution{}, fmt.Errorf("fetch scores for subject %s: %w", subjectID, err)
	}
	records = chronological(records)
	return Resolution{
		Meta:    Meta{ScopeType: models.ScopeUser, ScopeKey: subjectID, Dimension: d},
		Records: records,
		Sample:  stats.Extract(records, d),
	}, nil
}

// ResolveGroup builds the cross-subject sample of one cohort.
func ResolveGroup(ctx context.Context, store ScoreStore, groupKey string, d models.Dimension, sel models.GroupSelection) (Resolution, error) {
	if strings.TrimSpace(groupKey) == "" {
		return Resolution{}, &models.ConfigError{Field: "group_key", Message: "must not be empty"}
	}
	sel, err := ParseSelection(string(sel))
	if err != nil {
		return Resolution{}, err
	}
	records, err := store.ScoresForGroup(ctx, groupKey)
	if err != nil {
		return Resolution{}, fmt.Errorf("fetch scores for group %s: %w", groupKey, err)
	}
	records = bySubject(records)
	if sel == models.SelectLatest {
		records = latestPerSubject(records)
	}
	return Resolution{
		Meta:    Meta{ScopeType: models.ScopeAgeGroup, ScopeKey: groupKey, Dimension: d, Selection: sel},
		Records: records,
		Sample:  stats.Extract(records, d),
	}, nil
}

// ResolveGlobal builds the sample of the whole population.
func ResolveGlobal(ctx context.Context, store ScoreStore, d models.Dimension) (Resolution, error) {
	records, err := store.AllScores(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("fetch all scores: %w", err)
	}
	records = bySubject(records)
	return Resolution{
		Meta:    Meta{ScopeType: models.ScopeGlobal, ScopeKey: string(models.ScopeGlobal), Dimension: d},
		Records: records,
		Sample:  stats.Extract(records, d),
	}, nil
}

// Resolve dispatches on scope type. key is ignored for the global scope.
func Resolve(ctx context.Context, store ScoreStore, t models.ScopeType, key string, d models.Dimension, sel models.GroupSelection) (Resolution, error) {
	switch t {
	case models.ScopeUser:
		return ResolveUser(ctx, store, key, d)
	case models.ScopeAgeGroup:
		return ResolveGroup(ctx, store, key, d, sel)
	case models.ScopeGlobal:
		return ResolveGlobal(ctx, store, d)
	}
	return Resolution{}, &models.ConfigError{Field: "scope_type", Message: fmt.Sprintf("unknown scope %q", t)}
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func chronological(records []models.ScoreRecord) []models.ScoreRecord {
	out := append([]models.ScoreRecord(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func bySubject(records []models.ScoreRecord) []models.ScoreRecord {
	out := append([]models.ScoreRecord(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SubjectID != out[j].SubjectID {
			return out[i].SubjectID < out[j].SubjectID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// latestPerSubject keeps the last record of each subject. records must be
// ordered by bySubject, so the last one per subject is the most recent.
func latestPerSubject(records []models.ScoreRecord) []models.ScoreRecord {
	out := make([]models.ScoreRecord, 0, len(records))
	for i, r := range records {
		if i+1 < len(records) && records[i+1].SubjectID == r.SubjectID {
			continue
		}
		out = append(out, r)
	}
	return out
}
