package models

// Package models defines core data types shared by the outlier engine,
// its scope resolvers, the reference score stores and the HTTP layer.
//
// These types describe what the engine reads (score records handed over by
// a Score Store) and how a caller addresses a subset of them (scope,
// dimension, group selection). None of them is mutated by the engine.

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ScoreRecord is one recorded assessment result.
type ScoreRecord struct {
	ID        int64     `json:"id,omitempty" yaml:"id,omitempty" db:"id"`
	SubjectID string    `json:"subject_id" yaml:"subject_id" db:"subject_id"`
	GroupKey  string    `json:"group_key" yaml:"group_key" db:"group_key"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp" db:"timestamp"`
	Total     float64   `json:"total_score" yaml:"total_score" db:"total_score"`
	SubScores []float64 `json:"sub_scores,omitempty" yaml:"sub_scores,omitempty" db:"-"`
}

// ScopeType identifies which subset of the population an analysis covers.
type ScopeType string

const (
	ScopeUser     ScopeType = "user"
	ScopeAgeGroup ScopeType = "age_group"
	ScopeGlobal   ScopeType = "global"
)

// Valid reports whether the scope type is one of the known values.
func (s ScopeType) Valid() bool {
	switch s {
	case ScopeUser, ScopeAgeGroup, ScopeGlobal:
		return true
	}
	return false
}

// GroupSelection controls which of a cohort's records form the sample.
type GroupSelection string

const (
	// SelectAll uses every record of every subject in the group.
	SelectAll GroupSelection = "all"
	// SelectLatest uses only each subject's most recent record.
	SelectLatest GroupSelection = "latest"
)

// Dimension selects the numeric value extracted from each record. The zero
// value is TotalScore; SubScore(i) reads SubScores[i].
type Dimension int

// TotalScore is the default dimension.
const TotalScore Dimension = 0

// SubScore returns the dimension for the i-th sub-score.
func SubScore(i int) Dimension { return Dimension(i + 1) }

// Valid reports whether d can address a value.
func (d Dimension) Valid() bool { return d >= TotalScore }

// Value extracts the dimension's value from a record. ok is false when the
// record has no such sub-score.
func (d Dimension) Value(r ScoreRecord) (float64, bool) {
	if d == TotalScore {
		return r.Total, true
	}
	i := int(d) - 1
	if i < 0 || i >= len(r.SubScores) {
		return 0, false
	}
	return r.SubScores[i], true
}

func (d Dimension) String() string {
	if d == TotalScore {
		return "total_score"
	}
	return fmt.Sprintf("sub_score[%d]", int(d)-1)
}

// ParseDimension accepts "total_score", "total", "" or a sub-score index
// written either as "3" or "sub_score[3]".
func ParseDimension(s string) (Dimension, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "total", "total_score":
		return TotalScore, nil
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "sub_score["), "]")
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return TotalScore, &ConfigError{Field: "dimension", Message: fmt.Sprintf("invalid dimension %q", s)}
	}
	return SubScore(i), nil
}

// MarshalText renders the dimension using String.
func (d Dimension) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses the dimension using ParseDimension.
func (d *Dimension) UnmarshalText(b []byte) error {
	parsed, err := ParseDimension(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
