package stats

import (
	"time"

	"github.com/soulsense/soulsense-outliers/internal/models"
)

// RecordRef points a sample value back at the record it came from.
type RecordRef struct {
	Index     int       `json:"index" yaml:"index"`
	SubjectID string    `json:"subject_id" yaml:"subject_id"`
	GroupKey  string    `json:"group_key,omitempty" yaml:"group_key,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Sample is an ordered sequence of values with references aligned by index.
type Sample struct {
	Values []float64
	Refs   []RecordRef
}

// Len returns the number of values in the sample.
func (s Sample) Len() int { return len(s.Values) }

// Extract builds a Sample from records using dimension d. Records lacking the
// requested sub-score are skipped; Index always refers to the position in
// records, so skipped records leave gaps.
func Extract(records []models.ScoreRecord, d models.Dimension) Sample {
	s := Sample{
		Values: make([]float64, 0, len(records)),
		Refs:   make([]RecordRef, 0, len(records)),
	}
	for i, r := range records {
		v, ok := d.Value(r)
		if !ok {
			continue
		}
		s.Values = append(s.Values, v)
		s.Refs = append(s.Refs, RecordRef{
			Index:     i,
			SubjectID: r.SubjectID,
			GroupKey:  r.GroupKey,
			Timestamp: r.Timestamp,
		})
	}
	return s
}

// FromValues builds a Sample with positional refs only.
func FromValues(values []float64) Sample {
	s := Sample{
		Values: append([]float64(nil), values...),
		Refs:   make([]RecordRef, len(values)),
	}
	for i := range values {
		s.Refs[i] = RecordRef{Index: i}
	}
	return s
}
