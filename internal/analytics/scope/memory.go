package scope

import (
	"context"
	"sync"

	"github.com/soulsense/soulsense-outliers/internal/models"
)

// MemoryStore is an in-process ScoreStore. It returns records in insertion
// order and is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records []models.ScoreRecord
}

// NewMemoryStore returns a store seeded with records.
func NewMemoryStore(records ...models.ScoreRecord) *MemoryStore {
	s := &MemoryStore{}
	s.Add(records...)
	return s
}

// Add appends records. Sub-score slices are copied.
func (s *MemoryStore) Add(records ...models.ScoreRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		r.SubScores = append([]float64(nil), r.SubScores...)
		s.records = append(s.records, r)
	}
}

func (s *MemoryStore) ScoresForSubject(_ context.Context, subjectID string) ([]models.ScoreRecord, error) {
	return s.filter(func(r models.ScoreRecord) bool { return r.SubjectID == subjectID }), nil
}

func (s *MemoryStore) ScoresForGroup(_ context.Context, groupKey string) ([]models.ScoreRecord, error) {
	return s.filter(func(r models.ScoreRecord) bool { return r.GroupKey == groupKey }), nil
}

func (s *MemoryStore) AllScores(_ context.Context) ([]models.ScoreRecord, error) {
	return s.filter(func(models.ScoreRecord) bool { return true }), nil
}

func (s *MemoryStore) filter(keep func(models.ScoreRecord) bool) []models.ScoreRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.ScoreRecord{}
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
