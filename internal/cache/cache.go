package cache

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/soulsense/soulsense-outliers/internal/analytics/scope"
	"github.com/soulsense/soulsense-outliers/internal/metrics"
	"github.com/soulsense/soulsense-outliers/internal/models"
)

// Package cache keeps recently fetched score histories in memory so repeated
// analyses of the same scope do not hit the database.
//
// Keys:
//   - subject:<id>  one subject's history
//   - group:<key>   one cohort
//   - all           the whole population
//
// Entries expire after the configured TTL. Any write through SaveScores
// flushes the cache, since a new record can change every scope at once.

// ScoreWriter is implemented by stores that accept new records.
type ScoreWriter interface {
	SaveScores(ctx context.Context, records []models.ScoreRecord) error
}

// ErrReadOnly is returned by SaveScores when the wrapped store cannot write.
var ErrReadOnly = errors.New("score store is read-only")

// ScoreCache is a read-through cache in front of a scope.ScoreStore.
type ScoreCache struct {
	store scope.ScoreStore
	cache *gocache.Cache
}

// NewScoreCache wraps store. ttl <= 0 means entries never expire.
func NewScoreCache(store scope.ScoreStore, ttl, cleanupInterval time.Duration) *ScoreCache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &ScoreCache{
		store: store,
		cache: gocache.New(ttl, cleanupInterval),
	}
}

func (c *ScoreCache) ScoresForSubject(ctx context.Context, subjectID string) ([]models.ScoreRecord, error) {
	return c.load("subject:"+subjectID, func() ([]models.ScoreRecord, error) {
		return c.store.ScoresForSubject(ctx, subjectID)
	})
}

func (c *ScoreCache) ScoresForGroup(ctx context.Context, groupKey string) ([]models.ScoreRecord, error) {
	return c.load("group:"+groupKey, func() ([]models.ScoreRecord, error) {
		return c.store.ScoresForGroup(ctx, groupKey)
	})
}

func (c *ScoreCache) AllScores(ctx context.Context) ([]models.ScoreRecord, error) {
	return c.load("all", func() ([]models.ScoreRecord, error) {
		return c.store.AllScores(ctx)
	})
}

// SaveScores writes through to the wrapped store and flushes the cache.
func (c *ScoreCache) SaveScores(ctx context.Context, records []models.ScoreRecord) error {
	w, ok := c.store.(ScoreWriter)
	if !ok {
		return ErrReadOnly
	}
	if err := w.SaveScores(ctx, records); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// Invalidate drops every cached entry.
func (c *ScoreCache) Invalidate() {
	c.cache.Flush()
}

// Len returns the number of live entries.
func (c *ScoreCache) Len() int {
	return c.cache.ItemCount()
}

// load returns a copy so callers may sort the slice freely.
func (c *ScoreCache) load(key string, fetch func() ([]models.ScoreRecord, error)) ([]models.ScoreRecord, error) {
	if v, found := c.cache.Get(key); found {
		metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
		return clone(v.([]models.ScoreRecord)), nil
	}
	metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()

	records, err := fetch()
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, clone(records))
	return records, nil
}

func clone(records []models.ScoreRecord) []models.ScoreRecord {
	out := make([]models.ScoreRecord, len(records))
	copy(out, records)
	return out
}
