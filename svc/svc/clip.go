package svc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"clipd/cfg"
	"clipd/metrics"
	"clipd/pkg/domain"
	"clipd/svc/cache"
	"clipd/svc/db"
	"clipd/svc/util"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const createRetries = 3

// Clip implements the clip lifecycle: quota-checked creation, layered
// reads (LRU, Redis, SQLite) and per-user listing. Expired clips stay
// invisible on every read path but are only physically removed by the
// reaper.
type Clip struct {
	db       *db.SQLite
	lru      *cache.LRU
	rdb      *db.Redis
	cfg      *cfg.Cfg
	sf       singleflight.Group
	now      func() time.Time
	shutdown atomic.Bool
	opWg     sync.WaitGroup
}

func NewClip(sqlDB *db.SQLite, lru *cache.LRU, rdb *db.Redis, c *cfg.Cfg) *Clip {
	if sqlDB == nil || lru == nil || c == nil {
		panic("clip service: nil dependency (sqlDB, lru, or cfg)")
	}
	return &Clip{
		db:  sqlDB,
		lru: lru,
		rdb: rdb,
		cfg: c,
		now: time.Now,
	}
}

// SetClock overrides the time source. Test hook only.
func (s *Clip) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Clip) Shutdown() {
	s.shutdown.Store(true)
	done := make(chan struct{})
	go func() {
		s.opWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		util.Warn().Msg("clip operations didn't drain in time")
	}
	util.Debug().Msg("clip service shutdown complete")
}

func (s *Clip) Create(ctx context.Context, params domain.CreateParams) (*domain.Clip, error) {
	if s.shutdown.Load() {
		return nil, errors.New("service shutting down")
	}
	s.opWg.Add(1)
	defer s.opWg.Done()

	if params.Content == "" {
		return nil, domain.ErrContentRequired
	}
	if int64(len(params.Content)) > s.cfg.MaxClipSize {
		return nil, domain.ErrContentTooLarge
	}
	if params.Hours <= 0 || params.Hours > s.cfg.MaxTTLHours {
		return nil, domain.ErrInvalidExpiration
	}

	recent, err := s.db.CountRecentByIP(ctx, params.ClientIP, s.cfg.RateLimit.Window)
	if err != nil {
		return nil, errors.Wrap(err, "count recent clips")
	}
	if recent >= s.cfg.RateLimit.ClipsPerWindow {
		metrics.RateLimitHits.WithLabelValues("quota").Inc()
		util.Warn().
			Str("ip", util.RedactIP(params.ClientIP)).
			Int("recent", recent).
			Msg("creation quota exceeded")
		return nil, domain.ErrRateLimited
	}

	now := s.now().UTC()
	expiresAt := now.Add(time.Duration(params.Hours * float64(time.Hour)))

	// Retry covers both the exists-check race in GenID and a concurrent
	// insert landing on the same id between check and write.
	var clip *domain.Clip
	for attempt := 0; attempt < createRetries; attempt++ {
		id, err := util.GenID(func(id string) (bool, error) {
			return s.db.ClipExists(ctx, id)
		})
		if err != nil {
			return nil, errors.Wrap(domain.ErrIDGenerationFailed, err.Error())
		}
		clip = &domain.Clip{
			ID:          id,
			Content:     params.Content,
			CreatedAt:   now,
			ExpiresAt:   &expiresAt,
			CreatedByIP: params.ClientIP,
			UserID:      params.UserID,
		}
		err = s.db.CreateClip(ctx, clip)
		if err == nil {
			break
		}
		if db.IsDuplicateID(err) {
			util.Debug().Str("id", id).Int("attempt", attempt+1).Msg("clip id collision on insert, retrying")
			clip = nil
			continue
		}
		return nil, errors.Wrap(err, "create clip")
	}
	if clip == nil {
		return nil, domain.ErrIDGenerationFailed
	}

	s.lru.Set(ctx, clip)
	if s.rdb != nil {
		if err := s.rdb.CacheClip(ctx, clip, time.Until(expiresAt)); err != nil {
			util.Warn().Err(err).Str("id", clip.ID).Msg("failed to cache clip in redis")
		}
	}
	metrics.ClipCreated.Inc()
	return clip, nil
}

func (s *Clip) Get(ctx context.Context, id string) (*domain.Clip, error) {
	if id == "" {
		return nil, domain.ErrInvalidRequest
	}
	now := s.now().UTC()

	if clip := s.lru.Get(ctx, id); clip != nil {
		if !clip.Visible(now) {
			s.evict(ctx, id)
			return nil, domain.ErrClipNotFound
		}
		metrics.CacheHits.Inc()
		metrics.ClipRetrieved.Inc()
		return clip, nil
	}
	metrics.CacheMisses.Inc()

	if s.rdb != nil {
		if clip, err := s.rdb.GetClip(ctx, id); err == nil && clip != nil {
			if !clip.Visible(now) {
				s.evict(ctx, id)
				return nil, domain.ErrClipNotFound
			}
			metrics.CacheHits.Inc()
			s.lru.Set(ctx, clip)
			metrics.ClipRetrieved.Inc()
			return clip, nil
		}
	}

	// Collapse concurrent misses for the same id into one store read.
	v, err, _ := s.sf.Do(id, func() (interface{}, error) {
		return s.db.GetClip(ctx, id)
	})
	if err != nil {
		if errors.Is(err, domain.ErrClipNotFound) {
			return nil, domain.ErrClipNotFound
		}
		return nil, errors.Wrap(err, "get clip")
	}
	clip := v.(*domain.Clip)

	s.lru.Set(ctx, clip)
	if s.rdb != nil {
		ttl := time.Duration(0)
		if clip.ExpiresAt != nil {
			ttl = clip.ExpiresAt.Sub(now)
		}
		if err := s.rdb.CacheClip(ctx, clip, ttl); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to cache clip in redis")
		}
	}
	metrics.ClipRetrieved.Inc()
	return clip, nil
}

func (s *Clip) ListByUser(ctx context.Context, userID string) ([]domain.Clip, error) {
	if userID == "" {
		return nil, domain.ErrInvalidRequest
	}
	clips, err := s.db.ListClipsByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list clips by user")
	}
	return clips, nil
}

func (s *Clip) evict(ctx context.Context, id string) {
	s.lru.Delete(id)
	if s.rdb != nil {
		if err := s.rdb.DeleteClip(ctx, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to evict clip from redis")
		}
	}
}
