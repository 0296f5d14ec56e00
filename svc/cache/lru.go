package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"clipd/pkg/domain"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is the in-process read cache. Entries carry their own expiry so an
// expired clip can never be served from cache after its window closes.
type LRU struct {
	c  *lru.Cache[string, item]
	mu sync.Mutex
}
type item struct {
	clip *domain.Clip
	exp  time.Time
	// never is set for clips without an expiry; exp is ignored then
	never bool
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, item](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c}, nil
}

func (l *LRU) Get(ctx context.Context, id string) *domain.Clip {
	select {
	case <-ctx.Done():
		return nil
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.c.Get(id)
	if !ok {
		return nil
	}
	if !it.never && time.Now().After(it.exp) {
		l.c.Remove(id)
		return nil
	}
	return it.clip
}

func (l *LRU) Set(ctx context.Context, c *domain.Clip) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it := item{clip: c, never: c.ExpiresAt == nil}
	if c.ExpiresAt != nil {
		it.exp = *c.ExpiresAt
	}
	l.c.Add(c.ID, it)
}

func (l *LRU) Delete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Remove(id)
}
