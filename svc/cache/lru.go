package cache

import (
	"context"
	"errors"
	"pastebox/pkg/domain"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultTTL bounds how long a paste without an expiry stays cached.
const DefaultTTL = 10 * time.Minute

// LRU caches paste records by id. Only the immutable fields are trusted by
// readers; ViewCount may lag behind the store.
type LRU struct {
	c   *lru.Cache[string, item]
	mu  sync.Mutex
	now func() time.Time
}
type item struct {
	paste *domain.Paste
	exp   time.Time
}

// NewLRU returns a nil cache for size 0; all methods accept a nil receiver.
func NewLRU(size int) (*LRU, error) {
	if size == 0 {
		return nil, nil
	}
	if size < 0 {
		return nil, errors.New("cache size must not be negative")
	}
	if size > 1000000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, item](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c, now: time.Now}, nil
}
func (l *LRU) Get(ctx context.Context, id string) *domain.Paste {
	if l == nil {
		return nil
	}
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
	if l.now().After(it.exp) {
		l.c.Remove(id)
		return nil
	}
	return it.paste.Clone()
}
func (l *LRU) Set(p *domain.Paste) {
	if l == nil {
		return
	}
	exp := l.now().Add(DefaultTTL)
	if p.ExpiresAt != nil && p.ExpiresAt.Before(exp) {
		exp = *p.ExpiresAt
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Add(p.ID, item{paste: p.Clone(), exp: exp})
}

// Observe raises the cached view count; it never lowers it.
func (l *LRU) Observe(id string, viewCount int) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.c.Peek(id)
	if !ok || it.paste.ViewCount >= viewCount {
		return
	}
	p := it.paste.Clone()
	p.ViewCount = viewCount
	l.c.Add(id, item{paste: p, exp: it.exp})
}
func (l *LRU) Delete(id string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Remove(id)
}
func (l *LRU) Len() int {
	if l == nil {
		return 0
	}
	return l.c.Len()
}
