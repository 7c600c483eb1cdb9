package cache

import (
	"context"
	"pastebox/pkg/domain"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUSetGetClones(t *testing.T) {
	l, err := NewLRU(10)
	require.NoError(t, err)

	p := &domain.Paste{ID: "abc", Content: "hi"}
	l.Set(p)
	p.Content = "mutated"

	got := l.Get(context.Background(), "abc")
	require.NotNil(t, got)
	assert.Equal(t, "hi", got.Content)

	got.ViewCount = 99
	again := l.Get(context.Background(), "abc")
	assert.Equal(t, 0, again.ViewCount)
}

func TestLRUExpiresWithPaste(t *testing.T) {
	l, err := NewLRU(10)
	require.NoError(t, err)
	base := time.Now()
	l.now = func() time.Time { return base }

	exp := base.Add(time.Second)
	l.Set(&domain.Paste{ID: "a", ExpiresAt: &exp})
	l.Set(&domain.Paste{ID: "b"})

	l.now = func() time.Time { return base.Add(2 * time.Second) }
	assert.Nil(t, l.Get(context.Background(), "a"))
	assert.NotNil(t, l.Get(context.Background(), "b"))

	l.now = func() time.Time { return base.Add(DefaultTTL + time.Second) }
	assert.Nil(t, l.Get(context.Background(), "b"))
}

func TestLRUObserveOnlyRaises(t *testing.T) {
	l, err := NewLRU(10)
	require.NoError(t, err)
	l.Set(&domain.Paste{ID: "a", ViewCount: 2})

	l.Observe("a", 1)
	assert.Equal(t, 2, l.Get(context.Background(), "a").ViewCount)
	l.Observe("a", 3)
	assert.Equal(t, 3, l.Get(context.Background(), "a").ViewCount)
	l.Observe("missing", 1)
	assert.Nil(t, l.Get(context.Background(), "missing"))
}

func TestLRUCancelledContext(t *testing.T) {
	l, err := NewLRU(10)
	require.NoError(t, err)
	l.Set(&domain.Paste{ID: "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, l.Get(ctx, "a"))
}

func TestNilCachesAreNoops(t *testing.T) {
	l, err := NewLRU(0)
	require.NoError(t, err)
	assert.Nil(t, l)
	l.Set(&domain.Paste{ID: "a"})
	l.Observe("a", 1)
	l.Delete("a")
	assert.Nil(t, l.Get(context.Background(), "a"))
	assert.Zero(t, l.Len())

	ts, err := NewTombstones(0)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrViewLimit, ts.Bury("a", domain.ErrViewLimit))
	assert.NoError(t, ts.Lookup("a"))

	_, err = NewLRU(-1)
	assert.Error(t, err)
}

func TestTombstonesKeepFirstError(t *testing.T) {
	ts, err := NewTombstones(10)
	require.NoError(t, err)

	assert.NoError(t, ts.Lookup("x"))
	assert.Equal(t, domain.ErrViewLimit, ts.Bury("x", domain.ErrViewLimit))
	assert.Equal(t, domain.ErrViewLimit, ts.Bury("x", domain.ErrPasteExpired))
	assert.Equal(t, domain.ErrViewLimit, ts.Lookup("x"))
}
