package svc

import (
	"context"
	"pastebox/metrics"
	"pastebox/pkg/clock"
	"pastebox/pkg/domain"
	"pastebox/svc/cache"
	"pastebox/svc/util"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultIDLength    = 10
	DefaultIDAttempts  = 5
	tombstoneFindLabel = "tombstone"
)

// Store is the persistence contract the engine relies on. IncrementView must
// be a single atomic step that refuses to move past limit or past a recorded
// death. MarkDead keeps the first reason it is given and returns the stored one.
type Store interface {
	Insert(ctx context.Context, p *domain.Paste) error
	FindByID(ctx context.Context, id string) (*domain.Paste, error)
	IncrementView(ctx context.Context, id string, limit *int) (int, error)
	MarkDead(ctx context.Context, id, reason string) (string, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Purger interface {
	PurgeDead(ctx context.Context, now time.Time) (int64, error)
}

type Options struct {
	Clock         clock.Clock
	Cache         *cache.LRU
	Tombstones    *cache.Tombstones
	IDLength      int
	IDMaxAttempts int
}

// Paste is the lifecycle engine: it creates pastes and serves consuming reads.
type Paste struct {
	store       Store
	clock       clock.Clock
	lru         *cache.LRU
	graves      *cache.Tombstones
	idLength    int
	maxAttempts int
	validate    *validator.Validate
	lookups     singleflight.Group
}

func NewPaste(store Store, opts Options) *Paste {
	if store == nil {
		panic("paste service: nil store")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.IDLength <= 0 {
		opts.IDLength = DefaultIDLength
	}
	if opts.IDMaxAttempts <= 0 {
		opts.IDMaxAttempts = DefaultIDAttempts
	}
	return &Paste{
		store:       store,
		clock:       opts.Clock,
		lru:         opts.Cache,
		graves:      opts.Tombstones,
		idLength:    opts.IDLength,
		maxAttempts: opts.IDMaxAttempts,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Create validates params and persists a new paste stamped with real time.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if err := p.check(params); err != nil {
		return nil, err
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	paste := &domain.Paste{
		Content:   params.Content,
		CreatedAt: now,
	}
	if params.TTLSeconds != nil {
		exp := now.Add(time.Duration(*params.TTLSeconds) * time.Second)
		paste.ExpiresAt = &exp
	}
	if params.MaxViews != nil {
		n := *params.MaxViews
		paste.MaxViews = &n
	}
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		id, err := util.GenID(p.idLength)
		if err != nil {
			return nil, err
		}
		paste.ID = id
		err = p.store.Insert(ctx, paste)
		if err == nil {
			p.lru.Set(paste)
			metrics.PasteCreated.Inc()
			util.Debug().
				Str("id", id).
				Str("request_id", util.GetRequestID(ctx)).
				Bool("ttl", paste.ExpiresAt != nil).
				Bool("max_views", paste.MaxViews != nil).
				Msg("paste created")
			return paste.Clone(), nil
		}
		if !errors.Is(err, domain.ErrDuplicateID) {
			return nil, errors.Wrap(err, "insert paste")
		}
		metrics.IDCollisions.Inc()
		util.Warn().Int("attempt", attempt).Msg("generated id already taken")
	}
	return nil, domain.ErrIDGenerationFailed
}

func (p *Paste) check(params domain.CreateParams) error {
	if !utf8.ValidString(params.Content) {
		return domain.Validation("content must be valid UTF-8 text")
	}
	if strings.TrimSpace(params.Content) == "" {
		return domain.Validation("content is required")
	}
	err := p.validate.Struct(params)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return errors.Wrap(err, "validate params")
	}
	switch f := fields[0]; f.StructField() {
	case "Content":
		return domain.Validation("content is required")
	case "TTLSeconds":
		return domain.Validation("ttl_seconds must be >= 1")
	case "MaxViews":
		return domain.Validation("max_views must be >= 1")
	default:
		return domain.Validation(strings.ToLower(f.Field()) + " is invalid")
	}
}

// Get is a consuming read. nowOverride, when set, replaces the clock for the
// expiry comparison of this call only. A paste seen dead once stays dead
// with the same error.
func (p *Paste) Get(ctx context.Context, id string, nowOverride *time.Time) (*domain.Paste, error) {
	if err := p.graves.Lookup(id); err != nil {
		metrics.CacheHits.WithLabelValues(tombstoneFindLabel).Inc()
		return nil, p.gone(ctx, id, err)
	}
	rec, err := p.lookup(ctx, id)
	if err != nil {
		if domain.Gone(err) {
			return nil, p.gone(ctx, id, err)
		}
		return nil, errors.Wrap(err, "find paste")
	}
	now := clock.Or(p.clock, nowOverride).Now()
	if err := rec.Check(now); err != nil {
		return nil, p.bury(ctx, id, err)
	}
	count, err := p.store.IncrementView(ctx, id, rec.MaxViews)
	if err != nil {
		if domain.Gone(err) {
			return nil, p.bury(ctx, id, err)
		}
		return nil, errors.Wrap(err, "increment views")
	}
	rec.ViewCount = count
	p.lru.Observe(id, count)
	metrics.PasteRetrieved.Inc()
	return rec, nil
}

// lookup collapses concurrent misses for the same id into one store read.
func (p *Paste) lookup(ctx context.Context, id string) (*domain.Paste, error) {
	if rec := p.lru.Get(ctx, id); rec != nil {
		metrics.CacheHits.WithLabelValues("record").Inc()
		return rec, nil
	}
	if p.lru != nil {
		metrics.CacheMisses.WithLabelValues("record").Inc()
	}
	v, err, _ := p.lookups.Do(id, func() (any, error) {
		rec, err := p.store.FindByID(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, err
		}
		p.lru.Set(rec)
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Paste).Clone(), nil
}

// bury persists a terminal outcome and returns the one on record, which may
// be an earlier one observed by another read or another process. Tombstones
// only front the store.
func (p *Paste) bury(ctx context.Context, id string, err error) error {
	p.lru.Delete(id)
	reason, merr := p.store.MarkDead(context.WithoutCancel(ctx), id, domain.Reason(err))
	switch {
	case merr == nil:
		err = domain.FromReason(reason)
	case errors.Is(merr, domain.ErrPasteNotFound):
	default:
		util.Warn().Err(merr).Str("id", id).Msg("could not record dead paste")
	}
	return p.gone(ctx, id, p.graves.Bury(id, err))
}

func (p *Paste) gone(ctx context.Context, id string, err error) error {
	reason := domain.Reason(err)
	metrics.PasteGone.WithLabelValues(reason).Inc()
	util.Debug().
		Str("id", id).
		Str("reason", reason).
		Str("request_id", util.GetRequestID(ctx)).
		Msg("paste unavailable")
	return err
}

// Ping reports store health for stores that support it.
func (p *Paste) Ping(ctx context.Context) error {
	if pinger, ok := p.store.(Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}
