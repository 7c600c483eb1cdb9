package domain

import (
	"time"
)

type Paste struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at"`
	MaxViews  *int       `json:"max_views"`
	ViewCount int        `json:"view_count"`
	// DeadReason is set by the store once a read has seen the paste dead.
	DeadReason string `json:"-"`
}

type CreateParams struct {
	Content    string `validate:"required"`
	TTLSeconds *int   `validate:"omitnil,min=1"`
	MaxViews   *int   `validate:"omitnil,min=1"`
}

// Expired is strict: a paste is still readable at exactly ExpiresAt.
func (p *Paste) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

func (p *Paste) Exhausted() bool {
	return p.MaxViews != nil && p.ViewCount >= *p.MaxViews
}

// Check returns the terminal error for p at now, or nil while it is alive.
// A recorded death wins over the clock; otherwise time is checked before views.
func (p *Paste) Check(now time.Time) error {
	if p.DeadReason != "" {
		return FromReason(p.DeadReason)
	}
	if p.Expired(now) {
		return ErrPasteExpired
	}
	if p.Exhausted() {
		return ErrViewLimit
	}
	return nil
}

// RemainingViews is nil for pastes without a view limit.
func (p *Paste) RemainingViews() *int {
	if p.MaxViews == nil {
		return nil
	}
	n := *p.MaxViews - p.ViewCount
	if n < 0 {
		n = 0
	}
	return &n
}

func (p *Paste) Clone() *Paste {
	c := *p
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		c.ExpiresAt = &t
	}
	if p.MaxViews != nil {
		n := *p.MaxViews
		c.MaxViews = &n
	}
	return &c
}
