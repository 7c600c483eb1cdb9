package cache

import (
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Tombstones remembers the terminal error on record for an id so repeat reads
// of a dead paste skip the store.
type Tombstones struct {
	c *lru.Cache[string, error]
}

func NewTombstones(size int) (*Tombstones, error) {
	if size == 0 {
		return nil, nil
	}
	if size < 0 {
		return nil, errors.New("tombstone size must not be negative")
	}
	c, err := lru.New[string, error](size)
	if err != nil {
		return nil, err
	}
	return &Tombstones{c: c}, nil
}

// Bury records err for id unless a tombstone already exists, and returns the
// error that is now on record.
func (t *Tombstones) Bury(id string, err error) error {
	if t == nil {
		return err
	}
	prev, found, _ := t.c.PeekOrAdd(id, err)
	if found {
		return prev
	}
	return err
}
func (t *Tombstones) Lookup(id string) error {
	if t == nil {
		return nil
	}
	err, ok := t.c.Get(id)
	if !ok {
		return nil
	}
	return err
}
