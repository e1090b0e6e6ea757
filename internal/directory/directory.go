// Package directory caches the account's contact list, keyed by member id.
package directory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/matheus3301/lined/internal/bus"
	"github.com/matheus3301/lined/internal/talk"
	"go.uber.org/zap"
)

// ErrNotFound is returned for member ids absent from the current snapshot.
var ErrNotFound = errors.New("contact not found")

// Contact is an immutable snapshot of one directory entry.
type Contact struct {
	ID            string
	DisplayName   string
	StatusMessage string
	IsSelf        bool
}

// Source provides the remote calls a refresh is built from.
type Source interface {
	ContactIDs(ctx context.Context) ([]string, error)
	Contacts(ctx context.Context, ids []string) ([]talk.Contact, error)
	Profile(ctx context.Context) (talk.Contact, error)
}

// snapshot is never mutated after it is installed.
type snapshot struct {
	byID   map[string]Contact
	order  []string
	selfID string
}

// Cache maps member ids to contacts. Refresh replaces the whole map; readers
// see either the old or the new snapshot.
type Cache struct {
	src    Source
	bus    *bus.Bus
	logger *zap.Logger

	mu   sync.RWMutex
	snap *snapshot
}

// New returns an empty cache. Lookups fail until the first Refresh.
func New(src Source, b *bus.Bus, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		src:    src,
		bus:    b,
		logger: logger,
		snap:   &snapshot{byID: map[string]Contact{}},
	}
}

// Refresh fetches all contact ids, the contacts themselves and the own
// profile, then swaps the result in. No merge with the previous snapshot
// takes place.
func (c *Cache) Refresh(ctx context.Context) error {
	ids, err := c.src.ContactIDs(ctx)
	if err != nil {
		return fmt.Errorf("fetch contact ids: %w", err)
	}
	var contacts []talk.Contact
	if len(ids) > 0 {
		contacts, err = c.src.Contacts(ctx, ids)
		if err != nil {
			return fmt.Errorf("fetch contacts: %w", err)
		}
	}
	profile, err := c.src.Profile(ctx)
	if err != nil {
		return fmt.Errorf("fetch profile: %w", err)
	}

	next := &snapshot{
		byID:   make(map[string]Contact, len(contacts)+1),
		selfID: profile.MID,
	}
	add := func(tc talk.Contact, self bool) {
		if _, ok := next.byID[tc.MID]; !ok {
			next.order = append(next.order, tc.MID)
		}
		next.byID[tc.MID] = Contact{
			ID:            tc.MID,
			DisplayName:   tc.DisplayName,
			StatusMessage: tc.StatusMessage,
			IsSelf:        self,
		}
	}
	for _, tc := range contacts {
		add(tc, false)
	}
	add(profile, true)

	c.mu.Lock()
	c.snap = next
	c.mu.Unlock()

	c.logger.Info("directory refreshed", zap.Int("contacts", len(next.byID)))
	c.bus.Publish(bus.Event{Kind: bus.KindDirectoryRefresh, Payload: next.list()})
	return nil
}

func (c *Cache) current() *snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Lookup returns the contact for id.
func (c *Cache) Lookup(id string) (Contact, error) {
	ct, ok := c.current().byID[id]
	if !ok {
		return Contact{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ct, nil
}

// Self returns the account's own profile.
func (c *Cache) Self() (Contact, error) {
	s := c.current()
	if s.selfID == "" {
		return Contact{}, fmt.Errorf("%w: own profile not loaded", ErrNotFound)
	}
	return s.byID[s.selfID], nil
}

// Search returns contacts whose display name contains substr, ignoring case.
// An empty substr matches every contact.
func (c *Cache) Search(substr string) []Contact {
	needle := strings.ToLower(substr)
	var out []Contact
	for _, ct := range c.current().list() {
		if strings.Contains(strings.ToLower(ct.DisplayName), needle) {
			out = append(out, ct)
		}
	}
	return out
}

// All returns every contact, sorted by display name.
func (c *Cache) All() []Contact {
	out := c.current().list()
	slices.SortStableFunc(out, func(a, b Contact) int {
		return cmp.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName))
	})
	return out
}

// Len reports the number of cached contacts, self included.
func (c *Cache) Len() int {
	return len(c.current().byID)
}

// list copies the snapshot in insertion order.
func (s *snapshot) list() []Contact {
	out := make([]Contact, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}
