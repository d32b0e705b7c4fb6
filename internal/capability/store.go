package capability

import (
	"fmt"
	"sync"
	"time"

	"rcsd/internal/contact"
)

// Persistence is the durable capability store behind the in-process
// cache. LoadCapabilities returns nil (without error) only for a contact
// that has never been queried.
type Persistence interface {
	LoadCapabilities(id contact.ID) (*Record, error)
	SaveCapabilities(id contact.ID, rec Record) error
	TouchLastRequest(id contact.ID, ts int64) error
	TouchLastRefresh(id contact.ID, ts int64) error
}

// Update carries a capability observation from the signaling layer, as
// published on the bus under "capability.updated".
type Update struct {
	Contact    contact.ID
	Record     Record
	Registered bool
}

// Store caches capability records per contact in front of a Persistence
// collaborator. All returned records are value snapshots; only the store
// mutates the cached copy.
type Store struct {
	persistence            Persistence
	imStoreForwardAlwaysOn bool
	ftStoreForwardAlwaysOn bool
	now                    func() int64

	mu    sync.Mutex
	cache map[contact.ID]Record
}

// NewStore creates a capability store. The always-on flags mirror the
// local store-and-forward configuration and control which flags survive
// masking for offline contacts.
func NewStore(p Persistence, imStoreForwardAlwaysOn, ftStoreForwardAlwaysOn bool) *Store {
	return &Store{
		persistence:            p,
		imStoreForwardAlwaysOn: imStoreForwardAlwaysOn,
		ftStoreForwardAlwaysOn: ftStoreForwardAlwaysOn,
		now:                    func() int64 { return time.Now().UnixMilli() },
		cache:                  make(map[contact.ID]Record),
	}
}

// ContactCapabilities returns the capability record for a contact.
// Cache-first; a miss reads through the persistence collaborator and
// populates the cache. ok is false for a contact that has never been
// queried. A persistence failure evicts any cached entry for the
// contact and is returned to the caller.
func (s *Store) ContactCapabilities(id contact.ID) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(id)
}

// lookup must be called with s.mu held.
func (s *Store) lookup(id contact.ID) (Record, bool, error) {
	if rec, ok := s.cache[id]; ok {
		return rec.clone(), true, nil
	}
	rec, err := s.persistence.LoadCapabilities(id)
	if err != nil {
		delete(s.cache, id)
		return Record{}, false, fmt.Errorf("load capabilities for %s: %w", id, err)
	}
	if rec == nil {
		return Record{}, false, nil
	}
	s.cache[id] = rec.clone()
	return rec.clone(), true, nil
}

// RecordRequest stamps the time of the last capability request for the
// contact and writes it through. No-op for a contact that has never
// been queried.
func (s *Store) RecordRequest(id contact.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok, err := s.lookup(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	ts := s.now()
	rec.TimestampOfLastRequest = ts
	s.cache[id] = rec
	if err := s.persistence.TouchLastRequest(id, ts); err != nil {
		return fmt.Errorf("persist request timestamp for %s: %w", id, err)
	}
	return nil
}

// RecordRefresh stamps the time of the last completed refresh for the
// contact and writes it through. No-op for a contact that has never
// been queried.
func (s *Store) RecordRefresh(id contact.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok, err := s.lookup(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	ts := s.now()
	rec.TimestampOfLastRefresh = ts
	s.cache[id] = rec
	if err := s.persistence.TouchLastRefresh(id, ts); err != nil {
		return fmt.Errorf("persist refresh timestamp for %s: %w", id, err)
	}
	return nil
}

// ApplyUpdate masks an observed capability set against the contact's
// registration state, stamps the refresh time, persists the result and
// refreshes the cache. The previous request timestamp is preserved.
func (s *Store) ApplyUpdate(u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := u.Record.Masked(u.Registered, s.imStoreForwardAlwaysOn, s.ftStoreForwardAlwaysOn)
	rec.TimestampOfLastRefresh = s.now()
	if prev, ok, err := s.lookup(u.Contact); err == nil && ok {
		rec.TimestampOfLastRequest = prev.TimestampOfLastRequest
	}
	if err := s.persistence.SaveCapabilities(u.Contact, rec); err != nil {
		delete(s.cache, u.Contact)
		return fmt.Errorf("persist capabilities for %s: %w", u.Contact, err)
	}
	s.cache[u.Contact] = rec.clone()
	return nil
}
