package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"akiba/internal/core"
	"akiba/internal/store"
)

// Store is an in-process repository. A single mutex serializes writes, which
// gives the same compare-and-set guarantees as the SQL backends.
type Store struct {
	mu       sync.Mutex
	topups   map[string]core.TopUpRequest // by reference
	external map[string]string            // external_id -> reference
	savings  []core.LedgerEntry
	dedup    map[string]int // dedup key -> index in savings
	now      func() time.Time
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		topups:   map[string]core.TopUpRequest{},
		external: map[string]string{},
		dedup:    map[string]int{},
		now:      time.Now,
	}
}

func (s *Store) CreateTopUp(_ context.Context, t core.TopUpRequest) (core.TopUpRequest, error) {
	if err := t.Validate(); err != nil {
		return core.TopUpRequest{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.external[t.ExternalID]; ok {
		return core.TopUpRequest{}, core.ErrDuplicateRequest
	}
	if _, ok := s.topups[t.ReferenceID]; ok {
		return core.TopUpRequest{}, core.ErrDuplicateRequest
	}
	t = store.StampTopUp(t, s.now())
	s.topups[t.ReferenceID] = t
	s.external[t.ExternalID] = t.ReferenceID
	return t, nil
}

func (s *Store) GetTopUp(_ context.Context, reference string) (core.TopUpRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topups[reference]
	if !ok {
		return core.TopUpRequest{}, core.ErrNotFound
	}
	return t, nil
}

func (s *Store) TransitionTopUp(_ context.Context, p store.TransitionParams) (core.TopUpRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topups[p.Reference]
	if !ok {
		return core.TopUpRequest{}, false, core.ErrNotFound
	}
	if t.Status != core.StatusPending {
		return t, false, nil
	}

	at := p.At
	if at.IsZero() {
		at = s.now()
	}
	t.Status = p.To
	t.TransactionID = p.TransactionID
	t.Reason = p.Reason
	t.UpdatedAt = at.UTC()
	s.topups[p.Reference] = t

	if p.Saving != nil {
		s.insertLocked(store.StampSaving(*p.Saving, at))
	}
	return t, true, nil
}

func (s *Store) ListPendingTopUps(_ context.Context, olderThan time.Time, limit int) ([]core.TopUpRequest, error) {
	s.mu.Lock()
	var out []core.TopUpRequest
	for _, t := range s.topups {
		if t.Status == core.StatusPending && t.CreatedAt.Before(olderThan) {
			out = append(out, t)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) InsertSaving(_ context.Context, e core.LedgerEntry) (core.LedgerEntry, bool, error) {
	if err := e.Validate(); err != nil {
		return core.LedgerEntry{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.DedupKey != "" {
		if i, ok := s.dedup[e.DedupKey]; ok {
			return s.savings[i], false, nil
		}
	}
	e = store.StampSaving(e, s.now())
	s.insertLocked(e)
	return e, true, nil
}

// insertLocked appends e unless its dedup key is taken. Callers hold mu.
func (s *Store) insertLocked(e core.LedgerEntry) {
	if e.DedupKey != "" {
		if _, ok := s.dedup[e.DedupKey]; ok {
			return
		}
		s.dedup[e.DedupKey] = len(s.savings)
	}
	s.savings = append(s.savings, e)
}

func (s *Store) ListSavings(_ context.Context, userID string, f core.SavingsFilter) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	var out []core.LedgerEntry
	for i := len(s.savings) - 1; i >= 0; i-- {
		e := s.savings[i]
		if e.UserID == userID && f.Matches(e) {
			out = append(out, e)
		}
	}
	s.mu.Unlock()

	// Insertion order breaks ties between equal timestamps.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
