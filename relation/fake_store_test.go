package relation

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/kasuganosora/relationd/effects"
	"github.com/kasuganosora/relationd/model"
)

type pairKey struct{ initiator, recipient string }

// memStore is an in-memory Store enforcing uniqueness on the unordered pair.
// put bypasses the check to seed rows written before that rule existed.
type memStore struct {
	mu            sync.Mutex
	nextID        int64
	rows          map[pairKey]*model.Relationship
	counters      map[string]int64
	notifications []model.Notification

	findErr      error
	insertErr    error
	deleteErr    error
	counterErr   error
	blockFind    bool
	staleUpdate  bool
	beforeInsert func(s *memStore)
}

func newMemStore() *memStore {
	return &memStore{
		rows:     make(map[pairKey]*model.Relationship),
		counters: make(map[string]int64),
	}
}

// put writes a row directly, bypassing uniqueness checks on the reverse order.
func (s *memStore) put(initiator, recipient string, status model.RelationStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(initiator, recipient, status)
}

func (s *memStore) putLocked(initiator, recipient string, status model.RelationStatus) {
	s.nextID++
	s.rows[pairKey{initiator, recipient}] = &model.Relationship{
		ID: s.nextID, InitiatorID: initiator, RecipientID: recipient, Status: status,
	}
}

func (s *memStore) pair(a, b string) []model.Relationship {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Relationship
	for _, k := range []pairKey{{a, b}, {b, a}} {
		if r, ok := s.rows[k]; ok {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) FindPair(ctx context.Context, a, b string) ([]model.Relationship, error) {
	if s.blockFind {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.pair(a, b), nil
}

func (s *memStore) Insert(ctx context.Context, r *model.Relationship) error {
	if s.beforeInsert != nil {
		hook := s.beforeInsert
		s.beforeInsert = nil
		hook(s)
	}
	if s.insertErr != nil {
		return s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range []pairKey{{r.InitiatorID, r.RecipientID}, {r.RecipientID, r.InitiatorID}} {
		if _, ok := s.rows[k]; ok {
			return ErrDuplicateKey
		}
	}
	s.putLocked(r.InitiatorID, r.RecipientID, r.Status)
	r.ID = s.nextID
	return nil
}

func (s *memStore) Delete(ctx context.Context, initiatorID, recipientID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, pairKey{initiatorID, recipientID})
	return nil
}

func (s *memStore) UpdateStatus(ctx context.Context, initiatorID, recipientID string, from, to model.RelationStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleUpdate {
		return false, nil
	}
	r, ok := s.rows[pairKey{initiatorID, recipientID}]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (s *memStore) IncrementCounter(ctx context.Context, userID, field string) error {
	if s.counterErr != nil {
		return s.counterErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[userID+"."+field]++
	return nil
}

func (s *memStore) InsertNotification(ctx context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *memStore) ListFor(ctx context.Context, userID string, status model.RelationStatus, incomingOnly bool) ([]model.Relationship, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Relationship
	for _, r := range s.rows {
		if r.Status != status {
			continue
		}
		if r.RecipientID == userID || (!incomingOnly && r.InitiatorID == userID) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memStore) friends(userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[userID+"."+model.CounterFriends]
}

func (s *memStore) notes() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Notification(nil), s.notifications...)
}

// syncEmitter runs side effects inline so tests can observe them.
type syncEmitter struct {
	names []string
	drop  bool
	errs  []error
}

func (e *syncEmitter) Dispatch(name string, fn effects.Task) bool {
	if e.drop {
		return false
	}
	e.names = append(e.names, name)
	if err := fn(context.Background()); err != nil {
		e.errs = append(e.errs, err)
	}
	return true
}

var errStoreDown = errors.New("connection refused")
