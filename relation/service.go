// Package relation implements the relationship state machine between two
// users: request, accept, reject and block.
package relation

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/relationd/effects"
	"github.com/kasuganosora/relationd/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Action is a requested relationship transition.
type Action string

const (
	ActionRequest Action = "request"
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionBlock   Action = "block"
)

// Valid reports whether a is one of the four recognised actions.
func (a Action) Valid() bool {
	switch a {
	case ActionRequest, ActionAccept, ActionReject, ActionBlock:
		return true
	}
	return false
}

// PairStatus is the state of an unordered pair.
type PairStatus string

const (
	StatusNone     PairStatus = "none"
	StatusPending  PairStatus = "pending"
	StatusAccepted PairStatus = "accepted"
	StatusBlocked  PairStatus = "blocked"
)

// Emitter runs side effects after the primary write.
type Emitter interface {
	Dispatch(name string, fn effects.Task) bool
}

var actionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relationd_relationship_actions_total",
		Help: "Relationship actions handled, by action and outcome",
	},
	[]string{"action", "outcome"},
)

// Service applies relationship actions. It holds no per-pair state; the
// store's unique pair key is the only concurrency control.
type Service struct {
	store        Store
	emitter      Emitter
	storeTimeout time.Duration
	logger       *zap.Logger
}

// NewService creates a Service. storeTimeout bounds each store call;
// zero leaves calls bounded only by the caller's context.
func NewService(store Store, emitter Emitter, storeTimeout time.Duration, logger *zap.Logger) *Service {
	return &Service{
		store:        store,
		emitter:      emitter,
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

// HandleAction applies action by actorID against targetID. actorID must come
// from an authenticated credential. The returned error is a *Error.
func (s *Service) HandleAction(ctx context.Context, actorID, targetID, action string) (err error) {
	act := Action(action)
	defer func() {
		label := string(act)
		if !act.Valid() {
			label = "invalid"
		}
		actionsTotal.WithLabelValues(label, Code(err)).Inc()
	}()

	switch {
	case actorID == "":
		return fail(ErrUnauthenticated, action)
	case !validTarget(targetID):
		return fail(ErrInvalidTarget, action)
	case actorID == targetID:
		return fail(ErrSelfTargetInvalid, action)
	case !act.Valid():
		return fail(ErrInvalidAction, action)
	}

	rows, err := s.findPair(ctx, actorID, targetID)
	if err != nil {
		return storeFailure(action, err)
	}

	switch act {
	case ActionRequest:
		return s.request(ctx, actorID, targetID, rows)
	case ActionAccept:
		return s.accept(ctx, actorID, rows)
	case ActionReject:
		return s.reject(ctx, rows)
	default:
		return s.block(ctx, actorID, targetID, rows)
	}
}

func (s *Service) request(ctx context.Context, actorID, targetID string, rows []model.Relationship) error {
	const action = string(ActionRequest)
	if len(rows) > 1 {
		return fail(ErrConflictingState, action)
	}
	if len(rows) == 1 {
		switch rows[0].Status {
		case model.RelationPending:
			return fail(ErrAlreadyPending, action)
		case model.RelationAccepted:
			return fail(ErrAlreadyFriends, action)
		case model.RelationBlocked:
			return fail(ErrRelationshipBlocked, action)
		default:
			return fail(ErrConflictingState, action)
		}
	}

	err := s.insert(ctx, &model.Relationship{
		InitiatorID: actorID,
		RecipientID: targetID,
		Status:      model.RelationPending,
	})
	if errors.Is(err, ErrDuplicateKey) {
		// Lost a race against a request for the same pair, from either side.
		return fail(ErrAlreadyPending, action)
	}
	if err != nil {
		return storeFailure(action, err)
	}

	s.notify(targetID, actorID, model.NotifyFriendRequest)
	return nil
}

func (s *Service) accept(ctx context.Context, actorID string, rows []model.Relationship) error {
	const action = string(ActionAccept)
	if len(rows) > 1 {
		return fail(ErrConflictingState, action)
	}
	if len(rows) == 0 || rows[0].Status != model.RelationPending {
		return fail(ErrNoPendingRequest, action)
	}
	row := rows[0]
	if row.InitiatorID == actorID {
		return fail(ErrCannotAcceptOwnRequest, action)
	}

	changed, err := s.updateStatus(ctx, row.InitiatorID, row.RecipientID, model.RelationPending, model.RelationAccepted)
	if err != nil {
		return storeFailure(action, err)
	}
	if !changed {
		// The row changed between read and write.
		return fail(ErrConflictingState, action)
	}

	s.incrementFriends(row.InitiatorID)
	s.incrementFriends(row.RecipientID)
	s.notify(row.InitiatorID, actorID, model.NotifyFriendAccepted)
	return nil
}

func (s *Service) reject(ctx context.Context, rows []model.Relationship) error {
	const action = string(ActionReject)
	if len(rows) == 0 {
		return fail(ErrNothingToReject, action)
	}
	for _, r := range rows {
		if err := s.delete(ctx, r.InitiatorID, r.RecipientID); err != nil {
			return storeFailure(action, err)
		}
	}
	return nil
}

func (s *Service) block(ctx context.Context, actorID, targetID string, rows []model.Relationship) error {
	const action = string(ActionBlock)
	if len(rows) == 1 && isBlockedBy(&rows[0], actorID, targetID) {
		return nil
	}
	for _, r := range rows {
		if err := s.delete(ctx, r.InitiatorID, r.RecipientID); err != nil {
			return storeFailure(action, err)
		}
	}

	err := s.insert(ctx, &model.Relationship{
		InitiatorID: actorID,
		RecipientID: targetID,
		Status:      model.RelationBlocked,
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrDuplicateKey) {
		return storeFailure(action, err)
	}

	// A concurrent writer got the pair first.
	again, err := s.findPair(ctx, actorID, targetID)
	if err != nil {
		return storeFailure(action, err)
	}
	if len(again) == 1 && isBlockedBy(&again[0], actorID, targetID) {
		return nil
	}
	return fail(ErrConflictingState, action)
}

// validTarget reports whether id is non-empty and fits the user id columns.
func validTarget(id string) bool {
	return id != "" && len(id) <= model.MaxUserIDLen
}

func isBlockedBy(r *model.Relationship, actorID, targetID string) bool {
	return r.Status == model.RelationBlocked && r.InitiatorID == actorID && r.RecipientID == targetID
}

// Status returns the state of the pair {actorID, otherID} and its row, if any.
func (s *Service) Status(ctx context.Context, actorID, otherID string) (PairStatus, *model.Relationship, error) {
	const action = "status"
	if actorID == "" {
		return StatusNone, nil, fail(ErrUnauthenticated, action)
	}
	if !validTarget(otherID) {
		return StatusNone, nil, fail(ErrInvalidTarget, action)
	}
	if actorID == otherID {
		return StatusNone, nil, fail(ErrSelfTargetInvalid, action)
	}
	rows, err := s.findPair(ctx, actorID, otherID)
	if err != nil {
		return StatusNone, nil, storeFailure(action, err)
	}
	switch len(rows) {
	case 0:
		return StatusNone, nil, nil
	case 1:
		return PairStatus(rows[0].Status), &rows[0], nil
	default:
		return StatusNone, nil, fail(ErrConflictingState, action)
	}
}

// Friends lists accepted relationships involving userID.
func (s *Service) Friends(ctx context.Context, userID string) ([]model.Relationship, error) {
	return s.list(ctx, "friends", userID, model.RelationAccepted, false)
}

// PendingRequests lists pending requests addressed to userID.
func (s *Service) PendingRequests(ctx context.Context, userID string) ([]model.Relationship, error) {
	return s.list(ctx, "pending", userID, model.RelationPending, true)
}

func (s *Service) list(ctx context.Context, action, userID string, status model.RelationStatus, incomingOnly bool) ([]model.Relationship, error) {
	if userID == "" {
		return nil, fail(ErrUnauthenticated, action)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.store.ListFor(ctx, userID, status, incomingOnly)
	if err != nil {
		return nil, storeFailure(action, err)
	}
	return rows, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *Service) findPair(ctx context.Context, a, b string) ([]model.Relationship, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.FindPair(ctx, a, b)
}

func (s *Service) insert(ctx context.Context, r *model.Relationship) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.Insert(ctx, r)
}

func (s *Service) delete(ctx context.Context, initiatorID, recipientID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.Delete(ctx, initiatorID, recipientID)
}

func (s *Service) updateStatus(ctx context.Context, initiatorID, recipientID string, from, to model.RelationStatus) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.UpdateStatus(ctx, initiatorID, recipientID, from, to)
}

func (s *Service) incrementFriends(userID string) {
	s.emit("increment_friends_count", func(ctx context.Context) error {
		return s.store.IncrementCounter(ctx, userID, model.CounterFriends)
	}, zap.String("user_id", userID))
}

func (s *Service) notify(userID, actorID, kind string) {
	s.emit("insert_notification", func(ctx context.Context) error {
		return s.store.InsertNotification(ctx, &model.Notification{
			UserID:  userID,
			ActorID: actorID,
			Kind:    kind,
		})
	}, zap.String("user_id", userID), zap.String("kind", kind))
}

func (s *Service) emit(name string, fn effects.Task, fields ...zap.Field) {
	if s.emitter == nil {
		return
	}
	if !s.emitter.Dispatch(name, fn) {
		s.logger.Warn("side effect not queued", append(fields, zap.String("task", name))...)
	}
}
