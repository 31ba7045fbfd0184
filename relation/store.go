package relation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kasuganosora/relationd/model"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"
)

// ErrDuplicateKey is returned by Store.Insert when the pair already has a
// row in either orientation.
var ErrDuplicateKey = errors.New("relation: duplicate key")

// Store is durable storage for relationship rows and the best-effort
// records written as side effects.
type Store interface {
	// FindPair returns every row for {a, b} in either orientation.
	FindPair(ctx context.Context, a, b string) ([]model.Relationship, error)
	Insert(ctx context.Context, r *model.Relationship) error
	// Delete removes the row keyed by the ordered pair. Deleting a missing
	// row is not an error.
	Delete(ctx context.Context, initiatorID, recipientID string) error
	// UpdateStatus changes the row's status only if it currently equals from.
	// It reports whether a row was changed.
	UpdateStatus(ctx context.Context, initiatorID, recipientID string, from, to model.RelationStatus) (bool, error)
	IncrementCounter(ctx context.Context, userID, field string) error
	InsertNotification(ctx context.Context, n *model.Notification) error
	// ListFor returns rows involving userID with the given status, newest first.
	// When incomingOnly is set only rows where userID is the recipient are returned.
	ListFor(ctx context.Context, userID string, status model.RelationStatus, incomingOnly bool) ([]model.Relationship, error)
}

// counterColumns whitelists the account columns IncrementCounter may touch.
var counterColumns = map[string]bool{
	model.CounterFriends: true,
}

// GormStore implements Store with GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// FindPair always reads the primary: transitions decide on what they find.
func (s *GormStore) FindPair(ctx context.Context, a, b string) ([]model.Relationship, error) {
	var rows []model.Relationship
	err := s.db.WithContext(ctx).Clauses(dbresolver.Write).
		Where("(initiator_id = ? AND recipient_id = ?) OR (initiator_id = ? AND recipient_id = ?)", a, b, b, a).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find pair: %w", err)
	}
	return rows, nil
}

func (s *GormStore) Insert(ctx context.Context, r *model.Relationship) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert relationship: %w", err)
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, initiatorID, recipientID string) error {
	err := s.db.WithContext(ctx).
		Where("initiator_id = ? AND recipient_id = ?", initiatorID, recipientID).
		Delete(&model.Relationship{}).Error
	if err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}
	return nil
}

func (s *GormStore) UpdateStatus(ctx context.Context, initiatorID, recipientID string, from, to model.RelationStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Relationship{}).
		Where("initiator_id = ? AND recipient_id = ? AND status = ?", initiatorID, recipientID, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now()})
	if res.Error != nil {
		return false, fmt.Errorf("update relationship: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) IncrementCounter(ctx context.Context, userID, field string) error {
	if !counterColumns[field] {
		return fmt.Errorf("increment counter: unknown field %q", field)
	}
	res := s.db.WithContext(ctx).Model(&model.Account{}).
		Where("id = ?", userID).
		UpdateColumn(field, gorm.Expr(field+" + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("increment %s: %w", field, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("increment %s: account %s not found", field, userID)
	}
	return nil
}

func (s *GormStore) InsertNotification(ctx context.Context, n *model.Notification) error {
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *GormStore) ListFor(ctx context.Context, userID string, status model.RelationStatus, incomingOnly bool) ([]model.Relationship, error) {
	q := s.db.WithContext(ctx).Where("status = ?", status)
	if incomingOnly {
		q = q.Where("recipient_id = ?", userID)
	} else {
		q = q.Where("(initiator_id = ? OR recipient_id = ?)", userID, userID)
	}
	var rows []model.Relationship
	if err := q.Order("updated_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	return rows, nil
}

// isUniqueViolation detects duplicate-key errors. Drivers opened with
// TranslateError yield gorm.ErrDuplicatedKey; the message match covers
// drivers that do not translate.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
