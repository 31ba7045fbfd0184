package model

import (
	"time"

	"gorm.io/gorm"
)

// RelationStatus is the stored state of a relationship row.
type RelationStatus string

const (
	RelationPending  RelationStatus = "pending"
	RelationAccepted RelationStatus = "accepted"
	RelationBlocked  RelationStatus = "blocked"
)

// MaxUserIDLen is the width of every user id column.
const MaxUserIDLen = 36

// Relationship links two accounts. The row keeps the orientation it was
// written with; PairKey names the unordered pair and is unique, so the two
// orientations of one pair can never coexist. Check constraints reject
// self pairs and unknown statuses at the database.
type Relationship struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	PairKey     string         `gorm:"uniqueIndex:idx_relationship_unordered;size:73;not null" json:"-"`
	InitiatorID string         `gorm:"uniqueIndex:idx_relationship_pair,priority:1;size:36;not null;check:chk_relationship_distinct,initiator_id <> recipient_id" json:"initiator_id"`
	RecipientID string         `gorm:"uniqueIndex:idx_relationship_pair,priority:2;index:idx_relationship_recipient;size:36;not null" json:"recipient_id"`
	Status      RelationStatus `gorm:"size:16;not null;index:idx_relationship_recipient;check:chk_relationship_status,status IN ('pending','accepted','blocked')" json:"status"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// PairKeyOf returns the orientation-free key of the pair {a, b}.
func PairKeyOf(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// BeforeCreate derives PairKey from the two ids.
func (r *Relationship) BeforeCreate(tx *gorm.DB) error {
	r.PairKey = PairKeyOf(r.InitiatorID, r.RecipientID)
	return nil
}

// Other returns the counterpart of userID in the pair.
func (r *Relationship) Other(userID string) string {
	if r.InitiatorID == userID {
		return r.RecipientID
	}
	return r.InitiatorID
}
