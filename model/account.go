package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account status values.
const (
	AccountStatusBanned = 0
	AccountStatusNormal = 1
)

// Account is a user identity together with its public profile counters.
// FriendsCount is maintained best-effort by the relationship service and is
// not kept transactionally consistent with the relationships table.
type Account struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Username     string     `gorm:"uniqueIndex;size:32;not null" json:"username"`
	PasswordHash string     `gorm:"size:64;not null" json:"-"`
	Status       int        `gorm:"default:1" json:"status"` // 0=banned 1=normal
	FriendsCount int64      `gorm:"default:0;not null" json:"friends_count"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	LastLoginIP  string     `gorm:"size:45" json:"-"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// CounterFriends is the Account column incremented on an accepted request.
const CounterFriends = "friends_count"
