package model

import "time"

// Notification kinds recorded by the relationship service.
const (
	NotifyFriendRequest  = "friend_request"
	NotifyFriendAccepted = "friend_accepted"
)

// Notification is a record for the delivery collaborator to pick up.
type Notification struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string     `gorm:"index:idx_notification_user;size:36;not null" json:"user_id"`
	ActorID   string     `gorm:"size:36;not null" json:"actor_id"`
	Kind      string     `gorm:"size:32;not null" json:"kind"`
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `gorm:"index:idx_notification_created;autoCreateTime" json:"created_at"`
}
