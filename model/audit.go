package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records every relationship action handled, successful or not.
type AuditLog struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID    string         `gorm:"index:idx_audit_trace;size:64;not null" json:"trace_id"`
	ActorID    string         `gorm:"index:idx_audit_actor;size:36" json:"actor_id"`
	TargetID   string         `gorm:"size:36" json:"target_id"`
	Action     string         `gorm:"size:64;not null" json:"action"`
	Outcome    string         `gorm:"size:32" json:"outcome"`
	Request    datatypes.JSON `json:"request"`
	Error      string         `gorm:"type:text" json:"error"`
	IP         string         `gorm:"size:45" json:"ip"`
	DurationMs int            `json:"duration_ms"`
	CreatedAt  time.Time      `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}
