package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/relationd/cache"
	mw "github.com/kasuganosora/relationd/middleware"
	"github.com/kasuganosora/relationd/model"
	"github.com/kasuganosora/relationd/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db     *gorm.DB
	cache  cache.Cache
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(db *gorm.DB, c cache.Cache, sched *scheduler.Scheduler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, cache: c, sched: sched, logger: logger}
}

// Stats returns row counts for the relationship tables.
// GET /api/admin/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	db := h.db.WithContext(c.Request.Context())

	var accounts, unread int64
	if err := db.Model(&model.Account{}).Count(&accounts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if err := db.Model(&model.Notification{}).Where("read_at IS NULL").Count(&unread).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}

	var grouped []struct {
		Status model.RelationStatus
		Count  int64
	}
	if err := db.Model(&model.Relationship{}).
		Select("status, COUNT(*) AS count").Group("status").Scan(&grouped).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	byStatus := map[model.RelationStatus]int64{
		model.RelationPending:  0,
		model.RelationAccepted: 0,
		model.RelationBlocked:  0,
	}
	for _, g := range grouped {
		byStatus[g.Status] = g.Count
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts":             accounts,
		"relationships":        byStatus,
		"unread_notifications": unread,
		"scheduler_tasks":      h.sched.ListTickers(),
	})
}

// BanAccount bans or unbans an account. A ban takes effect on the next
// authenticated request because the Auth middleware checks the ban flag.
// POST /api/admin/accounts/:id/ban
func (h *AdminHandler) BanAccount(c *gin.Context) {
	accountID := c.Param("id")
	var req struct {
		Ban *bool `json:"ban" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"ban\": true|false}"})
		return
	}
	ban := *req.Ban

	status := model.AccountStatusNormal
	if ban {
		status = model.AccountStatusBanned
	}
	result := h.db.WithContext(c.Request.Context()).
		Model(&model.Account{}).Where("id = ?", accountID).Update("status", status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	var err error
	if ban {
		err = h.cache.Set(ctx, mw.BannedKey(accountID), "1", 0)
	} else {
		err = h.cache.Del(ctx, mw.BannedKey(accountID))
	}
	if err != nil {
		h.logger.Error("ban flag update failed", zap.String("account_id", accountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache error"})
		return
	}

	h.logger.Info("admin changed account status", zap.String("account_id", accountID), zap.Bool("ban", ban))
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status})
}

// ListSchedulerTasks returns all registered maintenance tasks with their
// last run.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Tasks()})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// If adminKey is empty all admin endpoints answer 503 so the server cannot
// be deployed with them unprotected.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		if c.GetHeader("X-Admin-Key") != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
