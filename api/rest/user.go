package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/relationd/middleware"
	"github.com/kasuganosora/relationd/model"
	"gorm.io/gorm"
)

// UserHandler serves the caller's own profile.
type UserHandler struct {
	db *gorm.DB
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(db *gorm.DB) *UserHandler {
	return &UserHandler{db: db}
}

// Me handles GET /api/users/me.
func (h *UserHandler) Me(c *gin.Context) {
	var acc model.Account
	err := h.db.WithContext(c.Request.Context()).First(&acc, "id = ?", mw.GetUserID(c)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": acc})
}
