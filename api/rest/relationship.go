package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/relationd/audit"
	mw "github.com/kasuganosora/relationd/middleware"
	"github.com/kasuganosora/relationd/model"
	"github.com/kasuganosora/relationd/relation"
	"go.uber.org/zap"
)

// Auditor records handled relationship actions.
type Auditor interface {
	Log(entry audit.Entry)
}

// RelationshipHandler exposes the relationship service over HTTP.
type RelationshipHandler struct {
	svc    *relation.Service
	audit  Auditor
	logger *zap.Logger
}

// NewRelationshipHandler creates a RelationshipHandler. auditor may be nil.
func NewRelationshipHandler(svc *relation.Service, auditor Auditor, logger *zap.Logger) *RelationshipHandler {
	return &RelationshipHandler{svc: svc, audit: auditor, logger: logger}
}

type relationshipRequest struct {
	TargetUserID string `json:"target_user_id"`
	Action       string `json:"action"`
}

// Handle handles POST /api/relationships.
// The actor always comes from the authenticated session, never the body.
func (h *RelationshipHandler) Handle(c *gin.Context) {
	start := time.Now()
	actorID := mw.GetUserID(c)

	var req relationshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := h.svc.HandleAction(c.Request.Context(), actorID, req.TargetUserID, req.Action)
	h.record(c, actorID, req, err, time.Since(start))
	if err != nil {
		writeRelationError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *RelationshipHandler) record(c *gin.Context, actorID string, req relationshipRequest, err error, took time.Duration) {
	if h.audit == nil {
		return
	}
	entry := audit.Entry{
		TraceID:    mw.GetTraceID(c),
		ActorID:    actorID,
		TargetID:   req.TargetUserID,
		Action:     req.Action,
		Outcome:    relation.Code(err),
		Request:    req,
		IP:         c.ClientIP(),
		DurationMs: int(took.Milliseconds()),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	h.audit.Log(entry)
}

// Status handles GET /api/relationships/status/:user_id.
func (h *RelationshipHandler) Status(c *gin.Context) {
	status, row, err := h.svc.Status(c.Request.Context(), mw.GetUserID(c), c.Param("user_id"))
	if err != nil {
		writeRelationError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "relationship": row})
}

type friendEntry struct {
	UserID string    `json:"user_id"`
	Since  time.Time `json:"since"`
}

// ListFriends handles GET /api/relationships/friends.
func (h *RelationshipHandler) ListFriends(c *gin.Context) {
	userID := mw.GetUserID(c)
	rows, err := h.svc.Friends(c.Request.Context(), userID)
	if err != nil {
		writeRelationError(c, h.logger, err)
		return
	}
	friends := make([]friendEntry, len(rows))
	for i := range rows {
		friends[i] = friendEntry{UserID: rows[i].Other(userID), Since: rows[i].UpdatedAt}
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends, "count": len(friends)})
}

// ListPending handles GET /api/relationships/pending.
func (h *RelationshipHandler) ListPending(c *gin.Context) {
	rows, err := h.svc.PendingRequests(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		writeRelationError(c, h.logger, err)
		return
	}
	if rows == nil {
		rows = []model.Relationship{}
	}
	c.JSON(http.StatusOK, gin.H{"requests": rows, "count": len(rows)})
}

// relationStatusCode maps a relation failure kind to an HTTP status:
// 401 for a missing actor, 409 for inconsistent pair state, 503 when the
// store cannot be reached and 400 for every other validation or domain
// rejection.
func relationStatusCode(err error) int {
	switch relation.KindOf(err) {
	case nil:
		return http.StatusInternalServerError
	case relation.ErrUnauthenticated:
		return http.StatusUnauthorized
	case relation.ErrConflictingState:
		return http.StatusConflict
	case relation.ErrStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func writeRelationError(c *gin.Context, logger *zap.Logger, err error) {
	status := relationStatusCode(err)
	kind := relation.KindOf(err)
	if kind == nil {
		logger.Error("unexpected relationship error", zap.Error(err), zap.String("trace_id", mw.GetTraceID(c)))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	if status >= http.StatusInternalServerError {
		logger.Warn("relationship store failure", zap.Error(err), zap.String("trace_id", mw.GetTraceID(c)))
	}
	// Only the kind's message is exposed; store causes stay in the logs.
	c.JSON(status, gin.H{"error": kind.Error(), "code": relation.Code(err)})
}
