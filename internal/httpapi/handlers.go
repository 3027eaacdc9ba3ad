package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"callwake-platform/internal/audit"
	"callwake-platform/internal/auth"
	"callwake-platform/internal/call"
	"callwake-platform/internal/lifecycle"
	"callwake-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal modules, return JSON.

type Handlers struct {
	Auth   *auth.Manager
	Engine *lifecycle.Engine
	Audit  *audit.Service
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "user_id", req.UserID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type scheduleRequest struct {
	ID           string `json:"id,omitempty"`
	RecipientID  int64  `json:"recipient_id"`
	ScheduledAt  int64  `json:"scheduled_at"` // epoch millis
	DeviceHandle string `json:"device_handle"`
	DisplayName  string `json:"display_name"`
	AvatarRef    string `json:"avatar_ref,omitempty"`
	Purpose      string `json:"purpose,omitempty"`
	Platform     string `json:"platform"`
}

func (r scheduleRequest) toEngine() lifecycle.ScheduleRequest {
	return lifecycle.ScheduleRequest{
		ID:           r.ID,
		RecipientID:  r.RecipientID,
		ScheduledAt:  time.UnixMilli(r.ScheduledAt),
		DeviceHandle: r.DeviceHandle,
		DisplayName:  r.DisplayName,
		AvatarRef:    r.AvatarRef,
		Purpose:      r.Purpose,
		Platform:     call.Platform(r.Platform),
	}
}

// ScheduleCall registers a daily-recurring call.
func (h Handlers) ScheduleCall(c *gin.Context) {
	h.scheduleWith(c, h.Engine.Schedule)
}

// ScheduleCallOnce registers a call that fires exactly once.
func (h Handlers) ScheduleCallOnce(c *gin.Context) {
	h.scheduleWith(c, h.Engine.ScheduleOnce)
}

// ScheduleImmediate registers a call and dispatches it inline.
func (h Handlers) ScheduleImmediate(c *gin.Context) {
	h.scheduleWith(c, h.Engine.ScheduleImmediate)
}

func (h Handlers) scheduleWith(c *gin.Context, op func(context.Context, lifecycle.ScheduleRequest) (call.Record, error)) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.FromGin(c).Warn("schedule request parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	rec, err := op(actorCtx(c), req.toEngine())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListCalls returns every non-purged call.
func (h Handlers) ListCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": h.Engine.ListAll()})
}

// ListByRecipient returns a recipient's active calls.
func (h Handlers) ListByRecipient(c *gin.Context) {
	rid, ok := recipientParam(c)
	if !ok {
		return
	}
	recs, err := h.Engine.ListByRecipient(rid)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": recs})
}

// CancelCall cancels a call by id.
func (h Handlers) CancelCall(c *gin.Context) {
	id := c.Param("id")
	if err := h.Engine.Cancel(actorCtx(c), id); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": id})
}

// CancelByRecipient cancels the recipient's first active call.
func (h Handlers) CancelByRecipient(c *gin.Context) {
	rid, ok := recipientParam(c)
	if !ok {
		return
	}
	id, err := h.Engine.CancelByRecipient(actorCtx(c), rid)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": id})
}

type toggleRequest struct {
	RecipientID int64  `json:"recipient_id"`
	ID          string `json:"id,omitempty"`
	Enabled     *bool  `json:"enabled"`
}

// Toggle flips a call's enabled flag.
func (h Handlers) Toggle(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Enabled == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "enabled required"})
		return
	}
	rec, err := h.Engine.Toggle(actorCtx(c), req.RecipientID, req.ID, *req.Enabled)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type responseRequest struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RespondedAt string `json:"responded_at,omitempty"` // ISO-8601
	Note        string `json:"note,omitempty"`
}

// RecordResponse stores the recipient's reaction to a dispatched call.
func (h Handlers) RecordResponse(c *gin.Context) {
	var req responseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	engineReq := lifecycle.ResponseRequest{
		ID:     req.ID,
		Status: call.ResponseStatus(req.Status),
		Note:   req.Note,
	}
	if req.RespondedAt != "" {
		at, err := time.Parse(time.RFC3339, req.RespondedAt)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "responded_at must be ISO-8601"})
			return
		}
		engineReq.RespondedAt = &at
	}

	rec, err := h.Engine.RecordResponse(actorCtx(c), engineReq)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Stats returns response counts, optionally scoped by ?recipient_id=.
func (h Handlers) Stats(c *gin.Context) {
	var scope *int64
	if raw := c.Query("recipient_id"); raw != "" {
		rid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || rid <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "recipient_id must be a positive integer"})
			return
		}
		scope = &rid
	}
	c.JSON(http.StatusOK, h.Engine.Stats(scope))
}

// History returns the recipient's dispatched-call projections.
func (h Handlers) History(c *gin.Context) {
	rid, ok := recipientParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": h.Engine.History(rid)})
}

// --- Admin ---

// AdminEvents returns the lifecycle audit log.
func (h Handlers) AdminEvents(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	events, err := h.Audit.List(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("audit read failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit read failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// AdminCleanup runs the purge sweep immediately.
func (h Handlers) AdminCleanup(c *gin.Context) {
	purged, err := h.Engine.Cleanup(actorCtx(c))
	if err != nil {
		logger.FromGin(c).Error("cleanup sweep failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": purged})
}

// --- helpers ---

func recipientParam(c *gin.Context) (int64, bool) {
	rid, err := strconv.ParseInt(c.Param("recipient_id"), 10, 64)
	if err != nil || rid <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "recipient_id must be a positive integer"})
		return 0, false
	}
	return rid, true
}

func actorCtx(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if uid, err := auth.UserID(ctx); err == nil {
		ctx = lifecycle.WithActor(ctx, uid)
	}
	return ctx
}

func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, call.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, lifecycle.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, lifecycle.ErrInvalidSchedule):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "scheduled time must be in the future"})
	case errors.Is(err, lifecycle.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid argument"})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
