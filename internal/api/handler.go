package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkarlsson/sharesync/internal/errs"
	"github.com/mkarlsson/sharesync/internal/models"
	"github.com/mkarlsson/sharesync/internal/service"
)

// Handler holds the HTTP handlers for all API routes
type Handler struct {
	svc       service.Service
	jwtSecret []byte
}

// NewHandler creates a new API handler
func NewHandler(svc service.Service, jwtSecret []byte) *Handler {
	return &Handler{svc: svc, jwtSecret: jwtSecret}
}

// SetupRoutes registers all routes on the router
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Invitation previews are public: the link lands before sign-in.
	router.GET("/join/:code", h.previewInvitation)

	auth := router.Group("/api/auth")
	{
		auth.POST("/signup", h.signUp)
		auth.POST("/login", h.login)
	}

	apiGroup := router.Group("/api")
	apiGroup.Use(AuthMiddleware(h.jwtSecret))
	{
		apiGroup.POST("/groups", h.createGroup)
		apiGroup.GET("/groups", h.listGroups)
		apiGroup.GET("/groups/:id", h.getGroup)
		apiGroup.DELETE("/groups/:id", h.deleteGroup)

		apiGroup.POST("/groups/:id/sharing/toggle", h.toggleGroupSharing)
		apiGroup.POST("/groups/:id/preferences/toggle", h.toggleSharePreference)

		apiGroup.POST("/groups/:id/leave", h.leaveGroup)
		apiGroup.POST("/groups/:id/transfer", h.transferOwnership)

		apiGroup.POST("/groups/:id/invitations", h.createInvitation)
		apiGroup.POST("/invitations/:code/accept", h.acceptInvitation)
		apiGroup.POST("/invitations/:code/decline", h.declineInvitation)

		apiGroup.GET("/groups/:id/changes", h.getChanges)
		apiGroup.GET("/groups/:id/records", h.getGroupRecords)
		apiGroup.GET("/groups/:id/stats", h.getStats)

		apiGroup.POST("/records", h.createRecord)
		apiGroup.PUT("/records/:id", h.updateRecord)
		apiGroup.DELETE("/records/:id", h.deleteRecord)
	}
}

// Auth handlers
func (h *Handler) signUp(c *gin.Context) {
	var req models.SignUpRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.svc.SignUp(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) login(c *gin.Context) {
	var req models.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.svc.Login(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Group handlers
func (h *Handler) createGroup(c *gin.Context) {
	var req models.CreateGroupRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.svc.CreateGroup(c.Request.Context(), userID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) listGroups(c *gin.Context) {
	resp, err := h.svc.GetUserGroups(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getGroup(c *gin.Context) {
	resp, err := h.svc.GetGroup(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) deleteGroup(c *gin.Context) {
	if err := h.svc.DeleteGroup(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Visibility gate handlers
func (h *Handler) toggleGroupSharing(c *gin.Context) {
	resp, err := h.svc.ToggleGroupSharing(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) toggleSharePreference(c *gin.Context) {
	resp, err := h.svc.ToggleSharePreference(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Membership handlers
func (h *Handler) leaveGroup(c *gin.Context) {
	if err := h.svc.LeaveGroup(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) transferOwnership(c *gin.Context) {
	var req models.TransferOwnershipRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.svc.TransferOwnership(c.Request.Context(), userID(c), c.Param("id"), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Invitation handlers
func (h *Handler) createInvitation(c *gin.Context) {
	var req models.CreateInvitationRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	resp, err := h.svc.CreateInvitation(c.Request.Context(), userID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) previewInvitation(c *gin.Context) {
	resp, err := h.svc.PreviewInvitation(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) acceptInvitation(c *gin.Context) {
	var req models.AcceptInvitationRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	resp, err := h.svc.AcceptInvitation(c.Request.Context(), userID(c), c.Param("code"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) declineInvitation(c *gin.Context) {
	if err := h.svc.DeclineInvitation(c.Request.Context(), userID(c), c.Param("code")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Sync handlers
func (h *Handler) getChanges(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			respondError(c, errs.New(errs.KindInvalidInput, "since must be RFC 3339"))
			return
		}
		since = parsed
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(c, errs.New(errs.KindInvalidInput, "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	resp, err := h.svc.GetChanges(c.Request.Context(), userID(c), c.Param("id"),
		since, c.Query("sinceId"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getGroupRecords(c *gin.Context) {
	resp, err := h.svc.GetGroupRecords(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getStats(c *gin.Context) {
	period := c.Query("period")
	if period == "" {
		respondError(c, errs.New(errs.KindInvalidInput, "period query parameter is required"))
		return
	}

	resp, err := h.svc.GetStats(c.Request.Context(), userID(c), c.Param("id"), period)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Record handlers
func (h *Handler) createRecord(c *gin.Context) {
	var req models.CreateRecordRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.svc.CreateRecord(c.Request.Context(), userID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) updateRecord(c *gin.Context) {
	var req models.UpdateRecordRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.svc.UpdateRecord(c.Request.Context(), userID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) deleteRecord(c *gin.Context) {
	if err := h.svc.DeleteRecord(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Helpers
func userID(c *gin.Context) string {
	return c.GetString("userId")
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Status:  "error",
			Code:    string(errs.KindInvalidInput),
			Message: err.Error(),
		})
		return false
	}
	return true
}

// respondError maps a service error to an HTTP status and the error
// envelope. Unclassified errors are transient store failures: the
// client may retry them safely.
func respondError(c *gin.Context, err error) {
	kind := errs.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case errs.KindInvalidInput:
		status = http.StatusBadRequest
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindExpired:
		status = http.StatusGone
	case errs.KindAlreadyProcessed, errs.KindCapacity:
		status = http.StatusConflict
	case errs.KindCooldown, errs.KindDailyLimit:
		status = http.StatusTooManyRequests
	case errs.KindPermissionDenied:
		status = http.StatusForbidden
	case errs.KindTransient:
		status = http.StatusServiceUnavailable
	}

	resp := models.ErrorResponse{
		Status: "error",
		Code:   string(kind),
	}

	var appErr *errs.Error
	if errors.As(err, &appErr) {
		resp.Message = appErr.Message
		resp.WaitSeconds = int64(appErr.Wait.Seconds())
	} else {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		resp.Message = "temporary failure, please retry"
	}

	c.JSON(status, resp)
}
