package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"topup-reconciler/internal/metrics"
	"topup-reconciler/internal/model"
	"topup-reconciler/internal/poller"
	"topup-reconciler/internal/store"
)

// Bridge applies the ledger credit for an approved topup.
type Bridge interface {
	Credit(ctx context.Context, topup *model.PendingTopup, actor string) error
}

// BoardSync pushes review outcomes back onto the approval board.
type BoardSync interface {
	MirrorStatus(ctx context.Context, topupID string, status model.TopupStatus) error
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Handlers contains the operator-facing HTTP handlers.
type Handlers struct {
	db      *gorm.DB
	store   *store.Store
	poller  *poller.Poller
	bridge  Bridge
	syncer  BoardSync
	metrics *metrics.Metrics
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, st *store.Store, p *poller.Poller, bridge Bridge, syncer BoardSync, m *metrics.Metrics) *Handlers {
	return &Handlers{db: db, store: st, poller: p, bridge: bridge, syncer: syncer, metrics: m}
}

// mirrorStatus is best-effort: the local record is authoritative, a board
// outage must not fail the review that already happened.
func (h *Handlers) mirrorStatus(c *gin.Context, topupID string, status model.TopupStatus) {
	if err := h.syncer.MirrorStatus(c.Request.Context(), topupID, status); err != nil {
		logrus.Warnf("Failed to mirror status %s for topup %s: %v", status, topupID, err)
	}
}

func (h *Handlers) refreshPendingGauge() {
	count, err := h.store.CountByStatus(model.StatusPending)
	if err != nil {
		logrus.Warnf("Failed to count pending topups: %v", err)
		return
	}
	h.metrics.PendingTopups.Set(float64(count))
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := gin.H{
		"status":    "ok",
		"timestamp": time.Now(),
		"database":  "ok",
	}

	statusCode := http.StatusOK
	if err := h.db.Raw("SELECT 1").Error; err != nil {
		response["status"] = "error"
		response["database"] = "error"
		statusCode = http.StatusServiceUnavailable
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.poller.IsRunning() {
		response["poller"] = "running"
	} else {
		response["poller"] = "stopped"
	}

	c.JSON(statusCode, response)
}

// GetRuleSet returns the rule set
func (h *Handlers) GetRuleSet(c *gin.Context) {
	rs, err := h.store.GetRuleSet()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch rule set",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, rs)
}

// UpdateRuleSet replaces the rule set
func (h *Handlers) UpdateRuleSet(c *gin.Context) {
	var rs model.RuleSet
	if err := c.ShouldBindJSON(&rs); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	if err := h.store.UpdateRuleSet(&rs); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to update rule set",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, rs)
}

// GetPollerSettings returns the poller settings
func (h *Handlers) GetPollerSettings(c *gin.Context) {
	ps, err := h.store.GetPollerSettings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch poller settings",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, ps)
}

// UpdatePollerSettings replaces the poller settings
func (h *Handlers) UpdatePollerSettings(c *gin.Context) {
	var ps model.PollerSettings
	if err := c.ShouldBindJSON(&ps); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	if ps.PollingIntervalMinutes <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Polling interval must be greater than 0",
			Code:    http.StatusBadRequest,
		})
		return
	}

	if err := h.store.UpdatePollerSettings(&ps); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to update poller settings",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, ps)
}

// StartPoller starts the poller
func (h *Handlers) StartPoller(c *gin.Context) {
	if err := h.poller.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "poller_error",
			Message: "Failed to start poller",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Poller started successfully", "status": "running"})
}

// StopPoller stops the poller
func (h *Handlers) StopPoller(c *gin.Context) {
	if err := h.poller.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "poller_error",
			Message: "Failed to stop poller",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Poller stopped successfully", "status": "stopped"})
}

// RunOnce triggers one scan cycle immediately
func (h *Handlers) RunOnce(c *gin.Context) {
	if err := h.poller.RunOnce(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "poller_error",
			Message: "Scan cycle failed",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Scan cycle completed successfully"})
}

// GetPollerStatus returns the current poller status
func (h *Handlers) GetPollerStatus(c *gin.Context) {
	status := "stopped"
	if h.poller.IsRunning() {
		status = "running"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"last_run": h.poller.LastRun(),
	})
}

// ListTopups returns pending topups with pagination
func (h *Handlers) ListTopups(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	status := model.TopupStatus(c.Query("status"))

	topups, total, err := h.store.ListTopups(status, (page-1)*limit, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch topups",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"topups": topups,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetTopup returns a specific topup
func (h *Handlers) GetTopup(c *gin.Context) {
	topup, err := h.store.GetTopup(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Topup not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch topup",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, topup)
}

// ApproveTopup approves a pending topup and applies the wallet credit.
// The manual path goes through the same compare-and-set and bridge as the
// webhook path.
func (h *Handlers) ApproveTopup(c *gin.Context) {
	topup, actor, ok := h.resolveReview(c)
	if !ok {
		return
	}

	if err := h.store.TransitionStatus(topup.ID, model.StatusPending, model.StatusApproved, actor); err != nil {
		h.respondTransitionError(c, err)
		return
	}
	h.refreshPendingGauge()

	topup.Status = model.StatusApproved
	if err := h.bridge.Credit(c.Request.Context(), topup, actor); err != nil {
		h.metrics.CreditFailures.Inc()
		h.mirrorStatus(c, topup.ID, model.StatusApproved)
		c.JSON(http.StatusOK, gin.H{"status": "approved", "credited": false, "detail": err.Error()})
		return
	}

	h.metrics.CreditSuccesses.Inc()
	h.mirrorStatus(c, topup.ID, model.StatusCredited)
	c.JSON(http.StatusOK, gin.H{"status": "approved", "credited": true})
}

// RejectTopup rejects a pending topup
func (h *Handlers) RejectTopup(c *gin.Context) {
	topup, actor, ok := h.resolveReview(c)
	if !ok {
		return
	}

	if err := h.store.TransitionStatus(topup.ID, model.StatusPending, model.StatusRejected, actor); err != nil {
		h.respondTransitionError(c, err)
		return
	}
	h.refreshPendingGauge()

	h.mirrorStatus(c, topup.ID, model.StatusRejected)
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

// resolveReview loads the topup under review and the acting admin identity.
func (h *Handlers) resolveReview(c *gin.Context) (*model.PendingTopup, string, bool) {
	topup, err := h.store.GetTopup(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Topup not found",
				Code:    http.StatusNotFound,
			})
			return nil, "", false
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch topup",
			Code:    http.StatusInternalServerError,
		})
		return nil, "", false
	}

	actor := c.GetHeader("X-Admin-User")
	if actor == "" {
		actor = "admin"
	}
	return topup, actor, true
}

func (h *Handlers) respondTransitionError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrStatusConflict) || errors.Is(err, store.ErrInvalidTransition) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "status_conflict",
			Message: "Topup is no longer pending",
			Code:    http.StatusConflict,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "database_error",
		Message: "Failed to update topup status",
		Code:    http.StatusInternalServerError,
	})
}

// ListWebhookEvents returns webhook audit log rows with pagination
func (h *Handlers) ListWebhookEvents(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	events, total, err := h.store.ListWebhookEvents((page-1)*limit, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch webhook events",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}
