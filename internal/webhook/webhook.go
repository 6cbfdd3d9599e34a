package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"topup-reconciler/internal/metrics"
	"topup-reconciler/internal/model"
	"topup-reconciler/internal/store"
)

// ActorBoard is recorded as the reviewer for webhook-driven transitions.
const ActorBoard = "monday.com"

var approveLabels = map[string]bool{
	"approve":  true,
	"approved": true,
	"aprobado": true,
}

var rejectLabels = map[string]bool{
	"decline":   true,
	"declined":  true,
	"rejected":  true,
	"reject":    true,
	"rechazado": true,
}

// Store is the slice of the pending store the handler uses.
type Store interface {
	GetLinkByBoardItem(boardItemID string) (*model.BoardLink, error)
	GetTopup(id string) (*model.PendingTopup, error)
	TransitionStatus(id string, from, to model.TopupStatus, actor string) error
	AppendWebhookEvent(event *model.WebhookEvent) error
	CountByStatus(status model.TopupStatus) (int64, error)
}

// Bridge applies the ledger credit for an approved topup.
type Bridge interface {
	Credit(ctx context.Context, topup *model.PendingTopup, actor string) error
}

// BoardSync pushes the post-credit status back onto the board item.
type BoardSync interface {
	MirrorStatus(ctx context.Context, topupID string, status model.TopupStatus) error
}

// Handler processes inbound board webhooks. Every event, whatever its
// outcome, lands in the audit log; domain outcomes always answer HTTP 200 so
// the board does not retry-storm on rows we have already recorded.
type Handler struct {
	store   Store
	bridge  Bridge
	syncer  BoardSync
	metrics *metrics.Metrics
}

// NewHandler creates a new webhook handler
func NewHandler(st Store, bridge Bridge, syncer BoardSync, m *metrics.Metrics) *Handler {
	return &Handler{store: st, bridge: bridge, syncer: syncer, metrics: m}
}

type webhookPayload struct {
	Challenge string        `json:"challenge"`
	Event     *webhookEvent `json:"event"`
}

type webhookEvent struct {
	BoardID  json.Number     `json:"boardId"`
	PulseID  json.Number     `json:"pulseId"`
	ColumnID string          `json:"columnId"`
	Value    json.RawMessage `json:"value"`
}

// Handle is the gin handler for POST /webhooks/monday.
func (h *Handler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "detail": "unreadable body"})
		return
	}

	digest := sha256.Sum256(body)
	digestHex := hex.EncodeToString(digest[:])

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		// Still 200: the outcome is audited, and a permanently malformed
		// payload at 4xx would make the board redeliver it forever.
		h.audit("", digestHex, "", model.WebhookOutcomeError, "malformed JSON body")
		c.JSON(http.StatusOK, gin.H{"status": "error", "detail": "malformed JSON body"})
		return
	}

	// The board's handshake: echo it back verbatim, no domain effect.
	if payload.Challenge != "" {
		h.audit("", digestHex, "", model.WebhookOutcomeChallenge, "challenge echoed")
		c.JSON(http.StatusOK, gin.H{"challenge": payload.Challenge})
		return
	}

	if payload.Event == nil {
		h.audit("", digestHex, "", model.WebhookOutcomeError, "no event in payload")
		c.JSON(http.StatusOK, gin.H{"status": "error", "detail": "no event in payload"})
		return
	}

	itemID := payload.Event.PulseID.String()
	label, err := ParseLabel(payload.Event.Value)
	if err != nil {
		h.audit(itemID, digestHex, "", model.WebhookOutcomeIgnored, fmt.Sprintf("no status label: %v", err))
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "no status label in event"})
		return
	}

	link, err := h.store.GetLinkByBoardItem(itemID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.audit(itemID, digestHex, label, model.WebhookOutcomeError, "no linkage for board item")
			c.JSON(http.StatusOK, gin.H{"status": "error", "detail": "unknown board item"})
			return
		}
		h.audit(itemID, digestHex, label, model.WebhookOutcomeError, err.Error())
		c.JSON(http.StatusOK, gin.H{"status": "error", "detail": "linkage lookup failed"})
		return
	}

	topup, err := h.store.GetTopup(link.TopupID)
	if err != nil {
		h.audit(itemID, digestHex, label, model.WebhookOutcomeError, fmt.Sprintf("topup %s not found", link.TopupID))
		c.JSON(http.StatusOK, gin.H{"status": "error", "detail": "linked topup not found"})
		return
	}

	if topup.Status != model.StatusPending {
		reason := fmt.Sprintf("ignored - already %s", topup.Status)
		logrus.Infof("Webhook for topup %s %s", topup.ID, reason)
		h.audit(itemID, digestHex, label, model.WebhookOutcomeIgnored, reason)
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": reason})
		return
	}

	normalized := strings.ToLower(strings.TrimSpace(label))

	switch {
	case approveLabels[normalized]:
		h.handleApproval(c, topup, itemID, digestHex, label)
	case rejectLabels[normalized]:
		h.handleRejection(c, topup, itemID, digestHex, label)
	default:
		h.audit(itemID, digestHex, label, model.WebhookOutcomeIgnored, fmt.Sprintf("unhandled label %q", label))
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": fmt.Sprintf("unhandled label %q", label)})
	}
}

func (h *Handler) handleApproval(c *gin.Context, topup *model.PendingTopup, itemID, digest, label string) {
	err := h.store.TransitionStatus(topup.ID, model.StatusPending, model.StatusApproved, ActorBoard)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			// A concurrent delivery won the race.
			reason := "ignored - concurrent transition"
			h.audit(itemID, digest, label, model.WebhookOutcomeIgnored, reason)
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": reason})
			return
		}
		h.audit(itemID, digest, label, model.WebhookOutcomeError, err.Error())
		c.JSON(http.StatusOK, gin.H{"status": "error", "detail": "approval failed"})
		return
	}

	logrus.Infof("Topup %s approved via board item %s", topup.ID, itemID)
	h.refreshPendingGauge()

	topup.Status = model.StatusApproved
	if err := h.bridge.Credit(c.Request.Context(), topup, ActorBoard); err != nil {
		// The topup stays approved with credit_error recorded; an
		// operator retries manually. The board still gets a 200.
		h.audit(itemID, digest, label, model.WebhookOutcomeSuccess, fmt.Sprintf("approved, credit failed: %v", err))
		c.JSON(http.StatusOK, gin.H{"status": "success", "credited": false, "detail": err.Error()})
		return
	}

	if err := h.syncer.MirrorStatus(c.Request.Context(), topup.ID, model.StatusCredited); err != nil {
		logrus.Warnf("Failed to mirror credited status for topup %s: %v", topup.ID, err)
	}

	h.audit(itemID, digest, label, model.WebhookOutcomeSuccess, "approved and credited")
	c.JSON(http.StatusOK, gin.H{"status": "success", "credited": true})
}

func (h *Handler) handleRejection(c *gin.Context, topup *model.PendingTopup, itemID, digest, label string) {
	err := h.store.TransitionStatus(topup.ID, model.StatusPending, model.StatusRejected, ActorBoard)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			reason := "ignored - concurrent transition"
			h.audit(itemID, digest, label, model.WebhookOutcomeIgnored, reason)
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": reason})
			return
		}
		h.audit(itemID, digest, label, model.WebhookOutcomeError, err.Error())
		c.JSON(http.StatusOK, gin.H{"status": "error", "detail": "rejection failed"})
		return
	}

	logrus.Infof("Topup %s rejected via board item %s (label %q)", topup.ID, itemID, label)
	h.refreshPendingGauge()
	h.audit(itemID, digest, label, model.WebhookOutcomeSuccess, fmt.Sprintf("rejected with label %q", label))
	c.JSON(http.StatusOK, gin.H{"status": "success", "rejected": true})
}

// audit appends one row to the webhook audit log. Audit failures are logged
// and swallowed; losing an audit row must not change the board's response.
func (h *Handler) audit(itemID, digest, label, outcome, detail string) {
	event := &model.WebhookEvent{
		BoardItemID:   itemID,
		PayloadDigest: digest,
		Label:         label,
		Outcome:       outcome,
		Detail:        detail,
	}
	if err := h.store.AppendWebhookEvent(event); err != nil {
		logrus.Errorf("Failed to append webhook audit event: %v", err)
	}
	h.metrics.WebhookEvents.WithLabelValues(outcome).Inc()
}

func (h *Handler) refreshPendingGauge() {
	count, err := h.store.CountByStatus(model.StatusPending)
	if err != nil {
		logrus.Warnf("Failed to count pending topups: %v", err)
		return
	}
	h.metrics.PendingTopups.Set(float64(count))
}

// ParseLabel normalizes the status label out of the event value. The board
// delivers it as a plain string, a {label: ...} object (where label is a
// string or a {text: ...} object), or a JSON-encoded string wrapping either.
func ParseLabel(raw json.RawMessage) (string, error) {
	return parseLabel(raw, 0)
}

func parseLabel(raw json.RawMessage, depth int) (string, error) {
	if depth > 3 {
		return "", fmt.Errorf("label nesting too deep")
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("empty value")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		trimmed := strings.TrimSpace(s)
		// A JSON-encoded string may wrap another encoding level.
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "\"") {
			if label, err := parseLabel(json.RawMessage(trimmed), depth+1); err == nil {
				return label, nil
			}
		}
		if trimmed == "" {
			return "", fmt.Errorf("empty label")
		}
		return trimmed, nil
	}

	var obj struct {
		Label json.RawMessage `json:"label"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && len(obj.Label) > 0 {
		if label, err := parseLabel(obj.Label, depth+1); err == nil {
			return label, nil
		}
		var text struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(obj.Label, &text); err == nil && text.Text != "" {
			return strings.TrimSpace(text.Text), nil
		}
	}

	var text struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &text); err == nil && text.Text != "" {
		return strings.TrimSpace(text.Text), nil
	}

	return "", fmt.Errorf("unrecognized label encoding")
}
