package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"topup-reconciler/internal/config"
	"topup-reconciler/internal/model"
	"topup-reconciler/internal/store"
)

// BoardClient is the slice of the monday client the syncer uses.
type BoardClient interface {
	CreateItem(ctx context.Context, boardID, groupID, name string, columnValues map[string]interface{}) (string, error)
	CreateUpdate(ctx context.Context, itemID, body string) error
	ChangeColumnValue(ctx context.Context, boardID, itemID, columnID string, value interface{}) error
}

// Store is the slice of the pending store the syncer uses.
type Store interface {
	CreateBoardLink(link *model.BoardLink) error
	GetLinkByTopup(topupID string) (*model.BoardLink, error)
}

// Syncer mirrors pending topups out to the approval board. Mirroring is
// best-effort: a board outage must never fail ingestion, the topup already
// exists locally.
type Syncer struct {
	client BoardClient
	store  Store
	cfg    config.MondayConfig
}

// New creates a new board syncer
func New(client BoardClient, store Store, cfg config.MondayConfig) *Syncer {
	return &Syncer{client: client, store: store, cfg: cfg}
}

// MirrorOut creates the board item for a freshly staged topup, posts the
// audit comment if configured, and persists the linkage.
func (s *Syncer) MirrorOut(ctx context.Context, topup *model.PendingTopup) error {
	name := fmt.Sprintf("%s %s - %s (%s)", topup.Amount.String(), topup.Currency, topup.SenderName, topup.Source)

	itemID, err := s.client.CreateItem(ctx, s.cfg.BoardID, s.cfg.GroupID, name, s.columnValues(topup))
	if err != nil {
		return fmt.Errorf("failed to create board item: %w", err)
	}

	link := &model.BoardLink{
		TopupID:     topup.ID,
		BoardItemID: itemID,
		BoardID:     s.cfg.BoardID,
	}
	if err := s.store.CreateBoardLink(link); err != nil {
		// Without the linkage the webhook cannot resolve this item, so
		// this is the one sync failure worth surfacing loudly.
		return fmt.Errorf("board item %s created but linkage not persisted: %w", itemID, err)
	}

	if s.cfg.PostEmailBody {
		if err := s.client.CreateUpdate(ctx, itemID, s.auditComment(topup)); err != nil {
			logrus.Warnf("Failed to post audit comment for topup %s on item %s: %v", topup.ID, itemID, err)
		}
	}

	logrus.Infof("Mirrored topup %s to board item %s", topup.ID, itemID)
	return nil
}

// MirrorStatus pushes a local status change back onto the board item so the
// board column tracks reviews made through the admin API and credits made by
// the wallet bridge, not just webhook clicks. No-op when the topup was never
// mirrored or the status column is not configured.
func (s *Syncer) MirrorStatus(ctx context.Context, topupID string, status model.TopupStatus) error {
	if s.cfg.StatusColumn == "" {
		return nil
	}

	link, err := s.store.GetLinkByTopup(topupID)
	if errors.Is(err, store.ErrNotFound) {
		logrus.Debugf("Topup %s has no board item, skipping status mirror", topupID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve board link for topup %s: %w", topupID, err)
	}

	value := map[string]string{"label": statusLabel(status)}
	if err := s.client.ChangeColumnValue(ctx, link.BoardID, link.BoardItemID, s.cfg.StatusColumn, value); err != nil {
		return fmt.Errorf("failed to update board status for item %s: %w", link.BoardItemID, err)
	}

	logrus.Infof("Mirrored status %s for topup %s to board item %s", status, topupID, link.BoardItemID)
	return nil
}

// columnValues maps topup fields onto the operator-configured column ids.
// Unconfigured columns are skipped; the board schema is tenant-specific.
func (s *Syncer) columnValues(topup *model.PendingTopup) map[string]interface{} {
	values := make(map[string]interface{})

	if s.cfg.AmountColumn != "" {
		values[s.cfg.AmountColumn] = topup.Amount.String()
	}
	if s.cfg.SenderColumn != "" {
		values[s.cfg.SenderColumn] = topup.SenderName
	}
	if s.cfg.StatusColumn != "" {
		values[s.cfg.StatusColumn] = map[string]string{"label": "Pending"}
	}
	if s.cfg.RiskColumn != "" {
		values[s.cfg.RiskColumn] = riskLabel(topup.RiskLevel)
	}
	if s.cfg.ReferenceColumn != "" {
		values[s.cfg.ReferenceColumn] = topup.BankReference
	}
	if s.cfg.DateColumn != "" && topup.EmailDate != nil {
		values[s.cfg.DateColumn] = map[string]string{"date": topup.EmailDate.Format("2006-01-02")}
	}
	if s.cfg.SourceColumn != "" {
		values[s.cfg.SourceColumn] = topup.Source
	}
	if s.cfg.ConfidenceColumn != "" {
		values[s.cfg.ConfidenceColumn] = fmt.Sprintf("%d", topup.Confidence)
	}

	return values
}

// auditComment renders the full email and risk breakdown for human review.
func (s *Syncer) auditComment(topup *model.PendingTopup) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Amount: %s %s\n", topup.Amount.String(), topup.Currency)
	fmt.Fprintf(&sb, "Sender: %s\n", topup.SenderName)
	if topup.BankReference != "" {
		fmt.Fprintf(&sb, "Bank reference: %s\n", topup.BankReference)
	}
	fmt.Fprintf(&sb, "Extractor confidence: %d\n", topup.Confidence)
	fmt.Fprintf(&sb, "Risk: %s\n", riskLabel(topup.RiskLevel))
	for _, warning := range topup.Warnings {
		fmt.Fprintf(&sb, "  - %s\n", warning)
	}
	for _, match := range topup.MatchedItems {
		fmt.Fprintf(&sb, "  matched %s: %s from %s (%s, %s)\n",
			match.ID, match.Amount.String(), match.Sender, match.Status, match.Date.Format("2006-01-02 15:04"))
	}

	if topup.EmailSubject != "" || topup.EmailPreview != "" {
		fmt.Fprintf(&sb, "\nEmail subject: %s\nEmail from: %s\n\n%s\n", topup.EmailSubject, topup.EmailFrom, topup.EmailPreview)
	}

	return sb.String()
}

func statusLabel(status model.TopupStatus) string {
	switch status {
	case model.StatusPending:
		return "Pending"
	case model.StatusApproved:
		return "Approved"
	case model.StatusRejected:
		return "Rejected"
	case model.StatusCredited:
		return "Credited"
	default:
		return string(status)
	}
}

func riskLabel(level model.RiskLevel) string {
	switch level {
	case model.RiskClear:
		return "Clear"
	case model.RiskLow:
		return "Low risk"
	case model.RiskPotentialDuplicate:
		return "Potential duplicate"
	case model.RiskDuplicate:
		return "Duplicate"
	default:
		return string(level)
	}
}
