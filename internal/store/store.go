package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"topup-reconciler/internal/model"
)

var (
	// ErrEmailAlreadyProcessed is returned when a topup creation is
	// attempted for an email id that already has a processed marker.
	ErrEmailAlreadyProcessed = errors.New("email already processed")

	// ErrStatusConflict is returned when a status transition finds the
	// topup in a different state than expected. Duplicate webhook
	// deliveries surface as this error.
	ErrStatusConflict = errors.New("topup status conflict")

	// ErrInvalidTransition is returned for transitions the state machine
	// does not allow at all.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
)

// Store is the single source of truth for pending topups and the tables
// around them.
type Store struct {
	db *gorm.DB
}

// New creates a new Store
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// IsEmailProcessed checks whether a processed marker exists for the email id.
func (s *Store) IsEmailProcessed(emailID string) (bool, error) {
	var marker model.ProcessedEmail
	result := s.db.Where("email_id = ?", emailID).First(&marker)
	if result.Error == nil {
		return true, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("database error checking processed email: %w", result.Error)
}

// MarkEmailProcessed records the terminal outcome for an email that did not
// produce a pending topup (skipped or rejected by rules).
func (s *Store) MarkEmailProcessed(emailID, outcome, detail string) error {
	marker := model.ProcessedEmail{
		EmailID:     emailID,
		Outcome:     outcome,
		Detail:      detail,
		ProcessedAt: time.Now(),
	}
	if err := s.db.Create(&marker).Error; err != nil {
		return fmt.Errorf("failed to mark email as processed: %w", err)
	}
	return nil
}

// CreateTopupForEmail creates a pending topup together with its processed
// marker in one transaction. The marker's unique index on email_id is what
// enforces at most one topup per source email even under concurrent scans.
func (s *Store) CreateTopupForEmail(topup *model.PendingTopup) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing model.ProcessedEmail
		err := tx.Where("email_id = ?", topup.SourceEmailID).First(&existing).Error
		if err == nil {
			return ErrEmailAlreadyProcessed
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("database error checking processed email: %w", err)
		}

		marker := model.ProcessedEmail{
			EmailID:     topup.SourceEmailID,
			Outcome:     model.OutcomeCreatedPending,
			Detail:      topup.ID,
			ProcessedAt: time.Now(),
		}
		if err := tx.Create(&marker).Error; err != nil {
			return fmt.Errorf("failed to create processed marker: %w", err)
		}

		if err := tx.Create(topup).Error; err != nil {
			return fmt.Errorf("failed to create pending topup: %w", err)
		}
		return nil
	})
}

// CreateTopup creates a manually staged topup (no source email).
func (s *Store) CreateTopup(topup *model.PendingTopup) error {
	if err := s.db.Create(topup).Error; err != nil {
		return fmt.Errorf("failed to create pending topup: %w", err)
	}
	return nil
}

// GetTopup returns a topup by id.
func (s *Store) GetTopup(id string) (*model.PendingTopup, error) {
	var topup model.PendingTopup
	result := s.db.Where("id = ?", id).First(&topup)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get topup: %w", result.Error)
	}
	return &topup, nil
}

// ListTopups returns topups ordered newest first, optionally filtered by
// status, with offset pagination.
func (s *Store) ListTopups(status model.TopupStatus, offset, limit int) ([]model.PendingTopup, int64, error) {
	query := s.db.Model(&model.PendingTopup{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count topups: %w", err)
	}

	var topups []model.PendingTopup
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&topups).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list topups: %w", err)
	}
	return topups, total, nil
}

// CountByStatus counts topups currently in the given status.
func (s *Store) CountByStatus(status model.TopupStatus) (int64, error) {
	var count int64
	if err := s.db.Model(&model.PendingTopup{}).Where("status = ?", status).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count topups: %w", err)
	}
	return count, nil
}

// TransitionStatus moves a topup from one status to another as a single
// conditional update. The WHERE clause on the current status makes the
// check-and-write atomic, so two concurrent identical webhook deliveries
// cannot both succeed: the second one gets ErrStatusConflict.
func (s *Store) TransitionStatus(id string, from, to model.TopupStatus, actor string) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	if to == model.StatusApproved || to == model.StatusRejected {
		updates["reviewed_by"] = actor
		updates["reviewed_at"] = now
	}

	result := s.db.Model(&model.PendingTopup{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to transition topup status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// SetCreditError records a ledger failure on an approved topup. The topup
// stays approved; an operator retries the credit manually.
func (s *Store) SetCreditError(id, message string) error {
	result := s.db.Model(&model.PendingTopup{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"credit_error": message, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to set credit error: %w", result.Error)
	}
	return nil
}

// FindByBankReference returns topups in the given statuses whose bank
// reference matches exactly. Used by the strictest dedup layer.
func (s *Store) FindByBankReference(reference string, statuses []model.TopupStatus) ([]model.PendingTopup, error) {
	var topups []model.PendingTopup
	result := s.db.Where("bank_reference = ? AND status IN ?", reference, statuses).Find(&topups)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query by bank reference: %w", result.Error)
	}
	return topups, nil
}

// FindCreatedSince returns topups created at or after the given time,
// newest first. The fuzzy dedup layers compare amounts and senders in
// memory on this window.
func (s *Store) FindCreatedSince(since time.Time) ([]model.PendingTopup, error) {
	var topups []model.PendingTopup
	result := s.db.Where("created_at >= ?", since).Order("created_at DESC").Find(&topups)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query recent topups: %w", result.Error)
	}
	return topups, nil
}

// GetRuleSet returns the singleton rule set, creating a disabled default
// row on first use.
func (s *Store) GetRuleSet() (*model.RuleSet, error) {
	var rs model.RuleSet
	err := s.db.First(&rs, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		rs = model.RuleSet{ID: 1, Enabled: false}
		if err := s.db.Create(&rs).Error; err != nil {
			return nil, fmt.Errorf("failed to create default rule set: %w", err)
		}
		return &rs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule set: %w", err)
	}
	return &rs, nil
}

// UpdateRuleSet replaces the singleton rule set.
func (s *Store) UpdateRuleSet(rs *model.RuleSet) error {
	rs.ID = 1
	if err := s.db.Save(rs).Error; err != nil {
		return fmt.Errorf("failed to update rule set: %w", err)
	}
	return nil
}

// GetPollerSettings returns the singleton poller settings, creating a
// disabled default row on first use.
func (s *Store) GetPollerSettings() (*model.PollerSettings, error) {
	var ps model.PollerSettings
	err := s.db.First(&ps, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		ps = model.PollerSettings{
			ID:                     1,
			Enabled:                false,
			PollingMode:            model.PollingModeRealtime,
			PollingIntervalMinutes: 5,
		}
		if err := s.db.Create(&ps).Error; err != nil {
			return nil, fmt.Errorf("failed to create default poller settings: %w", err)
		}
		return &ps, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poller settings: %w", err)
	}
	return &ps, nil
}

// UpdatePollerSettings replaces the singleton poller settings.
func (s *Store) UpdatePollerSettings(ps *model.PollerSettings) error {
	ps.ID = 1
	if err := s.db.Save(ps).Error; err != nil {
		return fmt.Errorf("failed to update poller settings: %w", err)
	}
	return nil
}

// RecordScan stores the last-scan timestamp and created count after a
// polling cycle.
func (s *Store) RecordScan(at time.Time, created int) error {
	result := s.db.Model(&model.PollerSettings{}).
		Where("id = ?", 1).
		Updates(map[string]interface{}{"last_auto_scan": at, "last_scan_created": created})
	if result.Error != nil {
		return fmt.Errorf("failed to record scan: %w", result.Error)
	}
	return nil
}

// CreateBoardLink persists the topup <-> board item linkage.
func (s *Store) CreateBoardLink(link *model.BoardLink) error {
	if err := s.db.Create(link).Error; err != nil {
		return fmt.Errorf("failed to create board link: %w", err)
	}
	return nil
}

// GetLinkByBoardItem resolves a board item id to its linkage.
func (s *Store) GetLinkByBoardItem(boardItemID string) (*model.BoardLink, error) {
	var link model.BoardLink
	result := s.db.Where("board_item_id = ?", boardItemID).First(&link)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get board link: %w", result.Error)
	}
	return &link, nil
}

// GetLinkByTopup resolves a topup id to its linkage.
func (s *Store) GetLinkByTopup(topupID string) (*model.BoardLink, error) {
	var link model.BoardLink
	result := s.db.Where("topup_id = ?", topupID).First(&link)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get board link: %w", result.Error)
	}
	return &link, nil
}

// AppendWebhookEvent appends one row to the webhook audit log.
func (s *Store) AppendWebhookEvent(event *model.WebhookEvent) error {
	if err := s.db.Create(event).Error; err != nil {
		return fmt.Errorf("failed to append webhook event: %w", err)
	}
	return nil
}

// ListWebhookEvents returns audit log rows, newest first.
func (s *Store) ListWebhookEvents(offset, limit int) ([]model.WebhookEvent, int64, error) {
	var total int64
	if err := s.db.Model(&model.WebhookEvent{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count webhook events: %w", err)
	}

	var events []model.WebhookEvent
	if err := s.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list webhook events: %w", err)
	}
	return events, total, nil
}
