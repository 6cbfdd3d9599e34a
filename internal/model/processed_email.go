package model

import "time"

// Processed email outcomes.
const (
	OutcomeCreatedPending        = "created_pending"
	OutcomeRejectedByRules       = "rejected_by_rules"
	OutcomeSkippedNotTransaction = "skipped_not_transaction"
)

// ProcessedEmail records the terminal outcome for every inbox message ever
// examined. One row per email id, created once and never mutated; its
// existence is what makes re-polling idempotent.
type ProcessedEmail struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	EmailID     string    `json:"email_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	Outcome     string    `json:"outcome" gorm:"type:varchar(32);not null"`
	Detail      string    `json:"detail" gorm:"type:varchar(512)"`
	ProcessedAt time.Time `json:"processed_at"`
}

// TableName specifies the table name for ProcessedEmail
func (ProcessedEmail) TableName() string {
	return "processed_emails"
}
