package model

import "time"

// Webhook processing outcomes.
const (
	WebhookOutcomeSuccess   = "success"
	WebhookOutcomeIgnored   = "ignored"
	WebhookOutcomeError     = "error"
	WebhookOutcomeChallenge = "challenge"
)

// WebhookEvent is one row of the append-only audit log for inbound board
// webhooks. The board is an external system outside direct control, so this
// log is the primary debugging surface for the approval path.
type WebhookEvent struct {
	ID            uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	BoardItemID   string    `json:"board_item_id" gorm:"type:varchar(64);index"`
	PayloadDigest string    `json:"payload_digest" gorm:"type:varchar(64)"`
	Label         string    `json:"label" gorm:"type:varchar(128)"`
	Outcome       string    `json:"outcome" gorm:"type:varchar(16);not null;index"`
	Detail        string    `json:"detail" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at" gorm:"index"`
}

// TableName specifies the table name for WebhookEvent
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
