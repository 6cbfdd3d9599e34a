package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TopupStatus is the lifecycle state of a PendingTopup.
type TopupStatus string

const (
	StatusPending  TopupStatus = "pending"
	StatusApproved TopupStatus = "approved"
	StatusRejected TopupStatus = "rejected"
	StatusCredited TopupStatus = "credited"
)

// CanTransitionTo reports whether moving from s to next is a valid
// lifecycle transition. approved, rejected and credited are terminal
// except for the approved -> credited step.
func (s TopupStatus) CanTransitionTo(next TopupStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusRejected
	case StatusApproved:
		return next == StatusCredited
	default:
		return false
	}
}

// IsTerminal reports whether no further approval/rejection may be applied.
func (s TopupStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCredited
}

// RiskLevel is the dedup engine's classification of a candidate.
type RiskLevel string

const (
	RiskClear              RiskLevel = "clear"
	RiskLow                RiskLevel = "low_risk"
	RiskPotentialDuplicate RiskLevel = "potential_duplicate"
	RiskDuplicate          RiskLevel = "duplicate"
)

// Topup sources.
const (
	SourceInbox  = "inbox"
	SourceManual = "manual"
)

// MatchedItem summarizes an existing topup that a dedup layer matched.
type MatchedItem struct {
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
	Sender string          `json:"sender"`
	Status TopupStatus     `json:"status"`
	Date   time.Time       `json:"date"`
}

// PendingTopup is a staged, not-yet-credited transaction candidate
// awaiting approval.
type PendingTopup struct {
	ID string `json:"id" gorm:"primaryKey;type:varchar(36)"`

	// Financial facts
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(18,2);not null"`
	Currency      string          `json:"currency" gorm:"type:varchar(8);not null"`
	SenderName    string          `json:"sender_name" gorm:"type:varchar(255)"`
	BankReference string          `json:"bank_reference" gorm:"type:varchar(255);index"`

	// Provenance
	Source        string     `json:"source" gorm:"type:varchar(16);not null"` // inbox, manual
	SourceEmailID string     `json:"source_email_id" gorm:"type:varchar(255);index"`
	EmailSubject  string     `json:"email_subject" gorm:"type:varchar(512)"`
	EmailFrom     string     `json:"email_from" gorm:"type:varchar(255)"`
	EmailPreview  string     `json:"email_preview" gorm:"type:text"`
	EmailDate     *time.Time `json:"email_date,omitempty"`
	ExtractorRaw  string     `json:"extractor_raw" gorm:"type:text"`
	Confidence    int        `json:"confidence"`

	// Classification
	RiskLevel    RiskLevel     `json:"risk_level" gorm:"type:varchar(32);not null;default:'clear'"`
	Warning      string        `json:"warning" gorm:"type:text"`
	Warnings     []string      `json:"warnings" gorm:"serializer:json;type:text"`
	MatchedItems []MatchedItem `json:"matched_items" gorm:"serializer:json;type:text"`

	// Routing
	RuleReason  string `json:"rule_reason" gorm:"type:varchar(255)"`
	AutoApprove bool   `json:"auto_approve"`

	// Lifecycle
	Status      TopupStatus `json:"status" gorm:"type:varchar(16);not null;default:'pending';index"`
	ReviewedBy  string      `json:"reviewed_by" gorm:"type:varchar(255)"`
	ReviewedAt  *time.Time  `json:"reviewed_at,omitempty"`
	CreditError string      `json:"credit_error" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for PendingTopup
func (PendingTopup) TableName() string {
	return "pending_topups"
}
