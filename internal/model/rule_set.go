package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleSet is the operator-editable filtering configuration. A single row
// (ID 1) is used; the admin API edits it in place.
type RuleSet struct {
	ID                     uint            `json:"id" gorm:"primaryKey"`
	SenderWhitelist        []string        `json:"sender_whitelist" gorm:"serializer:json;type:text"`
	MustContainKeywords    []string        `json:"must_contain_keywords" gorm:"serializer:json;type:text"`
	MustNotContainKeywords []string        `json:"must_not_contain_keywords" gorm:"serializer:json;type:text"`
	AmountMaxThreshold     decimal.Decimal `json:"amount_max_threshold" gorm:"type:decimal(18,2)"`
	AutoApproveThreshold   decimal.Decimal `json:"amount_auto_approve_threshold" gorm:"type:decimal(18,2)"`
	Enabled                bool            `json:"enabled"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// TableName specifies the table name for RuleSet
func (RuleSet) TableName() string {
	return "rule_sets"
}
