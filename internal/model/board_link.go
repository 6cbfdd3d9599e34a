package model

import "time"

// BoardLink maps a PendingTopup to the monday.com item mirroring it.
// Created when the item is first synced out; read-only afterward.
type BoardLink struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	TopupID     string    `json:"topup_id" gorm:"type:varchar(36);not null;uniqueIndex"`
	BoardItemID string    `json:"board_item_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	BoardID     string    `json:"board_id" gorm:"type:varchar(64);not null"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for BoardLink
func (BoardLink) TableName() string {
	return "board_links"
}
