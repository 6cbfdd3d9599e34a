package model

import "time"

// Polling modes.
const (
	PollingModeRealtime = "realtime"
	PollingModeManual   = "manual"
)

// PollerSettings is the operator-editable polling configuration. A single
// row (ID 1) is used. The poller re-reads it at the top of every cycle so a
// flag flip takes effect without a restart.
type PollerSettings struct {
	ID                     uint       `json:"id" gorm:"primaryKey"`
	Enabled                bool       `json:"enabled" gorm:"default:false"`
	PollingMode            string     `json:"polling_mode" gorm:"type:varchar(32);default:'realtime'"`
	PollingIntervalMinutes int        `json:"polling_interval_minutes" gorm:"default:5"`
	LastAutoScan           *time.Time `json:"last_auto_scan,omitempty"`
	LastScanCreated        int        `json:"last_scan_created"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// TableName specifies the table name for PollerSettings
func (PollerSettings) TableName() string {
	return "poller_settings"
}
