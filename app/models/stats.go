package models

// WebhookDailyStat aggregates per-provider intake/credit counts per
// day. Rows are written by the counter flush worker via batched
// upserts, not through GORM callbacks.
type WebhookDailyStat struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	StatDate      string `gorm:"type:date;not null;index:ux_webhook_daily_stats,unique,priority:1" json:"stat_date"`
	Provider      string `gorm:"type:varchar(32);not null;index:ux_webhook_daily_stats,unique,priority:2" json:"provider"`
	IntakeCount   int64  `gorm:"default:0" json:"intake_count"`
	CreditedCount int64  `gorm:"default:0" json:"credited_count"`
}
