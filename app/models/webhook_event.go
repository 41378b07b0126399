package models

import "time"

// Webhook event processing statuses
const (
	WebhookStatusQueued     = "queued"
	WebhookStatusProcessing = "processing"
	WebhookStatusDone       = "done"
	WebhookStatusDead       = "dead"
)

// Webhook priorities; lower number is drained first when the fallback
// tier is polled.
const (
	WebhookPriorityHigh   = 1
	WebhookPriorityNormal = 5
	WebhookPriorityLow    = 10
)

// WebhookEvent stores an inbound provider callback with deduplication
// metadata. Rows double as the durable fallback queue tier and as the
// audit/idempotency trail; they are only removed by TTL cleanup, never
// by the worker.
type WebhookEvent struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	EventID        string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"event_id"`
	Provider       string     `gorm:"type:varchar(32);not null;index:idx_webhook_provider_endpoint,priority:1" json:"provider"`
	Endpoint       string     `gorm:"type:varchar(64);not null;index:idx_webhook_provider_endpoint,priority:2" json:"endpoint"`
	Payload        string     `gorm:"type:longtext;not null" json:"payload"`
	Headers        string     `gorm:"type:text" json:"headers"`
	ClientIP       string     `gorm:"type:varchar(45)" json:"client_ip"`
	SignatureValid bool       `gorm:"default:false" json:"signature_valid"`
	Priority       int        `gorm:"default:5;index" json:"priority"`
	Status         string     `gorm:"type:varchar(20);not null;default:'queued';index" json:"status"`
	RetryCount     int        `gorm:"default:0" json:"retry_count"`
	MaxRetries     int        `gorm:"default:3" json:"max_retries"`
	LastError      string     `gorm:"type:text" json:"last_error"`
	ProcessedAt    *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsRetryable reports whether the event may be re-queued after a transient failure.
func (e *WebhookEvent) IsRetryable() bool {
	return e.Status != WebhookStatusDead && e.RetryCount < e.MaxRetries
}

// MarkProcessing stamps the event as picked up by a worker.
func (e *WebhookEvent) MarkProcessing() {
	e.Status = WebhookStatusProcessing
	e.UpdatedAt = time.Now()
}

// MarkDone stamps the event as fully processed.
func (e *WebhookEvent) MarkDone() {
	now := time.Now()
	e.Status = WebhookStatusDone
	e.ProcessedAt = &now
	e.UpdatedAt = now
	e.LastError = ""
}

// MarkFailed records a failed attempt; the event goes dead once retries
// are exhausted.
func (e *WebhookEvent) MarkFailed(errMsg string) {
	e.RetryCount++
	e.LastError = errMsg
	e.UpdatedAt = time.Now()
	if e.RetryCount >= e.MaxRetries {
		e.Status = WebhookStatusDead
	} else {
		e.Status = WebhookStatusQueued
	}
}
