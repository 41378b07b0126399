package webhookqueue

import (
	"time"

	"github.com/tradesafe-app/paygate/app/models"
)

// Result is the outcome a processor reports for one event.
type Result string

const (
	// ResultSuccess: the event is fully processed.
	ResultSuccess Result = "success"
	// ResultAlreadyProcessing: another worker holds the lock for the
	// same transaction; the event is re-queued without counting as a
	// failure.
	ResultAlreadyProcessing Result = "already_processing"
	// ResultRetry: a transient failure; re-queued with backoff up to
	// MaxRetries, then marked dead.
	ResultRetry Result = "retry"
	// ResultError: a permanent failure; the event is marked dead
	// immediately.
	ResultError Result = "error"
)

// Processor handles one webhook event. It is registered per
// (provider, endpoint) pair and invoked by the worker loop.
type Processor func(event *Event) (Result, error)

// Event is the in-flight representation of a webhook callback moving
// through the intake queue. Its fields mirror models.WebhookEvent; the
// Redis tier stores it as a JSON blob, the database tier as a row.
type Event struct {
	ID             string            `json:"id"`
	Provider       string            `json:"provider"`
	Endpoint       string            `json:"endpoint"`
	Payload        string            `json:"payload"`
	Headers        map[string]string `json:"headers,omitempty"`
	ClientIP       string            `json:"client_ip"`
	SignatureValid bool              `json:"signature_valid"`
	Priority       int               `json:"priority"`
	Status         string            `json:"status"`
	RetryCount     int               `json:"retry_count"`
	MaxRetries     int               `json:"max_retries"`
	LastError      string            `json:"last_error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty"`
}

// IsRetryable reports whether the event may be re-queued after a
// transient failure.
func (e *Event) IsRetryable() bool {
	return e.RetryCount < e.MaxRetries
}

// MarkProcessing stamps the event as picked up by a worker.
func (e *Event) MarkProcessing() {
	now := time.Now()
	e.Status = models.WebhookStatusProcessing
	e.UpdatedAt = now
	e.ProcessedAt = &now
}

// MarkDone stamps the event as fully processed.
func (e *Event) MarkDone() {
	now := time.Now()
	e.Status = models.WebhookStatusDone
	e.UpdatedAt = now
	e.ProcessedAt = &now
	e.LastError = ""
}

// MarkFailed records a failed attempt and flips the event to dead once
// retries are exhausted.
func (e *Event) MarkFailed(errMsg string) {
	e.RetryCount++
	e.LastError = errMsg
	e.UpdatedAt = time.Now()
	if e.RetryCount >= e.MaxRetries {
		e.Status = models.WebhookStatusDead
	} else {
		e.Status = models.WebhookStatusQueued
	}
}

// MarkDead marks the event permanently failed.
func (e *Event) MarkDead(errMsg string) {
	e.Status = models.WebhookStatusDead
	e.LastError = errMsg
	e.UpdatedAt = time.Now()
}

// toModel converts the in-flight event to its database row form.
func (e *Event) toModel() *models.WebhookEvent {
	return &models.WebhookEvent{
		EventID:        e.ID,
		Provider:       e.Provider,
		Endpoint:       e.Endpoint,
		Payload:        e.Payload,
		Headers:        encodeHeaders(e.Headers),
		ClientIP:       e.ClientIP,
		SignatureValid: e.SignatureValid,
		Priority:       e.Priority,
		Status:         e.Status,
		RetryCount:     e.RetryCount,
		MaxRetries:     e.MaxRetries,
		LastError:      e.LastError,
		ProcessedAt:    e.ProcessedAt,
	}
}

// eventFromModel converts a database row back to the in-flight form.
func eventFromModel(m *models.WebhookEvent) *Event {
	return &Event{
		ID:             m.EventID,
		Provider:       m.Provider,
		Endpoint:       m.Endpoint,
		Payload:        m.Payload,
		Headers:        decodeHeaders(m.Headers),
		ClientIP:       m.ClientIP,
		SignatureValid: m.SignatureValid,
		Priority:       m.Priority,
		Status:         m.Status,
		RetryCount:     m.RetryCount,
		MaxRetries:     m.MaxRetries,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		ProcessedAt:    m.ProcessedAt,
	}
}
