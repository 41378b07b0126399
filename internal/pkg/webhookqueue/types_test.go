package webhookqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesafe-app/paygate/app/models"
)

func TestResultValues(t *testing.T) {
	tests := []struct {
		name     string
		result   Result
		expected string
	}{
		{"Success", ResultSuccess, "success"},
		{"Already Processing", ResultAlreadyProcessing, "already_processing"},
		{"Retry", ResultRetry, "retry"},
		{"Error", ResultError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.result))
		})
	}
}

func TestEvent_MarkWalk(t *testing.T) {
	e := &Event{
		ID:         "evt-1",
		Provider:   models.ProviderCoinPayd,
		Endpoint:   "ipn",
		Status:     models.WebhookStatusQueued,
		MaxRetries: 3,
	}

	e.MarkProcessing()
	assert.Equal(t, models.WebhookStatusProcessing, e.Status)
	require.NotNil(t, e.ProcessedAt)

	e.MarkDone()
	assert.Equal(t, models.WebhookStatusDone, e.Status)
	assert.Empty(t, e.LastError)
}

func TestEvent_MarkFailedRetriesThenDies(t *testing.T) {
	e := &Event{ID: "evt-1", Status: models.WebhookStatusQueued, MaxRetries: 3}

	e.MarkFailed("first")
	assert.Equal(t, models.WebhookStatusQueued, e.Status)
	assert.Equal(t, 1, e.RetryCount)
	assert.True(t, e.IsRetryable())

	e.MarkFailed("second")
	assert.Equal(t, models.WebhookStatusQueued, e.Status)

	e.MarkFailed("third")
	assert.Equal(t, models.WebhookStatusDead, e.Status)
	assert.Equal(t, "third", e.LastError)
	assert.False(t, e.IsRetryable())
}

func TestEvent_MarkDead(t *testing.T) {
	e := &Event{ID: "evt-1", Status: models.WebhookStatusProcessing, MaxRetries: 3}
	e.MarkDead("no processor")
	assert.Equal(t, models.WebhookStatusDead, e.Status)
	assert.Equal(t, "no processor", e.LastError)
}

func TestEvent_ModelRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	e := &Event{
		ID:             "evt-1",
		Provider:       models.ProviderBlockRail,
		Endpoint:       "notify",
		Payload:        `{"tx_hash":"h"}`,
		Headers:        map[string]string{"X-BlockRail-Signature": "abc"},
		ClientIP:       "10.0.0.1",
		SignatureValid: true,
		Priority:       models.WebhookPriorityHigh,
		Status:         models.WebhookStatusQueued,
		RetryCount:     1,
		MaxRetries:     3,
		LastError:      "transient",
		CreatedAt:      now,
	}

	back := eventFromModel(e.toModel())
	assert.Equal(t, e.ID, back.ID)
	assert.Equal(t, e.Provider, back.Provider)
	assert.Equal(t, e.Endpoint, back.Endpoint)
	assert.Equal(t, e.Payload, back.Payload)
	assert.Equal(t, e.Headers, back.Headers)
	assert.Equal(t, e.SignatureValid, back.SignatureValid)
	assert.Equal(t, e.Priority, back.Priority)
	assert.Equal(t, e.RetryCount, back.RetryCount)
	assert.Equal(t, e.LastError, back.LastError)
}

func TestRegistry_LookupByProviderEndpoint(t *testing.T) {
	r := newRegistry()
	r.register(models.ProviderCoinPayd, "ipn", func(event *Event) (Result, error) {
		return ResultSuccess, nil
	})

	p, err := r.lookup(models.ProviderCoinPayd, "ipn")
	require.NoError(t, err)
	result, err := p(&Event{})
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, result)

	_, err = r.lookup(models.ProviderCoinPayd, "other")
	assert.Error(t, err)
	_, err = r.lookup(models.ProviderBlockRail, "ipn")
	assert.Error(t, err)
}

func TestHeaderCodec(t *testing.T) {
	assert.Empty(t, encodeHeaders(nil))
	assert.Nil(t, decodeHeaders(""))
	assert.Nil(t, decodeHeaders("not json"))

	h := map[string]string{"A": "1", "B": "2"}
	assert.Equal(t, h, decodeHeaders(encodeHeaders(h)))
}
