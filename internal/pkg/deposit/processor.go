package deposit

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/tradesafe-app/paygate/internal/pkg/lockmanager"
	"github.com/tradesafe-app/paygate/internal/pkg/resilience"
	"github.com/tradesafe-app/paygate/internal/pkg/webhookqueue"
)

// processTimeout bounds one reconcile run end to end, on top of the
// per-category breaker timeouts inside.
const processTimeout = 60 * time.Second

// QueueProcessor adapts the reconciliation service to the intake
// queue's processor contract and maps its error taxonomy onto queue
// results.
func (s *Service) QueueProcessor() webhookqueue.Processor {
	return func(event *webhookqueue.Event) (webhookqueue.Result, error) {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()

		in, err := NormalizePayload(event.Provider, event.Payload)
		if err != nil {
			// Malformed payloads never become valid on retry.
			return webhookqueue.ResultError, err
		}

		outcome, err := s.Reconcile(ctx, *in)
		if err != nil {
			switch {
			case errors.Is(err, lockmanager.ErrLockContention):
				return webhookqueue.ResultAlreadyProcessing, err
			case errors.Is(err, ErrProtectedState):
				// Terminal by policy; retrying would re-reject forever.
				return webhookqueue.ResultError, err
			case errors.Is(err, ErrOrderNotFound):
				// The order may be committed by a lagging writer; retry
				// a few times before declaring the webhook dead.
				return webhookqueue.ResultRetry, err
			case errors.Is(err, resilience.ErrCircuitOpen):
				return webhookqueue.ResultRetry, err
			default:
				return webhookqueue.ResultRetry, err
			}
		}

		log.Infof("[Deposit] Event %s: %s (txid=%s status=%s)",
			event.ID, outcome.Action, in.TxID, outcome.Status)
		return webhookqueue.ResultSuccess, nil
	}
}
