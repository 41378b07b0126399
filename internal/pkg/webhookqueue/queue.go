package webhookqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tradesafe-app/paygate/app/models"
	"github.com/tradesafe-app/paygate/app/repository"
	"github.com/tradesafe-app/paygate/internal/pkg/cache"
	"github.com/tradesafe-app/paygate/internal/pkg/metrics"
)

const (
	// Redis key prefixes
	EventKeyPrefix     = "webhook:"
	EventQueueKey      = "webhook_queue"
	EventProcessingKey = "webhook_processing"

	// Event settings
	DefaultMaxRetries = 3
	EventTTL          = 24 * time.Hour // Redis-tier events expire after 24 hours
)

// Tier identifies which durable store accepted an enqueue.
type Tier string

const (
	TierRedis    Tier = "redis"
	TierDatabase Tier = "database"
)

// Queue is the two-tier durable webhook intake buffer. Enqueue tries
// the fast Redis tier first and falls back to the database tier, so a
// local storage outage does not lose events. Workers drain both tiers
// and dispatch to registered processors.
type Queue struct {
	client     *redis.Client
	events     repository.WebhookEventRepository
	processors *registry

	workers    int
	workerPool chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool

	// fallback poller tuning
	pollInterval time.Duration
	batchSize    int
}

// NewQueue creates a webhook intake queue.
func NewQueue(workers int, events repository.WebhookEventRepository) *Queue {
	if workers <= 0 {
		workers = 3
	}
	return &Queue{
		client:       cache.GetClient(),
		events:       events,
		processors:   newRegistry(),
		workers:      workers,
		workerPool:   make(chan struct{}, workers),
		stopCh:       make(chan struct{}),
		pollInterval: 5 * time.Second,
		batchSize:    25,
	}
}

// RegisterProcessor installs the processor invoked for events of the
// given provider and endpoint.
func (q *Queue) RegisterProcessor(provider, endpoint string, p Processor) {
	q.processors.register(provider, endpoint, p)
}

// EnqueueRequest carries the intake parameters for one webhook.
type EnqueueRequest struct {
	Provider       string
	Endpoint       string
	Payload        string
	Headers        map[string]string
	ClientIP       string
	SignatureValid bool
	Priority       int
	MaxRetries     int
}

// Enqueue persists the event in the first available tier and returns
// immediately; processing happens asynchronously. The returned latency
// lets the HTTP handler log slow intakes.
func (q *Queue) Enqueue(req EnqueueRequest) (eventID string, tier Tier, latency time.Duration, err error) {
	start := time.Now()

	if req.MaxRetries <= 0 {
		req.MaxRetries = DefaultMaxRetries
	}
	if req.Priority <= 0 {
		req.Priority = models.WebhookPriorityNormal
	}

	event := &Event{
		ID:             uuid.New().String(),
		Provider:       req.Provider,
		Endpoint:       req.Endpoint,
		Payload:        req.Payload,
		Headers:        req.Headers,
		ClientIP:       req.ClientIP,
		SignatureValid: req.SignatureValid,
		Priority:       req.Priority,
		Status:         models.WebhookStatusQueued,
		MaxRetries:     req.MaxRetries,
		CreatedAt:      start,
		UpdatedAt:      start,
	}

	if redisErr := q.enqueueRedis(event); redisErr == nil {
		return event.ID, TierRedis, time.Since(start), nil
	} else {
		log.Errorf("[WebhookQueue] Redis enqueue failed for %s/%s, falling back to database: %v",
			req.Provider, req.Endpoint, redisErr)
		metrics.IntakeFallbacks.Inc()
	}

	if _, _, dbErr := q.events.CreateIfNotExists(event.toModel()); dbErr != nil {
		return "", "", time.Since(start), fmt.Errorf("both intake tiers failed: %w", dbErr)
	}
	return event.ID, TierDatabase, time.Since(start), nil
}

func (q *Queue) enqueueRedis(event *Event) error {
	ctx := context.Background()
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Pipeline so blob write and list push land together.
	pipe := q.client.Pipeline()
	pipe.Set(ctx, EventKeyPrefix+event.ID, data, EventTTL)
	pipe.LPush(ctx, EventQueueKey, event.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// Start starts the queue workers, the fallback-tier poller and the
// stuck-processing sweeper.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}
	q.running = true
	log.Infof("[WebhookQueue] Starting %d workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.workerPool <- struct{}{}
	}
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.wg.Add(1)
	go q.fallbackPoller()

	q.wg.Add(1)
	go q.stuckSweeper(10*time.Minute, time.Minute)
}

// Stop stops all queue goroutines and waits for them to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}
	log.Info("[WebhookQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	log.Info("[WebhookQueue] All workers stopped")
}

// worker drains the Redis tier.
func (q *Queue) worker(id int) {
	defer q.wg.Done()
	log.Infof("[WebhookQueue] Worker %d started", id)

	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			log.Infof("[WebhookQueue] Worker %d stopping", id)
			return
		default:
			<-q.workerPool

			event, err := q.dequeue(ctx)
			if err != nil {
				if err != redis.Nil {
					log.Errorf("[WebhookQueue] Worker %d: dequeue error: %v", id, err)
				}
				q.workerPool <- struct{}{}
				time.Sleep(time.Second)
				continue
			}

			if event != nil {
				q.process(ctx, event, TierRedis)
			}
			q.workerPool <- struct{}{}
		}
	}
}

// dequeue moves the next event id from pending to processing atomically
// and loads its blob.
func (q *Queue) dequeue(ctx context.Context) (*Event, error) {
	id, err := q.client.BRPopLPush(ctx, EventQueueKey, EventProcessingKey, time.Second).Result()
	if err != nil {
		return nil, err
	}

	data, err := q.client.Get(ctx, EventKeyPrefix+id).Result()
	if err != nil {
		// Blob missing; drop the stray processing entry.
		q.client.LRem(ctx, EventProcessingKey, 1, id)
		return nil, fmt.Errorf("event data not found for ID %s", id)
	}

	var event Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		q.client.LRem(ctx, EventProcessingKey, 1, id)
		return nil, fmt.Errorf("failed to unmarshal event %s: %w", id, err)
	}
	return &event, nil
}

// fallbackPoller drains events that landed in the database tier while
// Redis was unavailable, and events requeued there by admins.
func (q *Queue) fallbackPoller() {
	defer q.wg.Done()
	log.Infof("[WebhookQueue] Fallback poller running (interval=%s, batch=%d)", q.pollInterval, q.batchSize)
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			log.Info("[WebhookQueue] Fallback poller stopping")
			return
		case <-ticker.C:
			rows, err := q.events.NextQueuedBatch(q.batchSize)
			if err != nil {
				log.Errorf("[WebhookQueue] Fallback poll error: %v", err)
				continue
			}
			for _, row := range rows {
				claimed, err := q.events.ClaimQueued(row.EventID)
				if err != nil {
					log.Errorf("[WebhookQueue] Claim error for %s: %v", row.EventID, err)
					continue
				}
				if !claimed {
					continue
				}
				event := eventFromModel(&row)
				q.process(ctx, event, TierDatabase)
			}
		}
	}
}

// process runs the registered processor and applies the result
// semantics: success finishes the event, already_processing re-queues
// it untouched, retry backs off up to MaxRetries, error kills it.
func (q *Queue) process(ctx context.Context, event *Event, tier Tier) {
	event.MarkProcessing()
	q.persist(ctx, event, tier)

	processor, err := q.processors.lookup(event.Provider, event.Endpoint)
	if err != nil {
		log.Errorf("[WebhookQueue] %v; marking event %s dead", err, event.ID)
		event.MarkDead(err.Error())
		q.finish(ctx, event, tier)
		metrics.EventsProcessed.WithLabelValues(event.Provider, string(ResultError)).Inc()
		return
	}

	result, procErr := processor(event)
	errMsg := ""
	if procErr != nil {
		errMsg = procErr.Error()
	}
	metrics.EventsProcessed.WithLabelValues(event.Provider, string(result)).Inc()

	switch result {
	case ResultSuccess:
		event.MarkDone()
		q.finish(ctx, event, tier)

	case ResultAlreadyProcessing:
		// Not a failure: another worker owns the lock. Give it time to
		// finish, then try again.
		log.Infof("[WebhookQueue] Event %s already processing elsewhere, requeueing", event.ID)
		event.Status = models.WebhookStatusQueued
		event.UpdatedAt = time.Now()
		q.requeueAfter(event, tier, 30*time.Second)

	case ResultRetry:
		event.MarkFailed(errMsg)
		if event.Status == models.WebhookStatusDead {
			log.Errorf("[WebhookQueue] Event %s permanently failed after %d retries: %s",
				event.ID, event.RetryCount, errMsg)
			q.finish(ctx, event, tier)
			return
		}
		log.Warnf("[WebhookQueue] Retrying event %s (attempt %d/%d): %s",
			event.ID, event.RetryCount, event.MaxRetries, errMsg)
		q.requeueAfter(event, tier, time.Minute*time.Duration(event.RetryCount))

	default: // ResultError
		log.Errorf("[WebhookQueue] Event %s failed permanently: %s", event.ID, errMsg)
		event.MarkDead(errMsg)
		q.finish(ctx, event, tier)
	}
}

// persist writes the event's current state back to its home tier.
func (q *Queue) persist(ctx context.Context, event *Event, tier Tier) {
	if tier == TierDatabase {
		row := event.toModel()
		if stored, err := q.events.GetByEventID(event.ID); err == nil {
			row.ID = stored.ID
			row.CreatedAt = stored.CreatedAt
		}
		if err := q.events.Save(row); err != nil {
			log.Errorf("[WebhookQueue] Failed to persist event %s: %v", event.ID, err)
		}
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Errorf("[WebhookQueue] Failed to marshal event %s: %v", event.ID, err)
		return
	}
	if err := q.client.Set(ctx, EventKeyPrefix+event.ID, data, EventTTL).Err(); err != nil {
		log.Errorf("[WebhookQueue] Failed to update event %s: %v", event.ID, err)
	}
}

// finish records the terminal state. Redis-tier events are additionally
// mirrored to the database so the audit/idempotency trail survives the
// Redis TTL.
func (q *Queue) finish(ctx context.Context, event *Event, tier Tier) {
	q.persist(ctx, event, tier)
	if tier == TierRedis {
		q.client.LRem(ctx, EventProcessingKey, 1, event.ID)
		if _, _, err := q.events.CreateIfNotExists(event.toModel()); err != nil {
			log.Errorf("[WebhookQueue] Failed to mirror event %s to audit store: %v", event.ID, err)
		}
	}
}

// requeueAfter pushes the event back onto its tier's pending set after
// a delay.
func (q *Queue) requeueAfter(event *Event, tier Tier, delay time.Duration) {
	ctx := context.Background()
	q.persist(ctx, event, tier)

	if tier == TierDatabase {
		// Poller picks queued rows back up on its own; the persisted
		// queued status is enough.
		return
	}

	q.client.LRem(ctx, EventProcessingKey, 1, event.ID)
	time.AfterFunc(delay, func() {
		if err := q.client.LPush(ctx, EventQueueKey, event.ID).Err(); err != nil {
			log.Errorf("[WebhookQueue] Failed to requeue event %s: %v", event.ID, err)
		}
	})
}

// GetQueueSize returns the number of pending Redis-tier events.
func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, EventQueueKey).Result()
}

// GetProcessingSize returns the number of events being processed.
func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, EventProcessingKey).Result()
}

// stuckSweeper requeues Redis-tier events stuck in processing longer
// than maxAge, recovering work lost to crashed workers.
func (q *Queue) stuckSweeper(maxAge, interval time.Duration) {
	defer q.wg.Done()
	log.Infof("[WebhookQueue] Stuck sweeper running (maxAge=%s, interval=%s)", maxAge, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			log.Info("[WebhookQueue] Stuck sweeper stopping")
			return
		case <-ticker.C:
			ids, err := q.client.LRange(ctx, EventProcessingKey, 0, -1).Result()
			if err != nil {
				log.Errorf("[WebhookQueue] Sweeper LRange error: %v", err)
				continue
			}
			now := time.Now()
			for _, id := range ids {
				data, err := q.client.Get(ctx, EventKeyPrefix+id).Result()
				if err != nil {
					if err != redis.Nil {
						log.Errorf("[WebhookQueue] Sweeper Get error for %s: %v", id, err)
					}
					_ = q.client.LRem(ctx, EventProcessingKey, 1, id).Err()
					continue
				}
				var event Event
				if uerr := json.Unmarshal([]byte(data), &event); uerr != nil {
					log.Errorf("[WebhookQueue] Sweeper unmarshal error for %s: %v", id, uerr)
					_ = q.client.LRem(ctx, EventProcessingKey, 1, id).Err()
					continue
				}
				if event.Status != models.WebhookStatusProcessing {
					_ = q.client.LRem(ctx, EventProcessingKey, 1, id).Err()
					continue
				}
				started := event.ProcessedAt
				if started == nil || started.IsZero() {
					tmp := event.UpdatedAt
					if tmp.IsZero() {
						tmp = event.CreatedAt
					}
					started = &tmp
				}
				if now.Sub(*started) > maxAge {
					log.Warnf("[WebhookQueue] Recovering stuck event %s (%s/%s), age=%s",
						event.ID, event.Provider, event.Endpoint, now.Sub(*started))
					event.Status = models.WebhookStatusQueued
					event.LastError = "recovered by sweeper"
					event.UpdatedAt = now
					q.persist(ctx, &event, TierRedis)
					_ = q.client.LRem(ctx, EventProcessingKey, 1, id).Err()
					_ = q.client.RPush(ctx, EventQueueKey, id).Err()
				}
			}
		}
	}
}
