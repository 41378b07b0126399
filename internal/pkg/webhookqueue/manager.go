package webhookqueue

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/tradesafe-app/paygate/app/repository"
	"github.com/tradesafe-app/paygate/internal/pkg/env"
	"github.com/tradesafe-app/paygate/internal/pkg/lockmanager"
	"github.com/tradesafe-app/paygate/internal/pkg/metrics/counter"
)

// Manager owns the intake queue and the periodic background tasks
// around it: stale-lock sweeping, counter flushing and audit-row TTL
// cleanup.
type Manager struct {
	queue *Queue
	locks *lockmanager.Manager
	repos *repository.Repositories

	lockSweepTicker    *time.Ticker
	counterFlushTicker *time.Ticker
	ttlCleanupTicker   *time.Ticker
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// Initialize builds the global manager. Must be called once during
// startup before GetManager.
func Initialize(repos *repository.Repositories, locks *lockmanager.Manager) *Manager {
	managerOnce.Do(func() {
		workers := env.GetEnvInt("WEBHOOK_QUEUE_WORKERS", 5)
		globalManager = &Manager{
			queue:  NewQueue(workers, repos.WebhookEvent),
			locks:  locks,
			repos:  repos,
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetManager returns the global queue manager.
func GetManager() *Manager {
	if globalManager == nil {
		panic("webhookqueue manager not initialized. Call Initialize first.")
	}
	return globalManager
}

// GetQueue returns the managed intake queue.
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the queue and the background tasks.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[WebhookQueue Manager] Starting queue and background tasks")

	// Reclaim anything left behind by a previous crash before the
	// workers start competing for locks again.
	if n, err := m.locks.SweepExpired(); err != nil {
		log.Errorf("[WebhookQueue Manager] Startup lock sweep failed: %v", err)
	} else if n > 0 {
		log.Warnf("[WebhookQueue Manager] Startup lock sweep removed %d expired locks", n)
	}

	m.queue.Start()

	m.lockSweepTicker = time.NewTicker(time.Minute)
	m.wg.Add(1)
	go m.lockSweepWorker()

	m.counterFlushTicker = time.NewTicker(5 * time.Second)
	m.wg.Add(1)
	go m.counterFlushWorker()

	cleanupHours := env.GetEnvInt("WEBHOOK_AUDIT_TTL_HOURS", 720) // 30 days
	m.ttlCleanupTicker = time.NewTicker(time.Hour)
	m.wg.Add(1)
	go m.ttlCleanupWorker(time.Duration(cleanupHours) * time.Hour)

	log.Info("[WebhookQueue Manager] Started successfully")
}

// Stop stops the queue and the background tasks.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	log.Info("[WebhookQueue Manager] Stopping queue and background tasks...")

	if m.lockSweepTicker != nil {
		m.lockSweepTicker.Stop()
	}
	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}
	if m.ttlCleanupTicker != nil {
		m.ttlCleanupTicker.Stop()
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()
	log.Info("[WebhookQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// lockSweepWorker periodically removes expired lock rows.
func (m *Manager) lockSweepWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[WebhookQueue Manager] Lock sweep worker stopping")
			return
		case <-m.lockSweepTicker.C:
			if n, err := m.locks.SweepExpired(); err != nil {
				log.Errorf("[WebhookQueue Manager] Lock sweep error: %v", err)
			} else if n > 0 {
				log.Warnf("[WebhookQueue Manager] Lock sweep removed %d expired locks", n)
			}
		}
	}
}

// counterFlushWorker periodically flushes intake counters from Redis to DB.
func (m *Manager) counterFlushWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[WebhookQueue Manager] Counter flush worker stopping")
			return
		case <-m.counterFlushTicker.C:
			if err := counter.FlushAll(); err != nil {
				log.Errorf("[WebhookQueue Manager] Counter flush error: %v", err)
			}
		}
	}
}

// ttlCleanupWorker removes processed audit rows past their retention age.
func (m *Manager) ttlCleanupWorker(age time.Duration) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[WebhookQueue Manager] TTL cleanup worker stopping")
			return
		case <-m.ttlCleanupTicker.C:
			if n, err := m.repos.WebhookEvent.DeleteDoneOlderThan(age); err != nil {
				log.Errorf("[WebhookQueue Manager] TTL cleanup error: %v", err)
			} else if n > 0 {
				log.Infof("[WebhookQueue Manager] TTL cleanup removed %d processed events", n)
			}
		}
	}
}
