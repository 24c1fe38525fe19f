package fulfillment

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	// SweepLockKey guards the retry sweep across instances. Whoever sets it
	// first runs the sweep, everyone else skips the tick.
	SweepLockKey = "vendico:fulfillment:retry_sweep"

	defaultSweepInterval = time.Minute
	defaultSweepBatch    = 50
)

// Scheduler periodically drives the retry sweep. Multiple instances may run
// the same scheduler; the Redis lock ensures one sweep per tick cluster-wide.
type Scheduler struct {
	dispatcher *Dispatcher
	redis      *redis.Client
	interval   time.Duration
	batchSize  int

	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a retry scheduler. A nil redis client disables the
// cross-instance lock, which is fine for single-instance deployments and tests.
func NewScheduler(dispatcher *Dispatcher, redisClient *redis.Client, interval time.Duration, batchSize int) *Scheduler {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}
	return &Scheduler{
		dispatcher: dispatcher,
		redis:      redisClient,
		interval:   interval,
		batchSize:  batchSize,
	}
}

// Start starts the background sweep worker.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.stopCh = make(chan struct{})
	s.ticker = time.NewTicker(s.interval)
	s.running = true

	s.wg.Add(1)
	go s.sweepWorker()

	log.Infof("[Fulfillment Scheduler] Started (interval: %s, batch: %d)", s.interval, s.batchSize)
}

// Stop stops the worker and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.ticker.Stop()
	close(s.stopCh)
	s.running = false
	s.wg.Wait()

	log.Info("[Fulfillment Scheduler] Stopped")
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) sweepWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			log.Info("[Fulfillment Scheduler] Sweep worker stopping")
			return
		case <-s.ticker.C:
			s.RunSweepOnce()
		}
	}
}

// RunSweepOnce runs a single retry sweep, guarded by the cluster lock.
// Exposed as a manual trigger for admin use.
func (s *Scheduler) RunSweepOnce() {
	if !s.acquireLock() {
		log.Debug("[Fulfillment Scheduler] Sweep lock held elsewhere, skipping tick")
		return
	}
	defer s.releaseLock()

	result, err := s.dispatcher.RetryFailedDeliveries(s.batchSize)
	if err != nil {
		log.Errorf("[Fulfillment Scheduler] Retry sweep failed: %v", err)
		return
	}
	if result.Claimed > 0 {
		log.Infof("[Fulfillment Scheduler] Sweep done: %d claimed, %d recovered, %d rescheduled, %d exhausted",
			result.Claimed, result.Recovered, result.Rescheduled, result.Exhausted)
	}
}

func (s *Scheduler) acquireLock() bool {
	if s.redis == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := s.redis.SetNX(ctx, SweepLockKey, "1", s.interval).Result()
	if err != nil {
		log.Errorf("[Fulfillment Scheduler] Failed to acquire sweep lock: %v", err)
		return false
	}
	return ok
}

func (s *Scheduler) releaseLock() {
	if s.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.redis.Del(ctx, SweepLockKey).Err(); err != nil {
		log.Errorf("[Fulfillment Scheduler] Failed to release sweep lock: %v", err)
	}
}
