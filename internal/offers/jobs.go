package offers

import (
	"context"
	"sync"
	"time"

	"clubsched/pkg/logger"
)

// Sweeper expires due offers
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// JobProcessor runs the offer expiry sweep in the background
type JobProcessor struct {
	sweeper Sweeper
	config  *JobConfig
	logger  *logger.Logger

	mu       sync.Mutex
	done     chan struct{}
	stopped  chan struct{}
	running  bool
	lastRun  time.Time
	lastSeen int
}

// JobConfig contains configuration for background jobs
type JobConfig struct {
	SweepInterval time.Duration
}

// DefaultJobConfig returns default job configuration
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		SweepInterval: 15 * time.Second,
	}
}

// NewJobProcessor creates a new job processor
func NewJobProcessor(sweeper Sweeper, config *JobConfig, log *logger.Logger) *JobProcessor {
	if config == nil {
		config = DefaultJobConfig()
	}
	if log == nil {
		log = logger.GetDefault()
	}

	return &JobProcessor{
		sweeper: sweeper,
		config:  config,
		logger:  log.WithComponent("offer_jobs"),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start starts the expiry sweeper
func (jp *JobProcessor) Start(ctx context.Context) {
	jp.mu.Lock()
	if jp.running {
		jp.mu.Unlock()
		return
	}
	jp.running = true
	jp.mu.Unlock()

	go jp.startExpiryProcessor(ctx)
	jp.logger.Info("offer expiry sweeper started", "interval", jp.config.SweepInterval.String())
}

// Stop stops the sweeper and waits for an in-flight sweep to finish
func (jp *JobProcessor) Stop() {
	jp.mu.Lock()
	if !jp.running {
		jp.mu.Unlock()
		return
	}
	jp.running = false
	jp.mu.Unlock()

	close(jp.done)
	<-jp.stopped
	jp.logger.Info("offer expiry sweeper stopped")
}

func (jp *JobProcessor) startExpiryProcessor(ctx context.Context) {
	defer close(jp.stopped)

	ticker := time.NewTicker(jp.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			jp.processExpiredOffers(ctx)
		case <-jp.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (jp *JobProcessor) processExpiredOffers(ctx context.Context) {
	expired, err := jp.sweeper.Sweep(ctx)

	jp.mu.Lock()
	jp.lastRun = time.Now()
	jp.lastSeen = expired
	jp.mu.Unlock()

	if err != nil {
		jp.logger.ErrorWithContext(ctx, "error sweeping expired offers", err, nil)
		return
	}
	if expired > 0 {
		jp.logger.InfoContext(ctx, "expired offers", "count", expired)
	}
}

// GetJobStatus returns the status of background jobs
func (jp *JobProcessor) GetJobStatus() map[string]interface{} {
	jp.mu.Lock()
	defer jp.mu.Unlock()

	status := "stopped"
	if jp.running {
		status = "running"
	}
	out := map[string]interface{}{
		"sweep_interval": jp.config.SweepInterval.String(),
		"status":         status,
		"last_expired":   jp.lastSeen,
	}
	if !jp.lastRun.IsZero() {
		out["last_run"] = jp.lastRun.Format(time.RFC3339)
	}
	return out
}
