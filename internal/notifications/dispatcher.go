package notifications

import (
	"context"
	"sync"

	"clubsched/internal/shared/metrics"
	"clubsched/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// DispatcherConfig contains configuration for the notification dispatcher
type DispatcherConfig struct {
	Workers    int
	BufferSize int
}

// DefaultDispatcherConfig returns default dispatcher configuration
func DefaultDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		Workers:    4,
		BufferSize: 256,
	}
}

// Dispatcher decouples the engine from notification delivery. Dispatch never
// blocks: when the buffer is full the notification is dropped and counted.
type Dispatcher struct {
	publisher Publisher
	config    *DispatcherConfig
	metrics   *metrics.Metrics
	logger    *logger.Logger

	mu     sync.RWMutex
	queue  chan *Notification
	closed bool
	group  *errgroup.Group
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(publisher Publisher, config *DispatcherConfig, m *metrics.Metrics, log *logger.Logger) *Dispatcher {
	if config == nil {
		config = DefaultDispatcherConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if log == nil {
		log = logger.GetDefault()
	}

	return &Dispatcher{
		publisher: publisher,
		config:    config,
		metrics:   m,
		logger:    log.WithComponent("dispatcher"),
		queue:     make(chan *Notification, config.BufferSize),
	}
}

// Start launches the workers.
func (d *Dispatcher) Start(ctx context.Context) {
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.config.Workers; i++ {
		group.Go(func() error {
			for {
				select {
				case n, ok := <-d.queue:
					if !ok {
						return nil
					}
					d.publish(ctx, n)
				case <-ctx.Done():
					return nil
				}
			}
		})
	}

	d.mu.Lock()
	d.group = group
	d.mu.Unlock()

	d.logger.Info("notification dispatcher started", "workers", d.config.Workers, "buffer", d.config.BufferSize)
}

// Dispatch queues a notification for delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, n *Notification) {
	if n == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.RecordNotification(string(n.Type), "dropped")
		return
	}

	select {
	case d.queue <- n:
	default:
		d.metrics.RecordNotification(string(n.Type), "dropped")
		d.logger.WarnContext(ctx, "notification buffer full, dropping",
			"type", string(n.Type),
			"participant_id", n.ParticipantID.String(),
		)
	}
}

// Stop closes the buffer and waits for the workers to drain it.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	group := d.group
	d.mu.Unlock()

	if group != nil {
		if err := group.Wait(); err != nil {
			return err
		}
	}
	return d.publisher.Close()
}

func (d *Dispatcher) publish(ctx context.Context, n *Notification) {
	if err := d.publisher.Publish(ctx, n); err != nil {
		d.metrics.RecordNotification(string(n.Type), "failed")
		d.logger.ErrorWithContext(ctx, "failed to publish notification", err, map[string]interface{}{
			"type":            string(n.Type),
			"notification_id": n.ID.String(),
		})
		return
	}
	d.metrics.RecordNotification(string(n.Type), "published")
}
