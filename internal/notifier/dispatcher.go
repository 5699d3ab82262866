package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-sync-service/internal/metrics"
)

type DispatcherConfig struct {
	// Workers == 0 publishes on the caller's goroutine.
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

type job struct {
	ctx     context.Context
	channel string
	event   string
	payload any
}

// Dispatcher decouples publishing from the request path. Notify never fails:
// errors are logged and counted. A full queue falls back to an inline publish
// rather than dropping the event.
type Dispatcher struct {
	pub  Publisher
	log  *zap.Logger
	cfg  DispatcherConfig
	jobs chan job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(pub Publisher, log *zap.Logger, cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{pub: pub, log: log, cfg: cfg}
	if cfg.Workers > 0 {
		size := cfg.QueueSize
		if size <= 0 {
			size = 256
		}
		d.jobs = make(chan job, size)
		for i := 0; i < cfg.Workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.publish(j)
	}
}

// Notify hands the event to the publisher. The caller's cancellation is
// dropped: a request that already committed still gets its notification.
func (d *Dispatcher) Notify(ctx context.Context, channel, event string, payload any) {
	j := job{ctx: context.WithoutCancel(ctx), channel: channel, event: event, payload: payload}

	d.mu.RLock()
	if d.jobs != nil && !d.closed {
		select {
		case d.jobs <- j:
			d.mu.RUnlock()
			return
		default:
			d.log.Warn("notifier queue full, publishing inline", zap.String("channel", channel), zap.String("event", event))
		}
	}
	d.mu.RUnlock()
	d.publish(j)
}

func (d *Dispatcher) publish(j job) {
	ctx := j.ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("publisher panic: %v", r)
			}
		}()
		return d.pub.Publish(ctx, j.channel, j.event, j.payload)
	}()
	if err != nil {
		metrics.NotificationFailures.WithLabelValues(j.event).Inc()
		d.log.Warn("notify failed",
			zap.String("channel", j.channel),
			zap.String("event", j.event),
			zap.Error(fmt.Errorf("%w: %w", ErrNotifierFailure, err)),
		)
		return
	}
	metrics.NotificationsPublished.WithLabelValues(j.event).Inc()
}

// Close stops accepting queued work and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.jobs != nil {
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
