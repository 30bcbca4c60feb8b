package mail

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iamrehman16/DataTricks-Team-Server/pkg/logger"
)

var (
	mailSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_mail_sent_total",
			Help: "Outbound mails by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)
	mailDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "identity_mail_dropped_total",
			Help: "Mails dropped because the dispatch queue was full or closed",
		},
	)
)

// DispatcherConfig sizes the dispatch queue and worker pool.
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

type job struct {
	msg           Message
	correlationID string
}

// Dispatcher sends mail in the background so request handlers never wait
// on a mail server. Enqueue never blocks; when the queue is full the
// message is dropped.
type Dispatcher struct {
	sender    Sender
	logger    *slog.Logger
	timeout   time.Duration
	queue     chan job
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	mu        sync.RWMutex // held for writing while closing
	closed    bool
	closeOnce sync.Once
}

// NewDispatcher starts cfg.Workers goroutines delivering through sender.
func NewDispatcher(cfg DispatcherConfig, sender Sender, logger *slog.Logger) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	d := &Dispatcher{
		sender:  sender,
		logger:  logger,
		timeout: cfg.SendTimeout,
		queue:   make(chan job, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.run()
	}
	return d
}

// Enqueue schedules msg for delivery. ctx only contributes its correlation
// id; cancelling it does not abort the send.
func (d *Dispatcher) Enqueue(ctx context.Context, msg Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ctx, msg, "dispatcher closed")
		return
	}
	j := job{msg: msg, correlationID: logger.CorrelationIDFromContext(ctx)}
	select {
	case d.queue <- j:
	default:
		d.drop(ctx, msg, "queue full")
	}
}

func (d *Dispatcher) drop(ctx context.Context, msg Message, reason string) {
	d.dropped.Add(1)
	mailDropped.Inc()
	d.logger.WarnContext(ctx, "mail dropped",
		slog.String("to", msg.To),
		slog.String("reason", reason),
	)
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.queue:
			d.send(j)
		case <-d.done:
			for {
				select {
				case j := <-d.queue:
					d.send(j)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) send(j job) {
	ctx := context.Background()
	if j.correlationID != "" {
		ctx = logger.WithCorrelationID(ctx, j.correlationID)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.sender.Send(ctx, j.msg); err != nil {
		mailSent.WithLabelValues(d.sender.Name(), "error").Inc()
		d.logger.ErrorContext(ctx, "failed to send mail",
			slog.String("to", j.msg.To),
			slog.String("transport", d.sender.Name()),
			slog.String("correlation_id", j.correlationID),
			slog.String("error", err.Error()),
		)
		return
	}
	mailSent.WithLabelValues(d.sender.Name(), "success").Inc()
}

// Dropped reports how many messages were discarded.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting mail, delivers what is already queued and waits for
// the workers to exit.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.done)
		d.wg.Wait()
	})
}
