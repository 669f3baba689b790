// Package ingest fans action signals out to the quest tracker. Signals of
// one user always land on the same worker, so they apply in arrival order.
package ingest

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/TheFokysnik/EcoTaleQuests/metrics"
	"github.com/TheFokysnik/EcoTaleQuests/plugin/hook"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler consumes one action signal. tracker.Tracker implements it.
type Handler interface {
	HandleAction(ctx context.Context, user uuid.UUID, actionType quest.Type, target string, amount float64, level int)
}

// Signal is a gameplay action reported by the host game.
type Signal struct {
	UserID uuid.UUID  `json:"user_id"`
	Type   quest.Type `json:"type"`
	Target string     `json:"target,omitempty"`
	Amount float64    `json:"amount"`
	Level  int        `json:"level"`
}

// Dispatcher is a sharded worker pool in front of a Handler.
type Dispatcher struct {
	handler Handler
	filters *hook.Chain[Signal]
	logger  *zap.Logger
	queues  []chan Signal

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher with workers shards of queueSize each.
func NewDispatcher(h Handler, workers, queueSize int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	d := &Dispatcher{
		handler: h,
		filters: hook.NewChain[Signal](),
		logger:  logger,
		queues:  make([]chan Signal, workers),
	}
	for i := range d.queues {
		d.queues[i] = make(chan Signal, queueSize)
	}
	return d
}

func (d *Dispatcher) shard(user uuid.UUID) int {
	h := fnv.New32a()
	h.Write(user[:])
	return int(h.Sum32() % uint32(len(d.queues)))
}

// Filters returns the chain every signal passes through on its worker before
// it reaches the handler. A hook returning hook.ErrInterrupt drops the signal.
func (d *Dispatcher) Filters() *hook.Chain[Signal] { return d.filters }

// Start launches the workers. Handlers run with ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i, q := range d.queues {
		d.wg.Add(1)
		go d.worker(ctx, i, q)
	}
	d.logger.Info("ingest dispatcher started", zap.Int("workers", len(d.queues)))
}

// Submit enqueues s without blocking. It returns false when the signal was
// rejected: malformed, queue full, or dispatcher stopped.
func (d *Dispatcher) Submit(s Signal) bool {
	if s.UserID == uuid.Nil || s.Amount <= 0 {
		metrics.SignalsDropped.WithLabelValues("invalid").Inc()
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.SignalsDropped.WithLabelValues("stopped").Inc()
		return false
	}
	select {
	case d.queues[d.shard(s.UserID)] <- s:
		return true
	default:
		metrics.SignalsDropped.WithLabelValues("queue_full").Inc()
		d.logger.Warn("ingest queue full, signal dropped",
			zap.String("user", s.UserID.String()), zap.String("type", string(s.Type)))
		return false
	}
}

// Stop rejects further signals and waits until every queued one is handled.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	started := d.started
	d.mu.Unlock()
	if started {
		d.wg.Wait()
	}
	d.logger.Info("ingest dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context, id int, q <-chan Signal) {
	defer d.wg.Done()
	for s := range q {
		d.handle(ctx, id, s)
	}
}

func (d *Dispatcher) handle(ctx context.Context, id int, s Signal) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("action handler panicked",
				zap.Int("worker", id),
				zap.String("user", s.UserID.String()),
				zap.Any("recover", r))
		}
	}()
	s, err := d.filters.Run(ctx, s)
	if err != nil {
		if errors.Is(err, hook.ErrInterrupt) {
			metrics.SignalsDropped.WithLabelValues("filtered").Inc()
			return
		}
		metrics.SignalsDropped.WithLabelValues("filter_error").Inc()
		d.logger.Warn("action filter failed", zap.String("user", s.UserID.String()), zap.Error(err))
		return
	}
	d.handler.HandleAction(ctx, s.UserID, s.Type, s.Target, s.Amount, s.Level)
}
