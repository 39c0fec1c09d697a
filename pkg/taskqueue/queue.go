package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/taskpilot/internal/observability"
	"github.com/harun/taskpilot/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrQueueDestroyed is returned for operations rejected by a destroyed processor.
	ErrQueueDestroyed = errors.New("task queue destroyed")
	// ErrQueueCleared is returned for pending operations removed by Clear.
	ErrQueueCleared = errors.New("task queue cleared")
	// ErrOperationPanicked wraps a panic recovered from an operation.
	ErrOperationPanicked = errors.New("operation panicked")
)

// Operation is a deferred unit of work.
type Operation func(ctx context.Context) (any, error)

// Pending is the handle for a submitted operation.
type Pending struct {
	done     chan struct{}
	once     sync.Once
	onSettle func()
	value    any
	err      error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Done is closed once the operation has settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the operation settles or ctx is done. Giving up on the
// wait does not withdraw the operation.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pending) settle(value any, err error) {
	p.once.Do(func() {
		p.value = value
		p.err = err
		if p.onSettle != nil {
			p.onSettle()
		}
		close(p.done)
	})
}

type queuedTask struct {
	id         string
	op         Operation
	ctx        context.Context
	enqueuedAt time.Time
	pending    *Pending
}

// Processor runs submitted operations strictly one at a time in FIFO order.
type Processor struct {
	key        string
	mu         sync.Mutex
	queue      []*queuedTask
	processing bool
	destroyed  bool
}

// New creates an idle processor. key labels logs and metrics.
func New(key string) *Processor {
	observability.EnsureRegistered()
	return &Processor{key: key}
}

// Key returns the processor's key.
func (p *Processor) Key() string {
	return p.key
}

// Enqueue submits op and waits for its outcome.
func (p *Processor) Enqueue(ctx context.Context, op Operation) (any, error) {
	return p.Submit(ctx, op).Wait(ctx)
}

// Submit appends op to the queue and returns without waiting.
func (p *Processor) Submit(ctx context.Context, op Operation) *Pending {
	pending := newPending()
	p.submit(ctx, op, pending)
	return pending
}

func (p *Processor) submit(ctx context.Context, op Operation, pending *Pending) {
	if ctx == nil {
		ctx = context.Background()
	}

	task := &queuedTask{
		id:         uuid.New().String(),
		op:         op,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		pending:    pending,
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		observability.RecordQueueRejected(p.key, "destroyed", 1)
		pending.settle(nil, ErrQueueDestroyed)
		return
	}

	p.queue = append(p.queue, task)
	queueSize := len(p.queue)
	start := !p.processing
	if start {
		p.processing = true
	}
	p.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("queue", p.key).
		Str("taskId", task.id).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(p.key, queueSize)

	if start {
		go p.drain()
	}
}

// drain runs queued tasks until the queue is empty. Only one drain
// goroutine exists per processor at a time.
func (p *Processor) drain() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.processing = false
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.execute(task)
	}
}

func (p *Processor) execute(task *queuedTask) {
	if err := task.ctx.Err(); err != nil {
		task.pending.settle(nil, err)
		return
	}

	ctx, span := tracing.StartSpan(
		task.ctx,
		"taskpilot.taskqueue",
		"taskqueue.execute",
		attribute.String("queue", p.key),
		attribute.String("task_id", task.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("queue", p.key).Str("taskId", task.id).Logger()
	logger.Debug().
		Dur("waited", time.Since(task.enqueuedAt)).
		Msg("Task started")

	startTime := time.Now()
	value, err := runOperation(ctx, task.op)
	duration := time.Since(startTime)

	p.mu.Lock()
	queueSize := len(p.queue)
	p.mu.Unlock()

	if err != nil {
		tracing.RecordError(span, err)
		logger.Debug().Dur("duration", duration).Err(err).Msg("Task failed")
	} else {
		logger.Debug().Dur("duration", duration).Msg("Task completed")
	}

	observability.RecordQueueCompletion(p.key, duration, err == nil, queueSize)
	task.pending.settle(value, err)
}

func runOperation(ctx context.Context, op Operation) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("%w: %v", ErrOperationPanicked, r)
		}
	}()
	return op(ctx)
}

// takeQueued removes every not-yet-started task. When destroy is set the
// processor is also marked destroyed under the same lock.
func (p *Processor) takeQueued(destroy bool) ([]*queuedTask, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if destroy {
		if p.destroyed {
			return nil, false
		}
		p.destroyed = true
	}

	rejected := p.queue
	p.queue = nil
	return rejected, true
}

// Destroy permanently closes the processor. Pending operations are rejected
// with ErrQueueDestroyed; the in-flight operation, if any, runs to completion.
// Calling Destroy more than once is a no-op.
func (p *Processor) Destroy() {
	rejected, first := p.takeQueued(true)
	if !first {
		return
	}

	for _, task := range rejected {
		task.pending.settle(nil, ErrQueueDestroyed)
	}

	observability.RecordQueueRejected(p.key, "destroyed", len(rejected))
	log.Debug().Str("queue", p.key).Int("rejected", len(rejected)).Msg("Queue destroyed")
}

// Clear rejects every not-yet-started operation with ErrQueueCleared and
// returns how many were removed. The processor stays usable.
func (p *Processor) Clear() int {
	rejected, _ := p.takeQueued(false)

	for _, task := range rejected {
		task.pending.settle(nil, ErrQueueCleared)
	}

	observability.RecordQueueRejected(p.key, "cleared", len(rejected))
	log.Debug().Str("queue", p.key).Int("cleared", len(rejected)).Msg("Queue cleared")

	return len(rejected)
}

// Pending returns the number of operations waiting to start.
func (p *Processor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// IsProcessing reports whether an operation is running or about to run.
func (p *Processor) IsProcessing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processing
}

// IsDestroyed reports whether Destroy has been called.
func (p *Processor) IsDestroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}
