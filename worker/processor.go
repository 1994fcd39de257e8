package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/middleware"
	"github.com/xraph/conveyor/queue"
	"github.com/xraph/conveyor/step"
)

// Handler processes one leased item. A returned error fails the item with
// the error text as its reason.
type Handler[T any] func(ctx context.Context, it *item.Item, v T) error

// ErrAlreadyRunning is returned by Start on a processor that is running.
var ErrAlreadyRunning = errors.New("worker: processor already running")

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Processor claims items at one step and runs a handler over them.
type Processor[T any] struct {
	queue   *queue.Queue[T]
	step    step.ID
	handler Handler[T]
	chain   middleware.Middleware

	owner        string
	batchSize    int
	concurrency  int
	pollInterval time.Duration
	staleAfter   time.Duration
	maxAttempts  int
	reclaim      cronlib.Schedule
	limiter      *rate.Limiter
	backoff      backoff.Strategy
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup

	// stopCtx ends the poll and reclaim loops; runCtx is handed to handlers
	// and is only canceled when Stop runs out of time.
	stopCtx context.Context
	stop    context.CancelFunc
	runCtx  context.Context
	kill    context.CancelFunc
}

// NewProcessor creates a processor running h over items at stepID.
func NewProcessor[T any](q *queue.Queue[T], stepID step.ID, h Handler[T], opts ...Option) (*Processor[T], error) {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}

	if _, err := q.Catalog().Lookup(stepID); err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	if h == nil {
		return nil, errors.New("worker: handler is required")
	}
	switch {
	case s.batchSize < 1:
		return nil, fmt.Errorf("worker: batch size must be positive, got %d", s.batchSize)
	case s.concurrency < 1:
		return nil, fmt.Errorf("worker: concurrency must be positive, got %d", s.concurrency)
	case s.maxAttempts < 1:
		return nil, fmt.Errorf("worker: max attempts must be positive, got %d", s.maxAttempts)
	case s.pollRate < 0:
		return nil, fmt.Errorf("worker: poll rate must not be negative, got %v", s.pollRate)
	}

	p := &Processor[T]{
		queue:        q,
		step:         stepID,
		handler:      h,
		chain:        middleware.Chain(s.middleware...),
		owner:        s.owner,
		batchSize:    s.batchSize,
		concurrency:  s.concurrency,
		pollInterval: s.pollInterval,
		staleAfter:   s.staleAfter,
		maxAttempts:  s.maxAttempts,
		backoff:      s.backoff,
		logger:       s.logger,
		now:          s.now,
	}
	if p.owner == "" {
		p.owner = id.NewWorkerID().String()
	}
	if s.reclaimSchedule != "" {
		sched, err := cronParser.Parse(s.reclaimSchedule)
		if err != nil {
			return nil, fmt.Errorf("worker: parse reclaim schedule %q: %w", s.reclaimSchedule, err)
		}
		p.reclaim = sched
	}
	if s.pollRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(s.pollRate), 1)
	}
	return p, nil
}

// Owner returns the lease owner the processor claims items as.
func (p *Processor[T]) Owner() string { return p.owner }

// Step returns the step the processor claims items from.
func (p *Processor[T]) Step() step.ID { return p.step }

// Start launches the poll loop and, when a reclaim schedule is set, the
// reclaim loop. It returns immediately.
func (p *Processor[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}
	p.running = true

	base := context.WithoutCancel(ctx)
	p.stopCtx, p.stop = context.WithCancel(base)
	p.runCtx, p.kill = context.WithCancel(base)

	p.wg.Add(1)
	go p.pollLoop()

	if p.reclaim != nil {
		p.wg.Add(1)
		go p.reclaimLoop()
	}

	p.logger.Info("worker started",
		slog.String("owner", p.owner),
		slog.Int("step_id", int(p.step)),
		slog.Int("batch_size", p.batchSize),
		slog.Int("concurrency", p.concurrency),
	)
	return nil
}

// Stop stops polling and waits for in-flight items. If ctx ends first, the
// handlers' context is canceled and Stop waits for them to return.
func (p *Processor[T]) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.stop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		p.kill()
		<-done
		err = ctx.Err()
	}
	p.kill()

	p.logger.Info("worker stopped", slog.String("owner", p.owner))
	return err
}

func (p *Processor[T]) pollLoop() {
	defer p.wg.Done()

	failures := 0
	for {
		if p.stopCtx.Err() != nil {
			return
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(p.stopCtx); err != nil {
				return
			}
		}

		n, err := p.ProcessOnce(p.runCtx)
		switch {
		case err != nil:
			failures++
			delay := p.backoff.Delay(failures)
			p.logger.Error("worker: poll failed",
				slog.String("owner", p.owner),
				slog.Int("step_id", int(p.step)),
				slog.Int("failures", failures),
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()),
			)
			p.idle(delay)
		case n == 0:
			failures = 0
			p.idle(p.pollInterval)
		default:
			failures = 0
		}
	}
}

func (p *Processor[T]) reclaimLoop() {
	defer p.wg.Done()

	for {
		next := p.reclaim.Next(p.now())
		if !p.idle(next.Sub(p.now())) {
			return
		}
		if _, err := p.ReclaimOnce(p.runCtx); err != nil {
			p.logger.Error("worker: reclaim failed",
				slog.String("owner", p.owner),
				slog.Int("step_id", int(p.step)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// idle waits for d or until Stop. It reports whether the loop should go on.
func (p *Processor[T]) idle(d time.Duration) bool {
	if d <= 0 {
		return p.stopCtx.Err() == nil
	}
	return backoff.Sleep(p.stopCtx, d) == nil
}

// ProcessOnce claims one batch, handles it and completes it. It returns the
// number of completions the store applied.
func (p *Processor[T]) ProcessOnce(ctx context.Context) (int, error) {
	leased, err := p.queue.Claim(ctx, p.owner, p.step, p.batchSize)
	if err != nil {
		return 0, err
	}
	return p.run(ctx, leased)
}

// ReclaimOnce leases one batch of failed or stale items, handles it and
// completes it.
func (p *Processor[T]) ReclaimOnce(ctx context.Context) (int, error) {
	staleBefore := p.now().Add(-p.staleAfter)
	leased, err := p.queue.Reclaim(ctx, p.owner, p.step, p.batchSize, staleBefore, p.maxAttempts)
	if err != nil {
		return 0, err
	}
	if len(leased) > 0 {
		p.logger.Info("worker: reclaimed items",
			slog.String("owner", p.owner),
			slog.Int("step_id", int(p.step)),
			slog.Int("count", len(leased)),
		)
	}
	return p.run(ctx, leased)
}

func (p *Processor[T]) run(ctx context.Context, leased []queue.Leased[T]) (int, error) {
	if len(leased) == 0 {
		return 0, nil
	}

	completions := make([]item.Completion, len(leased))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, l := range leased {
		g.Go(func() error {
			completions[i] = p.handle(ctx, l)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // handlers report through completions

	// Leases are released even when handlers were canceled.
	n, err := p.queue.Complete(context.WithoutCancel(ctx), p.owner, p.step, completions)
	if err != nil {
		return 0, err
	}
	if n < len(completions) {
		p.logger.Warn("worker: lost leases before completion",
			slog.String("owner", p.owner),
			slog.Int("step_id", int(p.step)),
			slog.Int("lost", len(completions)-n),
		)
	}
	return n, nil
}

// handle runs the handler for one item, turning errors and panics into a
// failed completion.
func (p *Processor[T]) handle(ctx context.Context, l queue.Leased[T]) (c item.Completion) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker: handler panicked",
				slog.String("item_id", l.Item.ID.String()),
				slog.Any("panic", r),
			)
			c = item.Fail(l.Item.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	err := p.chain(ctx, l.Item, func(ctx context.Context) error {
		return p.handler(ctx, l.Item, l.Value)
	})
	if err != nil {
		p.logger.Debug("worker: item failed",
			slog.String("item_id", l.Item.ID.String()),
			slog.Int("attempt", l.Item.Attempt),
			slog.String("error", err.Error()),
		)
		return item.Fail(l.Item.ID, err.Error())
	}
	return item.Succeed(l.Item.ID)
}
