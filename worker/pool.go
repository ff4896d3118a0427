package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mycelia/mycelia/broker"
	"github.com/mycelia/mycelia/core"
	"github.com/mycelia/mycelia/interactor"
)

// Config is the tunable shape of a Pool, mirroring the concerns of
// pulse/async.WorkerPoolConfig minus the concerns that don't apply to a
// push-dispatched broker (poll interval, graceful-start ramp: those
// exist to protect a polling loop's startup burst, which a callback
// subscription never produces).
type Config struct {
	// Concurrency bounds how many HandleEnqueued calls run at once,
	// pool-wide, across every subscribed queue.
	Concurrency int
	// ShutdownTimeout bounds how long Stop waits for in-flight
	// executions to finish before returning anyway, matching
	// WorkerPool.Stop's generous-timeout-then-return-anyway shape.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible defaults for a single-process host.
func DefaultConfig() Config {
	return Config{Concurrency: 4, ShutdownTimeout: 30 * time.Second}
}

// Pool subscribes every queue in a HandlerRegistry to the engine's
// broker and runs each delivered node through Engine.HandleEnqueued,
// capping concurrency at cfg.Concurrency in-flight executions
// pool-wide (not per queue: one slow queue shouldn't starve another by
// each getting its own independent budget).
type Pool struct {
	engine   *interactor.Engine
	registry *HandlerRegistry
	cfg      Config
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	slots   chan struct{}
	handles []broker.CallbackHandle
	wg      sync.WaitGroup
}

// New returns a Pool ready to Start. logger may be nil.
func New(engine *interactor.Engine, registry *HandlerRegistry, cfg Config, logger *zap.SugaredLogger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Pool{
		engine:   engine,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		slots:    make(chan struct{}, cfg.Concurrency),
	}
}

// Start subscribes every registered queue to the broker's "node ready"
// topic. parent governs the whole pool's lifetime: cancelling it
// cancels every in-flight execution's context, as Stop does, but does
// not unsubscribe from the broker or wait for executions to return.
// Start must not be called twice
// without an intervening Stop.
func (p *Pool) Start(parent context.Context) {
	p.mu.Lock()
	p.ctx, p.cancel = context.WithCancel(parent)
	p.mu.Unlock()

	for queue, handler := range p.registry.snapshot() {
		handle := p.engine.Broker.AddOnNodeEnqueuedCallback([]byte(queue), p.dispatch(queue, handler))
		p.handles = append(p.handles, handle)
	}
}

// dispatch returns the broker.NodeEnqueuedCallback for one (queue,
// handler) pair: it acquires a pool-wide concurrency slot, then runs
// the node through the engine using the pool's own long-lived context
// rather than whatever context the publisher happened to call with —
// a delivered node must outlive the request that enqueued it.
func (p *Pool) dispatch(queue string, handler interactor.Handler) broker.NodeEnqueuedCallback {
	return func(_ context.Context, node core.EnqueuedNode) error {
		select {
		case p.slots <- struct{}{}:
		case <-p.ctx.Done():
			return nil
		}
		p.wg.Add(1)
		defer func() {
			<-p.slots
			p.wg.Done()
		}()

		if err := p.engine.HandleEnqueued(p.ctx, node, handler); err != nil {
			p.logger.Errorw("node execution failed", "queue", queue, "node_id", node.ID, "error", err)
			return err
		}
		return nil
	}
}

// Stop cancels every in-flight execution's context and unsubscribes
// from the broker, waiting up to cfg.ShutdownTimeout for in-flight
// executions to return before giving up and returning anyway — matches
// WorkerPool.Stop's "generous timeout, then return regardless" shape.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	handles := p.handles
	p.handles = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	for _, h := range handles {
		p.engine.Broker.RemoveCallback(h)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Infow("worker pool stopped", "queues", len(handles))
	case <-time.After(p.cfg.ShutdownTimeout):
		p.logger.Warnw("worker pool stop timed out, in-flight executions may still be running",
			"timeout", p.cfg.ShutdownTimeout)
	}
}
