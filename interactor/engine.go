// Package interactor is the orchestration state machine: admitting call
// graphs, racing execution against cancellation, completing nodes and
// fanning out the resulting readiness, and linking spliced graphs back
// onto the node that produced them.
//
// Grounded on original_source/src/mycelia/core/interactor.py's
// Interactor (invoke_node/complete_node/cancel_session/on_node_enqueued/
// on_session_cancelled/__execute_node), restructured from recursive
// async/await into an iterative admission walk.
package interactor

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mycelia/mycelia/broker"
	"github.com/mycelia/mycelia/primitives"
	"github.com/mycelia/mycelia/storage"
)

// Engine binds storage and broker to the session-cancellation signals
// needed to race execution against cancellation. It holds no
// handler registry itself: the Handler is passed to each HandleEnqueued
// call by whoever consumes the queue (worker.Pool passes the handler
// registered for the queue name it subscribed to).
type Engine struct {
	Storage storage.Storage
	Broker  broker.Broker
	Logger  *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[uuid.UUID]*primitives.SubscriberEvent
}

// New returns an Engine ready to orchestrate, execute, complete and
// cancel. logger may be nil, matching broker/memory's convention.
func New(store storage.Storage, b broker.Broker, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		Storage:  store,
		Broker:   b,
		Logger:   logger,
		sessions: map[uuid.UUID]*primitives.SubscriberEvent{},
	}
}

// sessionEvent returns the shared cancellation event for a session,
// creating it on first use. Callers must Subscribe promptly: the event
// is pruned once its subscriber count returns to zero (see
// pruneSessionEvent below), so a reference obtained here is only valid until the next
// call drops the last subscription.
func (e *Engine) sessionEvent(id uuid.UUID) *primitives.SubscriberEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	ev, ok := e.sessions[id]
	if !ok {
		ev = primitives.NewSubscriberEvent()
		e.sessions[id] = ev
	}
	return ev
}

// pruneSessionEvent drops the session's cancellation event once nothing
// is subscribed to it, so a long-lived Engine doesn't accumulate one
// entry per session forever.
func (e *Engine) pruneSessionEvent(id uuid.UUID, ev *primitives.SubscriberEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ev.SubscriberCount() == 0 && e.sessions[id] == ev {
		delete(e.sessions, id)
	}
}
