package interactor

import (
	"context"
	"sync"

	"github.com/mycelia/mycelia/core"
)

// CompleteNode finishes id with result and publishes every node the
// completion fan-out released. Each publish runs on its own goroutine,
// joined before returning, so independent downstream nodes start
// concurrently rather than serialising behind one another's broker
// round trip.
func (e *Engine) CompleteNode(ctx context.Context, completed core.CompletedNode) error {
	ready, err := e.Storage.CompleteNode(ctx, completed)
	if err != nil {
		return err
	}
	return e.publishReadyNodes(ctx, ready)
}

// publishReadyNodes publishes a "node enqueued" message for each
// already-resolved core.ReadyNode, used both by CompleteNode's direct
// fan-out and by LinkGraphs's immediate-propagation return value.
func (e *Engine) publishReadyNodes(ctx context.Context, ready []core.ReadyNode) error {
	if len(ready) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ready))
	wg.Add(len(ready))
	for i, node := range ready {
		go func(i int, node core.ReadyNode) {
			defer wg.Done()
			enqueued := core.EnqueuedNode{ID: node.ID, SessionID: node.SessionID, TraceContext: node.TraceContext}
			errs[i] = e.Broker.PublishNodeEnqueued(ctx, node.BrokerParams, enqueued)
		}(i, node)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
