package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelia/mycelia/core"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		if cond() {
			return
		}
		select {
		case <-tick.C:
		case <-deadline:
			t.Fatal("condition not met before timeout")
		}
	}
}

func TestPublishNodeEnqueued_NoSubscribersIsNoop(t *testing.T) {
	b := New(nil)
	err := b.PublishNodeEnqueued(context.Background(), []byte("q1"), core.EnqueuedNode{ID: uuid.New()})
	require.NoError(t, err)
}

func TestPublishNodeEnqueued_DeliversToMatchingQueue(t *testing.T) {
	b := New(nil)
	node := core.EnqueuedNode{ID: uuid.New()}

	var mu sync.Mutex
	var got []core.EnqueuedNode
	b.AddOnNodeEnqueuedCallback([]byte("q1"), func(ctx context.Context, n core.EnqueuedNode) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, n)
		return nil
	})
	b.AddOnNodeEnqueuedCallback([]byte("q2"), func(ctx context.Context, n core.EnqueuedNode) error {
		t.Fatal("subscriber on unrelated queue must not be invoked")
		return nil
	})

	require.NoError(t, b.PublishNodeEnqueued(context.Background(), []byte("q1"), node))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	assert.Equal(t, node.ID, got[0].ID)
}

func TestPublishNodeEnqueued_MultipleSubscribersSameQueue(t *testing.T) {
	b := New(nil)
	node := core.EnqueuedNode{ID: uuid.New()}

	var count int32
	var mu sync.Mutex
	for i := 0; i < 3; i++ {
		b.AddOnNodeEnqueuedCallback([]byte("q1"), func(ctx context.Context, n core.EnqueuedNode) error {
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		})
	}

	require.NoError(t, b.PublishNodeEnqueued(context.Background(), []byte("q1"), node))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 3
	})
}

func TestPublishSessionCancelled_FansOutToAllSubscribers(t *testing.T) {
	b := New(nil)
	sessionID := uuid.New()

	var mu sync.Mutex
	var got []uuid.UUID
	for i := 0; i < 2; i++ {
		b.AddOnSessionCancelledCallback(func(ctx context.Context, id uuid.UUID) {
			mu.Lock()
			got = append(got, id)
			mu.Unlock()
		})
	}

	require.NoError(t, b.PublishSessionCancelled(context.Background(), sessionID))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	assert.Equal(t, sessionID, got[0])
	assert.Equal(t, sessionID, got[1])
}

func TestRemoveCallback_StopsFurtherDelivery(t *testing.T) {
	b := New(nil)

	var mu sync.Mutex
	var count int
	handle := b.AddOnNodeEnqueuedCallback([]byte("q1"), func(ctx context.Context, n core.EnqueuedNode) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	require.NoError(t, b.PublishNodeEnqueued(context.Background(), []byte("q1"), core.EnqueuedNode{ID: uuid.New()}))
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	b.RemoveCallback(handle)
	require.NoError(t, b.PublishNodeEnqueued(context.Background(), []byte("q1"), core.EnqueuedNode{ID: uuid.New()}))

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestShutdown_RejectsFurtherPublishes(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.Shutdown(context.Background()))

	err := b.PublishNodeEnqueued(context.Background(), []byte("q1"), core.EnqueuedNode{ID: uuid.New()})
	assert.Error(t, err)

	err = b.PublishSessionCancelled(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestShutdown_WaitsForInFlightCallbacks(t *testing.T) {
	b := New(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	b.AddOnNodeEnqueuedCallback([]byte("q1"), func(ctx context.Context, n core.EnqueuedNode) error {
		close(started)
		<-release
		return nil
	})

	require.NoError(t, b.PublishNodeEnqueued(context.Background(), []byte("q1"), core.EnqueuedNode{ID: uuid.New()}))
	<-started

	done := make(chan error, 1)
	go func() { done <- b.Shutdown(context.Background()) }()

	select {
	case <-done:
		t.Fatal("shutdown returned before in-flight callback finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shutdown did not return after callback finished")
	}
}
