package cbq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relayq/relayq/item"
	"github.com/stretchr/testify/require"
)

func TestPutThenPollReturnsItem(t *testing.T) {
	q := New("t", 0)
	q.Put(item.Item{ID: 1, Payload: []byte("a")})

	it, ok := q.Poll()
	require.True(t, ok)
	require.Equal(t, item.ID(1), it.ID)
	require.Equal(t, 0, q.Size())
}

func TestPollOnEmptyReturnsFalse(t *testing.T) {
	q := New("t", 0)
	_, ok := q.Poll()
	require.False(t, ok)
}

func TestGetBlocksUntilPut(t *testing.T) {
	q := New("t", 0)

	resultCh := make(chan item.Item, 1)
	go func() {
		it, ok := q.Get(context.Background())
		require.True(t, ok)
		resultCh <- it
	}()

	// give the Get a chance to register as a waiter
	time.Sleep(20 * time.Millisecond)
	q.Put(item.Item{ID: 7, Payload: []byte("x")})

	select {
	case it := <-resultCh:
		require.Equal(t, item.ID(7), it.ID)
	case <-time.After(time.Second):
		t.Fatal("Get never returned")
	}
}

func TestGetDeadlineExpires(t *testing.T) {
	q := New("t", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Get(ctx)
	require.False(t, ok)
	require.Equal(t, 0, q.Size())
}

func TestGetDeadlineHelper(t *testing.T) {
	q := New("t", 0)
	_, ok := q.GetDeadline(time.Now().Add(10 * time.Millisecond))
	require.False(t, ok)
}

// TestConcurrentPutGetPairing hammers many concurrent producers and
// consumers and checks every item is delivered to exactly one consumer.
func TestConcurrentPutGetPairing(t *testing.T) {
	q := New("t", 0)
	const n = 200

	var wg sync.WaitGroup
	results := make(chan item.ID, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			it, ok := q.Get(ctx)
			if ok {
				results <- it.ID
			}
		}()
	}

	for i := 1; i <= n; i++ {
		go q.Put(item.Item{ID: item.ID(i), Payload: []byte("p")})
	}

	wg.Wait()
	close(results)

	seen := map[item.ID]bool{}
	for id := range results {
		require.False(t, seen[id], "item delivered twice: %d", id)
		seen[id] = true
	}
	require.Len(t, seen, n)
}

// TestCancelRaceDoesNotDropItem exercises the single-assignment race: a Get
// whose deadline is about to fire, and a Put that's concurrently trying to
// hand it the item. Either the Get sees ok=false and the item stays
// buffered in the queue, or the Get receives it — never lost.
func TestCancelRaceDoesNotDropItem(t *testing.T) {
	q := New("t", 0)

	for i := 0; i < 500; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)

		done := make(chan struct{})
		var got item.Item
		var ok bool
		go func() {
			got, ok = q.Get(ctx)
			close(done)
		}()

		time.Sleep(time.Millisecond) // let deadline race against Put
		q.Put(item.Item{ID: item.ID(i), Payload: []byte("r")})

		<-done
		cancel()
		if ok {
			require.Equal(t, item.ID(i), got.ID)
		} else {
			leftover, buffered := q.Poll()
			require.True(t, buffered, "item must stay buffered when the Get gave up first")
			require.Equal(t, item.ID(i), leftover.ID)
		}
	}
}

func TestSizeReflectsBufferedItems(t *testing.T) {
	q := New("t", 0)
	require.Equal(t, 0, q.Size())
	q.Put(item.Item{ID: 1})
	q.Put(item.Item{ID: 2})
	require.Equal(t, 2, q.Size())
	_, _ = q.Poll()
	require.Equal(t, 1, q.Size())
}

func TestToDebugReportsEmptyAndNonEmpty(t *testing.T) {
	q := New("t", 0)
	require.Contains(t, q.ToDebug(), "empty")

	q.Put(item.Item{ID: 1, AddTimeMS: time.Now().UnixMilli()})
	require.Contains(t, q.ToDebug(), "buffered")
}

func TestMaxWaitersBoundRejectsExcessGet(t *testing.T) {
	q := New("t", 1)

	firstCtx, firstCancel := context.WithTimeout(context.Background(), time.Second)
	defer firstCancel()
	blocked := make(chan struct{})
	go func() {
		close(blocked)
		_, _ = q.Get(firstCtx)
	}()
	<-blocked
	time.Sleep(20 * time.Millisecond) // let the first Get claim the one slot

	shortCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := q.Get(shortCtx)
	require.False(t, ok)
}
