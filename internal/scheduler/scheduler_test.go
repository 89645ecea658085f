package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultQueueAlwaysPresent(t *testing.T) {
	s := New(1)
	defer s.Stop()
	assert.ErrorIs(t, s.NewQueue(DefaultQueueID, 0), ErrQueueExists)
	assert.ErrorIs(t, s.RemoveQueue(DefaultQueueID), ErrDefaultQueue)

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, s.Add(DefaultQueueID, func() { wg.Done() }))
	waitOrTimeout(t, &wg, time.Second)
}

func TestNewQueueRejectsDuplicate(t *testing.T) {
	s := New(2)
	defer s.Stop()
	require.NoError(t, s.NewQueue("conn-1", 1))
	assert.ErrorIs(t, s.NewQueue("conn-1", 1), ErrQueueExists)
}

func TestAddUnknownQueueFails(t *testing.T) {
	s := New(2)
	defer s.Stop()
	assert.ErrorIs(t, s.Add("missing", func() {}), ErrQueueNotFound)
}

func TestAllTasksRun(t *testing.T) {
	s := New(4)
	require.NoError(t, s.NewQueue("a", 0))
	require.NoError(t, s.NewQueue("b", 0))

	var count int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		qid := "a"
		if i%2 == 0 {
			qid = "b"
		}
		require.NoError(t, s.Add(qid, func() {
			atomic.AddInt64(&count, 1)
			wg.Done()
		}))
	}
	waitOrTimeout(t, &wg, time.Second)
	s.Stop()
	assert.EqualValues(t, 50, atomic.LoadInt64(&count))
}

func TestCapOneSerializesPerQueue(t *testing.T) {
	s := New(8)
	require.NoError(t, s.NewQueue("conn", 1))

	var running int32
	var maxSeen int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, s.Add("conn", func() {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
			wg.Done()
		}))
	}
	waitOrTimeout(t, &wg, 2*time.Second)
	s.Stop()
	assert.EqualValues(t, 1, atomic.LoadInt32(&maxSeen))
}

func TestRemoveQueueRejectsBusy(t *testing.T) {
	s := New(1)
	require.NoError(t, s.NewQueue("conn", 1))
	block := make(chan struct{})
	done := make(chan struct{})
	require.NoError(t, s.Add("conn", func() {
		<-block
		close(done)
	}))

	require.Eventually(t, func() bool {
		return s.RemoveQueue("conn") == ErrQueueBusy
	}, time.Second, time.Millisecond)

	close(block)
	<-done
	s.Stop()
}

func TestWaitEmptyBlocksUntilDrained(t *testing.T) {
	s := New(2)
	require.NoError(t, s.NewQueue("q", 0))
	var ran int32
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Add("q", func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&ran, 1)
		}))
	}
	s.WaitEmpty()
	assert.EqualValues(t, 10, atomic.LoadInt32(&ran))
	s.Stop()
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for tasks to complete")
	}
}
