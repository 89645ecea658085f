// File: engine/engine_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/saurion-go/fake"
	"github.com/momentics/saurion-go/internal/ringpool"
	"github.com/momentics/saurion-go/internal/wire"
)

func buildEngine(t *testing.T, numRings int, cb Callbacks) (*Engine, []*fake.Ring) {
	t.Helper()
	rawRings := make([]*fake.Ring, numRings)
	ifaceRings := make([]ringpool.Ring, numRings)
	for i := 0; i < numRings; i++ {
		rawRings[i] = fake.NewRing()
		ifaceRings[i] = rawRings[i]
	}
	cfg := DefaultConfig()
	cfg.NumWorkers = numRings
	cfg.SchedulerWorkers = 2
	cfg.ChunkSize = 64
	e, err := New(cfg, cb, ifaceRings)
	require.NoError(t, err)
	e.closeFDFunc = func(int) {}
	return e, rawRings
}

func TestEngineAcceptAndEcho(t *testing.T) {
	var mu sync.Mutex
	var connected []int
	var received []string

	cb := Callbacks{
		OnConnected: func(fd int) {
			mu.Lock()
			connected = append(connected, fd)
			mu.Unlock()
		},
		OnMessage: func(fd int, body []byte) {
			mu.Lock()
			received = append(received, string(body))
			mu.Unlock()
		},
	}

	e, rawRings := buildEngine(t, 3, cb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	master := rawRings[0]
	master.QueueAccept(7)

	require.Eventually(t, func() bool {
		return e.ConnCount() == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{7}, connected)
	mu.Unlock()

	var cs *connState
	e.connMu.Lock()
	cs = e.conns[7]
	e.connMu.Unlock()
	require.NotNil(t, cs)

	slave, ok := cs.ring.(*fake.Ring)
	require.True(t, ok)
	slave.QueueRead(7, wire.Encode([]byte("hello")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"hello"}, received)
	mu.Unlock()
}

func TestEngineSendRoutesThroughRoundRobin(t *testing.T) {
	e, rawRings := buildEngine(t, 3, Callbacks{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	rawRings[0].QueueAccept(11)
	require.Eventually(t, func() bool { return e.ConnCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, e.Send(11, []byte("one")))
	require.NoError(t, e.Send(11, []byte("two")))

	require.Eventually(t, func() bool {
		total := 0
		for _, r := range rawRings[1:] {
			total += len(r.Writes())
		}
		return total == 2
	}, time.Second, time.Millisecond)
}

// TestEngineFanOutWrites exercises spec.md §8 scenario 6: many connections
// each issuing many writes, checking that on_wrote fires exactly once per
// write with the exact byte count, across the whole fan-out.
func TestEngineFanOutWrites(t *testing.T) {
	const numClients = 20
	const writesPerClient = 100

	var mu sync.Mutex
	wroteCount := 0
	wroteBytes := 0

	cb := Callbacks{
		OnWrote: func(fd int, n int) {
			mu.Lock()
			wroteCount++
			wroteBytes += n
			mu.Unlock()
		},
	}

	e, rawRings := buildEngine(t, 4, cb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	master := rawRings[0]
	for fd := 0; fd < numClients; fd++ {
		master.QueueAccept(fd)
	}
	require.Eventually(t, func() bool {
		return e.ConnCount() == numClients
	}, time.Second, time.Millisecond)

	wantBytes := 0
	for fd := 0; fd < numClients; fd++ {
		for i := 0; i < writesPerClient; i++ {
			body := []byte("payload")
			require.NoError(t, e.Send(fd, body))
			wantBytes += len(wire.Encode(body))
		}
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return wroteCount == numClients*writesPerClient
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, numClients*writesPerClient, wroteCount)
	assert.Equal(t, wantBytes, wroteBytes)
	mu.Unlock()
}

func TestEngineCloseOnEOF(t *testing.T) {
	var mu sync.Mutex
	closedFd := -1
	cb := Callbacks{
		OnClosed: func(fd int, err error) {
			mu.Lock()
			closedFd = fd
			mu.Unlock()
		},
	}
	e, rawRings := buildEngine(t, 2, cb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	rawRings[0].QueueAccept(5)
	require.Eventually(t, func() bool { return e.ConnCount() == 1 }, time.Second, time.Millisecond)

	var cs *connState
	e.connMu.Lock()
	cs = e.conns[5]
	e.connMu.Unlock()
	slave := cs.ring.(*fake.Ring)
	// An empty read mirrors a zero-byte readv, the kernel's EOF signal.
	slave.QueueRead(5, []byte{})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return closedFd == 5
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, e.ConnCount())
}
