package fake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/saurion-go/api"
	"github.com/momentics/saurion-go/internal/ioreq"
)

func bufOf(n int) api.Buffer {
	return api.Buffer{Data: make([]byte, n)}
}

func TestRingAcceptQueuedBeforePrepare(t *testing.T) {
	r := NewRing()
	r.QueueAccept(42)
	req := &ioreq.Request{}
	require.NoError(t, r.PrepareAccept(7, req))
	c, err := r.WaitCompletion()
	require.NoError(t, err)
	assert.EqualValues(t, 42, c.Res)
	assert.Same(t, req, c.Req)
}

func TestRingAcceptQueuedAfterPrepare(t *testing.T) {
	r := NewRing()
	req := &ioreq.Request{}
	require.NoError(t, r.PrepareAccept(7, req))
	r.QueueAccept(99)
	c, err := r.WaitCompletion()
	require.NoError(t, err)
	assert.EqualValues(t, 99, c.Res)
}

func TestRingReadShortDeliversPartial(t *testing.T) {
	r := NewRing()
	req := &ioreq.Request{}
	req.Chunks = append(req.Chunks, bufOf(4))
	require.NoError(t, r.PrepareRead(3, req))
	r.QueueRead(3, []byte("hello"))
	c, err := r.WaitCompletion()
	require.NoError(t, err)
	assert.EqualValues(t, 4, c.Res)
	assert.Equal(t, []byte("hell"), req.Chunks[0].Data)

	leftover := r.readQueues[3]
	require.Len(t, leftover, 1)
	assert.Equal(t, []byte("o"), leftover[0])
}

func TestRingWriteRecordsAndCompletes(t *testing.T) {
	r := NewRing()
	req := &ioreq.Request{}
	req.Chunks = append(req.Chunks, bufOf(0))
	req.Chunks[0].Data = []byte("payload")
	require.NoError(t, r.PrepareWrite(5, req))
	c, err := r.WaitCompletion()
	require.NoError(t, err)
	assert.EqualValues(t, len("payload"), c.Res)
	ws := r.Writes()
	require.Len(t, ws, 1)
	assert.Equal(t, 5, ws[0].Fd)
	assert.Equal(t, "payload", string(ws[0].Data))
}

func TestRingCloseUnblocksWait(t *testing.T) {
	r := NewRing()
	require.NoError(t, r.Close())
	_, err := r.WaitCompletion()
	assert.ErrorIs(t, err, ErrRingClosed)
}
