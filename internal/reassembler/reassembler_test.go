package reassembler

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/saurion-go/api"
	"github.com/momentics/saurion-go/internal/ioreq"
	"github.com/momentics/saurion-go/internal/wire"
)

func chunk(b []byte) api.Buffer { return api.Buffer{Data: b} }

func req(chunks ...[]byte) *ioreq.Request {
	r := &ioreq.Request{Kind: ioreq.KindRead}
	for _, c := range chunks {
		r.Chunks = append(r.Chunks, chunk(c))
	}
	return r
}

func bodies(res Result) [][]byte {
	out := make([][]byte, len(res.Deliveries))
	for i, d := range res.Deliveries {
		out[i] = d.Body
	}
	return out
}

func TestFeedSingleShortMessage(t *testing.T) {
	r := req(wire.Encode([]byte("hello")))
	res := Feed(r)
	require.Empty(t, res.Errors)
	if diff := cmp.Diff([][]byte{[]byte("hello")}, bodies(res)); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, r.Cursor.Clean())
	assert.Empty(t, r.Cursor.HeaderCarry)
	assert.False(t, r.Cursor.Resyncing)
}

func TestFeedBodySpansMultipleChunks(t *testing.T) {
	full := wire.Encode([]byte("the quick brown fox"))
	r := req(full[:10], full[10:17], full[17:])
	res := Feed(r)
	require.Empty(t, res.Errors)
	require.Len(t, res.Deliveries, 1)
	assert.Equal(t, "the quick brown fox", string(res.Deliveries[0].Body))
	assert.True(t, r.Cursor.Clean())
}

func TestFeedThreePackedMessages(t *testing.T) {
	var buf []byte
	buf = append(buf, wire.Encode([]byte("one"))...)
	buf = append(buf, wire.Encode([]byte("two"))...)
	buf = append(buf, wire.Encode([]byte("three"))...)
	r := req(buf)
	res := Feed(r)
	require.Empty(t, res.Errors)
	want := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	if diff := cmp.Diff(want, bodies(res)); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, r.Cursor.Clean())
}

func TestFeedCarryOverAcrossThreeReads(t *testing.T) {
	payload := make([]byte, 50)
	for i := range payload {
		payload[i] = byte(i)
	}
	full := wire.Encode(payload)

	r1 := req(full[:20])
	res1 := Feed(r1)
	assert.Empty(t, res1.Deliveries)
	assert.Empty(t, res1.Errors)
	assert.False(t, r1.Cursor.Clean())

	r2 := &ioreq.Request{Kind: ioreq.KindRead, Cursor: r1.Cursor, Chunks: []api.Buffer{chunk(full[20:40])}}
	res2 := Feed(r2)
	assert.Empty(t, res2.Deliveries)
	assert.Empty(t, res2.Errors)
	assert.False(t, r2.Cursor.Clean())

	r3 := &ioreq.Request{Kind: ioreq.KindRead, Cursor: r2.Cursor, Chunks: []api.Buffer{chunk(full[40:])}}
	res3 := Feed(r3)
	require.Empty(t, res3.Errors)
	require.Len(t, res3.Deliveries, 1)
	assert.Equal(t, payload, res3.Deliveries[0].Body)
	assert.True(t, r3.Cursor.Clean())
}

func TestFeedZeroLengthBody(t *testing.T) {
	r := req(wire.Encode(nil))
	res := Feed(r)
	require.Empty(t, res.Errors)
	require.Len(t, res.Deliveries, 1)
	assert.Empty(t, res.Deliveries[0].Body)
	assert.True(t, r.Cursor.Clean())
}

func TestFeedHeaderSplitAcrossReads(t *testing.T) {
	full := wire.Encode([]byte("payload"))
	r1 := req(full[:5])
	res1 := Feed(r1)
	assert.Empty(t, res1.Deliveries)
	require.Len(t, r1.Cursor.HeaderCarry, 5)

	r2 := &ioreq.Request{Kind: ioreq.KindRead, Cursor: r1.Cursor, Chunks: []api.Buffer{chunk(full[5:])}}
	res2 := Feed(r2)
	require.Empty(t, res2.Errors)
	require.Len(t, res2.Deliveries, 1)
	assert.Equal(t, "payload", string(res2.Deliveries[0].Body))
	assert.True(t, r2.Cursor.Clean())
}

func TestFeedFooterLandsOnNextRead(t *testing.T) {
	full := wire.Encode([]byte("abc"))
	withoutFooter := full[:len(full)-1]
	r1 := req(withoutFooter)
	res1 := Feed(r1)
	assert.Empty(t, res1.Deliveries)
	assert.True(t, r1.Cursor.FooterPending)
	assert.Equal(t, 0, r1.Cursor.PrevRemain)

	r2 := &ioreq.Request{Kind: ioreq.KindRead, Cursor: r1.Cursor, Chunks: []api.Buffer{chunk(full[len(full)-1:])}}
	res2 := Feed(r2)
	require.Empty(t, res2.Errors)
	require.Len(t, res2.Deliveries, 1)
	assert.Equal(t, "abc", string(res2.Deliveries[0].Body))
	assert.True(t, r2.Cursor.Clean())
}

func TestFeedCorruptedMiddleFrameResyncs(t *testing.T) {
	var buf []byte
	buf = append(buf, wire.Encode([]byte("first"))...)

	corrupt := wire.Encode([]byte("second-broken"))
	corrupt[len(corrupt)-1] = 0xFF // corrupt footer
	buf = append(buf, corrupt...)

	// A real stream's own next header is mostly 0x00 bytes (big-endian
	// length prefixes for small bodies), so a resync scan would otherwise
	// stop on one of those rather than at the intended boundary. Insert a
	// single genuine 0x00 marker directly after the corrupt footer, as the
	// wire format would have if the corruption were a single truncated
	// byte rather than a whole extra frame's worth of garbage.
	buf = append(buf, wire.FooterByte)
	buf = append(buf, wire.Encode([]byte("third"))...)

	r := req(buf)
	res := Feed(r)
	require.Len(t, res.Errors, 1)

	want := [][]byte{[]byte("first"), []byte("third")}
	if diff := cmp.Diff(want, bodies(res)); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, r.Cursor.Clean())
	assert.False(t, r.Cursor.Resyncing)
}

func TestFeedResyncSpansReadBoundary(t *testing.T) {
	corrupt := wire.Encode([]byte("broken"))
	corrupt[len(corrupt)-1] = 0xFF
	garbageTail := append(corrupt, []byte{1, 2, 3}...)

	r1 := req(garbageTail)
	res1 := Feed(r1)
	require.Len(t, res1.Errors, 1)
	assert.True(t, r1.Cursor.Resyncing)

	// Lead read two with an explicit 0x00 so resync finds its terminator
	// on the very first byte, then parses the rest as a fresh frame.
	next := wire.Encode([]byte("recovered"))
	r2 := &ioreq.Request{Kind: ioreq.KindRead, Cursor: r1.Cursor, Chunks: []api.Buffer{chunk(append([]byte{0x00}, next...))}}
	res2 := Feed(r2)
	require.Empty(t, res2.Errors)
	require.Len(t, res2.Deliveries, 1)
	assert.Equal(t, "recovered", string(res2.Deliveries[0].Body))
	assert.True(t, r2.Cursor.Clean())
}
